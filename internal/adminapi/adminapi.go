// Package adminapi exposes the operator-facing HTTP surface named in §4.8:
// list rooms, list online users, force a disconnectUserSockets cluster
// event. It is grounded on the teacher's internal/api/admin.go +
// internal/http/adminServer.go pair (http.Server plus a goroutine
// Start/Shutdown(ctx)), rewritten against the current StateStore/Transport
// contracts rather than ported from that pair's stale AuthService calls.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"chatcore/internal/cluster"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// Handler serves the admin HTTP surface over a StateStore/Transport/
// ClusterBus triple. bus may be nil for a single-instance deployment, in
// which case ForceDisconnect falls back to disconnecting this instance's
// own sockets directly.
type Handler struct {
	store store.StateStore
	tr    transport.Transport
	bus   *cluster.Bus
}

// New builds an admin Handler.
func New(s store.StateStore, tr transport.Transport, bus *cluster.Bus) *Handler {
	return &Handler{store: s, tr: tr, bus: bus}
}

// roomSummary is the admin-facing view of a room: enough to audit
// membership and ownership without exposing message history.
type roomSummary struct {
	Name          string `json:"name"`
	Owner         string `json:"owner,omitempty"`
	WhitelistOnly bool   `json:"whitelistOnly"`
	Members       int    `json:"members"`
}

type createRoomRequest struct {
	Name          string `json:"name"`
	Owner         string `json:"owner,omitempty"`
	WhitelistOnly bool   `json:"whitelistOnly,omitempty"`
	HistoryMax    int    `json:"historyMax,omitempty"`
}

// CreateRoomHandler serves POST /admin/rooms: an operator-provisioned room
// with no owner (owner == "") has no user able to delete or administer it
// through the ordinary command surface, by design — operator rooms are
// meant to be torn down the same way they were created.
func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	var owner *string
	if req.Owner != "" {
		owner = &req.Owner
	}
	historyMax := req.HistoryMax
	if historyMax <= 0 {
		historyMax = 100
	}
	if err := h.store.AddRoom(r.Context(), req.Name, owner, req.WhitelistOnly, historyMax); err != nil {
		if err == store.ErrAlreadyExists {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ListRoomsHandler serves GET /admin/rooms.
func (h *Handler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := h.store.ListRooms(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	summaries := make([]roomSummary, 0, len(names))
	for _, name := range names {
		snap, err := h.store.GetRoom(ctx, name)
		if err != nil {
			slog.Warn("adminapi: failed to read room", "room", name, "error", err)
			continue
		}
		s := roomSummary{Name: name, WhitelistOnly: snap.WhitelistOnly, Members: len(snap.Userlist)}
		if snap.Owner != nil {
			s.Owner = *snap.Owner
		}
		summaries = append(summaries, s)
	}
	writeJSON(w, http.StatusOK, summaries)
}

// ListOnlineUsersHandler serves GET /admin/users.
func (h *Handler) ListOnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListOnlineUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

type disconnectRequest struct {
	Username string `json:"username"`
}

// DisconnectUserHandler serves POST /admin/users/disconnect: it asks every
// instance holding a socket for the named user to disconnect it.
func (h *Handler) DisconnectUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username is required"))
		return
	}
	if err := h.ForceDisconnect(r.Context(), req.Username); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForceDisconnect asks every instance holding a socket for username to
// disconnect it locally, via ClusterBus when present; with no bus
// (single-instance deployment) it disconnects this instance's own sockets
// for username directly instead.
func (h *Handler) ForceDisconnect(ctx context.Context, username string) error {
	if h.bus != nil {
		return h.bus.NotifyDisconnectUserSockets(ctx, username)
	}
	sockets, err := h.store.SocketsGetAll(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range sockets {
		if s.InstanceID != h.tr.InstanceID() {
			continue
		}
		if err := h.tr.Disconnect(ctx, s.SocketID); err != nil {
			slog.Warn("adminapi: disconnect failed", "socket", s.SocketID, "user", username, "error", err)
		}
	}
	return nil
}

// Mux builds the admin HTTP surface's routes over a fresh ServeMux.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/rooms", h.ListRoomsHandler)
	mux.HandleFunc("POST /admin/rooms", h.CreateRoomHandler)
	mux.HandleFunc("GET /admin/users", h.ListOnlineUsersHandler)
	mux.HandleFunc("POST /admin/users/disconnect", h.DisconnectUserHandler)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("adminapi: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Server wraps the admin Handler's routes in an http.Server with the
// teacher's goroutine Start/graceful Shutdown(ctx) pattern
// (internal/http/adminServer.go).
type Server struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewServer builds an admin Server listening on addr.
func NewServer(h *Handler, addr string) *Server {
	return &Server{server: &http.Server{Addr: addr, Handler: h.Mux()}}
}

// Start runs the admin server until Shutdown is called or it fails.
func (s *Server) Start() error {
	s.wg.Add(1)
	defer s.wg.Done()
	slog.Info("admin API listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
