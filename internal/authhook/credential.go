package authhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatcore/internal/chaterr"

	"github.com/c-pro/geche"
)

const defaultTokenExpiry = 12 * time.Hour

// ErrUserExists is returned by CredentialService.AddUser for a username
// that already has credentials.
var ErrUserExists = errors.New("authhook: user already exists")

// loginRequest is the POST /auth/login body: password on every call, TOTP
// once registration has completed.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     int    `json:"totp"`
}

// registerRequest finalizes registration for a user whose first login
// reported needRegister: it sets the real password and binds the TOTP
// secret the client's authenticator app was provisioned with out of band.
type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totpSecret"`
}

type loginResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	NeedRegister bool   `json:"needRegister,omitempty"`
	Token        string `json:"token,omitempty"`
	TokenExpiry  int64  `json:"tokenExpiry,omitempty"`
}

type credential struct {
	Username            string
	PasswordHash        string
	TOTPSecret          string
	LastTOTP            int // -1 until registration completes
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (c *credential) resetFailedAttempts(now time.Time) {
	c.FailedLoginAttempts = 0
	c.LastAttemptTime = now.Unix()
}

func (c *credential) incrementFailedAttempts(now time.Time) {
	c.FailedLoginAttempts++
	c.LastAttemptTime = now.Unix()
}

// CredentialService is a password+TOTP credential store, adapted from the
// teacher's auth.AuthService: HMAC-SHA512 password hashing keyed by a
// server secret, RFC 6238 TOTP with a one-step drift window, exponential
// login backoff, and short-lived bearer tokens handed out on success.
// Unlike the teacher, live tokens map directly to usernames rather than a
// separate user id, since that is the only identity this module needs.
type CredentialService struct {
	secret     []byte
	users      *geche.Locker[string, *credential]
	liveTokens  geche.Geche[string, string]
	tokenExpiry time.Duration
	now         func() time.Time
}

// NewCredentialService builds a CredentialService. secret is the raw
// server secret (AUTH_SECRET); tokenExpiry defaults to 12h.
func NewCredentialService(ctx context.Context, secret []byte, tokenExpiry time.Duration) *CredentialService {
	if tokenExpiry <= 0 {
		tokenExpiry = defaultTokenExpiry
	}
	return &CredentialService{
		secret:     secret,
		users:      geche.NewLocker[string, *credential](geche.NewMapCache[string, *credential]()),
		liveTokens:  geche.NewMapTTLCache[string, string](ctx, tokenExpiry, time.Minute),
		tokenExpiry: tokenExpiry,
		now:         time.Now,
	}
}

func (cs *CredentialService) hashPassword(username, password string) string {
	h := hmac.New(sha512.New, cs.secret)
	h.Write([]byte(username + password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AddUser provisions a new credential with LastTOTP = -1 (registration
// pending); the user's next login reports needRegister rather than
// completing.
func (cs *CredentialService) AddUser(username, password string) error {
	tx := cs.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return ErrUserExists
	}
	tx.Set(username, &credential{
		Username:     username,
		PasswordHash: cs.hashPassword(username, password),
		LastTOTP:     -1,
	})
	return nil
}

// Register finalizes a pending registration: sets the permanent password
// and binds the TOTP secret. Fails with an empty response if the user
// isn't pending registration.
func (cs *CredentialService) Register(req registerRequest) loginResponse {
	tx := cs.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil || user.LastTOTP != -1 {
		return loginResponse{Message: "registration failed"}
	}
	user.PasswordHash = cs.hashPassword(req.Username, req.Password)
	user.TOTPSecret = req.TOTPSecret
	user.LastTOTP = 0
	return loginResponse{Success: true}
}

// Login authenticates a password+TOTP pair and, on success, mints a bearer
// token valid for tokenExpiry.
func (cs *CredentialService) Login(req loginRequest) loginResponse {
	now := cs.now()
	tx := cs.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return loginResponse{Message: "login failed"}
	}

	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return loginResponse{Message: fmt.Sprintf("too many failed login attempts, retry in %ds", nextAttempt-now.Unix())}
		}
	}

	currentHash := cs.hashPassword(req.Username, req.Password)
	if !hmac.Equal([]byte(user.PasswordHash), []byte(currentHash)) {
		user.incrementFailedAttempts(now)
		return loginResponse{Message: "login failed"}
	}

	if user.LastTOTP == -1 {
		return loginResponse{NeedRegister: true, Message: "first login requires registration"}
	}
	if user.LastTOTP == req.TOTP {
		user.incrementFailedAttempts(now)
		return loginResponse{Message: "login failed"}
	}
	if !cs.checkTOTP(user.TOTPSecret, req.TOTP, user.LastTOTP) {
		user.incrementFailedAttempts(now)
		return loginResponse{Message: "login failed"}
	}

	token, err := cs.generateToken()
	if err != nil {
		slog.Error("authhook: token generation failed", "error", err)
		return loginResponse{Message: "internal error"}
	}
	cs.liveTokens.Set(token, user.Username)
	user.resetFailedAttempts(now)
	user.LastTOTP = req.TOTP

	return loginResponse{Success: true, Token: token, TokenExpiry: now.Unix() + int64(cs.tokenExpiry.Seconds())}
}

// Logoff invalidates token.
func (cs *CredentialService) Logoff(token string) error {
	return cs.liveTokens.Del(token)
}

func (cs *CredentialService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// checkTOTP accepts a ±1 step (±30s) drift window, rejecting an exact
// replay of the last accepted code.
func (cs *CredentialService) checkTOTP(secret string, totp int, lastTOTP int) bool {
	if totp == lastTOTP {
		return false
	}
	buf := make([]byte, 8)
	for i := -1; i <= 1; i++ {
		t := (cs.now().Unix() + int64(i*30)) / 30
		h := hmac.New(sha1.New, []byte(secret))
		binary.BigEndian.PutUint64(buf, uint64(t))
		h.Write(buf)
		sum := h.Sum(nil)

		off := sum[len(sum)-1] & 0xf
		trunc := (int(sum[off])&0x7f)<<24 |
			int(sum[off+1])<<16 |
			int(sum[off+2])<<8 |
			int(sum[off+3])

		if totp == trunc%1e6 {
			return true
		}
	}
	return false
}

// usernameForToken resolves a live token to its username, for CredentialHook.
func (cs *CredentialService) usernameForToken(token string) (string, error) {
	return cs.liveTokens.Get(token)
}

// CredentialHook is the optional password+TOTP AuthHook variant: the
// client authenticates over HTTP first (LoginHandler), then opens the
// socket with the resulting token as the "token" query parameter.
type CredentialHook struct {
	Service *CredentialService
}

// NewCredentialHook builds a CredentialHook over an existing CredentialService.
func NewCredentialHook(cs *CredentialService) *CredentialHook {
	return &CredentialHook{Service: cs}
}

// Resolve implements Hook by looking up the "token" query parameter.
func (h *CredentialHook) Resolve(_ context.Context, query map[string]string) (string, error) {
	token, ok := query["token"]
	if !ok || token == "" {
		return "", chaterr.New(chaterr.NoLogin)
	}
	username, err := h.Service.usernameForToken(token)
	if err != nil {
		return "", chaterr.New(chaterr.NoLogin)
	}
	return username, nil
}

// LoginHandler is the HTTP handler for POST /auth/login.
func (h *CredentialHook) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp := h.Service.Login(req)
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusUnauthorized)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("authhook: failed to encode login response", "error", err)
	}
}

// RegisterHandler is the HTTP handler for POST /auth/register.
func (h *CredentialHook) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp := h.Service.Register(req)
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusBadRequest)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("authhook: failed to encode register response", "error", err)
	}
}

// LogoffHandler is the HTTP handler for POST /auth/logoff.
func (h *CredentialHook) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.Header.Get("Authorization")
	if token != "" {
		_ = h.Service.Logoff(token)
	}
	w.WriteHeader(http.StatusOK)
}
