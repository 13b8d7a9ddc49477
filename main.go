package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcore/internal/adminapi"
	"chatcore/internal/authhook"
	"chatcore/internal/chatservice"
	"chatcore/internal/cluster"
	"chatcore/internal/config"
	"chatcore/internal/filestore"
	"chatcore/internal/push"
	"chatcore/internal/store"
	"chatcore/internal/transport"
	"chatcore/internal/transport/wsocket"
	"chatcore/internal/user"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load(false)
	if err != nil {
		return err
	}

	var (
		stateStore store.StateStore
		tr         transport.Transport
		bus        *cluster.Bus
	)

	instanceID := uuid.NewString()

	switch cfg.Store {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		stateStore = store.NewRedisStore(rdb)
		tr = wsocket.New(instanceID, rdb, cfg.Namespace+":cluster")
		bus = cluster.New(ctx, tr, cfg.BusAckTimeout)
	default:
		stateStore = store.NewMemoryStore()
		tr = wsocket.New(instanceID, nil, "")
	}

	var pushSender user.PushSender
	if cfg.EnablePushNotifications {
		pushSender = push.New(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	userSvc := user.New(stateStore, tr, bus, pushSender, files, user.Config{
		EnableDirectMessages:    cfg.EnableDirectMessages,
		EnableRoomsManagement:   cfg.EnableRoomsManagement,
		EnableUserlistUpdates:   cfg.EnableUserlistUpdates,
		EnablePushNotifications: cfg.EnablePushNotifications,
		UseRawErrorObjects:      cfg.UseRawErrorObjects,
		HistoryMaxMessages:      cfg.HistoryMaxMessages,
		AttachmentsMaxBytes:     cfg.AttachmentsMaxBytes,
	})

	var hook authhook.Hook
	var credentialHook *authhook.CredentialHook
	switch cfg.AuthMode {
	case "credentials":
		cs := authhook.NewCredentialService(ctx, []byte(cfg.AuthSecret), cfg.TokenExpiry)
		credentialHook = authhook.NewCredentialHook(cs)
		hook = credentialHook
	default:
		hook = authhook.QueryParamHook{}
	}

	svc := chatservice.New(tr, userSvc, hook, bus, cfg.CloseTimeout, cfg.UseRawErrorObjects)

	mux := oshttp.NewServeMux()
	w, ok := tr.(*wsocket.Wsocket)
	if !ok {
		return errors.New("unsupported transport implementation")
	}
	mux.HandleFunc(cfg.Namespace, w.HandleUpgrade)
	mux.HandleFunc("GET /files/{hash}", newFileHandler(files))
	if credentialHook != nil {
		mux.HandleFunc("POST /auth/login", credentialHook.LoginHandler)
		mux.HandleFunc("POST /auth/register", credentialHook.RegisterHandler)
		mux.HandleFunc("POST /auth/logoff", credentialHook.LogoffHandler)
	}

	apiServer := &oshttp.Server{Addr: cfg.ListenAddr, Handler: mux}
	adminHandler := adminapi.New(stateStore, tr, bus)
	adminServer := adminapi.NewServer(adminHandler, cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.ListenAndServe()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CloseTimeout+5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api server shutdown error", "error", err)
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "error", err)
		}
		if err := svc.Close(shutdownCtx); err != nil {
			slog.Warn("chat service close error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// newFileHandler serves previously uploaded attachments by content hash.
func newFileHandler(files *filestore.LocalFileStore) oshttp.HandlerFunc {
	return func(w oshttp.ResponseWriter, r *oshttp.Request) {
		hash := r.PathValue("hash")
		f, err := files.Get(hash)
		if err != nil {
			oshttp.NotFound(w, r)
			return
		}
		defer func() { _ = f.Close() }()
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := io.Copy(w, f); err != nil {
			slog.Warn("file handler: failed to write response", "hash", hash, "error", err)
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("application error: %v", err)
	}
}
