package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/exp/slog"

	"tether/internal/app/server/api"
	"tether/internal/app/server/config"
	"tether/internal/app/server/realtime"
	"tether/internal/domain/session"
	"tether/internal/infrastructure/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// App is the reference remote store server.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	storage *postgres.Storage
	srv     *http.Server
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := postgres.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	hub := realtime.NewHub(log)
	tokens := session.NewService(postgres.NewTokenRepository(storage, log), log)
	if len(cfg.Auth.TokenHashes) == 0 {
		log.Warn("AUTH_TOKEN_HASHES is empty, only issued tokens are accepted")
	}

	return &App{
		cfg:     cfg,
		log:     log,
		storage: storage,
		srv: &http.Server{
			Addr:              cfg.Server.RunAddress,
			Handler:           api.New(storage, hub, tokens, cfg, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	defer a.storage.Close()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server started", "address", a.cfg.Server.RunAddress, "env", a.cfg.Env)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
