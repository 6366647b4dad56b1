// Package server initializes and runs the account backend: it wires the
// database, object storage, token service, and HTTP surface together and
// handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/playtube/playtube/internal/logging"
	"github.com/playtube/playtube/internal/server/blob"
	"github.com/playtube/playtube/internal/server/config"
	"github.com/playtube/playtube/internal/server/health"
	"github.com/playtube/playtube/internal/server/httpapi"
	"github.com/playtube/playtube/internal/server/rate"
	"github.com/playtube/playtube/internal/server/repositories/repomanager"
	"github.com/playtube/playtube/internal/server/services"
	"github.com/playtube/playtube/internal/server/token"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled server.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	health *health.Manager
	server *http.Server
}

// NewApp wires all components from the given configuration. The database
// must be reachable: migrations run during construction.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSON(cfg.LogLevel, "playtube-server")

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repos := repomanager.NewPostgres()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	tokens, err := token.NewService(
		cfg.Token.AccessSecret, cfg.Token.RefreshSecret,
		cfg.Token.AccessTTL, cfg.Token.RefreshTTL,
	)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	var limiter rate.Limiter
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter = rate.NewRedis(client, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	} else {
		limiter = rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	svc := services.NewUserService(db, repos, tokens, blobs, logger)

	healthMgr := health.NewManager(true)
	registry := prometheus.NewRegistry()

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Service:  svc,
		Tokens:   tokens,
		Limiter:  limiter,
		Logger:   logger,
		Health:   healthMgr,
		Registry: registry,
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		health: healthMgr,
		server: srv,
	}, nil
}

// Run serves HTTP until the context is cancelled or SIGINT/SIGTERM
// arrives, then drains in-flight requests.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "server starting", "addr", app.server.Addr, "env", app.config.Env)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")
	app.health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := app.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	app.logger.Info(ctx, "server stopped")
	return nil
}
