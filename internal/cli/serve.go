package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/triage-ai/intervene/internal/api"
	"github.com/triage-ai/intervene/internal/auth"
	"github.com/triage-ai/intervene/internal/chread"
	"github.com/triage-ai/intervene/internal/config"
	"github.com/triage-ai/intervene/internal/session"
	"github.com/triage-ai/intervene/internal/storage"
	"github.com/triage-ai/intervene/internal/store"
	"github.com/triage-ai/intervene/internal/telemetry"
)

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP listen port (overrides server.port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intervention HTTP service",
	Long: "Runs the session API: each orchestrator run opens a session with its own\n" +
		"chain, streams messages through it and resets it at turn and round\n" +
		"boundaries. The config file is hot-reloaded for new sessions.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting intervene",
		zap.Int("http_port", cfg.Server.Port),
		zap.Strings("chain_order", cfg.Chain.Order),
		zap.Int("max_actions_per_turn", cfg.Chain.SingleAction.MaxPerTurn),
		zap.Float64("convergence_threshold", cfg.Chain.Convergence.Threshold),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, os.Stderr, logger)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	deps := &api.Dependencies{Logger: logger, CORSOrigins: cfg.Server.CORSOrigins}

	closeEvents := openEventStore(cfg, deps, logger)
	defer closeEvents()

	closeAuth, err := openAuth(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	registry := session.NewRegistry(cfg.HandlerSettings(), cfg.Session.IdleTTL, logger)
	deps.Sessions = registry
	go registry.Run(ctx, cfg.Session.SweepInterval)

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			registry.SetSettings(next.HandlerSettings())
		}, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Warn("config watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("intervene stopped", zap.Int("open_sessions", registry.Len()))
	return nil
}

// openEventStore picks the event writer (ClickHouse, then SQLite, then the
// log) and the matching readers. The returned func closes them.
func openEventStore(cfg *config.Config, deps *api.Dependencies, logger *zap.Logger) func() {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dsn := cfg.Storage.ClickHouseDSN; dsn != "" {
		w, err := storage.NewClickHouseWriter(dsn, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back", zap.Error(err))
		} else {
			deps.Writer = w
			closers = append(closers, w.Close)
			logger.Info("clickhouse writer connected")

			r, err := chread.NewReader(dsn, logger)
			if err != nil {
				logger.Warn("clickhouse reader connection failed", zap.Error(err))
			} else {
				deps.Events = r
				deps.Analytics = r
				closers = append(closers, func() { _ = r.Close() })
			}
			return closeAll
		}
	}

	if path := cfg.Storage.SQLitePath; path != "" {
		w, err := storage.NewSQLiteWriter(path, logger)
		if err != nil {
			logger.Warn("sqlite open failed, falling back to log writer", zap.Error(err))
		} else {
			deps.Writer = w
			deps.Events = w
			closers = append(closers, w.Close)
			logger.Info("sqlite event store opened", zap.String("path", path))
			return closeAll
		}
	}

	deps.Writer = storage.NewLogWriter(logger)
	logger.Info("no event store configured, using log writer")
	return closeAll
}

// openAuth connects Postgres for projects and key verification, or falls back
// to a single static key.
func openAuth(ctx context.Context, cfg *config.Config, deps *api.Dependencies, logger *zap.Logger) (func(), error) {
	if dsn := cfg.Postgres.DSN; dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		pgStore := store.NewStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		authn := auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			Store:    pgStore,
			CacheTTL: cfg.Auth.CacheTTL,
			Logger:   logger,
		})
		deps.Projects = pgStore
		deps.Auth = authn
		deps.Invalidator = authn
		logger.Info("postgres connected")
		return func() { _ = db.Close() }, nil
	}

	if cfg.Auth.StaticKey != "" {
		deps.Auth = auth.NewStaticAuthenticator(cfg.Auth.StaticKey, cfg.Auth.StaticProjectID)
		logger.Warn("no postgres.dsn set, using static API key",
			zap.String("project_id", cfg.Auth.StaticProjectID),
		)
		return func() {}, nil
	}

	return nil, errors.New("postgres.dsn or auth.static_key is required")
}
