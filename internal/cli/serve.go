package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ordersight/ordersight"
	"github.com/ordersight/ordersight/api"
	"github.com/ordersight/ordersight/internal/config"
	"github.com/ordersight/ordersight/internal/ratelimit"
	"github.com/ordersight/ordersight/internal/server"
	"github.com/ordersight/ordersight/internal/snapshot"
	"github.com/ordersight/ordersight/internal/storage"
	"github.com/ordersight/ordersight/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reconciliation server",
	Long: `Start the HTTP server that ingests stage events, reconciles run state
and serves the dashboard API with an SSE update stream.

Without a DATABASE_URL the server runs purely in memory (plus optional
SQLite snapshots); with one, every raw event batch is appended to the
Postgres event log and run updates fan out across replicas via
LISTEN/NOTIFY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("ordersight starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Rule tables: embedded defaults unless overridden on disk.
	tables := ordersight.DefaultRules()
	if cfg.RulesPath != "" {
		tables, err = ordersight.LoadRules(cfg.RulesPath)
		if err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		logger.Info("rules: loaded override", "path", cfg.RulesPath)
	}

	engine := ordersight.New(
		ordersight.WithLogger(logger),
		ordersight.WithDebounce(cfg.Debounce),
		ordersight.WithRules(tables),
	)

	// Restore the previous snapshot, if any and recent enough.
	var snaps *snapshot.Store
	if cfg.SnapshotPath != "" {
		snaps, err = snapshot.Open(cfg.SnapshotPath, logger)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		defer func() { _ = snaps.Close() }()

		snap, err := snaps.Load(ctx, cfg.SnapshotMaxAge)
		if err != nil {
			logger.Warn("snapshot load failed, starting cold", "error", err)
		} else if len(snap.Runs) > 0 {
			engine.Restore(snap)
			logger.Info("snapshot restored", "runs", len(snap.Runs), "saved_at", snap.SavedAt)
		}
	}

	// Optional Postgres event log.
	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close(context.Background())

		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		logger.Info("event log: postgres enabled")
	} else {
		logger.Info("event log: disabled (no DATABASE_URL)")
	}

	// The broker works in both modes: LISTEN/NOTIFY fan-out with a
	// database, direct in-process fan-out without one.
	broker := server.NewBroker(db, logger)

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limit: enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.Config{
		Engine:              engine,
		DB:                  db,
		Broker:              broker,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		broker.Start(gctx)
		return nil
	})

	if snaps != nil {
		g.Go(func() error {
			snapshotLoop(gctx, engine, snaps, cfg.SnapshotInterval, logger)
			return nil
		})
	}

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Final snapshot so a clean restart resumes where we left off.
	if snaps != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := snaps.Save(saveCtx, engine.Export()); serr != nil {
			logger.Error("final snapshot failed", "error", serr)
		}
	}

	logger.Info("ordersight stopped")
	return err
}

// snapshotLoop persists the engine state on a fixed interval until ctx
// is cancelled.
func snapshotLoop(ctx context.Context, engine *ordersight.Engine, snaps *snapshot.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := snaps.Save(ctx, engine.Export()); err != nil {
				logger.Warn("periodic snapshot failed", "error", err)
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
