package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaycore/relaycore/internal/bootstrap"
	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/logger"
	"github.com/relaycore/relaycore/internal/store"
	"github.com/relaycore/relaycore/internal/telemetry"
)

// NewServeCommand starts the gateway: it opens the store, wires every
// subsystem via bootstrap.Build, and exposes the liveness/readiness/
// metrics HTTP surface. The business request-routing mux itself is out
// of scope (§6 supplement) — callers embed *pipeline.Pipeline directly.
func NewServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	shutdownTracing, err := telemetry.Setup(cfg.Monitoring)
	if err != nil {
		log.Warn("tracing setup failed, continuing without it", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	sys, err := bootstrap.Build(cfg, db, log)
	if err != nil {
		log.Fatal("failed to build subsystems", zap.Error(err))
	}
	sys.Sweeper.Start()
	defer sys.Sweeper.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newHealthRouter(cfg, log, sys),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("relaycore starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	return nil
}

// newHealthRouter is the ambient surface §6's supplement carves out:
// liveness, readiness (store + cache reachability), and Prometheus
// metrics, grounded on the teacher's router.NewMetricsRouter.
func newHealthRouter(cfg *config.Config, log *zap.Logger, sys *bootstrap.System) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx, sys.DB); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"database unreachable"}`))
			return
		}
		if err := sys.Redis.Ping(ctx).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"redis unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if cfg.Monitoring.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
