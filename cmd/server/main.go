package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"

	pipelinehandler "mismobridge/internal/pipeline/handler"
	pipelinemetrics "mismobridge/internal/pipeline/metrics"
	"mismobridge/internal/pipeline/service"
	"mismobridge/internal/platform/config"
	"mismobridge/internal/platform/httpserver"
	"mismobridge/internal/platform/logger"
	"mismobridge/internal/platform/metrics"
	"mismobridge/pkg/platform/httputil"
	"mismobridge/pkg/platform/middleware/metadata"
	"mismobridge/pkg/platform/middleware/requesttime"
)

// main wires infrastructure from the environment, mounts the pipeline
// endpoints and keeps the server lifecycle small.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.New("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	packs, table, err := loadDefinitions(cfg)
	if err != nil {
		log.Error("failed to load pack definitions", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	infra, err := connect(ctx, cfg, log, m)
	if err != nil {
		log.Error("failed to connect infrastructure", "error", err)
		os.Exit(1)
	}
	defer infra.Close()

	pm := pipelinemetrics.New(m.Registry)
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(pm),
		service.WithAuditPublisher(infra.publisher),
		service.WithModes(cfg.DefaultMode, cfg.Modes),
		service.WithTracer(otel.Tracer(service.TracerName)),
		service.WithHarnessWorkers(cfg.HarnessWorkers),
	}
	if infra.sink != nil {
		opts = append(opts, service.WithRecordSink(infra.sink))
	}
	svc, err := service.New(packs, table, infra.reports, infra.quarantine, opts...)
	if err != nil {
		log.Error("failed to build pipeline service", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(m.Middleware)
	r.Handle("/metrics", m.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := infra.Health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	pipelinehandler.New(svc, log, pm).Register(r)

	srv := httpserver.New(cfg.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting mismobridge", "addr", cfg.Addr, "packs", packs.IDs(), "default_mode", cfg.DefaultMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("mismobridge stopped")
}
