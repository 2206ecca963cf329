// --- File: pushservice/service.go ---
package pushservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

const (
	SendPath    = "/send-push-notification"
	APISendPath = "/api/v1/push"
	MetricsPath = "/internal/metrics"
)

// Router is the part of a mux the service registers on.
type Router interface {
	Handle(pattern string, handler http.Handler)
}

type Wrapper struct {
	*microservice.BaseServer
	closers []io.Closer
	logger  *slog.Logger
}

// New assembles the service over the registered adapters.
// closers (e.g. the Redis client) are closed on Shutdown.
func New(
	cfg *config.Config,
	registry dispatch.Registry,
	recorder *metrics.Recorder,
	logger *slog.Logger,
	closers ...io.Closer,
) (*Wrapper, error) {
	if len(registry.Platforms()) == 0 {
		return nil, errors.New("no provider adapters registered")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Register Routes
	RegisterRoutes(baseServer.Mux(), cfg, registry, recorder, logger)

	logger.Info("Push service assembled", "platforms", registry.Platforms(), "metrics_enabled", recorder != nil)

	return &Wrapper{
		BaseServer: baseServer,
		closers:    closers,
		logger:     logger,
	}, nil
}

// RegisterRoutes mounts the push endpoints (and metrics, when enabled) on r.
func RegisterRoutes(r Router, cfg *config.Config, registry dispatch.Registry, recorder *metrics.Recorder, logger *slog.Logger) {
	coordinator := pipeline.NewCoordinator(registry, cfg.ProviderTimeout, recorder, logger)
	pushAPI := api.NewPushAPI(coordinator, cfg.MaxBodyBytes, recorder, logger)

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	}))
	sendHandler := corsMiddleware(http.HandlerFunc(pushAPI.SendPush))

	for _, path := range []string{SendPath, APISendPath} {
		r.Handle("OPTIONS "+path, preflight)
		// No method in the pattern: the handler answers 405 itself.
		r.Handle(path, sendHandler)
	}

	if recorder != nil {
		r.Handle("GET "+MetricsPath, recorder.Handler())
	}
}

func (w *Wrapper) Start(_ context.Context) error {
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			w.logger.Error("Failed to close resource.", "err", err)
			finalErr = err
		}
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
