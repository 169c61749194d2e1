package api

import (
	"modelops/internal/compute"
	"modelops/internal/health"
	"modelops/internal/observability"
	"modelops/internal/pipeline"
	"modelops/internal/store"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Pipeline      *pipeline.Orchestrator
	Store         store.Store
	Engine        compute.Engine
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Pipeline, cfg.Store, cfg.Engine, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("PUT /v1/datasets/{variant}", auth(http.HandlerFunc(handler.PutDataset)))
	mux.Handle("PUT /v1/holdouts/{variant}", auth(http.HandlerFunc(handler.PutHoldout)))
	mux.Handle("POST /v1/predict/{variant}", auth(http.HandlerFunc(handler.Predict)))
	mux.Handle("GET /v1/status", auth(http.HandlerFunc(handler.ListStatus)))
	mux.Handle("GET /v1/status/{variant}", auth(http.HandlerFunc(handler.GetStatus)))
	mux.Handle("POST /v1/runs", auth(http.HandlerFunc(handler.CreateRun)))
	mux.Handle("GET /v1/runs", auth(http.HandlerFunc(handler.ListRuns)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
