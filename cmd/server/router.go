package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custody/internal/platform/health"
	vaultHandler "custody/internal/vault/handler"
	"custody/pkg/platform/middleware/request"
	"custody/pkg/platform/validation"
)

type routerDeps struct {
	log            *slog.Logger
	registry       *prometheus.Registry
	requestMetrics *request.Metrics
	health         *health.Handler
	vault          *vaultHandler.Handler
	requestTimeout time.Duration
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(deps.log))
	r.Use(request.RequestID)
	r.Use(request.ClientIP)
	r.Use(request.Logger(deps.log))
	r.Use(request.Latency(deps.requestMetrics))
	r.Use(request.Timeout(deps.requestTimeout))
	r.Use(request.BodyLimit(validation.MaxBodySize))

	deps.health.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{Registry: deps.registry}))

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		deps.vault.Register(r)
	})
	return r
}
