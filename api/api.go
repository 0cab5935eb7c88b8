// Package api exposes the operational HTTP surface: health, metrics,
// runtime statistics, and on-demand compliance reports.
package api

import (
	"context"
	"net/http"
	"time"

	"bastion/core"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reporter builds compliance reports on demand.
type Reporter interface {
	Report(framework core.Framework, start, end time.Time) (any, error)
}

// StatsSource contributes a named block to the /api/v1/stats response.
type StatsSource struct {
	Name  string
	Stats func() any
}

// API holds the operational HTTP server.
type API struct {
	router   *mux.Router
	server   *http.Server
	reporter Reporter
	sources  []StatsSource
	logger   *zap.SugaredLogger
}

// NewAPI creates the operational API server.
func NewAPI(reporter Reporter, sources []StatsSource, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:   mux.NewRouter(),
		reporter: reporter,
		sources:  sources,
		logger:   logger,
	}
	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/healthz", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
	a.router.HandleFunc("/api/v1/stats", a.getStats).Methods("GET")
	a.router.HandleFunc("/api/v1/compliance/report", a.getComplianceReport).Methods("GET")
}

// Handler returns the router, used directly by tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server.
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
