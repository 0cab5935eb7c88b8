package api

import (
	"encoding/json"
	"net/http"
	"time"

	"bastion/core"
)

func (a *API) respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("failed to encode response", "error", err)
	}
}

// healthCheck handles GET /healthz.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// getStats handles GET /api/v1/stats and aggregates runtime counters
// from every registered component.
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(a.sources))
	for _, src := range a.sources {
		out[src.Name] = src.Stats()
	}
	a.respondJSON(w, out, http.StatusOK)
}

// getComplianceReport handles GET /api/v1/compliance/report. The
// framework query parameter is required; start and end default to the
// trailing 24 hours and accept RFC 3339 timestamps.
func (a *API) getComplianceReport(w http.ResponseWriter, r *http.Request) {
	if a.reporter == nil {
		http.Error(w, "compliance reporting not available", http.StatusServiceUnavailable)
		return
	}

	framework, ok := core.ParseFramework(r.URL.Query().Get("framework"))
	if !ok {
		http.Error(w, "unknown or missing framework parameter", http.StatusBadRequest)
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "start must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "end must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		end = t
	}
	if end.Before(start) {
		http.Error(w, "end must not precede start", http.StatusBadRequest)
		return
	}

	report, err := a.reporter.Report(framework, start, end)
	if err != nil {
		a.logger.Errorw("failed to build compliance report",
			"framework", framework, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.respondJSON(w, report, http.StatusOK)
}
