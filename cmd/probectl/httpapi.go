package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/probectl/internal/integration/debug"
	"github.com/dshills/probectl/internal/metrics"
)

// linkStatus reports whether the agent link is up.
type linkStatus interface {
	Connected() bool
}

type sessionView struct {
	Session     debug.Session      `json:"session"`
	Affordances debug.Affordances  `json:"affordances"`
	Breakpoints []debug.Breakpoint `json:"breakpoints"`
	Snapshot    *debug.Snapshot    `json:"snapshot,omitempty"`
}

// newHTTPHandler serves the introspection endpoint.
func newHTTPHandler(e *debug.Engine, link linkStatus, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"agent": "connected", "state": e.State().String()}
		if !link.Connected() {
			status = http.StatusServiceUnavailable
			body["agent"] = "disconnected"
		}
		writeJSON(w, status, body)
	})

	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		view := sessionView{
			Session:     e.Session(),
			Affordances: e.Affordances(),
			Breakpoints: e.Breakpoints().All(),
		}
		if snap, ok := e.Snapshots().Current(); ok {
			view.Snapshot = &snap
		}
		writeJSON(w, http.StatusOK, view)
	})

	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
