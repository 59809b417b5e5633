// Package httpapi exposes the DagManager's read-only admin surface:
// liveness, Prometheus metrics, and a per-shard load snapshot. There is
// no DAG-authoring endpoint here; that belongs to the out-of-scope
// flow-spec catalog.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dagucloud/dagu/internal/dagmanager"
)

// Supervisor is the subset of *dagmanager.Manager this API surfaces.
type Supervisor interface {
	Active() bool
	InstanceID() string
	ShardStats() []dagmanager.ShardStat
}

// Server wraps the admin HTTP surface around a Supervisor.
type Server struct {
	httpServer *http.Server
	addr       string
}

// New builds a chi router exposing /healthz, /metrics and /debug/shards,
// wrapped in a standard *http.Server bound to addr.
func New(addr string, supervisor Supervisor) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(httplog.NewLogger("dagmanager", httplog.Options{JSON: true})))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", handleHealthz(supervisor))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/shards", handleDebugShards(supervisor))

	return &Server{
		addr:       addr,
		httpServer: &http.Server{Addr: addr, Handler: r},
	}
}

// ListenAndServe blocks serving the admin surface until the server is
// shut down or fails to bind.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bind address the server was constructed with.
func (s *Server) Addr() string { return s.addr }

type healthzResponse struct {
	Active     bool   `json:"active"`
	InstanceID string `json:"instanceId"`
	Time       string `json:"time"`
}

func handleHealthz(supervisor Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthzResponse{
			Active:     supervisor.Active(),
			InstanceID: supervisor.InstanceID(),
			Time:       time.Now().UTC().Format(time.RFC3339),
		})
	}
}

type shardsResponse struct {
	Active bool                   `json:"active"`
	Shards []dagmanager.ShardStat `json:"shards"`
}

func handleDebugShards(supervisor Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !supervisor.Active() {
			writeJSON(w, http.StatusServiceUnavailable, shardsResponse{Active: false})
			return
		}
		writeJSON(w, http.StatusOK, shardsResponse{Active: true, Shards: supervisor.ShardStats()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
