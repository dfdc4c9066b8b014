package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/checkpoint"
)

// Checkpoints is the point-read surface of the checkpoint store.
type Checkpoints interface {
	Get(ctx context.Context, key checkpoint.Key) (checkpoint.Record, bool, error)
}

// Runs exposes run history and on-demand runs.
type Runs interface {
	// LastRun returns the latest run manifest, or ok=false when there has been none.
	LastRun(ctx context.Context) (manifest any, ok bool, err error)
	// Trigger starts a run in the background. ErrBusy means one is already going.
	Trigger(mode string) error
}

// ReadyCheck is one readiness dependency.
type ReadyCheck func(ctx context.Context) error

type Controller struct {
	Checkpoints Checkpoints
	Runs        Runs
	// ReadyChecks are run by /readyz, keyed by dependency name.
	ReadyChecks map[string]ReadyCheck
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// NewRouter returns a new router with all the routes defined in this package.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	r.Handle("/healthz", http.HandlerFunc(c.HandleHealth)).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(c.HandleReady)).Methods("GET")
	if c.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	// a subrouter reports a method mismatch as a miss unless it has its own handler
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	api.HandleFunc("/runs/last", c.HandleLastRun).Methods("GET")
	api.HandleFunc("/runs", c.HandleTriggerRun).Methods("POST")
	api.HandleFunc("/checkpoints/{endpoint}/{fingerprint}", c.HandleCheckpoint).Methods("GET")

	return r
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
