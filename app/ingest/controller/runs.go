package controller

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/checkpoint"
)

// ErrBusy is returned by Runs.Trigger when a run is already going.
var ErrBusy = errors.New("run in progress")

func (c *Controller) HandleLastRun(w http.ResponseWriter, r *http.Request) {
	m, ok, err := c.Runs.LastRun(r.Context())
	if err != nil {
		c.Logger.Error("failed to load last run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleTriggerRun starts a run; ?mode= defaults to incremental.
func (c *Controller) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "incremental"
	}
	if err := c.Runs.Trigger(mode); err != nil {
		if errors.Is(err, ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": mode})
}

func (c *Controller) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := checkpoint.Key{Endpoint: vars["endpoint"], Fingerprint: vars["fingerprint"]}

	rec, ok, err := c.Checkpoints.Get(r.Context(), key)
	if err != nil {
		c.Logger.Error("checkpoint read failed", zap.String("key", key.String()), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "checkpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
