package controller

import (
	"net/http"
	"sort"

	"go.uber.org/zap"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady runs every readiness check and reports each failure by name.
func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names := make([]string, 0, len(c.ReadyChecks))
	for n := range c.ReadyChecks {
		names = append(names, n)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, n := range names {
		if err := c.ReadyChecks[n](ctx); err != nil {
			failed[n] = err.Error()
			c.Logger.Warn("readiness check failed", zap.String("dependency", n), zap.Error(err))
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "errored", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
