package gapfill

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Entity is one upstream object a fan-out endpoint is called for. Date is the natural
// date of the entity (YYYY-MM-DD) when known.
type Entity struct {
	ID   int64  `json:"id"`
	Date string `json:"date,omitempty"`
}

// Job identifies one gap-fill invocation.
type Job struct {
	Endpoint    string
	Season      int
	TargetTable string
	// Concurrency bounds in-flight entities.
	Concurrency int
	// Limit caps the number of entities fetched; zero means no cap.
	Limit int
	// MarkEmpty records entities with empty responses in the resume log.
	MarkEmpty bool
	DryRun    bool
	// ResumePath overrides the default resume log location.
	ResumePath string
}

// targets maps fan-out endpoints to the silver table their rows land in.
var targets = map[string]string{
	"plays_game":         "fct_plays",
	"substitutions_game": "fct_substitutions",
	"lineups_game":       "fct_lineups",
}

// TargetTable returns the silver table filled by endpoint.
func TargetTable(endpoint string) (string, bool) {
	t, ok := targets[endpoint]
	return t, ok
}

// Endpoints returns the endpoints gap fill knows a target for, sorted.
func Endpoints() []string {
	out := make([]string, 0, len(targets))
	for k := range targets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultResumePath is <dir>/gap_fill_<endpoint>_<season>.txt.
func DefaultResumePath(dir, endpoint string, season int) string {
	if dir == "" {
		dir = "tmp"
	}
	return filepath.Join(dir, fmt.Sprintf("gap_fill_%s_%d.txt", endpoint, season))
}

// finalize sorts entities by ID and keeps one entry per ID. The kept date is the
// smallest non-empty date seen for that ID, so callers get identical output no matter
// how the rows were gathered.
func finalize(in []Entity) []Entity {
	best := make(map[int64]string, len(in))
	for _, e := range in {
		cur, ok := best[e.ID]
		switch {
		case !ok:
			best[e.ID] = e.Date
		case cur == "" || (e.Date != "" && e.Date < cur):
			if e.Date != "" {
				best[e.ID] = e.Date
			}
		}
	}
	out := make([]Entity, 0, len(best))
	for id, d := range best {
		out = append(out, Entity{ID: id, Date: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortIDs(lists ...[]int64) {
	for _, l := range lists {
		sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
	}
}
