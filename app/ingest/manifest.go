package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/metrics"
	"github.com/courtside-data/cbbdx/pkg/utils"
)

// EndpointStats counts unit outcomes for one endpoint.
type EndpointStats struct {
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	Empty        int `json:"empty"`
	Rows         int `json:"rows"`
	DeadLettered int `json:"dead_lettered"`
}

func (s *EndpointStats) add(o EndpointStats) {
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Empty += o.Empty
	s.Rows += o.Rows
	s.DeadLettered += o.DeadLettered
}

// RunManifest is the completion record of one run, stored at meta/run_id=<id>.json.
type RunManifest struct {
	mu sync.Mutex

	RunID      string                    `json:"run_id"`
	Mode       Mode                      `json:"mode"`
	Seasons    []int                     `json:"seasons"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Endpoints  map[string]*EndpointStats `json:"endpoints"`
	// Error is set when the run stopped before walking every endpoint.
	Error string `json:"error,omitempty"`
}

// NewRunID returns a time-ordered run id, e.g. 20250203T150405Z-1a2b3c.
func NewRunID(now time.Time) string {
	h, err := utils.StableHash(map[string]any{"t": now.UnixNano()})
	if err != nil {
		h = "000000"
	}
	return now.UTC().Format("20060102T150405Z") + "-" + utils.ShortHash(h, 6)
}

func newRunManifest(id string, mode Mode, seasons []int, now time.Time) *RunManifest {
	return &RunManifest{
		RunID:     id,
		Mode:      mode,
		Seasons:   append([]int(nil), seasons...),
		StartedAt: now.UTC(),
		Endpoints: map[string]*EndpointStats{},
	}
}

func (m *RunManifest) stats(endpoint string) *EndpointStats {
	s, ok := m.Endpoints[endpoint]
	if !ok {
		s = &EndpointStats{}
		m.Endpoints[endpoint] = s
	}
	return s
}

// Record counts one unit result.
func (m *RunManifest) Record(res Result) {
	name := res.Unit.Endpoint.Name
	m.mu.Lock()
	s := m.stats(name)
	switch res.Status {
	case StatusSucceeded:
		s.Succeeded++
		s.Rows += res.Rows
	case StatusEmpty:
		s.Empty++
		s.DeadLettered++
	case StatusFailed:
		s.Failed++
		if !errors.Is(res.Err, context.Canceled) {
			s.DeadLettered++
		}
	case StatusSkipped:
		s.Skipped++
	}
	m.mu.Unlock()
	metrics.UnitsTotal.WithLabelValues(name, string(res.Status)).Inc()
}

// Skip counts n units skipped because a checkpoint already covers them.
func (m *RunManifest) Skip(endpoint string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.stats(endpoint).Skipped += n
	m.mu.Unlock()
	metrics.UnitsTotal.WithLabelValues(endpoint, string(StatusSkipped)).Add(float64(n))
}

// Totals sums every endpoint.
func (m *RunManifest) Totals() EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t EndpointStats
	for _, s := range m.Endpoints {
		t.add(*s)
	}
	return t
}

// Of returns a copy of one endpoint's counters.
func (m *RunManifest) Of(endpoint string) EndpointStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Endpoints[endpoint]; ok {
		return *s
	}
	return EndpointStats{}
}

// Summary renders one line per endpoint, sorted by name.
func (m *RunManifest) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Endpoints))
	for n := range m.Endpoints {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		s := m.Endpoints[n]
		fmt.Fprintf(&b, "%-30s ok=%d failed=%d skipped=%d empty=%d rows=%d\n",
			n, s.Succeeded, s.Failed, s.Skipped, s.Empty, s.Rows)
	}
	return b.String()
}

func (m *RunManifest) metaName() string { return "run_id=" + m.RunID + ".json" }

// save stores the manifest in the lake. Called once the run finished.
func (m *RunManifest) save(ctx context.Context, l *lake.Lake) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return l.PutMeta(ctx, m.metaName(), m)
}

// LoadLastManifest reads the most recent run manifest stored in the lake.
func LoadLastManifest(ctx context.Context, l *lake.Lake) (*RunManifest, error) {
	names, err := l.ListMeta(ctx, "run_id=")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, lake.ErrNotFound
	}
	sort.Strings(names)
	var m RunManifest
	if err := l.GetMeta(ctx, names[len(names)-1], &m); err != nil {
		return nil, err
	}
	return &m, nil
}
