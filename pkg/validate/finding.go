package validate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/metrics"
)

// Severity grades a finding. Only FAIL makes a validation run unsuccessful.
type Severity string

const (
	Pass Severity = "PASS"
	Warn Severity = "WARN"
	Fail Severity = "FAIL"
)

func (s Severity) rank() int {
	switch s {
	case Fail:
		return 2
	case Warn:
		return 1
	default:
		return 0
	}
}

// Finding kinds.
const (
	KindOK            = "ok"
	KindNoPartitions  = "no_partitions"
	KindMixedKeys     = "mixed_partition_keys"
	KindMissingSeason = "missing_season"
	KindDimSeasonPart = "dim_table_season_partition"
	KindRowCountDrop  = "row_count_drop"
	KindDuplicateKeys = "duplicate_keys"
	KindEmptyTable    = "empty_table"
	KindUnreadable    = "unreadable_partition"
)

// Finding is one reported anomaly, or a PASS marker for a clean table.
type Finding struct {
	Table    string   `json:"table"`
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	// Season is zero when the finding is not about one season.
	Season  int    `json:"season,omitempty"`
	Message string `json:"message"`
}

// Report is the ordered result of one validation or audit pass.
type Report struct {
	Findings []Finding `json:"findings"`
}

// Worst returns the highest severity in the report, PASS for an empty one.
func (r *Report) Worst() Severity {
	worst := Pass
	for _, f := range r.Findings {
		if f.Severity.rank() > worst.rank() {
			worst = f.Severity
		}
	}
	return worst
}

// Count returns the number of findings with severity s.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// Failed reports whether any finding is FAIL.
func (r *Report) Failed() bool { return r.Worst() == Fail }

func (r *Report) add(logger *zap.Logger, fs ...Finding) {
	for _, f := range fs {
		r.Findings = append(r.Findings, f)
		metrics.Findings.WithLabelValues(string(f.Severity), f.Kind).Inc()
		if f.Severity == Pass {
			continue
		}
		logger.Warn("finding",
			zap.String("table", f.Table),
			zap.String("severity", string(f.Severity)),
			zap.String("kind", f.Kind),
			zap.Int("season", f.Season),
			zap.String("message", f.Message),
		)
	}
}

func (r *Report) sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Season < b.Season
	})
}
