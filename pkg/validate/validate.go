package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/normalize"
	"github.com/courtside-data/cbbdx/pkg/utils"
)

// DefaultDropRatio flags a season holding less than a tenth of its neighbors' rows.
const DefaultDropRatio = 0.1

// DefaultDuplicateFailRatio turns duplicate keys into a FAIL above 5% of a table's rows.
const DefaultDuplicateFailRatio = 0.05

// Options configures a validation pass.
type Options struct {
	Layer lake.Layer
	// Seasons is the expected season range for season-scoped tables.
	Seasons []int
	// Excluded seasons are never reported missing.
	Excluded []int
	// TableExcluded adds per-table exclusions, e.g. seasons an endpoint has no data for.
	TableExcluded      map[string][]int
	DropRatio          float64
	DuplicateFailRatio float64
}

// Validator inspects stored partitions. It only reads from the lake.
type Validator struct {
	lake   *lake.Lake
	logger *zap.Logger
	opts   Options
}

// New returns a Validator. Zero-valued options fall back to the silver layer and the
// default ratios.
func New(l *lake.Lake, logger *zap.Logger, opts Options) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Layer == "" {
		opts.Layer = lake.Silver
	}
	if opts.DropRatio <= 0 {
		opts.DropRatio = DefaultDropRatio
	}
	if opts.DuplicateFailRatio <= 0 {
		opts.DuplicateFailRatio = DefaultDuplicateFailRatio
	}
	return &Validator{lake: l, logger: logger.With(zap.String("component", "validate")), opts: opts}
}

func (v *Validator) tables(ctx context.Context, tables []string) ([]string, error) {
	if len(tables) > 0 {
		return utils.Dedup(tables), nil
	}
	return v.lake.Tables(ctx, v.opts.Layer)
}

// IsDimension reports whether table is a slowly-changing dimension, which is partitioned
// by as-of date only.
func IsDimension(table string) bool { return strings.HasPrefix(table, "dim_") }

// Validate checks the partition layout of each table (every table of the layer when
// tables is empty). Storage errors listing a table abort the pass; everything else is a
// finding.
func (v *Validator) Validate(ctx context.Context, tables []string) (*Report, error) {
	names, err := v.tables(ctx, tables)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for _, table := range names {
		fs, err := v.validateTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", table, err)
		}
		report.add(v.logger, fs...)
	}
	report.sort()
	return report, nil
}

func (v *Validator) validateTable(ctx context.Context, table string) ([]Finding, error) {
	files, err := v.lake.ListPartitions(ctx, v.opts.Layer, table)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []Finding{{
			Table: table, Severity: Warn, Kind: KindNoPartitions,
			Message: "no stored partitions",
		}}, nil
	}

	var out []Finding
	out = append(out, mixedKeys(table, files)...)

	counts := map[int]int64{}
	for _, f := range files {
		season, ok := f.Partition.Season()
		if !ok {
			continue
		}
		n, err := v.lake.RowCount(ctx, f.Key)
		if err != nil {
			out = append(out, Finding{
				Table: table, Severity: Fail, Kind: KindUnreadable, Season: season,
				Message: fmt.Sprintf("%s: %v", f.Key, err),
			})
			continue
		}
		counts[season] += n
	}

	if IsDimension(table) {
		if len(counts) > 0 {
			out = append(out, Finding{
				Table: table, Severity: Fail, Kind: KindDimSeasonPart,
				Message: fmt.Sprintf("dimension table has season partitions for %v", sortedSeasons(counts)),
			})
		}
	} else if len(counts) > 0 {
		out = append(out, v.missingSeasons(table, counts)...)
		out = append(out, rowCountDrops(table, counts, v.opts.DropRatio)...)
	}

	if len(out) == 0 {
		out = append(out, Finding{
			Table: table, Severity: Pass, Kind: KindOK,
			Message: fmt.Sprintf("%d partition files", len(files)),
		})
	}
	return out, nil
}

func scheme(p lake.Partition) string { return strings.Join(p.Keys(), "/") }

// mixedKeys reports seasons whose files use more than one key scheme, or the whole table
// when the mix is not confined to one season.
func mixedKeys(table string, files []lake.PartitionFile) []Finding {
	all := map[string]int{}
	bySeason := map[int]map[string]int{}
	for _, f := range files {
		s := scheme(f.Partition)
		all[s]++
		if season, ok := f.Partition.Season(); ok {
			if bySeason[season] == nil {
				bySeason[season] = map[string]int{}
			}
			bySeason[season][s]++
		}
	}
	if len(all) < 2 {
		return nil
	}
	var out []Finding
	seasons := make([]int, 0, len(bySeason))
	for s := range bySeason {
		seasons = append(seasons, s)
	}
	sort.Ints(seasons)
	for _, s := range seasons {
		if len(bySeason[s]) > 1 {
			out = append(out, Finding{
				Table: table, Severity: Fail, Kind: KindMixedKeys, Season: s,
				Message: "partition schemes " + describe(bySeason[s]),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, Finding{
			Table: table, Severity: Fail, Kind: KindMixedKeys,
			Message: "partition schemes " + describe(all),
		})
	}
	return out
}

func describe(schemes map[string]int) string {
	keys := make([]string, 0, len(schemes))
	for k := range schemes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%d files)", k, schemes[k])
	}
	return strings.Join(parts, ", ")
}

func (v *Validator) missingSeasons(table string, counts map[int]int64) []Finding {
	excluded := map[int]bool{}
	for _, s := range v.opts.Excluded {
		excluded[s] = true
	}
	for _, s := range v.opts.TableExcluded[table] {
		excluded[s] = true
	}
	var out []Finding
	for _, s := range v.opts.Seasons {
		if _, ok := counts[s]; ok || excluded[s] {
			continue
		}
		out = append(out, Finding{
			Table: table, Severity: Fail, Kind: KindMissingSeason, Season: s,
			Message: fmt.Sprintf("season %d has no partitions", s),
		})
	}
	return out
}

// rowCountDrops compares each season with the mean of its present, non-empty neighbors.
func rowCountDrops(table string, counts map[int]int64, ratio float64) []Finding {
	seasons := sortedSeasons(counts)
	var out []Finding
	for i, s := range seasons {
		if counts[s] == 0 {
			continue
		}
		var sum float64
		var n int
		if i > 0 && counts[seasons[i-1]] > 0 {
			sum += float64(counts[seasons[i-1]])
			n++
		}
		if i < len(seasons)-1 && counts[seasons[i+1]] > 0 {
			sum += float64(counts[seasons[i+1]])
			n++
		}
		if n == 0 {
			continue
		}
		avg := sum / float64(n)
		if float64(counts[s]) < avg*ratio {
			out = append(out, Finding{
				Table: table, Severity: Warn, Kind: KindRowCountDrop, Season: s,
				Message: fmt.Sprintf("%d rows against a neighbor average of %.0f", counts[s], avg),
			})
		}
	}
	return out
}

func sortedSeasons(counts map[int]int64) []int {
	out := make([]int, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Audit reads each table season by season and counts rows that share a primary key.
// Tables with no rows fail, as does a duplicate share above the configured ratio.
func (v *Validator) Audit(ctx context.Context, tables []string) (*Report, error) {
	names, err := v.tables(ctx, tables)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for _, table := range names {
		fs, err := v.auditTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("audit %s: %w", table, err)
		}
		report.add(v.logger, fs...)
	}
	report.sort()
	return report, nil
}

func (v *Validator) auditTable(ctx context.Context, table string) ([]Finding, error) {
	files, err := v.lake.ListPartitions(ctx, v.opts.Layer, table)
	if err != nil {
		return nil, err
	}
	seasons := map[int]int64{}
	for _, f := range files {
		if s, ok := f.Partition.Season(); ok {
			seasons[s] = 0
		}
	}

	type slice struct {
		season int
		sub    string
	}
	var slices []slice
	if len(seasons) == 0 {
		slices = append(slices, slice{})
	}
	for _, s := range sortedSeasons(seasons) {
		slices = append(slices, slice{season: s, sub: fmt.Sprintf("season=%d/", s)})
	}

	var out []Finding
	total, dups := 0, 0
	for _, sl := range slices {
		t, err := v.lake.ReadTable(ctx, v.opts.Layer, table, sl.sub)
		if err != nil {
			return nil, err
		}
		total += t.NumRows()
		n := normalize.DuplicateKeys(t)
		if n > 0 {
			dups += n
			out = append(out, Finding{
				Table: table, Severity: Warn, Kind: KindDuplicateKeys, Season: sl.season,
				Message: fmt.Sprintf("%d of %d rows repeat a primary key %v", n, t.NumRows(), t.PrimaryKey),
			})
		}
	}

	switch {
	case total == 0:
		return []Finding{{Table: table, Severity: Fail, Kind: KindEmptyTable, Message: "no rows"}}, nil
	case float64(dups) > float64(total)*v.opts.DuplicateFailRatio:
		out = append(out, Finding{
			Table: table, Severity: Fail, Kind: KindDuplicateKeys,
			Message: fmt.Sprintf("%d duplicate rows out of %d", dups, total),
		})
	case len(out) == 0:
		out = append(out, Finding{
			Table: table, Severity: Pass, Kind: KindOK,
			Message: fmt.Sprintf("%d rows", total),
		})
	}
	return out, nil
}
