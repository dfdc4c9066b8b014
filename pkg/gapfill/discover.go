package gapfill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/lake"
)

// SourceTable is the authoritative entity list.
const SourceTable = "fct_games"

// Discoverer computes the entities of a season that have no rows in the job's target table.
type Discoverer interface {
	Discover(ctx context.Context, job Job) ([]Entity, error)
}

// ScanDiscoverer diffs stored silver partitions directly.
type ScanDiscoverer struct {
	Lake   *lake.Lake
	Logger *zap.Logger
}

func (d *ScanDiscoverer) Discover(ctx context.Context, job Job) ([]Entity, error) {
	sub := fmt.Sprintf("season=%d/", job.Season)
	games, err := d.Lake.ReadTable(ctx, lake.Silver, SourceTable, sub)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", SourceTable, err)
	}
	idCol := "gameId"
	if games.ColumnIndex(idCol) < 0 {
		idCol = "id"
	}
	ids := games.Column(idCol)
	dates := games.Column("startDate")

	present := map[int64]struct{}{}
	target, err := d.Lake.ReadTable(ctx, lake.Silver, job.TargetTable, sub)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", job.TargetTable, err)
	}
	for _, id := range target.Int64s("gameId") {
		present[id] = struct{}{}
	}

	var missing []Entity
	for i, v := range ids {
		id, ok := v.(int64)
		if !ok {
			continue
		}
		if _, ok := present[id]; ok {
			continue
		}
		missing = append(missing, Entity{ID: id, Date: dateOf(dates, i)})
	}
	out := finalize(missing)
	if d.Logger != nil {
		d.Logger.Info("gapfill_discover",
			zap.String("mode", "scan"),
			zap.String("endpoint", job.Endpoint),
			zap.Int("season", job.Season),
			zap.Int("source_rows", games.NumRows()),
			zap.Int("present", len(present)),
			zap.Int("missing", len(out)),
		)
	}
	return out, nil
}

func dateOf(dates []any, i int) string {
	if i >= len(dates) {
		return ""
	}
	switch v := dates[i].(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02")
	case string:
		if len(v) >= 10 {
			return v[:10]
		}
	}
	return ""
}

// Selector is the query surface of the catalog database.
type Selector interface {
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// MissingRow is one row of the anti-join query.
type MissingRow struct {
	GameID   *int64 `ch:"game_id"`
	GameDate string `ch:"game_date"`
}

// QueryDiscoverer runs the anti-join inside the catalog database over the registered
// silver tables. Partition pruning uses the same season=<s>/ directory filter the scan
// mode applies.
type QueryDiscoverer struct {
	DB       Selector
	Database string
	Logger   *zap.Logger
}

// Query returns the anti-join statement and its arguments for job.
func (d *QueryDiscoverer) Query(job Job) (string, []interface{}) {
	q := fmt.Sprintf(`SELECT g.gameId AS game_id,
       if(isNull(g.startDate), '', formatDateTime(g.startDate, '%%Y-%%m-%%d')) AS game_date
FROM %[1]s.%[2]s AS g
LEFT ANTI JOIN (
    SELECT DISTINCT gameId FROM %[1]s.%[3]s WHERE _path LIKE ? AND gameId IS NOT NULL
) AS t ON g.gameId = t.gameId
WHERE g._path LIKE ? AND g.gameId IS NOT NULL
ORDER BY game_id`, "`"+d.Database+"`", "`"+SourceTable+"`", "`"+job.TargetTable+"`")
	pattern := fmt.Sprintf("%%/season=%d/%%", job.Season)
	return q, []interface{}{pattern, pattern}
}

func (d *QueryDiscoverer) Discover(ctx context.Context, job Job) ([]Entity, error) {
	q, args := d.Query(job)
	var rows []MissingRow
	if err := d.DB.Select(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("discover %s season %d: %w", job.TargetTable, job.Season, err)
	}
	missing := make([]Entity, 0, len(rows))
	for _, r := range rows {
		if r.GameID == nil {
			continue
		}
		missing = append(missing, Entity{ID: *r.GameID, Date: r.GameDate})
	}
	out := finalize(missing)
	if d.Logger != nil {
		d.Logger.Info("gapfill_discover",
			zap.String("mode", "query"),
			zap.String("endpoint", job.Endpoint),
			zap.Int("season", job.Season),
			zap.Int("missing", len(out)),
		)
	}
	return out, nil
}
