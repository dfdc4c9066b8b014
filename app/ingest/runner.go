package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/api"
	"github.com/courtside-data/cbbdx/pkg/catalog"
	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/normalize"
)

// Fetcher calls one upstream endpoint. *api.HTTPClient implements it.
type Fetcher interface {
	FetchEndpoint(ctx context.Context, template string, params map[string]any) (json.RawMessage, error)
}

// Status is how a unit ended.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	// StatusEmpty units returned no records and were dead-lettered.
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of one unit.
type Result struct {
	Unit   Unit
	Status Status
	Rows   int
	// Silver is the typed table written for the unit, nil when none was.
	Silver *normalize.Table
	Err    error
}

// UnitRunner executes units: fetch, then raw, bronze and silver writes, then catalog
// registration. It never writes checkpoints; the caller does that after Run returns a
// success, so a checkpoint always follows the durable writes it describes.
type UnitRunner struct {
	API    Fetcher
	Lake   *lake.Lake
	Silver *normalize.Normalizer
	// Bronze is a permissive normalizer without table specs.
	Bronze *normalize.Normalizer
	// Catalog is optional.
	Catalog  catalog.Registrar
	Database string
	// LocationBase prefixes catalog locations, e.g. s3://bucket. Defaults to s3://<bucket>.
	LocationBase string
	DryRun       bool
	Logger       *zap.Logger
}

// Run executes u. Failures are dead-lettered and reported in the Result. A unit whose
// context is already cancelled is skipped without a call.
func (r *UnitRunner) Run(ctx context.Context, u Unit) Result {
	e := u.Endpoint
	res := Result{Unit: u}
	if missing := e.MissingParams(u.Params); len(missing) > 0 {
		r.Logger.Info("unit_skipped",
			zap.String("endpoint", e.Name),
			zap.Any("params", u.Params),
			zap.Strings("missing", missing),
		)
		res.Status = StatusSkipped
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Status = StatusSkipped
		res.Err = err
		return res
	}

	body, err := r.API.FetchEndpoint(ctx, e.Path, u.Params)
	if err != nil {
		return r.fail(ctx, res, err)
	}
	records, err := api.Records(body)
	if err != nil {
		return r.fail(ctx, res, err)
	}
	records = r.prepare(u, records)
	if len(records) == 0 {
		res.Status = StatusEmpty
		r.deadLetter(ctx, u, "empty_response", nil)
		return res
	}
	if r.DryRun {
		res.Status = StatusSucceeded
		res.Rows = len(records)
		return res
	}

	// writes of a started unit finish even when the run is being cancelled
	wctx := context.WithoutCancel(ctx)
	silver, err := r.persist(wctx, u, body, records)
	if err != nil {
		return r.fail(wctx, res, err)
	}
	res.Status = StatusSucceeded
	res.Silver = silver
	res.Rows = len(records)
	if silver != nil {
		res.Rows = silver.NumRows()
	}
	r.Logger.Debug("unit_done",
		zap.String("unit", u.String()),
		zap.Int("records", len(records)),
		zap.Int("rows", res.Rows),
	)
	return res
}

// prepare applies per-endpoint record fixups before any layer is written.
func (r *UnitRunner) prepare(u Unit, records []map[string]any) []map[string]any {
	e := u.Endpoint
	if e.Name == "rankings" && u.Season != 0 {
		// the endpoint may answer with every season
		kept := records[:0:0]
		for _, rec := range records {
			if s, ok := normalize.Cast(rec["season"], normalize.Int).(int64); ok && int(s) == u.Season {
				kept = append(kept, rec)
			}
		}
		records = kept
	}
	if e.Kind == GameFanout {
		for _, rec := range records {
			setDefault(rec, u.Season != 0, []string{"season", "year"}, "season", u.Season)
			setDefault(rec, u.Date != "", []string{"date"}, "date", u.Date)
			setDefault(rec, u.EntityID != 0, []string{"gameId", "gameid"}, "gameId", u.EntityID)
		}
	}
	return records
}

// setDefault sets rec[key] = v when ok and none of present is set.
func setDefault(rec map[string]any, ok bool, present []string, key string, v any) {
	if !ok {
		return
	}
	for _, p := range present {
		if rec[p] != nil {
			return
		}
	}
	rec[key] = v
}

func (r *UnitRunner) persist(ctx context.Context, u Unit, body json.RawMessage, records []map[string]any) (*normalize.Table, error) {
	e := u.Endpoint
	today := r.Lake.Today()
	hash := u.Hash8()

	if _, err := r.Lake.WriteRaw(ctx, e.Name, u.Params, body); err != nil {
		return nil, err
	}

	bronze, err := r.Bronze.Normalize(e.BronzeTable, records)
	if err != nil {
		return nil, fmt.Errorf("bronze %s: %w", e.BronzeTable, err)
	}
	bpart := BronzePartition(u, today)
	if _, err := r.Lake.WriteTable(ctx, lake.Bronze, bronze, bpart, hash); err != nil {
		return nil, err
	}
	if err := r.register(ctx, lake.Bronze, bronze, bpart); err != nil {
		return nil, err
	}

	if e.SilverTable == "" {
		return nil, nil
	}
	silver, err := r.Silver.Normalize(e.SilverTable, records)
	if err != nil {
		return nil, fmt.Errorf("silver %s: %w", e.SilverTable, err)
	}
	if silver.NumRows() == 0 {
		return silver, nil
	}
	spart := SilverPartition(e.SilverTable, u, today)
	if _, err := r.Lake.WriteTable(ctx, lake.Silver, silver, spart, hash); err != nil {
		return nil, err
	}
	if err := r.register(ctx, lake.Silver, silver, spart); err != nil {
		return nil, err
	}
	return silver, nil
}

func (r *UnitRunner) register(ctx context.Context, layer lake.Layer, t *normalize.Table, part lake.Partition) error {
	if r.Catalog == nil || t.NumRows() == 0 {
		return nil
	}
	db := r.Database + "_" + string(layer)
	if err := r.Catalog.EnsureDatabase(ctx, db); err != nil {
		return fmt.Errorf("catalog database %s: %w", db, err)
	}
	base := r.LocationBase
	if base == "" {
		base = "s3://" + r.Lake.Bucket()
	}
	location := strings.TrimRight(base, "/") + "/" + r.Lake.TablePrefix(layer, t.Name)
	if _, err := r.Catalog.Ensure(ctx, catalog.FromTable(db, t, location, part.Keys())); err != nil {
		return fmt.Errorf("catalog table %s.%s: %w", db, t.Name, err)
	}
	return nil
}

func (r *UnitRunner) fail(ctx context.Context, res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	if errors.Is(err, context.Canceled) {
		// cancelled mid-request: nothing is known about the upstream answer
		return res
	}
	r.deadLetter(ctx, res.Unit, "error: "+err.Error(), err)
	return res
}

func (r *UnitRunner) deadLetter(ctx context.Context, u Unit, reason string, err error) {
	rec := lake.DeadLetterRecord{Endpoint: u.Endpoint.Name, Params: u.Params, Reason: reason}
	if err != nil {
		rec.Class = api.Classify(err).String()
		rec.Status = api.StatusCode(err)
	}
	if _, werr := r.Lake.WriteDeadLetter(context.WithoutCancel(ctx), rec); werr != nil {
		r.Logger.Error("dead letter write failed",
			zap.String("endpoint", u.Endpoint.Name),
			zap.Error(werr),
		)
	}
}

// unknownPartition stands in for a season or date a fan-out unit could not resolve. It is
// fixed so a repeated unit lands on the same object.
const unknownPartition = "unknown"

// BronzePartition is asof for snapshot and player units, season/asof for season units and
// season/date for game and date units.
func BronzePartition(u Unit, today time.Time) lake.Partition {
	switch u.Endpoint.Kind {
	case Season:
		return lake.SeasonAsOf(u.Season, today)
	case GameFanout, Date:
		return datedPartition(u)
	default:
		return lake.AsOf(today)
	}
}

// SilverPartition is asof for dim tables, season/date for game and date units,
// season/asof for other season-scoped units and asof otherwise.
func SilverPartition(table string, u Unit, today time.Time) lake.Partition {
	season := unitSeason(u)
	switch {
	case strings.HasPrefix(table, "dim_"):
		return lake.AsOf(today)
	case u.Endpoint.Kind == GameFanout || u.Endpoint.Kind == Date:
		return datedPartition(u)
	case season != 0:
		return lake.SeasonAsOf(season, today)
	default:
		return lake.AsOf(today)
	}
}

// datedPartition is season=<s>/date=<d> with unknown in place of a missing part.
func datedPartition(u Unit) lake.Partition {
	date := u.Date
	if date == "" {
		date = unknownPartition
	}
	if season := unitSeason(u); season != 0 {
		return lake.SeasonDate(season, date)
	}
	return lake.Partition{{Key: "season", Value: unknownPartition}, {Key: "date", Value: date}}
}

func unitSeason(u Unit) int {
	if u.Season != 0 {
		return u.Season
	}
	if u.Date != "" {
		if d, err := time.Parse(dateLayout, u.Date); err == nil {
			return SeasonOf(d)
		}
	}
	return 0
}
