package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/gapfill"
)

// GapfillHandler persists gap-fill entities through the same unit path a run uses.
type GapfillHandler struct {
	Registry *Registry
	Units    *UnitRunner
}

var _ gapfill.Handler = (*GapfillHandler)(nil)

func (h *GapfillHandler) Handle(ctx context.Context, job gapfill.Job, ent gapfill.Entity) (gapfill.Outcome, error) {
	e, ok := h.Registry.Get(job.Endpoint)
	if !ok || e.Kind != GameFanout {
		return gapfill.Written, fmt.Errorf("%q is not a game fan-out endpoint", job.Endpoint)
	}
	runner := h.Units
	if job.DryRun && !runner.DryRun {
		dry := *runner
		dry.DryRun = true
		runner = &dry
	}
	res := runner.Run(ctx, GameUnit(e, GameMeta{ID: ent.ID, Season: job.Season, Date: ent.Date}))
	switch res.Status {
	case StatusSucceeded:
		return gapfill.Written, nil
	case StatusEmpty:
		return gapfill.Empty, nil
	case StatusSkipped:
		if res.Err != nil {
			return gapfill.Written, res.Err
		}
		return gapfill.Written, fmt.Errorf("unit %s skipped: missing required params", res.Unit)
	default:
		return gapfill.Written, res.Err
	}
}

// GapfillOptions select one gap-fill invocation.
type GapfillOptions struct {
	Endpoint string
	Seasons  []int
	// Discovery is "scan" (diff stored partitions) or "query" (anti-join in ClickHouse).
	Discovery string
	// IDsFile replaces discovery with an explicit id[,date] list. Single season only.
	IDsFile     string
	Concurrency int
	Limit       int
	MarkEmpty   bool
	DryRun      bool
	ResumePath  string
}

// Discoverer returns the discovery mode named by mode.
func (a *App) Discoverer(mode string) (gapfill.Discoverer, error) {
	switch mode {
	case "", "scan":
		return &gapfill.ScanDiscoverer{Lake: a.Lake, Logger: a.Logger}, nil
	case "query":
		if a.ClickHouse == nil {
			return nil, errors.New("query discovery needs catalog.enabled and a reachable ClickHouse")
		}
		return &gapfill.QueryDiscoverer{
			DB:       a.ClickHouse,
			Database: a.Config.Catalog.Database + "_silver",
			Logger:   a.Logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown discovery mode %q (want scan or query)", mode)
}

// Gapfill discovers and fetches the missing entities of each season in turn. A season's
// failed entities are reported in its manifest and do not stop later seasons.
func (a *App) Gapfill(ctx context.Context, opts GapfillOptions) ([]*gapfill.Manifest, error) {
	target, ok := gapfill.TargetTable(opts.Endpoint)
	if !ok {
		return nil, fmt.Errorf("no gap-fill target for %q (known: %v)", opts.Endpoint, gapfill.Endpoints())
	}
	if opts.IDsFile != "" && len(opts.Seasons) != 1 {
		return nil, errors.New("an ids file applies to exactly one season")
	}
	if opts.ResumePath != "" && len(opts.Seasons) != 1 {
		return nil, errors.New("a resume path applies to exactly one season")
	}
	disc, err := a.Discoverer(opts.Discovery)
	if err != nil {
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = a.Config.Gapfill.Concurrency
	}
	runner := &gapfill.Runner{
		Handler:     &GapfillHandler{Registry: a.Registry, Units: a.Units},
		Checkpoints: a.Checkpoints,
		Logger:      a.Logger.With(zap.String("component", "gapfill")),
		ResumeDir:   a.Config.Gapfill.ResumeDir,
	}

	var out []*gapfill.Manifest
	for _, season := range opts.Seasons {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		job := gapfill.Job{
			Endpoint:    opts.Endpoint,
			Season:      season,
			TargetTable: target,
			Concurrency: concurrency,
			Limit:       opts.Limit,
			MarkEmpty:   opts.MarkEmpty || a.Config.Gapfill.MarkEmpty,
			DryRun:      opts.DryRun,
			ResumePath:  opts.ResumePath,
		}
		var missing []gapfill.Entity
		if opts.IDsFile != "" {
			missing, err = gapfill.LoadIDsFile(opts.IDsFile)
		} else {
			missing, err = disc.Discover(ctx, job)
		}
		if err != nil {
			return out, fmt.Errorf("season %d: %w", season, err)
		}
		m, err := runner.Run(ctx, job, missing)
		if err != nil {
			return out, fmt.Errorf("season %d: %w", season, err)
		}
		out = append(out, m)
	}
	return out, nil
}
