package gapfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/checkpoint"
	"github.com/courtside-data/cbbdx/pkg/metrics"
)

// Outcome is what handling one entity produced.
type Outcome int

const (
	// Written means rows were persisted.
	Written Outcome = iota
	// Empty means the upstream returned no records.
	Empty
)

// Handler fetches and persists one entity through the regular ingestion path.
type Handler interface {
	Handle(ctx context.Context, job Job, e Entity) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job, e Entity) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, job Job, e Entity) (Outcome, error) {
	return f(ctx, job, e)
}

// Stats are the per-job counters.
type Stats struct {
	Written int `json:"written"`
	Empty   int `json:"empty"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Manifest is the terminal result of a job. Failed entities are left for operator follow-up.
type Manifest struct {
	Endpoint   string           `json:"endpoint"`
	Season     int              `json:"season"`
	Succeeded  []int64          `json:"succeeded"`
	Empty      []int64          `json:"empty"`
	Failed     []int64          `json:"failed"`
	Skipped    []int64          `json:"skipped"`
	NotStarted []int64          `json:"not_started,omitempty"`
	Errors     map[int64]string `json:"errors,omitempty"`
	Stats      Stats            `json:"stats"`
	ResumePath string           `json:"resume_path"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Runner drives the FETCH and PERSIST phases of a job with bounded concurrency.
type Runner struct {
	Handler     Handler
	Checkpoints checkpoint.Store
	Logger      *zap.Logger
	ResumeDir   string
	// LogEvery controls how often progress is logged.
	LogEvery int
}

// CheckpointKey is the checkpoint key recording gap-fill progress for one entity.
func CheckpointKey(endpoint string, id int64) checkpoint.Key {
	return checkpoint.Key{
		Endpoint:    "gap_fill:" + endpoint,
		Fingerprint: checkpoint.MustFingerprint(map[string]any{"gameId": id}),
	}
}

// Run processes missing entities. Entities already in the resume log are skipped.
// Per-entity failures are recorded in the manifest and never abort the job; only a
// failure to open the resume log returns an error. Cancelling ctx stops dispatch while
// entities already started run to completion.
func (r *Runner) Run(ctx context.Context, job Job, missing []Entity) (*Manifest, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("endpoint", job.Endpoint), zap.Int("season", job.Season))

	path := job.ResumePath
	if path == "" {
		path = DefaultResumePath(r.ResumeDir, job.Endpoint, job.Season)
	}
	resume, err := OpenResumeLog(path)
	if err != nil {
		return nil, err
	}
	defer resume.Close()

	m := &Manifest{
		Endpoint:   job.Endpoint,
		Season:     job.Season,
		ResumePath: path,
		StartedAt:  time.Now().UTC(),
		Errors:     map[int64]string{},
	}

	var pending []Entity
	for _, e := range missing {
		if resume.Contains(e.ID) {
			m.Skipped = append(m.Skipped, e.ID)
			continue
		}
		pending = append(pending, e)
	}
	if job.Limit > 0 && len(pending) > job.Limit {
		pending = pending[:job.Limit]
	}
	m.Stats.Skipped = len(m.Skipped)
	metrics.GapfillEntities.WithLabelValues(job.Endpoint, "skipped").Add(float64(len(m.Skipped)))

	concurrency := job.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	logEvery := r.LogEvery
	if logEvery <= 0 {
		logEvery = 25
	}
	logger.Info("gapfill_start",
		zap.Int("missing", len(missing)),
		zap.Int("pending", len(pending)),
		zap.Int("skipped", len(m.Skipped)),
		zap.Int("concurrency", concurrency),
		zap.Bool("dry_run", job.DryRun),
	)

	var mu sync.Mutex
	processed := 0
	record := func(e Entity, outcome Outcome, herr error) {
		mu.Lock()
		defer mu.Unlock()
		processed++
		switch {
		case herr != nil:
			m.Failed = append(m.Failed, e.ID)
			m.Errors[e.ID] = herr.Error()
			m.Stats.Errors++
			metrics.GapfillEntities.WithLabelValues(job.Endpoint, "failed").Inc()
		case outcome == Empty:
			m.Empty = append(m.Empty, e.ID)
			m.Stats.Empty++
			metrics.GapfillEntities.WithLabelValues(job.Endpoint, "empty").Inc()
		default:
			m.Succeeded = append(m.Succeeded, e.ID)
			m.Stats.Written++
			metrics.GapfillEntities.WithLabelValues(job.Endpoint, "written").Inc()
		}
		if processed%logEvery == 0 || processed == len(pending) {
			logger.Info("gapfill_progress",
				zap.Int("processed", processed),
				zap.Int("pending", len(pending)),
				zap.Int("written", m.Stats.Written),
				zap.Int("empty", m.Stats.Empty),
				zap.Int("errors", m.Stats.Errors),
			)
		}
	}
	started := make(map[int64]bool, len(pending))

	pool := pond.NewPool(concurrency, pond.WithQueueSize(len(pending)+1))
	defer pool.StopAndWait()
	group := pool.NewGroup()

	for _, e := range pending {
		group.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			mu.Lock()
			started[e.ID] = true
			mu.Unlock()

			// started entities finish even if the job is cancelled
			work := context.WithoutCancel(ctx)
			outcome, herr := r.process(work, job, e, resume)
			if herr != nil {
				logger.Warn("gapfill_entity_failed", zap.Int64("id", e.ID), zap.Error(herr))
			}
			record(e, outcome, herr)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		logger.Warn("gapfill tasks failed", zap.Error(err))
	}

	for _, e := range pending {
		if !started[e.ID] {
			m.NotStarted = append(m.NotStarted, e.ID)
		}
	}
	sortIDs(m.Succeeded, m.Empty, m.Failed, m.Skipped, m.NotStarted)
	m.FinishedAt = time.Now().UTC()
	logger.Info("gapfill_done",
		zap.Int("written", m.Stats.Written),
		zap.Int("empty", m.Stats.Empty),
		zap.Int("errors", m.Stats.Errors),
		zap.Int("skipped", m.Stats.Skipped),
		zap.Int("not_started", len(m.NotStarted)),
	)
	return m, nil
}

// process handles one entity, then records completion: resume log first, checkpoint second.
// Both happen only after the handler reports durable writes.
func (r *Runner) process(ctx context.Context, job Job, e Entity, resume *ResumeLog) (Outcome, error) {
	outcome, err := r.Handler.Handle(ctx, job, e)
	if err != nil {
		return outcome, err
	}
	if job.DryRun {
		return outcome, nil
	}
	if outcome == Empty && !job.MarkEmpty {
		return outcome, nil
	}
	if err := resume.Append(e.ID); err != nil {
		return outcome, err
	}
	if outcome == Written && r.Checkpoints != nil {
		u := checkpoint.Update{}.Season(job.Season).WithCursor(strconv.FormatInt(e.ID, 10)).SucceededAt(time.Now())
		if e.Date != "" {
			u = u.Date(e.Date)
		}
		if err := r.Checkpoints.Put(ctx, CheckpointKey(job.Endpoint, e.ID), u); err != nil {
			return outcome, fmt.Errorf("checkpoint %d: %w", e.ID, err)
		}
	}
	return outcome, nil
}
