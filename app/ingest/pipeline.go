package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/checkpoint"
	"github.com/courtside-data/cbbdx/pkg/gapfill"
	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/metrics"
	"github.com/courtside-data/cbbdx/pkg/redis"
)

// Mode selects how a run uses checkpoints.
type Mode string

const (
	// ModeBackfill fetches every season in range and writes checkpoints.
	ModeBackfill Mode = "backfill"
	// ModeIncremental resumes from checkpoints.
	ModeIncremental Mode = "incremental"
	// ModeOne fetches a single season and writes no checkpoints.
	ModeOne Mode = "one"
)

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBackfill, ModeIncremental, ModeOne:
		return m, nil
	}
	return "", fmt.Errorf("unknown run mode %q (want backfill, incremental or one)", s)
}

// ErrRunInProgress is returned when a run is requested while another is still going.
var ErrRunInProgress = errors.New("a run is already in progress")

// RunOptions select what one run covers.
type RunOptions struct {
	Mode    Mode
	Seasons []int
	// Endpoints restricts the run to these names; empty means every endpoint.
	Endpoints []string
	// SkipFanout leaves out game and player fan-out endpoints.
	SkipFanout bool
	// FanoutOnly runs only fan-out endpoints, reading game and player ids from the lake.
	FanoutOnly bool
	// Limit caps the entities of each fan-out endpoint; zero means no cap.
	Limit int
}

// Publisher announces finished runs. *redis.Client implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any)
}

// Pipeline walks the endpoint registry and turns it into units of work.
type Pipeline struct {
	Registry    *Registry
	Units       *UnitRunner
	Lake        *lake.Lake
	Checkpoints *checkpoint.Guard
	// Events is optional.
	Events Publisher
	Logger *zap.Logger

	ChunkDays         int
	WindowDays        int
	OverlapDays       int
	FanoutConcurrency int

	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time

	running sync.Mutex
	last    atomic.Pointer[RunManifest]
}

// run is the state of one Run call.
type run struct {
	opts     RunOptions
	manifest *RunManifest
	games    *GameIndex
	players  *PlayerIndex
	today    time.Time
	// checkpoints are written
	commit bool
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Last returns the manifest of the most recent run of this process, or nil.
func (p *Pipeline) Last() *RunManifest { return p.last.Load() }

// Run executes one run. Per-unit failures are counted in the manifest and never abort the
// run; an unreadable or unwritable checkpoint store does, since continuing would re-fetch
// without metering. The manifest is returned and stored even when Run fails.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunManifest, error) {
	if len(opts.Seasons) == 0 {
		return nil, errors.New("run needs at least one season")
	}
	if opts.Mode == ModeOne && len(opts.Seasons) != 1 {
		return nil, fmt.Errorf("mode one takes a single season, got %d", len(opts.Seasons))
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	endpoints, err := p.selectEndpoints(opts)
	if err != nil {
		return nil, err
	}

	start := p.now()
	st := &run{
		opts:     opts,
		manifest: newRunManifest(NewRunID(start), opts.Mode, opts.Seasons, start),
		games:    NewGameIndex(),
		players:  NewPlayerIndex(),
		today:    start.Truncate(24 * time.Hour),
		commit:   opts.Mode != ModeOne && !p.Units.DryRun,
	}
	logger := p.Logger.With(zap.String("run_id", st.manifest.RunID), zap.String("mode", string(opts.Mode)))
	logger.Info("run_start",
		zap.Ints("seasons", opts.Seasons),
		zap.Int("endpoints", len(endpoints)),
	)

	var runErr error
	for _, e := range endpoints {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if err := p.runEndpoint(ctx, st, e); err != nil {
			runErr = fmt.Errorf("%s: %w", e.Name, err)
			break
		}
	}

	m := st.manifest
	m.FinishedAt = p.now()
	if runErr != nil {
		m.Error = runErr.Error()
	}
	// the manifest is written even when the run was cancelled
	if _, err := m.save(context.WithoutCancel(ctx), p.Lake); err != nil {
		logger.Error("run manifest write failed", zap.Error(err))
	}
	metrics.LastRunTimestamp.Set(float64(m.FinishedAt.Unix()))
	p.last.Store(m)
	if p.Events != nil {
		p.Events.PublishJSON(context.WithoutCancel(ctx), redis.RunsChannel, m)
	}

	t := m.Totals()
	logger.Info("run_done",
		zap.Duration("elapsed", m.FinishedAt.Sub(m.StartedAt)),
		zap.Int("succeeded", t.Succeeded),
		zap.Int("failed", t.Failed),
		zap.Int("skipped", t.Skipped),
		zap.Int("empty", t.Empty),
		zap.Int("rows", t.Rows),
		zap.Error(runErr),
	)
	return m, runErr
}

func (p *Pipeline) selectEndpoints(opts RunOptions) ([]*Endpoint, error) {
	want := map[string]bool{}
	for _, n := range opts.Endpoints {
		if _, ok := p.Registry.Get(n); !ok {
			return nil, fmt.Errorf("unknown endpoint %q", n)
		}
		want[n] = true
	}
	var out []*Endpoint
	for _, e := range p.Registry.All() {
		if len(want) > 0 && !want[e.Name] {
			continue
		}
		if opts.SkipFanout && e.Kind.IsFanout() {
			continue
		}
		if opts.FanoutOnly && !e.Kind.IsFanout() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Pipeline) runEndpoint(ctx context.Context, st *run, e *Endpoint) error {
	explicit := len(st.opts.Endpoints) > 0
	if e.Skip && !explicit {
		p.Logger.Info("endpoint_skipped", zap.String("endpoint", e.Name), zap.String("reason", "configured skip"))
		return nil
	}
	if e.IncrementalOnly && st.opts.Mode != ModeIncremental {
		p.Logger.Info("endpoint_skipped", zap.String("endpoint", e.Name), zap.String("reason", "incremental only"))
		return nil
	}
	switch e.Kind {
	case Snapshot:
		return p.runSnapshot(ctx, st, e)
	case Season:
		return p.runSeason(ctx, st, e)
	case Date:
		return p.runDate(ctx, st, e)
	case GameFanout:
		return p.runGameFanout(ctx, st, e)
	case PlayerFanout:
		return p.runPlayerFanout(ctx, st, e)
	}
	return fmt.Errorf("unknown endpoint type %q", e.Kind)
}

// execute runs u and feeds its result into the manifest and the id indexes.
func (p *Pipeline) execute(ctx context.Context, st *run, u Unit) Result {
	res := p.Units.Run(ctx, u)
	st.manifest.Record(res)
	if res.Status == StatusSucceeded && res.Silver != nil {
		switch res.Silver.Name {
		case "fct_games":
			st.games.AddTable(res.Silver)
		case "fct_game_players":
			st.players.AddTable(res.Silver, u.Season)
		}
	}
	return res
}

func (p *Pipeline) put(ctx context.Context, st *run, key checkpoint.Key, u checkpoint.Update) error {
	if !st.commit {
		return nil
	}
	if err := p.Checkpoints.Put(context.WithoutCancel(ctx), key, u.SucceededAt(p.now())); err != nil {
		return fmt.Errorf("checkpoint %s: %w", key, err)
	}
	return nil
}

// SnapshotKey is the checkpoint key of a snapshot endpoint.
func SnapshotKey(e *Endpoint) checkpoint.Key {
	return checkpoint.Key{Endpoint: e.Name, Fingerprint: checkpoint.MustFingerprint(map[string]any{})}
}

// SeasonKey is the endpoint-level checkpoint key of a season endpoint.
func SeasonKey(e *Endpoint) checkpoint.Key {
	return checkpoint.Key{
		Endpoint:    e.Name,
		Fingerprint: checkpoint.MustFingerprint(map[string]any{"season_param": e.seasonParam()}),
	}
}

// DateKey is the endpoint-level checkpoint key of a date endpoint.
func DateKey(e *Endpoint) checkpoint.Key {
	return checkpoint.Key{
		Endpoint:    e.Name,
		Fingerprint: checkpoint.MustFingerprint(map[string]any{"date_param": e.dateParam()}),
	}
}

// EntityKey is the per-entity checkpoint key of a fan-out unit. Game units share their
// key with gap fill, so either path marks a game done for the other.
func EntityKey(u Unit) checkpoint.Key {
	if u.Endpoint.Kind == GameFanout {
		return gapfill.CheckpointKey(u.Endpoint.Name, u.EntityID)
	}
	return checkpoint.Key{Endpoint: u.Endpoint.Name, Fingerprint: u.Fingerprint()}
}

func (p *Pipeline) runSnapshot(ctx context.Context, st *run, e *Endpoint) error {
	u := Unit{Endpoint: e, Params: map[string]any{}}
	if res := p.execute(ctx, st, u); res.Status != StatusSucceeded {
		return nil
	}
	return p.put(ctx, st, SnapshotKey(e), checkpoint.Update{})
}

// runSeason walks the seasons in order. In incremental mode seasons up to and including
// the recorded last_completed_season are skipped. The season in progress (SeasonOf today)
// and any later one is fetched but never recorded as completed, so it is refreshed on
// every run. The checkpoint advances only over seasons whose units all completed, and
// stops advancing at the first season with a failure.
func (p *Pipeline) runSeason(ctx context.Context, st *run, e *Endpoint) error {
	key := SeasonKey(e)
	done := 0
	if st.opts.Mode == ModeIncremental {
		rec, ok, err := p.Checkpoints.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			done = rec.LastCompletedSeason
		}
	}
	current := SeasonOf(st.today)

	advance := true
	for _, season := range st.opts.Seasons {
		if season <= done {
			st.manifest.Skip(e.Name, 1)
			p.Logger.Debug("season_skipped", zap.String("endpoint", e.Name), zap.Int("season", season))
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		units := SeasonUnits(e, season, p.ChunkDays)
		var failed atomic.Int32
		err := p.dispatch(ctx, e.Name, units, func(ctx context.Context, u Unit) error {
			if res := p.execute(ctx, st, u); res.Status == StatusFailed {
				failed.Add(1)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if failed.Load() > 0 {
			if advance {
				p.Logger.Warn("season_incomplete",
					zap.String("endpoint", e.Name),
					zap.Int("season", season),
					zap.Int32("failed_units", failed.Load()),
				)
			}
			advance = false
			continue
		}
		if season >= current {
			advance = false
		}
		if !advance {
			continue
		}
		if err := p.put(ctx, st, key, checkpoint.Update{}.Season(season).Date(st.today.Format(dateLayout))); err != nil {
			return err
		}
	}
	return nil
}

// runDate fetches every day of the rolling window. In incremental mode days up to and
// including last_ingested_date are skipped. The checkpoint moves to the last day of the
// unbroken run of successful days from the start of the window, but never into the most
// recent OverlapDays days, which stay open so late corrections are picked up.
func (p *Pipeline) runDate(ctx context.Context, st *run, e *Endpoint) error {
	key := DateKey(e)
	units := DateUnits(e, st.today, p.WindowDays)
	if st.opts.Mode == ModeIncremental {
		rec, ok, err := p.Checkpoints.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok && rec.LastIngestedDate != "" {
			kept := units[:0:0]
			for _, u := range units {
				if u.Date <= rec.LastIngestedDate {
					continue
				}
				kept = append(kept, u)
			}
			st.manifest.Skip(e.Name, len(units)-len(kept))
			units = kept
		}
	}
	if len(units) == 0 {
		return nil
	}

	ok := make([]bool, len(units))
	index := make(map[string]int, len(units))
	for i, u := range units {
		index[u.Date] = i
	}
	var mu sync.Mutex
	err := p.dispatch(ctx, e.Name, units, func(ctx context.Context, u Unit) error {
		res := p.execute(ctx, st, u)
		mu.Lock()
		ok[index[u.Date]] = res.Status != StatusFailed
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	openFrom := st.today.AddDate(0, 0, -p.OverlapDays+1).Format(dateLayout)
	last := ""
	for i, u := range units {
		if !ok[i] || (p.OverlapDays > 0 && u.Date >= openFrom) {
			break
		}
		last = u.Date
	}
	if last == "" {
		return nil
	}
	return p.put(ctx, st, key, checkpoint.Update{}.Date(last))
}

func (p *Pipeline) runGameFanout(ctx context.Context, st *run, e *Endpoint) error {
	games := st.games.Games(st.opts.Seasons)
	if len(games) == 0 {
		if err := st.games.LoadGames(ctx, p.Lake, st.opts.Seasons); err != nil {
			return fmt.Errorf("load game ids: %w", err)
		}
		games = st.games.Games(st.opts.Seasons)
	}
	if st.opts.Limit > 0 && len(games) > st.opts.Limit {
		games = games[:st.opts.Limit]
	}
	units := make([]Unit, len(games))
	for i, g := range games {
		units[i] = GameUnit(e, g)
	}
	return p.fanout(ctx, st, e, units)
}

func (p *Pipeline) runPlayerFanout(ctx context.Context, st *run, e *Endpoint) error {
	if st.players.Len() == 0 {
		if err := st.players.LoadPlayers(ctx, p.Lake, st.opts.Seasons); err != nil {
			return fmt.Errorf("load player ids: %w", err)
		}
	}
	var units []Unit
	if e.RequiresSeason() {
		for _, pair := range st.players.Pairs() {
			units = append(units, PlayerUnit(e, pair[0], int(pair[1])))
		}
	} else {
		for _, id := range st.players.Players() {
			units = append(units, PlayerUnit(e, id, 0))
		}
	}
	if st.opts.Limit > 0 && len(units) > st.opts.Limit {
		units = units[:st.opts.Limit]
	}
	return p.fanout(ctx, st, e, units)
}

// fanout runs one unit per entity. In incremental mode an entity whose checkpoint
// record exists is not fetched again.
func (p *Pipeline) fanout(ctx context.Context, st *run, e *Endpoint, units []Unit) error {
	p.Logger.Info("fanout_start", zap.String("endpoint", e.Name), zap.Int("count", len(units)))
	var skipped atomic.Int32
	err := p.dispatch(ctx, e.Name, units, func(ctx context.Context, u Unit) error {
		key := EntityKey(u)
		if st.opts.Mode == ModeIncremental {
			_, done, err := p.Checkpoints.Get(ctx, key)
			if err != nil {
				return err
			}
			if done {
				skipped.Add(1)
				st.manifest.Skip(e.Name, 1)
				return nil
			}
		}
		res := p.execute(ctx, st, u)
		if res.Status != StatusSucceeded {
			return nil
		}
		upd := checkpoint.Update{}.WithCursor(fmt.Sprint(u.EntityID))
		if u.Season != 0 {
			upd = upd.Season(u.Season)
		}
		if u.Date != "" {
			upd = upd.Date(u.Date)
		}
		return p.put(ctx, st, key, upd)
	})
	s := st.manifest.Of(e.Name)
	p.Logger.Info("fanout_done",
		zap.String("endpoint", e.Name),
		zap.Int("count", len(units)),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int32("skipped", skipped.Load()),
	)
	return err
}
