package gapfill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-data/cbbdx/pkg/checkpoint"
	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/normalize"
)

func seededLake(t *testing.T) *lake.Lake {
	t.Helper()
	ctx := context.Background()
	l := lake.New(lake.NewLocalStore(t.TempDir()), lake.Options{Bucket: "lake"})
	require.NoError(t, l.Init(ctx))

	day := func(d int) time.Time { return time.Date(2024, 11, d, 19, 0, 0, 0, time.UTC) }
	games := normalize.Empty("fct_games", []normalize.Column{
		{Name: "gameId", Type: normalize.Int},
		{Name: "startDate", Type: normalize.Timestamp},
	}, []string{"gameId"})
	games.Rows = [][]any{{int64(103), day(6)}, {int64(101), day(4)}, {int64(102), day(5)}}
	_, err := l.WriteTable(ctx, lake.Silver, games, lake.SeasonDate(2024, "2024-11-04"), "games-a")
	require.NoError(t, err)

	other := normalize.Empty("fct_games", games.Columns, []string{"gameId"})
	other.Rows = [][]any{{int64(900), day(7)}}
	_, err = l.WriteTable(ctx, lake.Silver, other, lake.SeasonDate(2023, "2023-11-07"), "games-b")
	require.NoError(t, err)

	plays := normalize.Empty("fct_plays", []normalize.Column{
		{Name: "id", Type: normalize.Int},
		{Name: "gameId", Type: normalize.Int},
	}, []string{"id"})
	plays.Rows = [][]any{{int64(1), int64(102)}, {int64(2), int64(102)}}
	_, err = l.WriteTable(ctx, lake.Silver, plays, lake.SeasonDate(2024, "2024-11-05"), "plays-102")
	require.NoError(t, err)
	return l
}

func playsJob(t *testing.T) Job {
	return Job{
		Endpoint:    "plays_game",
		Season:      2024,
		TargetTable: "fct_plays",
		Concurrency: 4,
		ResumePath:  filepath.Join(t.TempDir(), "gap_fill_plays_game_2024.txt"),
	}
}

func TestScanDiscover(t *testing.T) {
	l := seededLake(t)
	got, err := (&ScanDiscoverer{Lake: l}).Discover(context.Background(), playsJob(t))
	require.NoError(t, err)
	assert.Equal(t, []Entity{{ID: 101, Date: "2024-11-04"}, {ID: 103, Date: "2024-11-06"}}, got)
}

func TestScanDiscoverEmptyTarget(t *testing.T) {
	l := seededLake(t)
	job := playsJob(t)
	job.Endpoint, job.TargetTable = "lineups_game", "fct_lineups"
	got, err := (&ScanDiscoverer{Lake: l}).Discover(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(101), got[0].ID)
}

type fakeSelector struct {
	rows  []MissingRow
	query string
	args  []interface{}
}

func (f *fakeSelector) Select(_ context.Context, dest interface{}, query string, args ...interface{}) error {
	f.query, f.args = query, args
	*(dest.(*[]MissingRow)) = f.rows
	return nil
}

func ptr(v int64) *int64 { return &v }

func TestQueryDiscoverMatchesScan(t *testing.T) {
	l := seededLake(t)
	job := playsJob(t)
	scan, err := (&ScanDiscoverer{Lake: l}).Discover(context.Background(), job)
	require.NoError(t, err)

	// the database may return rows unordered, duplicated through overlapping files, or with null ids
	sel := &fakeSelector{rows: []MissingRow{
		{GameID: ptr(103), GameDate: "2024-11-06"},
		{GameID: nil},
		{GameID: ptr(101), GameDate: ""},
		{GameID: ptr(101), GameDate: "2024-11-04"},
	}}
	got, err := (&QueryDiscoverer{DB: sel, Database: "cbbdx"}).Discover(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, scan, got)
	assert.Contains(t, sel.query, "LEFT ANTI JOIN")
	assert.Contains(t, sel.query, "`cbbdx`.`fct_plays`")
	assert.Equal(t, []interface{}{"%/season=2024/%", "%/season=2024/%"}, sel.args)
}

func TestFinalize(t *testing.T) {
	got := finalize([]Entity{{ID: 5}, {ID: 2, Date: "2024-01-02"}, {ID: 5, Date: "2024-03-01"}, {ID: 2, Date: "2024-01-01"}})
	assert.Equal(t, []Entity{{ID: 2, Date: "2024-01-01"}, {ID: 5, Date: "2024-03-01"}}, got)
}

type recordingHandler struct {
	mu      sync.Mutex
	calls   []int64
	fail    map[int64]bool
	empty   map[int64]bool
	written map[int64]bool
}

func (h *recordingHandler) Handle(_ context.Context, _ Job, e Entity) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, e.ID)
	if h.fail[e.ID] {
		return Written, errors.New("upstream 500")
	}
	if h.empty[e.ID] {
		return Empty, nil
	}
	if h.written == nil {
		h.written = map[int64]bool{}
	}
	h.written[e.ID] = true
	return Written, nil
}

func TestRunFillsAndResumes(t *testing.T) {
	ctx := context.Background()
	l := seededLake(t)
	job := playsJob(t)
	missing, err := (&ScanDiscoverer{Lake: l}).Discover(ctx, job)
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	h := &recordingHandler{}
	r := &Runner{Handler: h, Checkpoints: store}
	m, err := r.Run(ctx, job, missing)
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 103}, m.Succeeded)
	assert.Equal(t, 2, m.Stats.Written)
	assert.Empty(t, m.Failed)

	rec, ok, err := store.Get(ctx, CheckpointKey("plays_game", 101))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "101", rec.Cursor)
	assert.Equal(t, 2024, rec.LastCompletedSeason)

	data, err := os.ReadFile(job.ResumePath)
	require.NoError(t, err)
	lines := strings.Fields(string(data))
	assert.ElementsMatch(t, []string{"101", "103"}, lines)

	// restart with a stale discovery result: nothing is fetched again
	h2 := &recordingHandler{}
	m2, err := (&Runner{Handler: h2}).Run(ctx, job, missing)
	require.NoError(t, err)
	assert.Empty(t, h2.calls)
	assert.Equal(t, []int64{101, 103}, m2.Skipped)
	assert.Equal(t, 2, m2.Stats.Skipped)
}

func TestRunPartialFailure(t *testing.T) {
	ctx := context.Background()
	job := playsJob(t)
	h := &recordingHandler{fail: map[int64]bool{2: true}}
	m, err := (&Runner{Handler: h}).Run(ctx, job, []Entity{{ID: 1}, {ID: 2}, {ID: 3}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, m.Succeeded)
	assert.Equal(t, []int64{2}, m.Failed)
	assert.Contains(t, m.Errors[2], "upstream 500")
	assert.Equal(t, 1, m.Stats.Errors)

	// the failed entity is retried on the next run
	h2 := &recordingHandler{}
	_, err = (&Runner{Handler: h2}).Run(ctx, job, []Entity{{ID: 1}, {ID: 2}, {ID: 3}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, h2.calls)
}

func TestRunMarkEmpty(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name      string
		markEmpty bool
		refetched bool
	}{
		{name: "unmarked empties are retried", markEmpty: false, refetched: true},
		{name: "marked empties are skipped", markEmpty: true, refetched: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			job := playsJob(t)
			job.MarkEmpty = tc.markEmpty
			h := &recordingHandler{empty: map[int64]bool{7: true}}
			m, err := (&Runner{Handler: h}).Run(ctx, job, []Entity{{ID: 7}})
			require.NoError(t, err)
			assert.Equal(t, []int64{7}, m.Empty)
			assert.Equal(t, 1, m.Stats.Empty)

			h2 := &recordingHandler{}
			_, err = (&Runner{Handler: h2}).Run(ctx, job, []Entity{{ID: 7}})
			require.NoError(t, err)
			assert.Equal(t, tc.refetched, len(h2.calls) == 1)
		})
	}
}

func TestRunLimitAndDryRun(t *testing.T) {
	ctx := context.Background()
	job := playsJob(t)
	job.Limit = 2
	job.DryRun = true
	h := &recordingHandler{}
	m, err := (&Runner{Handler: h}).Run(ctx, job, []Entity{{ID: 1}, {ID: 2}, {ID: 3}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, h.calls)
	assert.Equal(t, []int64{1, 2}, m.Succeeded)

	data, err := os.ReadFile(job.ResumePath)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(data)))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &recordingHandler{}
	m, err := (&Runner{Handler: h}).Run(ctx, playsJob(t), []Entity{{ID: 1}, {ID: 2}})
	require.NoError(t, err)
	assert.Empty(t, h.calls)
	assert.Equal(t, []int64{1, 2}, m.NotStarted)
}

func TestParseIDs(t *testing.T) {
	in := "# missing plays\n101\n\n102,2024-11-05\nbogus\n 103 \n"
	got, err := ParseIDs(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Entity{{ID: 101}, {ID: 102, Date: "2024-11-05"}, {ID: 103}}, got)
}

func TestResumeLogIgnoresTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.txt")
	require.NoError(t, os.WriteFile(path, []byte("11\n12\n1"), 0o644))
	r, err := OpenResumeLog(path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Contains(11))
	assert.False(t, r.Contains(1))
	assert.Equal(t, 2, r.Len())
	require.NoError(t, r.Append(12))
	require.NoError(t, r.Append(13))
	assert.Equal(t, 3, r.Len())
	require.NoError(t, r.Close())

	reopened, err := OpenResumeLog(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Contains(13))
	assert.False(t, reopened.Contains(1))
}

func TestTargets(t *testing.T) {
	tbl, ok := TargetTable("substitutions_game")
	assert.True(t, ok)
	assert.Equal(t, "fct_substitutions", tbl)
	_, ok = TargetTable("games")
	assert.False(t, ok)
	assert.Equal(t, []string{"lineups_game", "plays_game", "substitutions_game"}, Endpoints())
	assert.Equal(t, filepath.Join("tmp", "gap_fill_plays_game_2024.txt"), DefaultResumePath("", "plays_game", 2024))
}
