package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/api"
	"github.com/courtside-data/cbbdx/pkg/catalog"
	"github.com/courtside-data/cbbdx/pkg/checkpoint"
	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/normalize"
)

var testNow = time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)

type fetchFunc func(template string, params map[string]any) (string, error)

// fakeAPI records every call and answers from fn.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	fn    fetchFunc
}

func (f *fakeAPI) FetchEndpoint(_ context.Context, template string, params map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s %v", template, params))
	f.mu.Unlock()
	body, err := f.fn(template, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// count returns how many calls were made to template.
func (f *fakeAPI) count(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, template+" ") {
			n++
		}
	}
	return n
}

func (f *fakeAPI) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// cbbAPI serves one game per season and two plays per game.
func cbbAPI(template string, params map[string]any) (string, error) {
	switch template {
	case "/teams":
		return `[{"id": 1, "school": "Duke"}, {"id": 2, "school": "North Carolina"}]`, nil
	case "/games":
		season := params["season"].(int)
		return fmt.Sprintf(`[{"id": %d, "season": %d, "startDate": "%d-11-06T19:00:00Z", "homeTeamId": 1, "awayTeamId": 2}]`,
			season*10+1, season, season-1), nil
	case "/plays/game/{gameId}":
		id := params["gameId"].(int64)
		return fmt.Sprintf(`[{"id": %d, "period": 1, "homeScore": 2}, {"id": %d, "period": 1, "homeScore": 4}]`,
			id*100+1, id*100+2), nil
	case "/plays/date":
		return fmt.Sprintf(`[{"id": %d, "period": 2}]`, len(params["date"].(string))), nil
	}
	return "", &api.HTTPError{Path: template, StatusCode: http.StatusNotFound}
}

func testEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "teams", Path: "/teams", Kind: Snapshot, SilverTable: "dim_teams"},
		{Name: "games", Path: "/games", Kind: Season, SilverTable: "fct_games"},
		{Name: "plays_game", Path: "/plays/game/{gameId}", Kind: GameFanout, SilverTable: "fct_plays"},
	}
}

type testEnv struct {
	api         *fakeAPI
	store       *lake.LocalStore
	lake        *lake.Lake
	catalog     *catalog.MemoryRegistrar
	checkpoints *checkpoint.MemoryStore
	units       *UnitRunner
	pipeline    *Pipeline
}

func newTestEnv(t *testing.T, fn fetchFunc, endpoints ...Endpoint) *testEnv {
	t.Helper()
	if fn == nil {
		fn = cbbAPI
	}
	if len(endpoints) == 0 {
		endpoints = testEndpoints()
	}
	reg, err := NewRegistry(endpoints...)
	require.NoError(t, err)

	store := lake.NewLocalStore(t.TempDir())
	l := lake.New(store, lake.Options{Bucket: "lake", Now: func() time.Time { return testNow }})
	require.NoError(t, l.Init(context.Background()))

	env := &testEnv{
		api:         &fakeAPI{fn: fn},
		store:       store,
		lake:        l,
		catalog:     catalog.NewMemoryRegistrar(),
		checkpoints: checkpoint.NewMemoryStore(),
	}
	env.units = &UnitRunner{
		API:      env.api,
		Lake:     l,
		Silver:   normalize.New(normalize.DefaultRegistry(), normalize.Strict, nil),
		Bronze:   normalize.New(nil, normalize.Permissive, nil),
		Catalog:  env.catalog,
		Database: "cbb",
		Logger:   zap.NewNop(),
	}
	env.pipeline = &Pipeline{
		Registry:          reg,
		Units:             env.units,
		Lake:              l,
		Checkpoints:       checkpoint.NewGuard(env.checkpoints, false, nil),
		Logger:            zap.NewNop(),
		WindowDays:        3,
		OverlapDays:       2,
		FanoutConcurrency: 4,
		Now:               func() time.Time { return testNow },
	}
	return env
}

func (e *testEnv) endpoint(t *testing.T, name string) *Endpoint {
	t.Helper()
	ep, ok := e.pipeline.Registry.Get(name)
	require.True(t, ok, name)
	return ep
}

// keys lists the stored object keys under prefix, sorted.
func (e *testEnv) keys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := e.store.ListPrefix(context.Background(), "lake", prefix)
	require.NoError(t, err)
	sort.Strings(keys)
	return keys
}

func (e *testEnv) record(t *testing.T, key checkpoint.Key) (checkpoint.Record, bool) {
	t.Helper()
	rec, ok, err := e.checkpoints.Get(context.Background(), key)
	require.NoError(t, err)
	return rec, ok
}
