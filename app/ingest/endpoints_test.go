package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/courtside-data/cbbdx/pkg/config"
)

func day(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	games, ok := r.Get("games")
	require.True(t, ok)
	assert.Equal(t, Season, games.Kind)
	assert.True(t, games.Chunked())
	assert.Equal(t, "games", games.BronzeTable)

	all := r.All()
	pos := map[string]int{}
	for i, e := range all {
		pos[e.Name] = i
	}
	// fan-out endpoints read the games indexed earlier in the same run
	assert.Less(t, pos["games"], pos["plays_game"])
	assert.Less(t, pos["games_players"], pos["plays_player"])

	player, ok := r.Get("plays_player")
	require.True(t, ok)
	assert.True(t, player.Skip)
	assert.True(t, player.RequiresSeason())
	assert.Len(t, r.Names(), len(all))
}

func TestNewRegistryRejects(t *testing.T) {
	tests := []struct {
		name string
		eps  []Endpoint
	}{
		{"missing path", []Endpoint{{Name: "teams", Kind: Snapshot}}},
		{"unknown type", []Endpoint{{Name: "teams", Path: "/teams", Kind: "weekly"}}},
		{"duplicate", []Endpoint{
			{Name: "teams", Path: "/teams", Kind: Snapshot},
			{Name: "teams", Path: "/teams", Kind: Snapshot},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.eps...)
			assert.Error(t, err)
		})
	}
}

func TestRegistryApply(t *testing.T) {
	r := DefaultRegistry()
	err := r.Apply(map[string]config.EndpointOverride{
		"lines":        {Skip: true},
		"plays_player": {Skip: false, RequiredParams: []string{"season", "playerId"}},
	})
	require.NoError(t, err)
	lines, _ := r.Get("lines")
	assert.True(t, lines.Skip)
	player, _ := r.Get("plays_player")
	assert.False(t, player.Skip)
	assert.Equal(t, []string{"season", "playerId"}, player.RequiredParams)

	assert.Error(t, r.Apply(map[string]config.EndpointOverride{"linez": {Skip: true}}))
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoints:
  - name: teams
    path: /v2/teams
    type: snapshot
    silver_table: dim_teams
  - name: coaches
    path: /coaches
    type: season
    required_params: [season]
`), 0o644))

	r := DefaultRegistry()
	before := len(r.All())
	require.NoError(t, r.LoadRegistryFile(path))

	teams, _ := r.Get("teams")
	assert.Equal(t, "/v2/teams", teams.Path)
	assert.Equal(t, "teams", teams.BronzeTable)
	coaches, ok := r.Get("coaches")
	require.True(t, ok)
	assert.Equal(t, Season, coaches.Kind)
	assert.Len(t, r.All(), before+1)
	assert.Equal(t, "coaches", r.All()[before].Name)

	out, err := yaml.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "path: /v2/teams")
}

func TestMissingParams(t *testing.T) {
	e := &Endpoint{
		Name:           "games",
		RequiredParams: []string{"season"},
		RequiredAny:    [][]string{{"team", "conference"}},
	}
	assert.Equal(t, []string{"season", "team|conference"}, e.MissingParams(map[string]any{}))
	assert.Equal(t, []string{"team|conference"}, e.MissingParams(map[string]any{"season": 2024}))
	assert.Empty(t, e.MissingParams(map[string]any{"season": 2024, "conference": "ACC"}))
}

func TestSeasonOf(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2024-07-31", 2024},
		{"2024-08-01", 2025},
		{"2024-11-06", 2025},
		{"2025-03-15", 2025},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeasonOf(day(tt.date)), tt.date)
	}
	start, end := SeasonWindow(2025)
	assert.Equal(t, day("2024-08-01"), start)
	assert.Equal(t, day("2025-07-31"), end)
	assert.Equal(t, 2025, SeasonOf(start))
	assert.Equal(t, 2025, SeasonOf(end))
}

func TestDateChunks(t *testing.T) {
	chunks := DateChunks(day("2024-11-01"), day("2024-11-10"), 4)
	require.Len(t, chunks, 3)
	assert.Equal(t, DateChunk{Start: day("2024-11-01"), End: day("2024-11-04")}, chunks[0])
	assert.Equal(t, DateChunk{Start: day("2024-11-05"), End: day("2024-11-08")}, chunks[1])
	assert.Equal(t, DateChunk{Start: day("2024-11-09"), End: day("2024-11-10")}, chunks[2])

	assert.Len(t, DateChunks(day("2024-11-01"), day("2024-11-10"), 0), 1)
	assert.Nil(t, DateChunks(day("2024-11-10"), day("2024-11-01"), 4))
	assert.Len(t, DateChunks(day("2024-11-01"), day("2024-11-01"), 4), 1)
}

func TestSeasonUnits(t *testing.T) {
	r := DefaultRegistry()
	games, _ := r.Get("games")
	units := SeasonUnits(games, 2025, 30)
	// Aug 1 through Jul 31 is 365 days
	require.Len(t, units, 13)
	assert.Equal(t, map[string]any{
		"season":         2025,
		"startDateRange": "2024-08-01T00:00:00Z",
		"endDateRange":   "2024-08-30T23:59:59Z",
	}, units[0].Params)
	assert.Equal(t, "2025-07-31T23:59:59Z", units[len(units)-1].Params["endDateRange"])

	draft, _ := r.Get("draft_picks")
	units = SeasonUnits(draft, 2025, 30)
	require.Len(t, units, 1)
	assert.Equal(t, map[string]any{"year": 2025}, units[0].Params)
	assert.Equal(t, 2025, units[0].Season)
}

func TestDateUnits(t *testing.T) {
	e := &Endpoint{Name: "plays_date", Kind: Date}
	units := DateUnits(e, time.Date(2025, 2, 10, 18, 30, 0, 0, time.UTC), 2)
	require.Len(t, units, 3)
	assert.Equal(t, "2025-02-08", units[0].Date)
	assert.Equal(t, "2025-02-10", units[2].Date)
	assert.Equal(t, map[string]any{"date": "2025-02-10"}, units[2].Params)
	assert.Equal(t, 2025, units[0].Season)
}

func TestFanoutUnits(t *testing.T) {
	game := &Endpoint{Name: "plays_game", Kind: GameFanout}
	u := GameUnit(game, GameMeta{ID: 42, Season: 2024, Date: "2023-11-06"})
	assert.Equal(t, map[string]any{"gameId": int64(42)}, u.Params)
	assert.Equal(t, int64(42), u.EntityID)

	player := &Endpoint{Name: "plays_player", Kind: PlayerFanout, RequiredParams: []string{"season"}}
	u = PlayerUnit(player, 7, 2024)
	assert.Equal(t, map[string]any{"playerId": int64(7), "season": 2024}, u.Params)

	noSeason := &Endpoint{Name: "player_bio", Kind: PlayerFanout}
	u = PlayerUnit(noSeason, 7, 2024)
	assert.Equal(t, map[string]any{"playerId": int64(7)}, u.Params)
	assert.Zero(t, u.Season)
}

func TestUnitFingerprintIsStable(t *testing.T) {
	e := &Endpoint{Name: "games"}
	a := Unit{Endpoint: e, Params: map[string]any{"season": 2024, "startDateRange": "x"}}
	b := Unit{Endpoint: e, Params: map[string]any{"startDateRange": "x", "season": 2024}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Hash8(), 8)
	assert.NotEqual(t, a.Fingerprint(), Unit{Endpoint: e, Params: map[string]any{"season": 2025}}.Fingerprint())
}
