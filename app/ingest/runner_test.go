package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-data/cbbdx/pkg/api"
	"github.com/courtside-data/cbbdx/pkg/lake"
)

func TestUnitRunnerWritesEveryLayer(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	u := SeasonUnits(env.endpoint(t, "games"), 2024, 0)[0]

	res := env.units.Run(ctx, u)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, res.Rows)
	require.NotNil(t, res.Silver)
	assert.Equal(t, "fct_games", res.Silver.Name)
	assert.Equal(t, []any{int64(20241)}, res.Silver.Column("gameId"))

	assert.Len(t, env.keys(t, "raw/games/ingested_at=2025-02-10/"), 1)
	assert.Len(t, env.keys(t, "bronze/games/season=2024/asof=2025-02-10/"), 1)
	silver := env.keys(t, "silver/fct_games/season=2024/asof=2025-02-10/")
	require.Len(t, silver, 1)
	assert.True(t, strings.HasSuffix(silver[0], "part-"+u.Hash8()+".parquet"))
	assert.Empty(t, env.keys(t, "deadletter/"))

	def, ok := env.catalog.Table("cbb_silver", "fct_games")
	require.True(t, ok)
	assert.Equal(t, "s3://lake/silver/fct_games/", def.Location)
	assert.Equal(t, []string{"season", "asof"}, def.PartitionKeys)
	_, ok = env.catalog.Table("cbb_bronze", "games")
	assert.True(t, ok)
}

func TestUnitRunnerRerunConverges(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	u := SeasonUnits(env.endpoint(t, "games"), 2024, 0)[0]

	for i := 0; i < 2; i++ {
		res := env.units.Run(ctx, u)
		require.Equal(t, StatusSucceeded, res.Status)
	}
	silver, err := env.lake.ReadTable(ctx, lake.Silver, "fct_games", "")
	require.NoError(t, err)
	assert.Equal(t, 1, silver.NumRows())
	bronze, err := env.lake.ReadTable(ctx, lake.Bronze, "games", "")
	require.NoError(t, err)
	assert.Equal(t, 1, bronze.NumRows())
	assert.Equal(t, 2, env.api.count("/games"))
}

func TestUnitRunnerEmptyResponseIsDeadLettered(t *testing.T) {
	env := newTestEnv(t, func(string, map[string]any) (string, error) { return `[]`, nil })
	res := env.units.Run(context.Background(), SeasonUnits(env.endpoint(t, "games"), 2024, 0)[0])

	assert.Equal(t, StatusEmpty, res.Status)
	assert.NoError(t, res.Err)
	assert.Len(t, env.keys(t, "deadletter/games/"), 1)
	assert.Empty(t, env.keys(t, "bronze/"))
	assert.Empty(t, env.keys(t, "silver/"))
}

func TestUnitRunnerClientErrorIsDeadLettered(t *testing.T) {
	env := newTestEnv(t, func(template string, _ map[string]any) (string, error) {
		return "", &api.HTTPError{Path: template, StatusCode: http.StatusNotFound}
	})
	ctx := context.Background()
	res := env.units.Run(ctx, SeasonUnits(env.endpoint(t, "games"), 2024, 0)[0])

	assert.Equal(t, StatusFailed, res.Status)
	require.Error(t, res.Err)
	keys := env.keys(t, "deadletter/games/")
	require.Len(t, keys, 1)

	data, err := env.store.GetObject(ctx, "lake", keys[0])
	require.NoError(t, err)
	var rec lake.DeadLetterRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "games", rec.Endpoint)
	assert.Equal(t, http.StatusNotFound, rec.Status)
	assert.True(t, strings.HasPrefix(rec.Reason, "error: "))
}

func TestUnitRunnerSkipsMissingParams(t *testing.T) {
	e := &Endpoint{Name: "plays_player", Path: "/plays/player/{playerId}", Kind: PlayerFanout, RequiredParams: []string{"season"}}
	env := newTestEnv(t, nil)

	res := env.units.Run(context.Background(), Unit{Endpoint: e, Params: map[string]any{"playerId": int64(9)}})
	assert.Equal(t, StatusSkipped, res.Status)
	assert.NoError(t, res.Err)
	assert.Zero(t, env.api.count(e.Path))
	assert.Empty(t, env.keys(t, "deadletter/"))
}

func TestUnitRunnerCancelledBeforeFetch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := env.units.Run(ctx, SeasonUnits(env.endpoint(t, "games"), 2024, 0)[0])
	assert.Equal(t, StatusSkipped, res.Status)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Zero(t, env.api.count("/games"))
	assert.Empty(t, env.keys(t, "deadletter/"))
}

func TestUnitRunnerFiltersRankingsToSeason(t *testing.T) {
	env := newTestEnv(t, func(string, map[string]any) (string, error) {
		return `[
			{"season": 2023, "pollDate": "2023-01-02T00:00:00Z", "pollType": "AP Top 25", "teamId": 1, "ranking": 3},
			{"season": 2024, "pollDate": "2024-01-01T00:00:00Z", "pollType": "AP Top 25", "teamId": 1, "ranking": 1},
			{"season": 2024, "pollDate": "2024-01-01T00:00:00Z", "pollType": "AP Top 25", "teamId": 2, "ranking": 2}
		]`, nil
	}, Endpoint{Name: "rankings", Path: "/rankings", Kind: Season, SilverTable: "fct_rankings"})

	res := env.units.Run(context.Background(), SeasonUnits(env.endpoint(t, "rankings"), 2024, 0)[0])
	require.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []any{int64(2024), int64(2024)}, res.Silver.Column("season"))
}

func TestUnitRunnerGameFanoutDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	u := GameUnit(env.endpoint(t, "plays_game"), GameMeta{ID: 7, Season: 2024, Date: "2023-11-06"})

	res := env.units.Run(context.Background(), u)
	require.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []any{int64(7), int64(7)}, res.Silver.Column("gameId"))
	assert.Equal(t, []any{int64(2024), int64(2024)}, res.Silver.Column("season"))
	assert.Len(t, env.keys(t, "silver/fct_plays/season=2024/date=2023-11-06/"), 1)
	assert.Len(t, env.keys(t, "bronze/plays_game/season=2024/date=2023-11-06/"), 1)
}

// TestUnitRunnerDatelessGameKeepsDateLayout tests that a game without a known date is
// stored under season/date in both layers and that a rerun overwrites the same objects.
func TestUnitRunnerDatelessGameKeepsDateLayout(t *testing.T) {
	env := newTestEnv(t, nil)
	u := GameUnit(env.endpoint(t, "plays_game"), GameMeta{ID: 8, Season: 2024})

	for i := 0; i < 2; i++ {
		res := env.units.Run(context.Background(), u)
		require.Equal(t, StatusSucceeded, res.Status)
	}
	assert.Len(t, env.keys(t, "silver/fct_plays/season=2024/date=unknown/"), 1)
	assert.Len(t, env.keys(t, "bronze/plays_game/season=2024/date=unknown/"), 1)
	assert.Empty(t, env.keys(t, "silver/fct_plays/season=2024/asof="))

	silver, err := env.lake.ReadTable(context.Background(), lake.Silver, "fct_plays", "")
	require.NoError(t, err)
	assert.Equal(t, 2, silver.NumRows())

	def, ok := env.catalog.Table("cbb_silver", "fct_plays")
	require.True(t, ok)
	assert.Equal(t, []string{"season", "date"}, def.PartitionKeys)
}

// TestUnitRunnerBronzeCatalogIsStable tests that bronze batches inferring fewer columns
// than an earlier batch do not re-register the table.
func TestUnitRunnerBronzeCatalogIsStable(t *testing.T) {
	env := newTestEnv(t, func(template string, params map[string]any) (string, error) {
		id := params["gameId"].(int64)
		switch {
		case id == 5:
			return `[{"id": 501, "period": 1, "homeScore": 2, "wallclock": "19:05"}]`, nil
		case id%2 == 0:
			return fmt.Sprintf(`[{"id": %d, "period": 1}]`, id*100+1), nil
		default:
			return fmt.Sprintf(`[{"id": %d, "period": 1, "homeScore": 2}]`, id*100+1), nil
		}
	})
	ctx := context.Background()
	e := env.endpoint(t, "plays_game")

	res := env.units.Run(ctx, GameUnit(e, GameMeta{ID: 1, Season: 2024, Date: "2023-11-06"}))
	require.Equal(t, StatusSucceeded, res.Status)
	after := env.catalog.Mutations()

	for id := int64(2); id <= 4; id++ {
		res := env.units.Run(ctx, GameUnit(e, GameMeta{ID: id, Season: 2024, Date: "2023-11-06"}))
		require.Equal(t, StatusSucceeded, res.Status)
	}
	assert.Equal(t, after, env.catalog.Mutations())

	res = env.units.Run(ctx, GameUnit(e, GameMeta{ID: 5, Season: 2024, Date: "2023-11-06"}))
	require.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, after+1, env.catalog.Mutations())

	def, ok := env.catalog.Table("cbb_bronze", "plays_game")
	require.True(t, ok)
	var names []string
	for _, c := range def.Columns {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "homeScore")
	assert.Contains(t, names, "wallclock")
}

func TestUnitRunnerDryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.units.DryRun = true

	res := env.units.Run(context.Background(), SeasonUnits(env.endpoint(t, "games"), 2024, 0)[0])
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, res.Rows)
	assert.Nil(t, res.Silver)
	assert.Empty(t, env.keys(t, "raw/"))
	assert.Empty(t, env.keys(t, "bronze/"))
	assert.Zero(t, env.catalog.Mutations())
}

func TestPartitions(t *testing.T) {
	today := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	snapshot := &Endpoint{Name: "teams", Kind: Snapshot}
	season := &Endpoint{Name: "games", Kind: Season}
	date := &Endpoint{Name: "plays_date", Kind: Date}
	game := &Endpoint{Name: "plays_game", Kind: GameFanout}
	player := &Endpoint{Name: "plays_player", Kind: PlayerFanout}

	tests := []struct {
		name   string
		unit   Unit
		table  string
		bronze string
		silver string
	}{
		{"snapshot", Unit{Endpoint: snapshot}, "dim_teams", "asof=2025-02-10", "asof=2025-02-10"},
		{"season", Unit{Endpoint: season, Season: 2024}, "fct_games", "season=2024/asof=2025-02-10", "season=2024/asof=2025-02-10"},
		{"date", Unit{Endpoint: date, Season: 2025, Date: "2025-02-09"}, "fct_plays", "season=2025/date=2025-02-09", "season=2025/date=2025-02-09"},
		{"game with date", Unit{Endpoint: game, Season: 2024, Date: "2023-11-06"}, "fct_plays", "season=2024/date=2023-11-06", "season=2024/date=2023-11-06"},
		{"game season from date", Unit{Endpoint: game, Date: "2024-12-01"}, "fct_plays", "season=2025/date=2024-12-01", "season=2025/date=2024-12-01"},
		{"game without date", Unit{Endpoint: game, Season: 2024}, "fct_plays", "season=2024/date=unknown", "season=2024/date=unknown"},
		{"game without season or date", Unit{Endpoint: game}, "fct_plays", "season=unknown/date=unknown", "season=unknown/date=unknown"},
		{"player with season", Unit{Endpoint: player, Season: 2024}, "fct_plays", "asof=2025-02-10", "season=2024/asof=2025-02-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bronze, BronzePartition(tt.unit, today).Path())
			assert.Equal(t, tt.silver, SilverPartition(tt.table, tt.unit, today).Path())
		})
	}
}
