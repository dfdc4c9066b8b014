package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/courtside-data/cbbdx/pkg/lake"
	"github.com/courtside-data/cbbdx/pkg/normalize"
)

// GameMeta is what fan-out needs to know about a game.
type GameMeta struct {
	ID     int64
	Season int
	Date   string
}

// GameIndex collects game ids seen during a run. Safe for concurrent use.
type GameIndex struct {
	games *xsync.Map[int64, GameMeta]
}

func NewGameIndex() *GameIndex {
	return &GameIndex{games: xsync.NewMap[int64, GameMeta]()}
}

// Len returns the number of known games.
func (g *GameIndex) Len() int { return g.games.Size() }

// Add records a game. Known season and date values are never replaced by unknown ones.
func (g *GameIndex) Add(m GameMeta) {
	g.games.Compute(m.ID, func(old GameMeta, loaded bool) (GameMeta, xsync.ComputeOp) {
		if loaded {
			if m.Season == 0 {
				m.Season = old.Season
			}
			if m.Date == "" {
				m.Date = old.Date
			}
		}
		return m, xsync.UpdateOp
	})
}

// AddTable indexes the games of a typed fct_games table.
func (g *GameIndex) AddTable(t *normalize.Table) {
	idCol := "gameId"
	if t.ColumnIndex(idCol) < 0 {
		idCol = "id"
	}
	ids := t.Column(idCol)
	seasons := t.Column("season")
	dates := t.Column("startDate")
	for i, v := range ids {
		id, ok := v.(int64)
		if !ok {
			continue
		}
		m := GameMeta{ID: id}
		if i < len(seasons) {
			if s, ok := seasons[i].(int64); ok {
				m.Season = int(s)
			}
		}
		if i < len(dates) {
			if ts, ok := dates[i].(time.Time); ok {
				m.Date = ts.UTC().Format(dateLayout)
				if m.Season == 0 {
					m.Season = SeasonOf(ts)
				}
			}
		}
		g.Add(m)
	}
}

// Games returns the indexed games of the given seasons (all when seasons is empty),
// sorted by id.
func (g *GameIndex) Games(seasons []int) []GameMeta {
	want := map[int]bool{}
	for _, s := range seasons {
		want[s] = true
	}
	var out []GameMeta
	g.games.Range(func(_ int64, m GameMeta) bool {
		if len(want) == 0 || want[m.Season] {
			out = append(out, m)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadGames indexes the stored silver games of seasons, falling back to bronze when
// silver holds nothing for a season.
func (g *GameIndex) LoadGames(ctx context.Context, l *lake.Lake, seasons []int) error {
	for _, s := range seasons {
		sub := fmt.Sprintf("season=%d/", s)
		t, err := l.ReadTable(ctx, lake.Silver, "fct_games", sub)
		if err != nil {
			return err
		}
		if t.NumRows() == 0 {
			if t, err = l.ReadTable(ctx, lake.Bronze, "games", sub); err != nil {
				return err
			}
		}
		before := g.Len()
		g.AddTable(t)
		// bronze rows may lack a season column
		if g.Len() > before {
			g.games.Range(func(id int64, m GameMeta) bool {
				if m.Season == 0 {
					m.Season = s
					g.games.Store(id, m)
				}
				return true
			})
		}
	}
	return nil
}

// PlayerIndex collects (player, season) pairs seen in box scores.
type PlayerIndex struct {
	pairs *xsync.Map[playerSeason, struct{}]
}

type playerSeason struct {
	Player int64
	Season int
}

func NewPlayerIndex() *PlayerIndex {
	return &PlayerIndex{pairs: xsync.NewMap[playerSeason, struct{}]()}
}

func (p *PlayerIndex) Len() int { return p.pairs.Size() }

// AddTable indexes the playerId and season columns of a typed table.
func (p *PlayerIndex) AddTable(t *normalize.Table, fallbackSeason int) {
	players := t.Column("playerId")
	seasons := t.Column("season")
	for i, v := range players {
		id, ok := v.(int64)
		if !ok {
			continue
		}
		season := fallbackSeason
		if i < len(seasons) {
			if s, ok := seasons[i].(int64); ok {
				season = int(s)
			}
		}
		p.pairs.Store(playerSeason{Player: id, Season: season}, struct{}{})
	}
}

// Pairs returns (player, season) pairs sorted by player then season.
func (p *PlayerIndex) Pairs() [][2]int64 {
	var out [][2]int64
	p.pairs.Range(func(k playerSeason, _ struct{}) bool {
		out = append(out, [2]int64{k.Player, int64(k.Season)})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Players returns the distinct player ids, sorted.
func (p *PlayerIndex) Players() []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, pair := range p.Pairs() {
		if !seen[pair[0]] {
			seen[pair[0]] = true
			out = append(out, pair[0])
		}
	}
	return out
}

// LoadPlayers indexes stored silver box scores of seasons.
func (p *PlayerIndex) LoadPlayers(ctx context.Context, l *lake.Lake, seasons []int) error {
	for _, s := range seasons {
		t, err := l.ReadTable(ctx, lake.Silver, "fct_game_players", fmt.Sprintf("season=%d/", s))
		if err != nil {
			return err
		}
		p.AddTable(t, s)
	}
	return nil
}
