package ingest

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/courtside-data/cbbdx/pkg/config"
)

// Kind is how an endpoint is enumerated into units of work.
type Kind string

const (
	// Snapshot endpoints take no parameters and are fetched once per run.
	Snapshot Kind = "snapshot"
	// Season endpoints are fetched once per season, optionally in date-range chunks.
	Season Kind = "season"
	// Date endpoints are fetched once per day of a rolling window.
	Date Kind = "date"
	// GameFanout endpoints are fetched once per game.
	GameFanout Kind = "game_fanout"
	// PlayerFanout endpoints are fetched once per player, or per (player, season).
	PlayerFanout Kind = "player_fanout"
)

// IsFanout reports whether k needs one call per upstream entity.
func (k Kind) IsFanout() bool { return k == GameFanout || k == PlayerFanout }

// Endpoint is one upstream resource.
type Endpoint struct {
	Name string `yaml:"name"`
	// Path may hold {param} placeholders; those params are not repeated in the query string.
	Path        string `yaml:"path"`
	Kind        Kind   `yaml:"type"`
	SeasonParam string `yaml:"season_param,omitempty"`
	DateParam   string `yaml:"date_param,omitempty"`
	StartParam  string `yaml:"start_date_param,omitempty"`
	EndParam    string `yaml:"end_date_param,omitempty"`
	// EntityParam names the id parameter of fan-out endpoints.
	EntityParam string `yaml:"entity_param,omitempty"`
	BronzeTable string `yaml:"bronze_table,omitempty"`
	SilverTable string `yaml:"silver_table,omitempty"`

	RequiredParams []string   `yaml:"required_params,omitempty"`
	RequiredAny    [][]string `yaml:"required_any,omitempty"`
	Skip           bool       `yaml:"skip,omitempty"`
	// IncrementalOnly endpoints are ignored by backfill runs.
	IncrementalOnly bool `yaml:"incremental_only,omitempty"`
}

// Chunked reports whether season units are split into date-range windows.
func (e *Endpoint) Chunked() bool { return e.StartParam != "" && e.EndParam != "" }

// RequiresSeason reports whether a fan-out endpoint is called per (entity, season).
func (e *Endpoint) RequiresSeason() bool {
	for _, p := range e.RequiredParams {
		if p == "season" || (e.SeasonParam != "" && p == e.SeasonParam) {
			return true
		}
	}
	return false
}

// MissingParams returns the names of required params absent from params, and one
// "a|b" entry per required_any group none of whose members is present.
func (e *Endpoint) MissingParams(params map[string]any) []string {
	var missing []string
	for _, p := range e.RequiredParams {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	for _, group := range e.RequiredAny {
		found := false
		for _, p := range group {
			if _, ok := params[p]; ok {
				found = true
				break
			}
		}
		if !found && len(group) > 0 {
			label := group[0]
			for _, p := range group[1:] {
				label += "|" + p
			}
			missing = append(missing, label)
		}
	}
	return missing
}

func (e *Endpoint) seasonParam() string {
	if e.SeasonParam == "" {
		return "season"
	}
	return e.SeasonParam
}

func (e *Endpoint) dateParam() string {
	if e.DateParam == "" {
		return "date"
	}
	return e.DateParam
}

func (e *Endpoint) entityParam() string {
	switch {
	case e.EntityParam != "":
		return e.EntityParam
	case e.Kind == PlayerFanout:
		return "playerId"
	default:
		return "gameId"
	}
}

// Registry is the ordered set of endpoints a run walks.
type Registry struct {
	order []string
	byKey map[string]*Endpoint
}

// NewRegistry validates endpoints and keeps their order.
func NewRegistry(endpoints ...Endpoint) (*Registry, error) {
	r := &Registry{byKey: map[string]*Endpoint{}}
	for _, e := range endpoints {
		if err := r.add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(e Endpoint) error {
	if e.Name == "" || e.Path == "" {
		return fmt.Errorf("endpoint %q: name and path are required", e.Name)
	}
	switch e.Kind {
	case Snapshot, Season, Date, GameFanout, PlayerFanout:
	default:
		return fmt.Errorf("endpoint %q: unknown type %q", e.Name, e.Kind)
	}
	if e.BronzeTable == "" {
		e.BronzeTable = e.Name
	}
	if _, dup := r.byKey[e.Name]; dup {
		return fmt.Errorf("endpoint %q declared twice", e.Name)
	}
	ep := e
	r.byKey[e.Name] = &ep
	r.order = append(r.order, e.Name)
	return nil
}

// Get returns the endpoint called name.
func (r *Registry) Get(name string) (*Endpoint, bool) {
	e, ok := r.byKey[name]
	return e, ok
}

// All returns the endpoints in declaration order.
func (r *Registry) All() []*Endpoint {
	out := make([]*Endpoint, len(r.order))
	for i, n := range r.order {
		out[i] = r.byKey[n]
	}
	return out
}

// Names returns the endpoint names, sorted.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Apply merges config overrides. Unknown endpoint names are an error so typos surface.
func (r *Registry) Apply(overrides map[string]config.EndpointOverride) error {
	for name, o := range overrides {
		e, ok := r.byKey[name]
		if !ok {
			return fmt.Errorf("override for unknown endpoint %q", name)
		}
		e.Skip = o.Skip
		if o.RequiredParams != nil {
			e.RequiredParams = o.RequiredParams
		}
		if o.RequiredAny != nil {
			e.RequiredAny = o.RequiredAny
		}
	}
	return nil
}

// registryFile is the yaml form of an endpoint registry.
type registryFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// LoadRegistryFile reads endpoints from a yaml file. Entries replace built-ins with the
// same name; new names are appended.
func (r *Registry) LoadRegistryFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read endpoint registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse endpoint registry %s: %w", path, err)
	}
	for _, e := range f.Endpoints {
		if _, ok := r.byKey[e.Name]; ok {
			if e.BronzeTable == "" {
				e.BronzeTable = e.Name
			}
			ep := e
			r.byKey[e.Name] = &ep
			continue
		}
		if err := r.add(e); err != nil {
			return err
		}
	}
	return nil
}

// MarshalYAML renders the registry in LoadRegistryFile's format.
func (r *Registry) MarshalYAML() (any, error) {
	f := registryFile{}
	for _, e := range r.All() {
		f.Endpoints = append(f.Endpoints, *e)
	}
	return f, nil
}

var seasonRange = []string{"season", "startDateRange"}

// BuiltinEndpoints is the college-basketball API surface, in run order. Games come
// before everything that fans out over game ids.
func BuiltinEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "teams", Path: "/teams", Kind: Snapshot, SilverTable: "dim_teams"},
		{Name: "conferences", Path: "/conferences", Kind: Snapshot, SilverTable: "dim_conferences"},
		{Name: "venues", Path: "/venues", Kind: Snapshot, SilverTable: "dim_venues"},
		{Name: "lines_providers", Path: "/lines/providers", Kind: Snapshot, SilverTable: "dim_lines_providers"},
		{Name: "plays_types", Path: "/plays/types", Kind: Snapshot, SilverTable: "dim_play_types"},
		{
			Name: "games", Path: "/games", Kind: Season, SilverTable: "fct_games",
			StartParam: "startDateRange", EndParam: "endDateRange", RequiredAny: [][]string{seasonRange},
		},
		{
			Name: "games_teams", Path: "/games/teams", Kind: Season, SilverTable: "fct_game_teams",
			StartParam: "startDateRange", EndParam: "endDateRange",
		},
		{
			Name: "games_players", Path: "/games/players", Kind: Season, SilverTable: "fct_game_players",
			StartParam: "startDateRange", EndParam: "endDateRange",
		},
		{
			Name: "games_media", Path: "/games/media", Kind: Season, SilverTable: "fct_game_media",
			StartParam: "startDateRange", EndParam: "endDateRange",
		},
		{
			Name: "lines", Path: "/lines", Kind: Season, SilverTable: "fct_lines",
			StartParam: "startDateRange", EndParam: "endDateRange",
		},
		{Name: "rankings", Path: "/rankings", Kind: Season, SilverTable: "fct_rankings"},
		{Name: "ratings_adjusted", Path: "/ratings/adjusted", Kind: Season, SilverTable: "fct_ratings_adjusted"},
		{Name: "ratings_srs", Path: "/ratings/srs", Kind: Season, SilverTable: "fct_ratings_srs"},
		{Name: "stats_team_season", Path: "/stats/team/season", Kind: Season, SilverTable: "fct_team_season_stats"},
		{Name: "stats_player_season", Path: "/stats/player/season", Kind: Season, SilverTable: "fct_player_season_stats"},
		{Name: "stats_team_shooting_season", Path: "/stats/team/shooting/season", Kind: Season, SilverTable: "fct_team_season_shooting"},
		{Name: "stats_player_shooting_season", Path: "/stats/player/shooting/season", Kind: Season, SilverTable: "fct_player_season_shooting"},
		{Name: "recruiting_players", Path: "/recruiting/players", Kind: Season, SeasonParam: "year", SilverTable: "fct_recruiting_players"},
		{Name: "draft_picks", Path: "/draft/picks", Kind: Season, SeasonParam: "year", SilverTable: "fct_draft_picks"},
		{Name: "plays_game", Path: "/plays/game/{gameId}", Kind: GameFanout, SilverTable: "fct_plays"},
		{Name: "substitutions_game", Path: "/substitutions/game/{gameId}", Kind: GameFanout, SilverTable: "fct_substitutions"},
		{Name: "lineups_game", Path: "/lineups/game/{gameId}", Kind: GameFanout, SilverTable: "fct_lineups"},
		{Name: "plays_date", Path: "/plays/date", Kind: Date, SilverTable: "fct_plays", IncrementalOnly: true},
		{
			Name: "plays_player", Path: "/plays/player/{playerId}", Kind: PlayerFanout, SilverTable: "fct_plays",
			RequiredParams: []string{"season"}, Skip: true,
		},
	}
}

// DefaultRegistry returns the built-in endpoints.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinEndpoints()...)
	if err != nil {
		panic(err)
	}
	return r
}
