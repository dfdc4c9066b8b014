package normalize

// Built-in table specs for the silver layer. Field names follow the upstream camelCase
// convention except where the upstream itself flips between spellings; those tables use
// lowercase canonical names and alias the variants.

var gameFields = []Field{
	F("gameId", Int), F("season", Int), F("seasonType", String), F("startDate", Timestamp),
	F("startTimeTbd", Bool), F("neutralSite", Bool), F("conferenceGame", Bool),
	F("gameType", String), F("status", String), F("attendance", Int),
	F("homeTeamId", Int), F("homeTeam", String), F("homeConference", String), F("homePoints", Int),
	F("awayTeamId", Int), F("awayTeam", String), F("awayConference", String), F("awayPoints", Int),
	F("venueId", Int), F("venue", String), F("city", String), F("state", String),
	F("excitement", Float),
}

func teamStatFields(prefix string) []Field {
	out := make([]Field, 0, 24)
	for _, n := range []string{
		"points_total", "possessions", "assists", "steals", "blocks", "trueshooting",
		"fieldgoals_made", "fieldgoals_attempted", "fieldgoals_pct",
		"twopointfieldgoals_made", "twopointfieldgoals_attempted", "twopointfieldgoals_pct",
		"threepointfieldgoals_made", "threepointfieldgoals_attempted", "threepointfieldgoals_pct",
		"freethrows_made", "freethrows_attempted", "freethrows_pct",
		"rebounds_offensive", "rebounds_defensive", "rebounds_total",
		"turnovers_total", "fouls_total",
	} {
		t := Int
		switch n {
		case "trueshooting", "fieldgoals_pct", "twopointfieldgoals_pct", "threepointfieldgoals_pct", "freethrows_pct", "possessions":
			t = Float
		}
		out = append(out, F(prefix+"_"+n, t))
	}
	return out
}

func concat(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func seasonShooting(idField string) []Field {
	return []Field{
		F(idField, Int), F("season", Int), F("team", String), F("conference", String),
		F("trackedShots", Int), F("assistedPct", Float), F("freeThrowRate", Float),
		F("dunks_made", Int), F("dunks_attempted", Int), F("dunks_pct", Float),
		F("layups_made", Int), F("layups_attempted", Int), F("layups_pct", Float),
		F("tipins_made", Int), F("tipins_attempted", Int), F("tipins_pct", Float),
		F("twopointjumpers_made", Int), F("twopointjumpers_attempted", Int), F("twopointjumpers_pct", Float),
		F("threepointjumpers_made", Int), F("threepointjumpers_attempted", Int), F("threepointjumpers_pct", Float),
	}
}

func shootingTransforms() []Transform {
	var out []Transform
	for _, src := range []string{"dunks", "layups", "tipIns", "twoPointJumpers", "threePointJumpers"} {
		out = append(out, Aggregate{Source: src, Prefix: src})
	}
	return out
}

// BuiltinSpecs returns the silver-layer table specs.
func BuiltinSpecs() []TableSpec {
	return []TableSpec{
		{
			Name:       "fct_games",
			PrimaryKey: []string{"gameId"},
			Fields:     gameFields,
			Aliases:    map[string]string{"id": "gameId"},
		},
		{
			Name:       "dim_teams",
			PrimaryKey: []string{"teamId"},
			Fields: []Field{
				F("teamId", Int), F("sourceId", String), F("school", String), F("mascot", String),
				F("abbreviation", String), F("displayName", String), F("shortDisplayName", String),
				F("primaryColor", String), F("secondaryColor", String), F("currentVenueId", Int),
				F("currentVenue", String), F("currentCity", String), F("currentState", String),
				F("conferenceId", Int), F("conference", String),
			},
			Aliases: map[string]string{"id": "teamId"},
		},
		{
			Name:       "dim_conferences",
			PrimaryKey: []string{"id"},
			Fields: []Field{
				F("id", Int), F("sourceId", String), F("name", String), F("abbreviation", String), F("shortName", String),
			},
		},
		{
			Name:       "dim_venues",
			PrimaryKey: []string{"id"},
			Fields: []Field{
				F("id", Int), F("sourceId", String), F("name", String), F("city", String), F("state", String), F("country", String),
			},
			Aliases: map[string]string{"venueId": "id"},
		},
		{
			Name:       "dim_lines_providers",
			PrimaryKey: []string{"id"},
			Fields:     []Field{F("id", Int), F("name", String)},
		},
		{
			Name:       "dim_play_types",
			PrimaryKey: []string{"id"},
			Fields:     []Field{F("id", Int), F("name", String)},
		},
		{
			Name:       "fct_game_teams",
			PrimaryKey: []string{"gameId", "teamId"},
			Fields: concat([]Field{
				F("gameId", Int), F("season", Int), F("seasonType", String), F("startDate", Timestamp),
				F("teamId", Int), F("team", String), F("conference", String), F("isHome", Bool),
				F("opponentId", Int), F("opponent", String), F("opponentConference", String),
				F("pace", Float), F("gameMinutes", Int),
			}, teamStatFields("teamstats"), teamStatFields("opponentstats")),
			Transforms: []Transform{
				Aggregate{Source: "teamStats", Prefix: "teamstats"},
				Aggregate{Source: "opponentStats", Prefix: "opponentstats"},
			},
		},
		{
			Name:       "fct_game_players",
			PrimaryKey: []string{"gameId", "playerId"},
			Fields: []Field{
				F("gameId", Int), F("season", Int), F("startDate", Timestamp), F("teamId", Int), F("team", String),
				F("playerId", Int), F("name", String), F("position", String), F("starter", Bool), F("ejected", Bool),
				F("minutes", Int), F("points", Int), F("turnovers", Int), F("fouls", Int), F("assists", Int),
				F("steals", Int), F("blocks", Int), F("gameScore", Float), F("offensiveRating", Float),
				F("defensiveRating", Float), F("usage", Float), F("trueShootingPct", Float),
				F("fieldgoals_made", Int), F("fieldgoals_attempted", Int), F("fieldgoals_pct", Float),
				F("threepointfieldgoals_made", Int), F("threepointfieldgoals_attempted", Int),
				F("freethrows_made", Int), F("freethrows_attempted", Int),
				F("rebounds_offensive", Int), F("rebounds_defensive", Int), F("rebounds_total", Int),
			},
			Aliases: map[string]string{"athleteId": "playerId"},
			Explode: &Explode{Field: "players"},
			Transforms: []Transform{
				Aggregate{Source: "fieldGoals", Prefix: "fieldgoals"},
				Aggregate{Source: "threePointFieldGoals", Prefix: "threepointfieldgoals"},
				Aggregate{Source: "freeThrows", Prefix: "freethrows"},
				Aggregate{Source: "rebounds", Prefix: "rebounds"},
			},
		},
		{
			Name:       "fct_game_media",
			PrimaryKey: []string{"gameId"},
			Fields: []Field{
				F("gameId", Int), F("season", Int), F("startDate", Timestamp),
				F("broadcasts", String), F("homeTeam", String), F("awayTeam", String),
			},
			Aliases: map[string]string{"id": "gameId"},
		},
		{
			Name:       "fct_plays",
			PrimaryKey: []string{"id"},
			Fields: []Field{
				F("id", Int), F("sourceId", String), F("gameId", Int), F("season", Int), F("gameStartDate", Timestamp),
				F("period", Int), F("clock", String), F("secondsRemaining", Int),
				F("teamId", Int), F("team", String), F("opponentId", Int), F("opponent", String),
				F("homeScore", Int), F("awayScore", Int), F("playType", String), F("playText", String),
				F("isHomeTeam", Bool), F("scoringPlay", Bool), F("shootingPlay", Bool), F("scoreValue", Int),
				F("wallclock", Timestamp), F("participant_id", Int),
				F("shot_shooter_id", Int), F("shot_shooter_name", String), F("shot_made", Bool),
				F("shot_range", String), F("shot_assisted", Bool),
				F("shot_assisted_by_id", Int), F("shot_assisted_by_name", String),
				F("shot_loc_x", Float), F("shot_loc_y", Float),
				F("onfloor_player1", Int), F("onfloor_player2", Int), F("onfloor_player3", Int),
				F("onfloor_player4", Int), F("onfloor_player5", Int), F("onfloor_player6", Int),
				F("onfloor_player7", Int), F("onfloor_player8", Int), F("onfloor_player9", Int),
				F("onfloor_player10", Int),
			},
			Transforms: []Transform{
				ListIDs{Source: "onFloor", Prefix: "onfloor_player", Count: 10},
				Pluck{Path: []string{"participants", "0", "id"}, Target: "participant_id"},
				Pluck{Path: []string{"shotInfo", "shooter", "id"}, Target: "shot_shooter_id"},
				Pluck{Path: []string{"shotInfo", "shooter", "name"}, Target: "shot_shooter_name"},
				Pluck{Path: []string{"shotInfo", "made"}, Target: "shot_made"},
				Pluck{Path: []string{"shotInfo", "range"}, Target: "shot_range"},
				Pluck{Path: []string{"shotInfo", "assisted"}, Target: "shot_assisted"},
				Pluck{Path: []string{"shotInfo", "assistedBy", "id"}, Target: "shot_assisted_by_id"},
				Pluck{Path: []string{"shotInfo", "assistedBy", "name"}, Target: "shot_assisted_by_name"},
				Pluck{Path: []string{"shotInfo", "location", "x"}, Target: "shot_loc_x"},
				Pluck{Path: []string{"shotInfo", "location", "y"}, Target: "shot_loc_y"},
			},
		},
		{
			Name:       "fct_substitutions",
			PrimaryKey: []string{"id"},
			Fields: []Field{
				F("id", Int), F("gameId", Int), F("season", Int), F("startDate", Timestamp),
				F("teamId", Int), F("team", String), F("athleteId", Int), F("athlete", String),
				F("position", String),
				F("subIn_period", Int), F("subIn_secondsRemaining", Int),
				F("subOut_period", Int), F("subOut_secondsRemaining", Int),
			},
			Transforms: []Transform{
				Pluck{Path: []string{"subIn", "period"}, Target: "subIn_period"},
				Pluck{Path: []string{"subIn", "secondsRemaining"}, Target: "subIn_secondsRemaining"},
				Pluck{Path: []string{"subOut", "period"}, Target: "subOut_period"},
				Pluck{Path: []string{"subOut", "secondsRemaining"}, Target: "subOut_secondsRemaining"},
			},
		},
		{
			Name:       "fct_lineups",
			PrimaryKey: []string{"idhash", "teamid", "totalseconds"},
			Fields: []Field{
				F("idhash", String), F("teamid", Int), F("totalseconds", Int), F("team", String),
				F("conference", String), F("athletes", String), F("pace", Float),
				F("offenserating", Float), F("defenserating", Float), F("netrating", Float),
				F("gameId", Int), F("season", Int),
			},
			Aliases: map[string]string{
				"offensiveRating": "offenserating",
				"defensiveRating": "defenserating",
				"netRating":       "netrating",
			},
		},
		{
			Name:       "fct_lines",
			PrimaryKey: []string{"gameId", "provider"},
			Fields: []Field{
				F("gameId", Int), F("season", Int), F("seasonType", String), F("startDate", Timestamp),
				F("homeTeamId", Int), F("homeTeam", String), F("awayTeamId", Int), F("awayTeam", String),
				F("homeScore", Int), F("awayScore", Int), F("provider", String),
				F("spread", Float), F("overUnder", Float), F("homeMoneyline", Int), F("awayMoneyline", Int),
				F("spreadOpen", Float), F("overUnderOpen", Float),
			},
			Aliases: map[string]string{"providerName": "provider", "source": "provider"},
			Explode: &Explode{Field: "lines"},
		},
		{
			Name:       "fct_rankings",
			PrimaryKey: []string{"season", "pollDate", "pollType", "teamId"},
			Fields: []Field{
				F("season", Int), F("seasonType", String), F("week", Int), F("pollDate", Timestamp),
				F("pollType", String), F("teamId", Int), F("team", String), F("conference", String),
				F("ranking", Int), F("points", Int), F("firstPlaceVotes", Int),
			},
		},
		{
			Name:       "fct_ratings_adjusted",
			PrimaryKey: []string{"teamid", "season"},
			Fields: []Field{
				F("teamid", Int), F("season", Int), F("team", String), F("conference", String),
				F("offenserating", Float), F("defenserating", Float), F("netrating", Float),
				F("ranking_offense", Int), F("ranking_defense", Int), F("ranking_net", Int),
			},
			Aliases: map[string]string{
				"offensiveRating": "offenserating",
				"offenseRating":   "offenserating",
				"defensiveRating": "defenserating",
				"defenseRating":   "defenserating",
				"netRating":       "netrating",
			},
			Transforms: []Transform{
				Pluck{Path: []string{"rankings", "offense"}, Target: "ranking_offense"},
				Pluck{Path: []string{"rankings", "defense"}, Target: "ranking_defense"},
				Pluck{Path: []string{"rankings", "net"}, Target: "ranking_net"},
			},
		},
		{
			Name:       "fct_ratings_srs",
			PrimaryKey: []string{"teamId", "season"},
			Fields: []Field{
				F("teamId", Int), F("season", Int), F("team", String), F("conference", String), F("rating", Float),
			},
		},
		{
			Name:       "fct_team_season_stats",
			PrimaryKey: []string{"teamId", "season"},
			Fields: concat([]Field{
				F("teamId", Int), F("season", Int), F("seasonLabel", String), F("team", String),
				F("conference", String), F("games", Int), F("wins", Int), F("losses", Int),
				F("totalMinutes", Int), F("pace", Float),
			}, teamStatFields("teamstats"), teamStatFields("opponentstats")),
			Transforms: []Transform{
				Aggregate{Source: "teamStats", Prefix: "teamstats"},
				Aggregate{Source: "opponentStats", Prefix: "opponentstats"},
			},
		},
		{
			Name:       "fct_team_season_shooting",
			PrimaryKey: []string{"teamId", "season"},
			Fields:     seasonShooting("teamId"),
			Transforms: shootingTransforms(),
		},
		{
			Name:       "fct_player_season_stats",
			PrimaryKey: []string{"athleteId", "season"},
			Fields: []Field{
				F("athleteId", Int), F("season", Int), F("teamId", Int), F("team", String),
				F("conference", String), F("name", String), F("position", String),
				F("games", Int), F("starts", Int), F("minutes", Int), F("points", Int),
				F("turnovers", Int), F("fouls", Int), F("assists", Int), F("steals", Int), F("blocks", Int),
				F("usage", Float), F("offensiveRating", Float), F("defensiveRating", Float),
				F("netRating", Float), F("porpag", Float), F("effectiveFieldGoalPct", Float),
				F("trueShootingPct", Float),
				F("fieldgoals_made", Int), F("fieldgoals_attempted", Int), F("fieldgoals_pct", Float),
				F("rebounds_offensive", Int), F("rebounds_defensive", Int), F("rebounds_total", Int),
			},
			Transforms: []Transform{
				Aggregate{Source: "fieldGoals", Prefix: "fieldgoals"},
				Aggregate{Source: "rebounds", Prefix: "rebounds"},
			},
		},
		{
			Name:       "fct_player_season_shooting",
			PrimaryKey: []string{"athleteId", "season"},
			Fields:     concat(seasonShooting("athleteId"), []Field{F("teamId", Int), F("athleteName", String)}),
			Transforms: shootingTransforms(),
		},
		{
			Name:       "fct_recruiting_players",
			PrimaryKey: []string{"playerId", "season"},
			Fields: []Field{
				F("playerId", Int), F("season", Int), F("sourceId", String), F("position", String),
				F("schoolId", Int), F("school", String), F("committedToId", Int), F("committedToName", String),
				F("name", String), F("heightInches", Int), F("weightPounds", Int),
				F("stars", Int), F("rating", Float), F("ranking", Int),
			},
			Aliases: map[string]string{"id": "playerId", "athleteId": "playerId", "year": "season"},
			Transforms: []Transform{
				Pluck{Path: []string{"committedTo", "id"}, Target: "committedToId"},
				Pluck{Path: []string{"committedTo", "name"}, Target: "committedToName"},
			},
		},
		{
			Name:       "fct_draft_picks",
			PrimaryKey: []string{"season", "overall"},
			Fields: []Field{
				F("season", Int), F("round", Int), F("pick", Int), F("overall", Int),
				F("athleteId", Int), F("name", String), F("position", String),
				F("sourceTeamId", Int), F("sourceTeamName", String),
				F("draftTeamId", Int), F("draftTeam", String),
			},
			Aliases: map[string]string{"year": "season"},
		},
	}
}

// DefaultRegistry returns a registry over BuiltinSpecs. It panics on an invalid spec,
// which is a programming error.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinSpecs()...)
	if err != nil {
		panic(err)
	}
	return r
}
