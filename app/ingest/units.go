package ingest

import (
	"fmt"
	"time"

	"github.com/courtside-data/cbbdx/pkg/checkpoint"
)

const dateLayout = "2006-01-02"

// Unit is one API call: an endpoint and its parameters, plus the season and natural date
// the response belongs to when known.
type Unit struct {
	Endpoint *Endpoint
	Params   map[string]any
	Season   int
	Date     string
	// EntityID is set for fan-out units.
	EntityID int64
}

// Fingerprint is the checkpoint fingerprint of the unit's params.
func (u Unit) Fingerprint() string { return checkpoint.MustFingerprint(u.Params) }

// Hash8 names the unit's part files.
func (u Unit) Hash8() string {
	fp := u.Fingerprint()
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}

func (u Unit) String() string { return fmt.Sprintf("%s%v", u.Endpoint.Name, u.Params) }

// SeasonWindow is Aug 1 of season-1 through Jul 31 of season.
func SeasonWindow(season int) (time.Time, time.Time) {
	start := time.Date(season-1, time.August, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(season, time.July, 31, 0, 0, 0, 0, time.UTC)
	return start, end
}

// SeasonOf returns the season a calendar date belongs to.
func SeasonOf(d time.Time) int {
	if d.Month() >= time.August {
		return d.Year() + 1
	}
	return d.Year()
}

// DateChunk is an inclusive day range.
type DateChunk struct {
	Start time.Time
	End   time.Time
}

// DateChunks splits [start, end] into windows of at most days days. days <= 0 yields a
// single window.
func DateChunks(start, end time.Time, days int) []DateChunk {
	if end.Before(start) {
		return nil
	}
	if days <= 0 {
		return []DateChunk{{Start: start, End: end}}
	}
	var out []DateChunk
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, days) {
		last := cur.AddDate(0, 0, days-1)
		if last.After(end) {
			last = end
		}
		out = append(out, DateChunk{Start: cur, End: last})
	}
	return out
}

func isoStart(d time.Time) string { return d.Format(dateLayout) + "T00:00:00Z" }

func isoEnd(d time.Time) string { return d.Format(dateLayout) + "T23:59:59Z" }

// SeasonUnits plans the calls for one season of a season endpoint.
func SeasonUnits(e *Endpoint, season, chunkDays int) []Unit {
	if !e.Chunked() {
		return []Unit{{Endpoint: e, Season: season, Params: map[string]any{e.seasonParam(): season}}}
	}
	start, end := SeasonWindow(season)
	chunks := DateChunks(start, end, chunkDays)
	out := make([]Unit, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Unit{
			Endpoint: e,
			Season:   season,
			Params: map[string]any{
				e.seasonParam(): season,
				e.StartParam:    isoStart(c.Start),
				e.EndParam:      isoEnd(c.End),
			},
		})
	}
	return out
}

// DateUnits plans one call per day of the window of windowDays days ending today.
func DateUnits(e *Endpoint, today time.Time, windowDays int) []Unit {
	end := today.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -windowDays)
	var out []Unit
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format(dateLayout)
		out = append(out, Unit{
			Endpoint: e,
			Season:   SeasonOf(d),
			Date:     day,
			Params:   map[string]any{e.dateParam(): day},
		})
	}
	return out
}

// GameUnit is the call for one game.
func GameUnit(e *Endpoint, g GameMeta) Unit {
	return Unit{
		Endpoint: e,
		EntityID: g.ID,
		Season:   g.Season,
		Date:     g.Date,
		Params:   map[string]any{e.entityParam(): g.ID},
	}
}

// PlayerUnit is the call for one player; season is sent only when the endpoint requires it.
func PlayerUnit(e *Endpoint, playerID int64, season int) Unit {
	params := map[string]any{e.entityParam(): playerID}
	u := Unit{Endpoint: e, EntityID: playerID, Params: params}
	if e.RequiresSeason() {
		params[e.seasonParam()] = season
		u.Season = season
	}
	return u
}
