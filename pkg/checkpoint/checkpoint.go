// Package checkpoint records ingestion progress per (endpoint, parameter fingerprint).
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/courtside-data/cbbdx/pkg/utils"
)

// ErrUnavailable wraps backend read failures that must abort a unit of work.
var ErrUnavailable = errors.New("checkpoint store unavailable")

// Key identifies one checkpoint record.
type Key struct {
	Endpoint    string
	Fingerprint string
}

func (k Key) String() string { return k.Endpoint + "/" + k.Fingerprint }

// Record is the stored progress for a key. Zero values mean "never recorded".
type Record struct {
	Endpoint            string    `json:"endpoint"`
	Fingerprint         string    `json:"fingerprint"`
	LastCompletedSeason int       `json:"last_completed_season,omitempty"`
	LastIngestedDate    string    `json:"last_ingested_date,omitempty"`
	Cursor              string    `json:"cursor,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at"`
}

// Update carries the fields a writer wants to set. Nil fields keep their stored value.
type Update struct {
	LastCompletedSeason *int
	LastIngestedDate    *string
	Cursor              *string
	LastSuccessAt       *time.Time
}

// Season sets LastCompletedSeason.
func (u Update) Season(s int) Update { u.LastCompletedSeason = &s; return u }

// Date sets LastIngestedDate.
func (u Update) Date(d string) Update { u.LastIngestedDate = &d; return u }

// WithCursor sets Cursor.
func (u Update) WithCursor(c string) Update { u.Cursor = &c; return u }

// SucceededAt sets LastSuccessAt.
func (u Update) SucceededAt(t time.Time) Update { t = t.UTC(); u.LastSuccessAt = &t; return u }

// Empty reports whether the update sets nothing.
func (u Update) Empty() bool {
	return u.LastCompletedSeason == nil && u.LastIngestedDate == nil && u.Cursor == nil && u.LastSuccessAt == nil
}

// Apply merges u into r, field by field.
func (u Update) Apply(r Record) Record {
	if u.LastCompletedSeason != nil {
		r.LastCompletedSeason = *u.LastCompletedSeason
	}
	if u.LastIngestedDate != nil {
		r.LastIngestedDate = *u.LastIngestedDate
	}
	if u.Cursor != nil {
		r.Cursor = *u.Cursor
	}
	if u.LastSuccessAt != nil {
		r.LastSuccessAt = *u.LastSuccessAt
	}
	return r
}

// Store is a point-read / upsert table. Implementations must be safe for concurrent use and
// must never expose a partially applied Put to readers.
type Store interface {
	// Get returns the record and true, or false when no record exists.
	Get(ctx context.Context, key Key) (Record, bool, error)
	// Put upserts the supplied fields; unsupplied fields are left untouched.
	Put(ctx context.Context, key Key, u Update) error
	Close() error
}

// Fingerprint hashes a parameter set. Key order never changes the result.
func Fingerprint(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	return utils.StableHash(params)
}

// MustFingerprint is Fingerprint for parameter sets built from JSON-safe values.
func MustFingerprint(params map[string]any) string {
	fp, err := Fingerprint(params)
	if err != nil {
		panic(err)
	}
	return fp
}
