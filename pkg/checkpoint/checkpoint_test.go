package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := map[string]any{"season": 2024, "seasonType": "regular"}
	b := map[string]any{}
	b["seasonType"] = "regular"
	b["season"] = 2024

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, MustFingerprint(map[string]any{"season": 2025, "seasonType": "regular"}))
	assert.Equal(t, MustFingerprint(nil), MustFingerprint(map[string]any{}))
}

// TestMemoryStorePerFieldUpsert tests that a Put only overwrites the fields it supplies.
func TestMemoryStorePerFieldUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := Key{Endpoint: "games", Fingerprint: "abc"}

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Put(ctx, key, Update{}.Season(2023).Date("2024-03-01").SucceededAt(now)))
	require.NoError(t, s.Put(ctx, key, Update{}.Season(2024)))

	rec, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2024, rec.LastCompletedSeason)
	assert.Equal(t, "2024-03-01", rec.LastIngestedDate)
	assert.Equal(t, now, rec.LastSuccessAt)
	assert.Equal(t, "games", rec.Endpoint)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreConcurrentKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key{Endpoint: "plays_game", Fingerprint: MustFingerprint(map[string]any{"gameId": i})}
			assert.NoError(t, s.Put(ctx, key, Update{}.WithCursor("done")))
			_, _, err := s.Get(ctx, key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, Key) (Record, bool, error) { return Record{}, false, f.err }
func (f failingStore) Put(context.Context, Key, Update) error       { return f.err }
func (f failingStore) Close() error                                  { return nil }

// TestGuardReadFailure tests that read failures abort by default and pass in degraded mode.
func TestGuardReadFailure(t *testing.T) {
	ctx := context.Background()
	key := Key{Endpoint: "games", Fingerprint: "x"}
	backend := failingStore{err: errors.New("connection refused")}

	_, _, err := NewGuard(backend, false, nil).Get(ctx, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, ok, err := NewGuard(backend, true, nil).Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardPutPropagatesErrors(t *testing.T) {
	g := NewGuard(failingStore{err: errors.New("down")}, true, nil)
	assert.Error(t, g.Put(context.Background(), Key{Endpoint: "games"}, Update{}.Season(2024)))
}

func TestUpdateEmpty(t *testing.T) {
	assert.True(t, Update{}.Empty())
	assert.False(t, Update{}.WithCursor("").Empty())
}
