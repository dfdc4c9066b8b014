package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHash mimics HSET/HGETALL on an in-process map.
type fakeHash struct {
	data map[string]map[string]string
	err  error
}

func (f *fakeHash) HGetAll(_ context.Context, key string) *goredis.MapStringStringCmd {
	if f.err != nil {
		return goredis.NewMapStringStringResult(nil, f.err)
	}
	out := map[string]string{}
	for k, v := range f.data[key] {
		out[k] = v
	}
	return goredis.NewMapStringStringResult(out, nil)
}

func (f *fakeHash) HSet(_ context.Context, key string, values ...interface{}) *goredis.IntCmd {
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	if f.data[key] == nil {
		f.data[key] = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.data[key][values[i].(string)] = values[i+1].(string)
	}
	return goredis.NewIntResult(int64(len(values)/2), nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeHash{data: map[string]map[string]string{}}
	s := NewRedisStore(fake, "cbbdx:")
	key := Key{Endpoint: "ratings_srs", Fingerprint: "f1"}

	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, key, Update{}.Season(2022).SucceededAt(ts)))
	require.NoError(t, s.Put(ctx, key, Update{}.Date("2025-02-01")))

	assert.Contains(t, fake.data, "cbbdx:checkpoint:ratings_srs:f1")

	rec, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2022, rec.LastCompletedSeason)
	assert.Equal(t, "2025-02-01", rec.LastIngestedDate)
	assert.Equal(t, ts, rec.LastSuccessAt)

	_, ok, err = s.Get(ctx, Key{Endpoint: "ratings_srs", Fingerprint: "missing"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreReadFailureIsUnavailable(t *testing.T) {
	s := NewRedisStore(&fakeHash{err: errors.New("i/o timeout")}, "")
	_, _, err := s.Get(context.Background(), Key{Endpoint: "games", Fingerprint: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
