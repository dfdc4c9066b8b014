package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldEndpoint    = "endpoint"
	fieldFingerprint = "fingerprint"
	fieldSeason      = "last_completed_season"
	fieldDate        = "last_ingested_date"
	fieldCursor      = "cursor"
	fieldSuccessAt   = "last_success_at"
)

// HashClient is the subset of the go-redis API the store needs.
type HashClient interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
}

// RedisStore keeps one Redis hash per key. HSET writes only the supplied fields in a single
// command, so concurrent readers see either the old or the new value of each field.
type RedisStore struct {
	client HashClient
	prefix string
}

// NewRedisStore stores hashes under "<prefix>checkpoint:<endpoint>:<fingerprint>".
func NewRedisStore(client HashClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) redisKey(k Key) string {
	return fmt.Sprintf("%scheckpoint:%s:%s", s.prefix, k.Endpoint, k.Fingerprint)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: hgetall %s: %v", ErrUnavailable, key, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	rec := Record{Endpoint: key.Endpoint, Fingerprint: key.Fingerprint}
	if v := fields[fieldSeason]; v != "" {
		season, err := strconv.Atoi(v)
		if err != nil {
			return Record{}, false, fmt.Errorf("checkpoint %s: bad %s %q", key, fieldSeason, v)
		}
		rec.LastCompletedSeason = season
	}
	rec.LastIngestedDate = fields[fieldDate]
	rec.Cursor = fields[fieldCursor]
	if v := fields[fieldSuccessAt]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Record{}, false, fmt.Errorf("checkpoint %s: bad %s %q", key, fieldSuccessAt, v)
		}
		rec.LastSuccessAt = ts.UTC()
	}
	return rec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, u Update) error {
	if u.Empty() {
		return nil
	}
	values := []interface{}{fieldEndpoint, key.Endpoint, fieldFingerprint, key.Fingerprint}
	if u.LastCompletedSeason != nil {
		values = append(values, fieldSeason, strconv.Itoa(*u.LastCompletedSeason))
	}
	if u.LastIngestedDate != nil {
		values = append(values, fieldDate, *u.LastIngestedDate)
	}
	if u.Cursor != nil {
		values = append(values, fieldCursor, *u.Cursor)
	}
	if u.LastSuccessAt != nil {
		values = append(values, fieldSuccessAt, u.LastSuccessAt.UTC().Format(time.RFC3339Nano))
	}
	if err := s.client.HSet(ctx, s.redisKey(key), values...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error { return nil }
