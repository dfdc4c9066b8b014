package lake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/metrics"
	"github.com/courtside-data/cbbdx/pkg/normalize"
	"github.com/courtside-data/cbbdx/pkg/utils"
)

// Options configures a Lake.
type Options struct {
	Bucket   string
	Prefixes Prefixes
	Logger   *zap.Logger
	// Now overrides the clock used for asof / ingested_at partitions.
	Now func() time.Time
}

// Lake lays out raw, typed, dead-letter and manifest objects over an ObjectStore.
type Lake struct {
	store    ObjectStore
	bucket   string
	prefixes Prefixes
	logger   *zap.Logger
	now      func() time.Time
	locks    *xsync.Map[string, *sync.Mutex]
}

func New(store ObjectStore, opts Options) *Lake {
	l := &Lake{
		store:    store,
		bucket:   opts.Bucket,
		prefixes: opts.Prefixes,
		logger:   opts.Logger,
		now:      opts.Now,
		locks:    xsync.NewMap[string, *sync.Mutex](),
	}
	if l.bucket == "" {
		l.bucket = "cbbdx"
	}
	if l.prefixes == nil {
		l.prefixes = DefaultPrefixes()
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Init checks connectivity and creates the bucket when missing.
func (l *Lake) Init(ctx context.Context) error {
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("object store ping: %w", err)
	}
	return l.store.EnsureBucket(ctx, l.bucket)
}

func (l *Lake) Bucket() string { return l.bucket }

// Today returns the current UTC day.
func (l *Lake) Today() time.Time {
	return l.now().UTC().Truncate(24 * time.Hour)
}

// TablePrefix returns "<layer>/<table>/".
func (l *Lake) TablePrefix(layer Layer, table string) string {
	return l.prefixes.of(layer) + "/" + table + "/"
}

// lock serializes writers of one partition directory.
func (l *Lake) lock(key string) func() {
	mu, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// WriteRaw stores one upstream response and returns its key. Re-running the same
// (endpoint, params) on the same day overwrites the same object.
func (l *Lake) WriteRaw(ctx context.Context, endpoint string, params map[string]any, body json.RawMessage) (string, error) {
	hash, err := utils.StableHash(params)
	if err != nil {
		return "", err
	}
	now := l.now().UTC()
	data, err := EncodeRaw(Envelope{Endpoint: endpoint, Params: params, FetchedAt: now, Body: body})
	if err != nil {
		return "", err
	}
	key := path.Join(l.prefixes.of(Raw), endpoint, "ingested_at="+now.Format(dateLayout), PartFile(hash, "json.gz"))
	if err := l.store.PutObject(ctx, l.bucket, key, data); err != nil {
		return "", fmt.Errorf("write raw %s: %w", key, err)
	}
	return key, nil
}

// WriteTable stores t under <layer>/<table>/<partition>/part-<unit>.parquet. For keyed
// tables an object already present at that key is merged in and the result deduplicated
// by primary key, so a repeated unit converges to the same rows. Unkeyed tables replace
// the object. Zero-row tables are not written.
func (l *Lake) WriteTable(ctx context.Context, layer Layer, t *normalize.Table, part Partition, unit string) (string, error) {
	if t.NumRows() == 0 {
		return "", nil
	}
	dir := l.TablePrefix(layer, t.Name) + part.Path()
	key := path.Join(dir, PartFile(unit, "parquet"))

	unlock := l.lock(dir)
	defer unlock()

	out := t
	var existing []byte
	var err error
	if len(t.PrimaryKey) > 0 {
		existing, err = l.store.GetObject(ctx, l.bucket, key)
	} else {
		err = ErrNotFound
	}
	switch {
	case err == nil:
		prev, derr := DecodeParquet(ctx, t.Name, existing)
		if derr != nil {
			l.logger.Warn("replacing unreadable object", zap.String("key", key), zap.Error(derr))
			break
		}
		out = normalize.Concat(t.Name, prev, t)
		out.PrimaryKey = t.PrimaryKey
		normalize.Dedup(out)
	case errors.Is(err, ErrNotFound):
	default:
		return "", fmt.Errorf("read %s: %w", key, err)
	}

	data, err := EncodeParquet(out)
	if err != nil {
		return "", err
	}
	if err := l.store.PutObject(ctx, l.bucket, key, data); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	metrics.RowsWritten.WithLabelValues(string(layer), t.Name).Add(float64(t.NumRows()))
	l.logger.Debug("table_written",
		zap.String("key", key),
		zap.Int("rows", out.NumRows()),
	)
	return key, nil
}

// PartitionFile is one stored object of a typed table.
type PartitionFile struct {
	Key       string
	Partition Partition
}

// ListPartitions returns every parquet object of a table with its parsed partition.
func (l *Lake) ListPartitions(ctx context.Context, layer Layer, table string) ([]PartitionFile, error) {
	prefix := l.TablePrefix(layer, table)
	keys, err := l.store.ListPrefix(ctx, l.bucket, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]PartitionFile, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ".parquet") {
			continue
		}
		out = append(out, PartitionFile{Key: k, Partition: ParsePartition(strings.TrimPrefix(k, prefix))})
	}
	return out, nil
}

// Tables returns the table names present under a layer, sorted.
func (l *Lake) Tables(ctx context.Context, layer Layer) ([]string, error) {
	prefix := l.prefixes.of(layer) + "/"
	keys, err := l.store.ListPrefix(ctx, l.bucket, prefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if name, _, ok := strings.Cut(rest, "/"); ok && name != "" {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// ReadTable loads and concatenates every object of a table whose key starts with
// <layer>/<table>/<sub>. An empty sub reads the whole table.
func (l *Lake) ReadTable(ctx context.Context, layer Layer, table, sub string) (*normalize.Table, error) {
	files, err := l.ListPartitions(ctx, layer, table)
	if err != nil {
		return nil, err
	}
	prefix := l.TablePrefix(layer, table) + sub
	var parts []*normalize.Table
	for _, f := range files {
		if !strings.HasPrefix(f.Key, prefix) {
			continue
		}
		data, err := l.store.GetObject(ctx, l.bucket, f.Key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Key, err)
		}
		t, err := DecodeParquet(ctx, table, data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Key, err)
		}
		parts = append(parts, t)
	}
	return normalize.Concat(table, parts...), nil
}

// RowCount returns the number of rows stored in one parquet object.
func (l *Lake) RowCount(ctx context.Context, key string) (int64, error) {
	data, err := l.store.GetObject(ctx, l.bucket, key)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return ParquetRowCount(data)
}

// DeadLetterRecord describes a unit that could not be ingested.
type DeadLetterRecord struct {
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params"`
	Reason   string         `json:"reason"`
	Class    string         `json:"class,omitempty"`
	Status   int            `json:"status,omitempty"`
	At       time.Time      `json:"at"`
}

// WriteDeadLetter stores rec under deadletter/<endpoint>/ingested_at=<d>/.
func (l *Lake) WriteDeadLetter(ctx context.Context, rec DeadLetterRecord) (string, error) {
	hash, err := utils.StableHash(rec.Params)
	if err != nil {
		return "", err
	}
	if rec.At.IsZero() {
		rec.At = l.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	key := path.Join(l.prefixes.of(DeadLetter), rec.Endpoint, "ingested_at="+rec.At.Format(dateLayout), PartFile(hash, "json"))
	if err := l.store.PutObject(ctx, l.bucket, key, data); err != nil {
		return "", fmt.Errorf("write dead letter %s: %w", key, err)
	}
	metrics.DeadLetters.WithLabelValues(rec.Endpoint).Inc()
	l.logger.Warn("dead_letter",
		zap.String("endpoint", rec.Endpoint),
		zap.String("reason", rec.Reason),
		zap.String("key", key),
	)
	return key, nil
}

// PutMeta stores v as JSON under meta/<name>.
func (l *Lake) PutMeta(ctx context.Context, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	key := path.Join(l.prefixes.of(Meta), name)
	if err := l.store.PutObject(ctx, l.bucket, key, data); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return key, nil
}

// GetMeta decodes the JSON object meta/<name> into v.
func (l *Lake) GetMeta(ctx context.Context, name string, v any) error {
	data, err := l.store.GetObject(ctx, l.bucket, path.Join(l.prefixes.of(Meta), name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ListMeta returns the meta object names starting with prefix.
func (l *Lake) ListMeta(ctx context.Context, prefix string) ([]string, error) {
	base := l.prefixes.of(Meta) + "/"
	keys, err := l.store.ListPrefix(ctx, l.bucket, base+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, base)
	}
	return keys, nil
}
