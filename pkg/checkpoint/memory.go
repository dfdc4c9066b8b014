package checkpoint

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps records in a concurrent map. Used by tests and single-shot runs.
type MemoryStore struct {
	records *xsync.Map[Key, Record]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: xsync.NewMap[Key, Record]()}
}

func (m *MemoryStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	rec, ok := m.records.Load(key)
	return rec, ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, key Key, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.records.Compute(key, func(old Record, loaded bool) (Record, xsync.ComputeOp) {
		if !loaded {
			old = Record{Endpoint: key.Endpoint, Fingerprint: key.Fingerprint}
		}
		return u.Apply(old), xsync.UpdateOp
	})
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int { return m.records.Size() }

func (m *MemoryStore) Close() error { return nil }
