package catalog

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// Cached skips the inner registrar for definitions covered by what it already applied in
// this process.
type Cached struct {
	inner     Registrar
	seen      *xsync.Map[string, TableDef]
	databases *xsync.Map[string, struct{}]
}

func NewCached(inner Registrar) *Cached {
	return &Cached{
		inner:     inner,
		seen:      xsync.NewMap[string, TableDef](),
		databases: xsync.NewMap[string, struct{}](),
	}
}

func (c *Cached) EnsureDatabase(ctx context.Context, name string) error {
	if _, ok := c.databases.Load(name); ok {
		return nil
	}
	if err := c.inner.EnsureDatabase(ctx, name); err != nil {
		return err
	}
	c.databases.Store(name, struct{}{})
	return nil
}

func (c *Cached) Ensure(ctx context.Context, def TableDef) (bool, error) {
	prev, ok := c.seen.Load(def.String())
	if ok && prev.Covers(def) {
		return false, nil
	}
	if ok {
		def = prev.Merge(def)
	}
	changed, err := c.inner.Ensure(ctx, def)
	if err != nil {
		return false, err
	}
	c.seen.Store(def.String(), def)
	return changed, nil
}
