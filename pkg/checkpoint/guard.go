package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/courtside-data/cbbdx/pkg/metrics"
)

// Guard applies the read-failure policy on top of a Store. By default a failed read is
// returned as ErrUnavailable so the caller aborts the unit. In degraded mode the failure is
// logged and reported as "no checkpoint", which re-fetches data that may already exist.
type Guard struct {
	store    Store
	degraded bool
	logger   *zap.Logger
}

func NewGuard(store Store, degraded bool, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, degraded: degraded, logger: logger}
}

// Degraded reports whether read failures are tolerated.
func (g *Guard) Degraded() bool { return g.degraded }

func (g *Guard) Get(ctx context.Context, key Key) (Record, bool, error) {
	rec, ok, err := g.store.Get(ctx, key)
	if err == nil {
		return rec, ok, nil
	}
	if errors.Is(err, context.Canceled) {
		return Record{}, false, err
	}
	if g.degraded {
		g.logger.Warn("checkpoint read failed, continuing without checkpoint",
			zap.String("endpoint", key.Endpoint),
			zap.String("fingerprint", key.Fingerprint),
			zap.Error(err))
		return Record{}, false, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Record{}, false, err
}

func (g *Guard) Put(ctx context.Context, key Key, u Update) error {
	if err := g.store.Put(ctx, key, u); err != nil {
		return err
	}
	metrics.CheckpointWrites.WithLabelValues(key.Endpoint).Inc()
	g.logger.Debug("checkpoint_put", zap.String("endpoint", key.Endpoint), zap.String("fingerprint", key.Fingerprint))
	return nil
}

func (g *Guard) Close() error { return g.store.Close() }
