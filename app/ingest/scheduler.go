package ingest

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler triggers runs on a cron spec. Overlapping ticks are skipped.
type Scheduler struct {
	Cron   *cron.Cron
	Spec   string
	Logger *zap.Logger
}

// NewScheduler registers job on a standard five-field spec.
func NewScheduler(ctx context.Context, spec string, logger *zap.Logger, job func(ctx context.Context) error) (*Scheduler, error) {
	cl := cronLogger{l: logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(spec, func() {
		if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{Cron: c, Spec: spec, Logger: logger}, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("Cron started", zap.String("cronSpec", s.Spec))
}

// Stop stops the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.Cron != nil {
		<-s.Cron.Stop().Done()
	}
}
