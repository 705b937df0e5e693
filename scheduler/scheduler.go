// Package scheduler renews the credential on a fixed cadence, independent of
// request traffic.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/credential"
)

// DefaultInterval is the renewal cadence when none is configured.
const DefaultInterval = 30 * time.Minute

// Renewer is the part of credential.Store the scheduler needs.
type Renewer interface {
	Get() credential.Credential
	Renew(ctx context.Context, stale credential.Credential, fn credential.RenewFunc) (credential.Credential, error)
}

// Scheduler periodically renews the credential held by a store.
type Scheduler struct {
	store    Renewer
	renew    credential.RenewFunc
	interval time.Duration
	logger   *zap.Logger

	// OnTick, if set, is called after every tick with its outcome.
	OnTick func(err error)

	ticks    atomic.Int64
	failures atomic.Int64
}

// New returns a Scheduler. A non-positive interval uses DefaultInterval.
func New(store Renewer, renew credential.RenewFunc, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:    store,
		renew:    renew,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is done. The first renewal happens one interval after
// start, since the credential was just primed. A failed tick is logged and
// the loop keeps going; the next tick or an on-demand renewal retries.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("refresh scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh scheduler stopped",
				zap.Int64("ticks", s.ticks.Load()),
				zap.Int64("failures", s.failures.Load()),
			)
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.ticks.Add(1)

	c, err := s.store.Renew(ctx, s.store.Get(), s.renew)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("scheduled credential renewal failed", zap.Error(err))
	} else {
		s.logger.Info("scheduled credential renewal succeeded",
			zap.Time("access_expires_at", time.Unix(c.AccessExpiresAt, 0)),
		)
	}

	if s.OnTick != nil {
		s.OnTick(err)
	}
}

// Stats returns the number of ticks run and how many failed.
func (s *Scheduler) Stats() (ticks, failures int64) {
	return s.ticks.Load(), s.failures.Load()
}
