package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often Sweeper runs when no interval is given.
const DefaultSweepInterval = 5 * time.Minute

// SweepResult counts the sessions removed by one sweep.
type SweepResult struct {
	Expired int64 `json:"expired"`
	Used    int64 `json:"used"`
}

// Sweep removes expired sessions, then used ones.
func Sweep(ctx context.Context, store Store) (SweepResult, error) {
	var res SweepResult
	var err error
	if res.Expired, err = store.CleanupExpired(ctx); err != nil {
		return res, err
	}
	if res.Used, err = store.CleanupUsed(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Sweeper runs Sweep on a ticker until its context is cancelled.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(store Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run blocks until ctx is done. Sweep errors are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("oauth session sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("oauth session sweeper stopped")
			return nil
		case <-ticker.C:
			res, err := Sweep(ctx, s.store)
			if err != nil {
				s.logger.Warn("oauth session sweep failed", zap.Error(err))
				continue
			}
			if res.Expired > 0 || res.Used > 0 {
				s.logger.Debug("oauth sessions swept",
					zap.Int64("expired", res.Expired),
					zap.Int64("used", res.Used),
				)
			}
		}
	}
}
