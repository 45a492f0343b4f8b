package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const DefaultSweepInterval = time.Hour

// Sweeper periodically deactivates expired sessions.
type Sweeper struct {
	Store    *Store
	Interval time.Duration
	Log      zerolog.Logger
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.Store.SweepExpired(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("session sweep failed")
		return 0, err
	}
	s.Log.Info().Int64("deactivated", n).Dur("elapsed", time.Since(start)).Msg("session sweep completed")
	return n, nil
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	_, _ = s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
