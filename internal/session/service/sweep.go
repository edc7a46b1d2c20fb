package service

import (
	"context"
	"time"
)

// RunSweeper expires overdue sessions on a fixed interval until the context
// is cancelled. Lazy expiry on the request path covers sessions someone is
// looking at; the sweep covers abandoned ones so their groups get an EXPIRED
// broadcast without waiting for traffic.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	now := s.clock()
	due, err := s.sessions.ListExpiredActive(ctx, now)
	if err != nil {
		s.logger.WarnContext(ctx, "expiry sweep failed", "error", err)
		return
	}

	for _, session := range due {
		// expire tolerates races with lazy expiry on the request path.
		s.expire(ctx, session, now)
	}
	if len(due) > 0 {
		s.logger.InfoContext(ctx, "expired overdue sessions", "count", len(due))
	}
}
