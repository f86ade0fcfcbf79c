package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/sahl-financial/sahl_api/internal/notification"
)

// Reaper closes sessions nobody has driven for longer than the idle threshold,
// such as logins abandoned before the code was submitted.
type Reaper struct {
	store    *Store
	interval time.Duration
	idle     time.Duration
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *Metrics
}

const defaultReaperInterval = time.Minute

// NewReaper builds a reaper ticking every interval.
func NewReaper(store *Store, interval, idle time.Duration, notifier notification.Notifier, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	return &Reaper{
		store:    store,
		interval: interval,
		idle:     idle,
		notifier: notifier,
		logger:   logger,
		metrics:  store.metrics,
	}
}

// Run ticks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one eviction pass and returns how many sessions it released.
// A session whose lock is held by an in-flight step is skipped this cycle.
func (r *Reaper) Tick(ctx context.Context) int {
	evicted := 0
	for _, identity := range r.store.ListIdle(r.idle) {
		s, ok := r.store.Lookup(identity)
		if !ok {
			continue
		}
		if !s.TryLock() {
			r.metrics.reaperSkipped()
			r.logger.Debug("scrape.reaper skipped busy session",
				slog.String("identity", identity),
				slog.String("session_id", s.id),
			)
			continue
		}
		// Re-check under the lock: a step may have finished since the listing.
		if r.store.now().Sub(s.LastActivity()) <= r.idle {
			s.Unlock()
			continue
		}
		phase := s.Phase()
		r.store.release(s, ReasonIdle)
		s.Unlock()
		evicted++

		if r.notifier != nil {
			msg := notification.Message{
				Kind:        notification.KindSessionEvicted,
				Destination: identity,
				Body:        "session closed after inactivity in phase " + string(phase),
			}
			if err := r.notifier.Send(ctx, msg); err != nil {
				r.logger.Warn("scrape.reaper notify failed", slog.String("identity", identity), slog.Any("error", err))
			}
		}
	}
	if evicted > 0 {
		r.logger.Info("scrape.reaper cycle", slog.Int("evicted", evicted), slog.Int("remaining", r.store.Len()))
	}
	return evicted
}
