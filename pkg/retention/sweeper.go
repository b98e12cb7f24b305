package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/metrics"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

const DefaultSchedule = "0 4 * * *"

// Sweeper periodically deletes dialogs nobody has touched for the retention
// window. Active dialogs are never removed.
type Sweeper struct {
	store    store.Store
	maxAge   time.Duration
	schedule string
	now      func() time.Time
}

// NewSweeper returns nil when retentionDays <= 0, meaning dialogs are kept
// forever.
func NewSweeper(st store.Store, retentionDays int, schedule string) (*Sweeper, error) {
	if retentionDays <= 0 {
		return nil, nil
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid retention schedule %q", schedule)
	}
	return &Sweeper{
		store:    st,
		maxAge:   time.Duration(retentionDays) * 24 * time.Hour,
		schedule: schedule,
		now:      time.Now,
	}, nil
}

// SweepOnce deletes inactive dialogs older than the retention window.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.SweepInactiveDialogs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.RetentionSweptTotal.Add(float64(n))
	logger.InfoCF("retention", "Swept inactive dialogs", map[string]any{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
	return n, nil
}

// Run sweeps on every schedule tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(s.schedule, s.now(), false)
		if err != nil {
			return fmt.Errorf("next retention tick: %w", err)
		}
		logger.DebugCF("retention", "Next sweep scheduled", map[string]any{
			"at": next.Format(time.RFC3339),
		})

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := s.SweepOnce(ctx); err != nil {
			logger.ErrorCF("retention", "Retention sweep failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
