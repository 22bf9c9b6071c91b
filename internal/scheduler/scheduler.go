package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/callback"
	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// Gateway is the notification source name used for sweeper-driven transitions
const Gateway = "scheduler"

const batchSize = 200

type OverdueStore interface {
	ListOverdueOrderRefs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type StateMachine interface {
	Apply(ctx context.Context, n payment.Notification) (callback.Outcome, error)
}

// Scheduler expires unpaid order groups whose payment window has long passed.
// Some providers never send an expiry notification, so without it those groups
// would stay PENDING forever.
type Scheduler struct {
	store    OverdueStore
	orders   StateMachine
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	log      *logrus.Logger
}

// New creates a new Scheduler
func New(store OverdueStore, orders StateMachine, interval, grace time.Duration, log *logrus.Logger) *Scheduler {
	return &Scheduler{store: store, orders: orders, interval: interval, grace: grace, now: time.Now, log: log}
}

// Start runs the sweep every interval until ctx is done. A zero interval disables it.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("Expiry sweeper disabled")
		return
	}

	s.log.WithField("interval", s.interval).Info("✓ Expiry sweeper started")
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.log.WithError(err).Error("[SCHEDULER] Expiry sweep failed")
				}
			}
		}
	}()
}

// RunOnce expires every overdue group and returns how many transitioned
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace)
	refs, err := s.store.ListOverdueOrderRefs(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, ref := range refs {
		outcome, err := s.orders.Apply(ctx, payment.Notification{
			Gateway:  Gateway,
			OrderRef: ref,
			Status:   models.PaymentExpired,
		})
		if err != nil {
			s.log.WithError(err).WithField("order_ref", ref).Warn("[SCHEDULER] Failed to expire order")
			continue
		}
		if outcome == callback.OutcomeApplied {
			expired++
		}
	}

	if expired > 0 {
		s.log.WithField("count", expired).Info("[SCHEDULER] Expired overdue orders")
	}
	return expired, nil
}
