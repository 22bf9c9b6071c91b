package callback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/database"
	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// ErrOrderNotFound means the notification names an order reference with no rows
var ErrOrderNotFound = errors.New("order not found")

// Outcome describes what a notification did to its order group
type Outcome string

const (
	// OutcomeApplied moved the group to a new status
	OutcomeApplied Outcome = "applied"
	// OutcomeRepeated re-assigned the status the group already had
	OutcomeRepeated Outcome = "repeated"
	// OutcomeIgnoredPending was a pending notification, which never changes status
	OutcomeIgnoredPending Outcome = "ignored_pending"
	// OutcomeStale arrived after the group reached a different terminal status
	OutcomeStale Outcome = "stale"
)

// Decide is the order status state machine. Terminal statuses never change,
// a repeated target is re-applied as plain assignment, pending is a no-op.
func Decide(current, target models.PaymentStatus) Outcome {
	switch {
	case target == models.PaymentPending:
		return OutcomeIgnoredPending
	case current == target:
		return OutcomeRepeated
	case current.IsTerminal():
		return OutcomeStale
	default:
		return OutcomeApplied
	}
}

// Store is the persistence the state machine needs
type Store interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	GetOrderGroupStatus(ctx context.Context, tx *sql.Tx, orderRef string) (models.PaymentStatus, error)
	UpdateOrderGroupStatus(ctx context.Context, tx *sql.Tx, orderRef string, upd database.OrderStatusUpdate) (int64, error)
}

// Finalizer runs once when a group first becomes PAID
type Finalizer interface {
	Finalize(ctx context.Context, orderRef string) error
}

// Listener observes every applied transition
type Listener interface {
	OrderStatusChanged(ctx context.Context, orderRef string, status models.PaymentStatus)
}

// Processor applies verified provider notifications to order groups
type Processor struct {
	store     Store
	finalizer Finalizer
	listeners []Listener
	log       *logrus.Logger
}

func NewProcessor(store Store, finalizer Finalizer, log *logrus.Logger, listeners ...Listener) *Processor {
	return &Processor{store: store, finalizer: finalizer, listeners: listeners, log: log}
}

// Apply updates every row of the notification's order group in one transaction.
// The read of the current status and the write share the transaction, so two
// deliveries of the same group are serialized by the store's write lock.
func (p *Processor) Apply(ctx context.Context, n payment.Notification) (Outcome, error) {
	entry := p.log.WithFields(logrus.Fields{"order_ref": n.OrderRef, "gateway": n.Gateway, "status": n.Status})

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	current, err := p.store.GetOrderGroupStatus(ctx, tx, n.OrderRef)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read order status: %w", err)
	}

	outcome := Decide(current, n.Status)
	if outcome == OutcomeIgnoredPending || outcome == OutcomeStale {
		entry.WithField("current", current).Info("notification left order unchanged: " + string(outcome))
		return outcome, nil
	}

	rows, err := p.store.UpdateOrderGroupStatus(ctx, tx, n.OrderRef, database.OrderStatusUpdate{
		Status:        n.Status,
		TransactionID: n.TransactionID,
		PaymentType:   n.PaymentType,
		PaidAt:        n.PaidAt,
	})
	if err != nil {
		return "", fmt.Errorf("update order group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit order update: %w", err)
	}

	if outcome == OutcomeRepeated {
		entry.Debug("duplicate notification re-applied")
		return outcome, nil
	}

	entry.WithFields(logrus.Fields{"from": current, "rows": rows}).Info("order status updated")

	if n.Status == models.PaymentPaid && p.finalizer != nil {
		if err := p.finalizer.Finalize(ctx, n.OrderRef); err != nil {
			entry.WithError(err).Error("order finalization failed")
		}
	}
	for _, l := range p.listeners {
		l.OrderStatusChanged(ctx, n.OrderRef, n.Status)
	}
	return outcome, nil
}
