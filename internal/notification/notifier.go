package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/models"
	"nikarya-store/internal/notification/mailer"
	"nikarya-store/internal/notification/telegram"
	"nikarya-store/internal/notification/whatsapp"
	"nikarya-store/internal/payment/manual"
)

var (
	ErrThrottled   = errors.New("receipt recently sent")
	ErrNotEligible = errors.New("order is not eligible for a receipt")
)

// ThrottledError carries how long the caller must wait
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type WhatsAppSender interface {
	Send(ctx context.Context, phone, message string) error
}

type AdminMessenger interface {
	SendMessage(ctx context.Context, text string) error
}

type Pusher interface {
	SendToTopic(ctx context.Context, title, body string, data map[string]string) error
}

// Limiter is the shared expiring store guarding receipt resends
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	RetryAfter(ctx context.Context, key string) (time.Duration, error)
}

type OrderStore interface {
	GetOrdersByRef(ctx context.Context, orderRef string) ([]models.Order, error)
}

// Channels lists the configured outputs. Nil channels are skipped.
type Channels struct {
	Email    EmailSender
	WhatsApp WhatsAppSender
	Admin    AdminMessenger
	Push     Pusher
}

// Notifier fans order events out to buyers and administrators
type Notifier struct {
	store    OrderStore
	channels Channels
	limiter  Limiter
	baseURL  string
	log      *logrus.Logger
	wg       sync.WaitGroup
}

func New(store OrderStore, channels Channels, limiter Limiter, baseURL string, log *logrus.Logger) *Notifier {
	return &Notifier{
		store:    store,
		channels: channels,
		limiter:  limiter,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
	}
}

// OrderStatusChanged sends receipts and admin alerts when a group becomes PAID.
// Delivery runs in the background and never blocks the webhook.
func (n *Notifier) OrderStatusChanged(ctx context.Context, orderRef string, status models.PaymentStatus) {
	if status != models.PaymentPaid {
		return
	}
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverPaid(ctx, orderRef)
	}()
}

// ManualOrderPlaced alerts administrators about a transfer awaiting reconciliation
func (n *Notifier) ManualOrderPlaced(ctx context.Context, orders []models.Order, methods []models.ManualPaymentMethod) {
	if n.channels.Admin == nil || len(orders) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	text := telegram.ManualOrderMessage(orders, methods)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.channels.Admin.SendMessage(ctx, text); err != nil {
			n.log.WithError(err).WithField("order_ref", orders[0].OrderRef).Warn("Failed to send manual order alert")
		}
	}()
}

// Wait blocks until background deliveries finish
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliverPaid(ctx context.Context, orderRef string) {
	logger := n.log.WithField("order_ref", orderRef)

	orders, err := n.store.GetOrdersByRef(ctx, orderRef)
	if err != nil {
		logger.WithError(err).Error("Failed to load paid order for notifications")
		return
	}

	n.sendReceipt(ctx, orders)

	if n.channels.Admin != nil {
		if err := n.channels.Admin.SendMessage(ctx, telegram.PaidOrderMessage(orders)); err != nil {
			logger.WithError(err).Warn("Failed to send telegram alert")
		}
	}

	if n.channels.Push != nil {
		var total int64
		for _, o := range orders {
			total += o.TotalPrice
		}
		body := fmt.Sprintf("%s paid Rp %s", orderRef, manual.FormatRupiah(total))
		data := map[string]string{"order_ref": orderRef, "status": string(models.PaymentPaid)}
		if err := n.channels.Push.SendToTopic(ctx, "Order paid", body, data); err != nil {
			logger.WithError(err).Warn("Failed to send push notification")
		}
	}
}

func (n *Notifier) sendReceipt(ctx context.Context, orders []models.Order) {
	o := orders[0]
	logger := n.log.WithField("order_ref", o.OrderRef)

	if n.channels.Email != nil && o.CustomerEmail != "" {
		body := mailer.ReceiptHTML(orders, n.baseURL)
		if err := n.channels.Email.Send(ctx, o.CustomerEmail, mailer.ReceiptSubject(o.OrderRef), body); err != nil {
			logger.WithError(err).Warn("Failed to send email receipt")
		}
	}
	if n.channels.WhatsApp != nil && o.CustomerPhone != "" {
		if err := n.channels.WhatsApp.Send(ctx, o.CustomerPhone, whatsapp.ReceiptMessage(orders, n.baseURL)); err != nil {
			logger.WithError(err).Warn("Failed to send whatsapp receipt")
		}
	}
}

// ResendReceipt re-sends the buyer receipt of a PAID group. The email must
// match the order and each buyer is limited to one resend per throttle window.
func (n *Notifier) ResendReceipt(ctx context.Context, orderRef, email string) error {
	orders, err := n.store.GetOrdersByRef(ctx, orderRef)
	if err != nil {
		return err
	}
	o := orders[0]
	if o.PaymentStatus != models.PaymentPaid || !strings.EqualFold(strings.TrimSpace(email), o.CustomerEmail) {
		return ErrNotEligible
	}

	key := models.Identity{Email: o.CustomerEmail}.Key()
	if n.limiter != nil {
		ok, err := n.limiter.Allow(ctx, key)
		if err != nil {
			// shared store unavailable: fail open
			n.log.WithError(err).Warn("Receipt throttle unavailable")
		} else if !ok {
			wait, _ := n.limiter.RetryAfter(ctx, key)
			return &ThrottledError{RetryAfter: wait}
		}
	}

	n.sendReceipt(ctx, orders)
	n.log.WithField("order_ref", orderRef).Info("Receipt resent")
	return nil
}
