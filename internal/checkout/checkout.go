package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nikarya-store/internal/database"
	"nikarya-store/internal/models"
	"nikarya-store/internal/orchestrator"
	"nikarya-store/internal/payment"
	"nikarya-store/internal/promo"
)

// ErrEmptyCart means no requested item resolved to an active product
var ErrEmptyCart = errors.New("cart has no purchasable products")

// PromoRejectedError carries the user-facing reason a promo was refused at checkout
type PromoRejectedError struct {
	Reason string
}

func (e *PromoRejectedError) Error() string { return "promo rejected: " + e.Reason }

// Promos is the promo engine surface checkout uses
type Promos interface {
	ResolveCart(ctx context.Context, items []promo.CartItem) ([]promo.Line, error)
	Validate(ctx context.Context, code string, items []promo.CartItem, id models.Identity) (*promo.Result, error)
	Lookup(ctx context.Context, code string) (*models.Promo, error)
}

// Payments initiates payment
type Payments interface {
	ProcessPayment(ctx context.Context, req payment.ChargeRequest) (*orchestrator.Result, error)
}

// Store persists order rows and the promo ledger
type Store interface {
	CreateOrders(ctx context.Context, orders []models.Order) error
	GetOrdersByRef(ctx context.Context, orderRef string) ([]models.Order, error)
	RecordPromoUsage(ctx context.Context, u *models.PromoUsage) error
}

// ManualListener is told about orders awaiting human reconciliation
type ManualListener interface {
	ManualOrderPlaced(ctx context.Context, orders []models.Order, methods []models.ManualPaymentMethod)
}

// Request is a validated checkout request
type Request struct {
	Items     []promo.CartItem
	Customer  payment.Customer
	UserID    *int64
	PromoCode string
	Method    string
}

// Result is returned to the buyer after a successful checkout
type Result struct {
	OrderRef string               `json:"order_ref"`
	Status   models.PaymentStatus `json:"status"`
	Payment  *orchestrator.Result `json:"payment"`
	Subtotal int64                `json:"subtotal"`
	Discount int64                `json:"discount"`
	Total    int64                `json:"total"`
}

// Service turns a cart into persisted, payable order rows
type Service struct {
	store    Store
	promos   Promos
	payments Payments
	manual   ManualListener
	log      *logrus.Logger
	now      func() time.Time
}

func NewService(store Store, promos Promos, payments Payments, manual ManualListener, log *logrus.Logger) *Service {
	return &Service{store: store, promos: promos, payments: payments, manual: manual, log: log, now: time.Now}
}

// NewOrderRef returns a grouping reference such as ORD-20240501-1A2B3C4D
func NewOrderRef(now time.Time) string {
	return "ORD-" + now.Format("20060102") + "-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// PlaceOrder prices the cart, applies the promo, initiates payment and only then
// writes one order row per product. Nothing is written if payment initiation fails.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (*Result, error) {
	identity := models.Identity{UserID: req.UserID, Email: req.Customer.Email}

	var lines []promo.Line
	var discount int64
	code := models.NormalizePromoCode(req.PromoCode)

	if code != "" {
		res, err := s.promos.Validate(ctx, code, req.Items, identity)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			if res.Message == promo.MsgNoProducts {
				return nil, ErrEmptyCart
			}
			return nil, &PromoRejectedError{Reason: res.Message}
		}
		lines = res.Lines
		discount = res.DiscountAmount
	} else {
		var err error
		lines, err = s.promos.ResolveCart(ctx, req.Items)
		if err != nil {
			return nil, err
		}
		for i := range lines {
			lines[i].Eligible = true
		}
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	var subtotal int64
	for _, l := range lines {
		subtotal += l.Total
	}
	total := subtotal - discount

	orderRef := NewOrderRef(s.now())
	charge := payment.ChargeRequest{
		OrderRef:    orderRef,
		GrossAmount: total,
		Customer:    req.Customer,
		MethodHint:  req.Method,
	}
	for _, l := range lines {
		charge.Items = append(charge.Items, payment.Item{
			ID:       strconv.FormatInt(l.Product.ID, 10),
			Name:     l.Product.Name,
			Price:    l.Product.Price,
			Quantity: l.Quantity,
		})
	}
	if discount > 0 {
		charge.Items = append(charge.Items, payment.Item{ID: "DISCOUNT", Name: "Discount " + code, Price: -discount, Quantity: 1})
	}

	entry := s.log.WithField("order_ref", orderRef)
	payResult, err := s.payments.ProcessPayment(ctx, charge)
	if err != nil {
		return nil, err
	}

	status := models.PaymentPending
	if payResult.Mode == models.ModeManual {
		status = models.PaymentPendingManual
	}

	shares := AllocateDiscount(lines, discount)
	orders := make([]models.Order, len(lines))
	for i, l := range lines {
		orders[i] = models.Order{
			OrderRef:        orderRef,
			UserID:          req.UserID,
			CustomerName:    req.Customer.Name,
			CustomerEmail:   req.Customer.Email,
			CustomerPhone:   req.Customer.Phone,
			ProductID:       l.Product.ID,
			ProductName:     l.Product.Name,
			Quantity:        l.Quantity,
			UnitPrice:       l.Product.Price,
			TotalPrice:      l.Total - shares[i],
			PaymentStatus:   status,
			GatewayName:     payResult.GatewayName,
			PaymentMethod:   req.Method,
			TransactionID:   payResult.TransactionID,
			PaymentCode:     payResult.PaymentCode,
			PaymentType:     payResult.PaymentType,
			PaymentDeadline: payResult.ExpiryTime,
			DiscountAmount:  shares[i],
			OriginalTotal:   l.Total,
		}
		if discount > 0 {
			orders[i].PromoCode = code
		}
	}

	if err := s.store.CreateOrders(ctx, orders); err != nil {
		entry.WithError(err).WithField("gateway", payResult.GatewayName).Error("payment initiated but order rows were not saved")
		return nil, fmt.Errorf("save orders: %w", err)
	}
	entry.WithFields(logrus.Fields{"gateway": payResult.GatewayName, "total": total, "promo_code": code}).Info("order placed")

	if status == models.PaymentPendingManual && s.manual != nil {
		s.manual.ManualOrderPlaced(ctx, orders, payResult.ManualMethods)
	}

	return &Result{
		OrderRef: orderRef,
		Status:   status,
		Payment:  payResult,
		Subtotal: subtotal,
		Discount: discount,
		Total:    total,
	}, nil
}

// AllocateDiscount spreads discount over the eligible lines in proportion to their
// totals. Shares are whole units and sum exactly to discount; the last eligible
// line takes the remainder.
func AllocateDiscount(lines []promo.Line, discount int64) []int64 {
	shares := make([]int64, len(lines))
	if discount <= 0 {
		return shares
	}

	var eligible int64
	last := -1
	for i, l := range lines {
		if l.Eligible {
			eligible += l.Total
			last = i
		}
	}
	if eligible <= 0 {
		return shares
	}

	d := decimal.NewFromInt(discount)
	base := decimal.NewFromInt(eligible)
	var given int64
	for i, l := range lines {
		if !l.Eligible || i == last {
			continue
		}
		shares[i] = d.Mul(decimal.NewFromInt(l.Total)).Div(base).Floor().IntPart()
		given += shares[i]
	}
	shares[last] = discount - given
	return shares
}

// Finalize records promo usage for a group that has just been paid. A group
// without a promo is a no-op; recording twice for one group is a no-op.
func (s *Service) Finalize(ctx context.Context, orderRef string) error {
	orders, err := s.store.GetOrdersByRef(ctx, orderRef)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}

	var code string
	var discount int64
	for _, o := range orders {
		if o.PromoCode != "" {
			code = o.PromoCode
		}
		discount += o.DiscountAmount
	}
	if code == "" {
		return nil
	}

	p, err := s.promos.Lookup(ctx, code)
	if err != nil {
		return fmt.Errorf("lookup promo %s: %w", code, err)
	}

	usage := &models.PromoUsage{
		PromoID:        p.ID,
		UserID:         orders[0].UserID,
		GuestEmail:     orders[0].CustomerEmail,
		OrderRef:       orderRef,
		DiscountAmount: discount,
	}
	err = s.store.RecordPromoUsage(ctx, usage)
	if errors.Is(err, database.ErrPromoQuotaExceeded) {
		s.log.WithFields(logrus.Fields{"order_ref": orderRef, "promo_code": code}).Warn("promo limit reached before payment confirmed; usage not recorded")
		return nil
	}
	return err
}
