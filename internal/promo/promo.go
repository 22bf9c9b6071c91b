package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nikarya-store/internal/database"
	"nikarya-store/internal/models"
)

// ErrPromoNotFound is returned by Lookup for an unknown code
var ErrPromoNotFound = errors.New("promo not found")

// User-facing reasons for a rejected promo
const (
	MsgNotFound        = "Promo code not found"
	MsgInactive        = "Promo code is not active"
	MsgNotStarted      = "Promo has not started yet"
	MsgEnded           = "Promo has ended"
	MsgQuotaExhausted  = "Promo usage limit has been reached"
	MsgUserLimit       = "You have already used this promo the maximum number of times"
	MsgIdentityNeeded  = "Sign in or enter your email to use this promo"
	MsgNoProducts      = "No valid products in cart"
	MsgNoQualifying    = "No qualifying items in cart for this promo"
	MsgApplied         = "Promo applied"
	minOrderMsgPattern = "Minimum order for this promo is %d"
)

// Store is the read-only data the engine needs
type Store interface {
	GetPromoByCode(ctx context.Context, code string) (*models.Promo, error)
	CountPromoUsage(ctx context.Context, promoID int64) (int, error)
	CountPromoUsageByIdentity(ctx context.Context, promoID int64, id models.Identity) (int, error)
	GetActiveProductsByIDs(ctx context.Context, ids []int64) (map[int64]models.Product, error)
}

// CartItem is one requested product
type CartItem struct {
	ProductID int64 `json:"id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// Line is a cart item resolved against live product data
type Line struct {
	Product  models.Product `json:"product"`
	Quantity int            `json:"quantity"`
	Total    int64          `json:"total"`
	Eligible bool           `json:"eligible"`
}

// Result is the outcome of a validation. An invalid promo is a Result with
// Valid=false and a Message, not an error.
type Result struct {
	Valid            bool                `json:"valid"`
	Message          string              `json:"message"`
	Code             string              `json:"code,omitempty"`
	PromoID          int64               `json:"promo_id,omitempty"`
	DiscountType     models.DiscountType `json:"discount_type,omitempty"`
	Subtotal         int64               `json:"subtotal"`
	EligibleSubtotal int64               `json:"eligible_subtotal"`
	DiscountAmount   int64               `json:"discount_amount"`
	FinalTotal       int64               `json:"final_total"`
	Lines            []Line              `json:"-"`
}

func rejected(msg string) *Result {
	return &Result{Valid: false, Message: msg}
}

// Engine validates promo codes against a cart. It never writes.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Lookup returns a promo by code regardless of its state
func (e *Engine) Lookup(ctx context.Context, code string) (*models.Promo, error) {
	p, err := e.store.GetPromoByCode(ctx, models.NormalizePromoCode(code))
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPromoNotFound
	}
	return p, err
}

// Validate runs the checks in order and stops at the first failure
func (e *Engine) Validate(ctx context.Context, code string, items []CartItem, id models.Identity) (*Result, error) {
	p, err := e.store.GetPromoByCode(ctx, models.NormalizePromoCode(code))
	if errors.Is(err, database.ErrNotFound) {
		return rejected(MsgNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load promo: %w", err)
	}

	if !p.IsActive {
		return rejected(MsgInactive), nil
	}

	now := e.now()
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return rejected(MsgNotStarted), nil
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return rejected(MsgEnded), nil
	}

	if p.GlobalUsageLimit != nil {
		used, err := e.store.CountPromoUsage(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("count promo usage: %w", err)
		}
		if used >= *p.GlobalUsageLimit {
			return rejected(MsgQuotaExhausted), nil
		}
	}

	if p.PerUserUsageLimit != nil {
		if id.UserID == nil && strings.TrimSpace(id.Email) == "" {
			return rejected(MsgIdentityNeeded), nil
		}
		used, err := e.store.CountPromoUsageByIdentity(ctx, p.ID, id)
		if err != nil {
			return nil, fmt.Errorf("count promo usage by identity: %w", err)
		}
		if used >= *p.PerUserUsageLimit {
			return rejected(MsgUserLimit), nil
		}
	}

	lines, err := e.ResolveCart(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return rejected(MsgNoProducts), nil
	}

	var subtotal, eligible int64
	for i := range lines {
		subtotal += lines[i].Total
	}
	eligible = markEligible(p, lines)
	if eligible <= 0 {
		return rejected(MsgNoQualifying), nil
	}

	// minimum order compares the full cart, not the eligible part
	if p.MinOrderAmount != nil && subtotal < *p.MinOrderAmount {
		return rejected(fmt.Sprintf(minOrderMsgPattern, *p.MinOrderAmount)), nil
	}

	discount := ComputeDiscount(p, eligible)
	final := subtotal - discount
	if final < 0 {
		final = 0
	}

	return &Result{
		Valid:            true,
		Message:          MsgApplied,
		Code:             p.Code,
		PromoID:          p.ID,
		DiscountType:     p.DiscountType,
		Subtotal:         subtotal,
		EligibleSubtotal: eligible,
		DiscountAmount:   discount,
		FinalTotal:       final,
		Lines:            lines,
	}, nil
}

// ResolveCart merges duplicate ids and prices items from active products.
// Unknown, inactive and non-positive quantity items are dropped.
func (e *Engine) ResolveCart(ctx context.Context, items []CartItem) ([]Line, error) {
	qty := make(map[int64]int)
	var order []int64
	for _, it := range items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			continue
		}
		if _, seen := qty[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	if len(order) == 0 {
		return nil, nil
	}

	products, err := e.store.GetActiveProductsByIDs(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	var lines []Line
	for _, id := range order {
		p, ok := products[id]
		if !ok {
			continue
		}
		lines = append(lines, Line{Product: p, Quantity: qty[id], Total: p.Price * int64(qty[id])})
	}
	return lines, nil
}

func markEligible(p *models.Promo, lines []Line) int64 {
	var eligible int64
	for i := range lines {
		l := &lines[i]
		switch p.Scope {
		case models.ScopeCategory:
			l.Eligible = p.ScopeRefID != nil && l.Product.CategoryID != nil && *l.Product.CategoryID == *p.ScopeRefID
		case models.ScopeProduct:
			l.Eligible = p.ScopeRefID != nil && l.Product.ID == *p.ScopeRefID
		default:
			l.Eligible = true
		}
		if l.Eligible {
			eligible += l.Total
		}
	}
	return eligible
}

// ComputeDiscount returns the discount in whole currency units for an eligible subtotal.
// The result is never negative and never exceeds eligible.
func ComputeDiscount(p *models.Promo, eligible int64) int64 {
	if eligible <= 0 || p.DiscountValue.Sign() <= 0 {
		return 0
	}
	base := decimal.NewFromInt(eligible)

	var d decimal.Decimal
	switch p.DiscountType {
	case models.DiscountFixed:
		d = decimal.Min(p.DiscountValue, base)
	case models.DiscountPercentage:
		d = base.Mul(p.DiscountValue).Div(decimal.NewFromInt(100))
		if p.MaxDiscountCap != nil {
			d = decimal.Min(d, decimal.NewFromInt(*p.MaxDiscountCap))
		}
	default:
		return 0
	}

	d = decimal.Min(d, base).Round(0)
	if d.Sign() < 0 {
		return 0
	}
	return d.IntPart()
}
