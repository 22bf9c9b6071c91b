package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the payment state shared by every row of an order group
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentPendingManual PaymentStatus = "PENDING_MANUAL"
	PaymentPaid          PaymentStatus = "PAID"
	PaymentFailed        PaymentStatus = "FAILED"
	PaymentExpired       PaymentStatus = "EXPIRED"
)

// IsTerminal reports whether no further provider notification may change the status
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentPaid, PaymentFailed, PaymentExpired:
		return true
	}
	return false
}

// Order is one purchased line item. Rows created by the same checkout share OrderRef.
type Order struct {
	ID            int64         `json:"id"`
	OrderRef      string        `json:"orderRef"`
	UserID        *int64        `json:"userId,omitempty"`
	CustomerName  string        `json:"customerName"`
	CustomerEmail string        `json:"customerEmail"`
	CustomerPhone string        `json:"customerPhone"`
	ProductID     int64         `json:"productId"`
	ProductName   string        `json:"productName"`
	Quantity      int           `json:"quantity"`
	UnitPrice     int64         `json:"unitPrice"`
	TotalPrice    int64         `json:"totalPrice"` // after discount
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	// Payment metadata
	GatewayName     string     `json:"gatewayName"`
	PaymentMethod   string     `json:"paymentMethod,omitempty"`
	TransactionID   string     `json:"transactionId,omitempty"`
	PaymentCode     string     `json:"paymentCode,omitempty"` // VA number or QR string
	PaymentType     string     `json:"paymentType,omitempty"`
	PaymentDeadline *time.Time `json:"paymentDeadline,omitempty"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	// Discount
	PromoCode      string `json:"promoCode,omitempty"`
	DiscountAmount int64  `json:"discountAmount"`
	OriginalTotal  int64  `json:"originalTotal"`

	DownloadCount int       `json:"downloadCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PaymentMode selects between automated gateways and manual transfer
type PaymentMode string

const (
	ModeGateway PaymentMode = "gateway"
	ModeManual  PaymentMode = "manual"
)

// PaymentGatewayConfig holds credentials for one provider. Exactly one row is active.
type PaymentGatewayConfig struct {
	ID           int64       `json:"id"`
	GatewayName  string      `json:"gatewayName"` // midtrans, duitku, tripay, manual
	DisplayName  string      `json:"displayName"`
	MerchantCode string      `json:"merchantCode,omitempty"`
	APIKey       string      `json:"-"`
	SecretKey    string      `json:"-"` // server key, api key or private key depending on provider
	Mode         PaymentMode `json:"mode"`
	IsProduction bool        `json:"isProduction"`
	IsActive     bool        `json:"isActive"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// ManualPaymentMethod is an administrator-defined transfer destination
type ManualPaymentMethod struct {
	ID            int64  `json:"id"`
	ProviderName  string `json:"providerName"` // e.g. BCA, DANA
	Type          string `json:"type"`         // bank, ewallet
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	Instructions  string `json:"instructions,omitempty"`
	IsActive      bool   `json:"isActive"`
	SortOrder     int    `json:"sortOrder"`
}

// DiscountType is how a promo reduces the eligible subtotal
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoScope restricts which cart items are eligible
type PromoScope string

const (
	ScopeAll      PromoScope = "all"
	ScopeCategory PromoScope = "category"
	ScopeProduct  PromoScope = "product"
)

// Promo represents a discount code
type Promo struct {
	ID                int64           `json:"id"`
	Code              string          `json:"code"`
	Description       string          `json:"description,omitempty"`
	DiscountType      DiscountType    `json:"discountType"`
	DiscountValue     decimal.Decimal `json:"discountValue"`
	MaxDiscountCap    *int64          `json:"maxDiscountCap,omitempty"` // percentage only
	MinOrderAmount    *int64          `json:"minOrderAmount,omitempty"`
	StartDate         *time.Time      `json:"startDate,omitempty"`
	EndDate           *time.Time      `json:"endDate,omitempty"`
	GlobalUsageLimit  *int            `json:"globalUsageLimit,omitempty"`
	PerUserUsageLimit *int            `json:"perUserUsageLimit,omitempty"`
	Scope             PromoScope      `json:"scope"`
	ScopeRefID        *int64          `json:"scopeRefId,omitempty"`
	IsActive          bool            `json:"isActive"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// NormalizePromoCode returns the canonical lookup form of a code
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PromoUsage is an append-only ledger row of a confirmed promo application
type PromoUsage struct {
	ID             int64     `json:"id"`
	PromoID        int64     `json:"promoId"`
	UserID         *int64    `json:"userId,omitempty"`
	GuestEmail     string    `json:"guestEmail,omitempty"`
	OrderRef       string    `json:"orderRef"`
	DiscountAmount int64     `json:"discountAmount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Identity identifies a buyer for quota purposes: user id when authenticated, else guest email
type Identity struct {
	UserID *int64
	Email  string
}

// Key returns a stable string form, used for throttling
func (i Identity) Key() string {
	if i.UserID != nil {
		return "user:" + strconv.FormatInt(*i.UserID, 10)
	}
	return "email:" + strings.ToLower(strings.TrimSpace(i.Email))
}

// Product is read-only to the payment core
type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	CategoryID *int64    `json:"categoryId,omitempty"`
	IsActive   bool      `json:"isActive"`
	FileURL    string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}
