package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"nikarya-store/internal/models"
)

var (
	// ErrSignatureMismatch means an inbound notification failed authentication
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrConfigurationMissing means no active gateway or manual configuration exists
	ErrConfigurationMissing = errors.New("payment configuration missing")
	// ErrUnknownGateway means the configured gateway name has no registered adapter
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// GatewayError is a provider call that failed, timed out or was rejected
type GatewayError struct {
	Gateway string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Gateway, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Gateway, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// MaxItemNameLength is the item name limit shared by the supported providers
const MaxItemNameLength = 50

// Customer holds buyer contact data sent to providers
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Item is one charged line. Price may be negative for a discount line.
type Item struct {
	ID       string
	Name     string
	Price    int64
	Quantity int
}

// ChargeRequest is the provider-agnostic transaction request
type ChargeRequest struct {
	OrderRef    string
	GrossAmount int64
	Items       []Item
	Customer    Customer
	MethodHint  string
}

// ItemsTotal sums price × quantity over all items
func (r ChargeRequest) ItemsTotal() int64 {
	var total int64
	for _, it := range r.Items {
		total += it.Price * int64(it.Quantity)
	}
	return total
}

// Response is the closed set of normalized provider answers:
// *RedirectResponse or *DirectCodeResponse.
type Response interface {
	gatewayResponse()
}

// RedirectResponse sends the buyer to a provider-hosted checkout page
type RedirectResponse struct {
	RedirectURL   string
	TransactionID string
	ExpiryTime    *time.Time
}

// DirectCodeResponse carries a code the buyer pays against directly (VA number, QR string)
type DirectCodeResponse struct {
	TransactionID string
	PaymentCode   string
	PaymentType   string
	ExpiryTime    *time.Time
}

func (*RedirectResponse) gatewayResponse()   {}
func (*DirectCodeResponse) gatewayResponse() {}

// Gateway is implemented once per payment provider
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (Response, error)
}

// Notification is a verified provider callback mapped to internal terms
type Notification struct {
	Gateway       string
	OrderRef      string
	Status        models.PaymentStatus
	TransactionID string
	PaymentType   string
	PaidAt        *time.Time
}

// TruncateName shortens s to at most MaxItemNameLength runes
func TruncateName(s string) string {
	if utf8.RuneCountInString(s) <= MaxItemNameLength {
		return s
	}
	r := []rune(s)
	return string(r[:MaxItemNameLength])
}

// SignatureEqual compares two hex signatures in constant time, ignoring case
func SignatureEqual(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(got)))) == 1
}

// NormalizeHint lowercases a method hint and strips separators so "BCA-VA" and "bca_va" match
func NormalizeHint(hint string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(h)
}

// Options are process-level settings shared by every adapter
type Options struct {
	BaseURL     string // overrides the provider endpoint (sandbox/production choice)
	HTTPClient  *http.Client
	CallbackURL string
	ReturnURL   string
	Expiry      time.Duration
}

func (o Options) Client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// ExpiryMinutes returns the payment window, defaulting to one day
func (o Options) ExpiryMinutes() int {
	if o.Expiry <= 0 {
		return 24 * 60
	}
	return int(o.Expiry / time.Minute)
}

// Factory builds an adapter from the provider's configuration row
type Factory func(cfg models.PaymentGatewayConfig, opts Options) Gateway

// Registry maps a configured gateway name to its adapter factory
type Registry struct {
	factories map[string]Factory
	options   map[string]Options
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, options: map[string]Options{}}
}

// Register adds a provider; opts apply to every adapter built for it
func (r *Registry) Register(name string, f Factory, opts Options) {
	key := strings.ToLower(name)
	r.factories[key] = f
	r.options[key] = opts
}

// Build returns the adapter for cfg.GatewayName
func (r *Registry) Build(cfg models.PaymentGatewayConfig) (Gateway, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.GatewayName))
	f, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, cfg.GatewayName)
	}
	return f(cfg, r.options[key]), nil
}

// Has reports whether a provider is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[strings.ToLower(name)]
	return ok
}
