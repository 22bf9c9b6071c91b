package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/database"
	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
	"nikarya-store/internal/payment/manual"
)

// ErrInvalidCharge is wrapped by every charge validation failure
var ErrInvalidCharge = errors.New("invalid charge")

// ConfigStore reads the active gateway configuration
type ConfigStore interface {
	GetActivePaymentConfig(ctx context.Context) (*models.PaymentGatewayConfig, error)
}

// ManualResolver lists the active manual transfer destinations
type ManualResolver interface {
	Resolve(ctx context.Context) ([]models.ManualPaymentMethod, error)
}

// Adapters builds the adapter for a configuration row
type Adapters interface {
	Build(cfg models.PaymentGatewayConfig) (payment.Gateway, error)
}

// Result is the provider-agnostic outcome of a payment initiation
type Result struct {
	Mode          models.PaymentMode           `json:"mode"`
	GatewayName   string                       `json:"gateway_name"`
	DisplayName   string                       `json:"display_name,omitempty"`
	RedirectURL   string                       `json:"redirect_url,omitempty"`
	TransactionID string                       `json:"transaction_id,omitempty"`
	PaymentCode   string                       `json:"payment_code,omitempty"`
	PaymentType   string                       `json:"payment_type,omitempty"`
	ExpiryTime    *time.Time                   `json:"expiry_time,omitempty"`
	ManualMethods []models.ManualPaymentMethod `json:"manual_methods"`
}

// Orchestrator picks the manual or gateway path and normalizes the outcome
type Orchestrator struct {
	configs  ConfigStore
	manual   ManualResolver
	adapters Adapters
	timeout  time.Duration
	log      *logrus.Logger
}

func New(configs ConfigStore, resolver ManualResolver, adapters Adapters, timeout time.Duration, log *logrus.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Orchestrator{configs: configs, manual: resolver, adapters: adapters, timeout: timeout, log: log}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidCharge, fmt.Sprintf(format, args...))
}

func validateCharge(req payment.ChargeRequest) error {
	if strings.TrimSpace(req.OrderRef) == "" {
		return invalid("order reference is required")
	}
	if len(req.Items) == 0 {
		return invalid("at least one item is required")
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return invalid("item %q has non-positive quantity", it.Name)
		}
	}
	if total := req.ItemsTotal(); total != req.GrossAmount {
		return invalid("gross amount %d does not equal item total %d", req.GrossAmount, total)
	}
	return nil
}

// ProcessPayment initiates payment for a charge. It never writes to the store.
// A missing configuration yields an empty manual result instead of an error.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req payment.ChargeRequest) (*Result, error) {
	if err := validateCharge(req); err != nil {
		return nil, err
	}

	cfg, err := o.configs.GetActivePaymentConfig(ctx)
	if errors.Is(err, database.ErrNotFound) {
		o.log.WithField("order_ref", req.OrderRef).Warn(payment.ErrConfigurationMissing.Error() + ", falling back to manual")
		return &Result{Mode: models.ModeManual, GatewayName: manual.Name, ManualMethods: []models.ManualPaymentMethod{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment config: %w", err)
	}

	if cfg.Mode == models.ModeManual || cfg.GatewayName == manual.Name {
		methods, err := o.manual.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{
			Mode:          models.ModeManual,
			GatewayName:   manual.Name,
			DisplayName:   cfg.DisplayName,
			ManualMethods: methods,
		}, nil
	}

	return o.charge(ctx, *cfg, req)
}

func (o *Orchestrator) charge(ctx context.Context, cfg models.PaymentGatewayConfig, req payment.ChargeRequest) (*Result, error) {
	if strings.TrimSpace(req.Customer.Email) == "" {
		return nil, invalid("customer email is required")
	}
	if req.GrossAmount <= 0 {
		return nil, invalid("gross amount must be positive")
	}

	gw, err := o.adapters.Build(cfg)
	if err != nil {
		return nil, &payment.GatewayError{Gateway: cfg.GatewayName, Message: "gateway not supported", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	entry := o.log.WithFields(logrus.Fields{"order_ref": req.OrderRef, "gateway": gw.Name()})
	resp, err := gw.Charge(ctx, req)
	if err != nil {
		var gwErr *payment.GatewayError
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			err = &payment.GatewayError{Gateway: gw.Name(), Message: "provider timeout", Err: err}
		} else if !errors.As(err, &gwErr) {
			err = &payment.GatewayError{Gateway: gw.Name(), Message: "provider request failed", Err: err}
		}
		entry.WithError(err).Error("payment initiation failed")
		return nil, err
	}

	result := &Result{Mode: models.ModeGateway, GatewayName: gw.Name(), DisplayName: cfg.DisplayName}
	switch r := resp.(type) {
	case *payment.RedirectResponse:
		result.RedirectURL = r.RedirectURL
		result.TransactionID = r.TransactionID
		result.ExpiryTime = r.ExpiryTime
	case *payment.DirectCodeResponse:
		result.TransactionID = r.TransactionID
		result.PaymentCode = r.PaymentCode
		result.PaymentType = r.PaymentType
		result.ExpiryTime = r.ExpiryTime
	default:
		return nil, &payment.GatewayError{Gateway: gw.Name(), Message: fmt.Sprintf("unexpected response %T", resp)}
	}

	entry.WithField("transaction_id", result.TransactionID).Info("payment initiated")
	return result, nil
}
