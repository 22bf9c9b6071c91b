package midtrans

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// Name is the gateway_name of this provider
const Name = "midtrans"

const (
	sandboxURL    = "https://app.sandbox.midtrans.com"
	productionURL = "https://app.midtrans.com"
)

// Snap enabled_payments codes keyed by normalized hint
var channelCodes = map[string]string{
	"bca":        "bca_va",
	"bcava":      "bca_va",
	"bni":        "bni_va",
	"bniva":      "bni_va",
	"bri":        "bri_va",
	"briva":      "bri_va",
	"permata":    "permata_va",
	"permatava":  "permata_va",
	"mandiri":    "echannel",
	"mandiriva":  "echannel",
	"echannel":   "echannel",
	"cimb":       "cimb_va",
	"cimbva":     "cimb_va",
	"qris":       "other_qris",
	"gopay":      "gopay",
	"shopeepay":  "shopeepay",
	"creditcard": "credit_card",
	"card":       "credit_card",
	"indomaret":  "indomaret",
	"alfamart":   "alfamart",
}

// Gateway is the hosted Snap checkout adapter
type Gateway struct {
	serverKey string
	baseURL   string
	opts      payment.Options
}

// New is a payment.Factory
func New(cfg models.PaymentGatewayConfig, opts payment.Options) payment.Gateway {
	base := opts.BaseURL
	if base == "" {
		base = sandboxURL
		if cfg.IsProduction {
			base = productionURL
		}
	}
	return &Gateway{serverKey: cfg.SecretKey, baseURL: strings.TrimRight(base, "/"), opts: opts}
}

func (g *Gateway) Name() string { return Name }

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type itemDetail struct {
	ID       string `json:"id,omitempty"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type customerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type expiry struct {
	Unit     string `json:"unit"`
	Duration int    `json:"duration"`
}

type snapRequest struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	ItemDetails        []itemDetail       `json:"item_details"`
	CustomerDetails    customerDetails    `json:"customer_details"`
	EnabledPayments    []string           `json:"enabled_payments,omitempty"`
	Callbacks          map[string]string  `json:"callbacks,omitempty"`
	Expiry             expiry             `json:"expiry"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

// EnabledPayment maps a method hint to a Snap channel code. Unknown hints pass through lowercased.
func EnabledPayment(hint string) string {
	if hint == "" {
		return ""
	}
	if code, ok := channelCodes[payment.NormalizeHint(hint)]; ok {
		return code
	}
	return strings.ToLower(strings.TrimSpace(hint))
}

// Charge creates a Snap transaction and returns its redirect URL
func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Response, error) {
	body := snapRequest{
		TransactionDetails: transactionDetails{OrderID: req.OrderRef, GrossAmount: req.GrossAmount},
		CustomerDetails: customerDetails{
			FirstName: req.Customer.Name,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
		},
		Expiry: expiry{Unit: "minutes", Duration: g.opts.ExpiryMinutes()},
	}
	for _, it := range req.Items {
		body.ItemDetails = append(body.ItemDetails, itemDetail{
			ID:       it.ID,
			Price:    it.Price,
			Quantity: it.Quantity,
			Name:     payment.TruncateName(it.Name),
		})
	}
	if code := EnabledPayment(req.MethodHint); code != "" {
		body.EnabledPayments = []string{code}
	}
	if g.opts.ReturnURL != "" {
		body.Callbacks = map[string]string{"finish": g.opts.ReturnURL}
	}

	var out snapResponse
	headers := map[string]string{"Authorization": basicAuth(g.serverKey)}
	status, err := payment.PostJSON(ctx, g.opts.Client(), Name, g.baseURL+"/snap/v1/transactions", headers, body, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK || out.RedirectURL == "" {
		msg := "transaction rejected"
		if len(out.ErrorMessages) > 0 {
			msg = strings.Join(out.ErrorMessages, "; ")
		}
		return nil, &payment.GatewayError{Gateway: Name, Message: msg}
	}

	expiresAt := time.Now().Add(time.Duration(g.opts.ExpiryMinutes()) * time.Minute)
	return &payment.RedirectResponse{
		RedirectURL:   out.RedirectURL,
		TransactionID: out.Token,
		ExpiryTime:    &expiresAt,
	}, nil
}
