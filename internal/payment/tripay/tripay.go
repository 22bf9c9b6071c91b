package tripay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// Name is the gateway_name of this provider
const Name = "tripay"

const (
	sandboxURL    = "https://tripay.co.id/api-sandbox/"
	productionURL = "https://tripay.co.id/api/"

	DefaultMethod = "QRIS"
)

var methodCodes = map[string]string{
	"bca":       "BCAVA",
	"bni":       "BNIVA",
	"bri":       "BRIVA",
	"mandiri":   "MANDIRIVA",
	"permata":   "PERMATAVA",
	"maybank":   "MYBVA",
	"cimb":      "CIMBVA",
	"qris":      "QRIS",
	"ovo":       "OVO",
	"dana":      "DANA",
	"shopeepay": "SHOPEEPAY",
	"alfamart":  "ALFAMART",
	"indomaret": "INDOMARET",
}

// Gateway is the closed-payment adapter. The row's APIKey is the bearer token
// and SecretKey the private key used for HMAC signing.
type Gateway struct {
	merchantCode string
	apiKey       string
	privateKey   string
	baseURL      string
	opts         payment.Options
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
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Gateway{
		merchantCode: cfg.MerchantCode,
		apiKey:       cfg.APIKey,
		privateKey:   cfg.SecretKey,
		baseURL:      base,
		opts:         opts,
	}
}

func (t *Gateway) Name() string { return Name }

// Sign computes hex HMAC-SHA256 of payload with the private key
func Sign(privateKey, payload string) string {
	h := hmac.New(sha256.New, []byte(privateKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Method maps a hint to a Tripay channel code; unknown hints pass through uppercased
func Method(hint string) string {
	if hint == "" {
		return DefaultMethod
	}
	h := payment.NormalizeHint(hint)
	if code, ok := methodCodes[strings.TrimSuffix(h, "va")]; ok {
		return code
	}
	return strings.ToUpper(h)
}

type orderItem struct {
	SKU      string `json:"sku,omitempty"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type createRequest struct {
	Method        string      `json:"method"`
	MerchantRef   string      `json:"merchant_ref"`
	Amount        int64       `json:"amount"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	OrderItems    []orderItem `json:"order_items"`
	CallbackURL   string      `json:"callback_url,omitempty"`
	ReturnURL     string      `json:"return_url,omitempty"`
	ExpiredTime   int64       `json:"expired_time"`
	Signature     string      `json:"signature"`
}

type createResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference     string `json:"reference"`
		PaymentMethod string `json:"payment_method"`
		CheckoutURL   string `json:"checkout_url"`
		PayCode       string `json:"pay_code"`
		QRString      string `json:"qr_string"`
		ExpiredTime   int64  `json:"expired_time"`
	} `json:"data"`
}

// Charge creates a closed transaction. Channels that issue a pay code or QR return it
// directly; others send the buyer to the hosted checkout page.
func (t *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Response, error) {
	expiresAt := time.Now().Add(time.Duration(t.opts.ExpiryMinutes()) * time.Minute)
	body := createRequest{
		Method:        Method(req.MethodHint),
		MerchantRef:   req.OrderRef,
		Amount:        req.GrossAmount,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CustomerPhone: req.Customer.Phone,
		CallbackURL:   t.opts.CallbackURL,
		ReturnURL:     t.opts.ReturnURL,
		ExpiredTime:   expiresAt.Unix(),
		Signature:     Sign(t.privateKey, t.merchantCode+req.OrderRef+strconv.FormatInt(req.GrossAmount, 10)),
	}
	for _, it := range req.Items {
		body.OrderItems = append(body.OrderItems, orderItem{
			SKU:      it.ID,
			Name:     payment.TruncateName(it.Name),
			Price:    it.Price,
			Quantity: it.Quantity,
		})
	}

	var out createResponse
	headers := map[string]string{"Authorization": "Bearer " + t.apiKey}
	if _, err := payment.PostJSON(ctx, t.opts.Client(), Name, t.baseURL+"transaction/create", headers, body, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "transaction rejected"
		}
		return nil, &payment.GatewayError{Gateway: Name, Message: msg}
	}

	if out.Data.ExpiredTime > 0 {
		expiresAt = time.Unix(out.Data.ExpiredTime, 0)
	}
	switch {
	case out.Data.PayCode != "":
		return &payment.DirectCodeResponse{
			TransactionID: out.Data.Reference,
			PaymentCode:   out.Data.PayCode,
			PaymentType:   out.Data.PaymentMethod,
			ExpiryTime:    &expiresAt,
		}, nil
	case out.Data.QRString != "":
		return &payment.DirectCodeResponse{
			TransactionID: out.Data.Reference,
			PaymentCode:   out.Data.QRString,
			PaymentType:   "qris",
			ExpiryTime:    &expiresAt,
		}, nil
	}
	if out.Data.CheckoutURL == "" {
		return nil, &payment.GatewayError{Gateway: Name, Message: "transaction returned no checkout url"}
	}
	return &payment.RedirectResponse{
		RedirectURL:   out.Data.CheckoutURL,
		TransactionID: out.Data.Reference,
		ExpiryTime:    &expiresAt,
	}, nil
}

// Callback is the payment_status callback body
type Callback struct {
	Reference     string      `json:"reference"`
	MerchantRef   string      `json:"merchant_ref"`
	PaymentMethod string      `json:"payment_method_code"`
	TotalAmount   json.Number `json:"total_amount"`
	Status        string      `json:"status"`
	PaidAt        int64       `json:"paid_at"`
}

// MapStatus converts a callback status
func MapStatus(status string) models.PaymentStatus {
	switch strings.ToUpper(status) {
	case "PAID":
		return models.PaymentPaid
	case "EXPIRED":
		return models.PaymentExpired
	case "FAILED", "REFUND":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

// ParseCallback verifies the X-Callback-Signature header over the raw body and maps it
func ParseCallback(body []byte, signature, privateKey string) (*payment.Notification, error) {
	if privateKey == "" || !payment.SignatureEqual(Sign(privateKey, string(body)), signature) {
		return nil, payment.ErrSignatureMismatch
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode tripay callback: %w", err)
	}
	if cb.MerchantRef == "" {
		return nil, fmt.Errorf("tripay callback: missing merchant_ref")
	}

	out := &payment.Notification{
		Gateway:       Name,
		OrderRef:      cb.MerchantRef,
		Status:        MapStatus(cb.Status),
		TransactionID: cb.Reference,
		PaymentType:   cb.PaymentMethod,
	}
	if out.Status == models.PaymentPaid {
		paidAt := time.Now().UTC()
		if cb.PaidAt > 0 {
			paidAt = time.Unix(cb.PaidAt, 0).UTC()
		}
		out.PaidAt = &paidAt
	}
	return out, nil
}
