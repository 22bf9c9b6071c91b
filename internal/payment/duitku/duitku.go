package duitku

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// Name is the gateway_name of this provider
const Name = "duitku"

const (
	sandboxURL    = "https://sandbox.duitku.com"
	productionURL = "https://passport.duitku.com"

	// DefaultMethod is used when the buyer gave no hint (QRIS)
	DefaultMethod = "SP"
)

var methodCodes = map[string]string{
	"bca":       "BC",
	"bcava":     "BC",
	"mandiri":   "M2",
	"mandiriva": "M2",
	"bni":       "I1",
	"bniva":     "I1",
	"bri":       "BR",
	"briva":     "BR",
	"permata":   "BT",
	"permatava": "BT",
	"cimb":      "B1",
	"cimbva":    "B1",
	"maybank":   "VA",
	"qris":      "SP",
	"ovo":       "OV",
	"dana":      "DA",
	"shopeepay": "SA",
	"linkaja":   "LA",
	"alfamart":  "FT",
	"indomaret": "IR",
}

// Gateway is the server-side virtual account / QRIS adapter
type Gateway struct {
	merchantCode string
	apiKey       string
	baseURL      string
	opts         payment.Options
}

// New is a payment.Factory. The row's SecretKey holds the Duitku API key.
func New(cfg models.PaymentGatewayConfig, opts payment.Options) payment.Gateway {
	base := opts.BaseURL
	if base == "" {
		base = sandboxURL
		if cfg.IsProduction {
			base = productionURL
		}
	}
	return &Gateway{
		merchantCode: cfg.MerchantCode,
		apiKey:       cfg.SecretKey,
		baseURL:      strings.TrimRight(base, "/"),
		opts:         opts,
	}
}

func (g *Gateway) Name() string { return Name }

// PaymentMethod maps a hint to a Duitku channel code. Two-letter codes pass through.
func PaymentMethod(hint string) string {
	if hint == "" {
		return DefaultMethod
	}
	if code, ok := methodCodes[payment.NormalizeHint(hint)]; ok {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(hint))
}

// RequestSignature is MD5(merchantCode + merchantOrderId + paymentAmount + apiKey)
func RequestSignature(merchantCode, orderRef string, amount int64, apiKey string) string {
	sum := md5.Sum([]byte(merchantCode + orderRef + strconv.FormatInt(amount, 10) + apiKey))
	return hex.EncodeToString(sum[:])
}

type itemDetail struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type inquiryRequest struct {
	MerchantCode    string       `json:"merchantCode"`
	PaymentAmount   int64        `json:"paymentAmount"`
	PaymentMethod   string       `json:"paymentMethod"`
	MerchantOrderID string       `json:"merchantOrderId"`
	ProductDetails  string       `json:"productDetails"`
	Email           string       `json:"email"`
	PhoneNumber     string       `json:"phoneNumber,omitempty"`
	CustomerVaName  string       `json:"customerVaName"`
	ItemDetails     []itemDetail `json:"itemDetails"`
	CallbackURL     string       `json:"callbackUrl"`
	ReturnURL       string       `json:"returnUrl"`
	ExpiryPeriod    int          `json:"expiryPeriod"`
	Signature       string       `json:"signature"`
}

type inquiryResponse struct {
	MerchantCode  string `json:"merchantCode"`
	Reference     string `json:"reference"`
	PaymentURL    string `json:"paymentUrl"`
	VANumber      string `json:"vaNumber"`
	QRString      string `json:"qrString"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	Message       string `json:"Message"`
}

// Charge runs a v2 inquiry and returns the VA number or QR string when the channel issues one
func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Response, error) {
	method := PaymentMethod(req.MethodHint)
	body := inquiryRequest{
		MerchantCode:    g.merchantCode,
		PaymentAmount:   req.GrossAmount,
		PaymentMethod:   method,
		MerchantOrderID: req.OrderRef,
		ProductDetails:  payment.TruncateName("Order " + req.OrderRef),
		Email:           req.Customer.Email,
		PhoneNumber:     req.Customer.Phone,
		CustomerVaName:  payment.TruncateName(req.Customer.Name),
		CallbackURL:     g.opts.CallbackURL,
		ReturnURL:       g.opts.ReturnURL,
		ExpiryPeriod:    g.opts.ExpiryMinutes(),
		Signature:       RequestSignature(g.merchantCode, req.OrderRef, req.GrossAmount, g.apiKey),
	}
	// itemDetails carry line totals and must sum to paymentAmount
	for _, it := range req.Items {
		body.ItemDetails = append(body.ItemDetails, itemDetail{
			Name:     payment.TruncateName(it.Name),
			Price:    it.Price * int64(it.Quantity),
			Quantity: it.Quantity,
		})
	}

	var out inquiryResponse
	_, err := payment.PostJSON(ctx, g.opts.Client(), Name, g.baseURL+"/webapi/api/merchant/v2/inquiry", nil, body, &out)
	if err != nil {
		return nil, err
	}
	if out.StatusCode != "00" {
		msg := out.StatusMessage
		if msg == "" {
			msg = out.Message
		}
		if msg == "" {
			msg = "inquiry rejected"
		}
		return nil, &payment.GatewayError{Gateway: Name, Message: msg}
	}

	expiresAt := time.Now().Add(time.Duration(g.opts.ExpiryMinutes()) * time.Minute)
	switch {
	case out.VANumber != "":
		return &payment.DirectCodeResponse{
			TransactionID: out.Reference,
			PaymentCode:   out.VANumber,
			PaymentType:   "virtual_account:" + method,
			ExpiryTime:    &expiresAt,
		}, nil
	case out.QRString != "":
		return &payment.DirectCodeResponse{
			TransactionID: out.Reference,
			PaymentCode:   out.QRString,
			PaymentType:   "qris",
			ExpiryTime:    &expiresAt,
		}, nil
	case out.PaymentURL != "":
		return &payment.RedirectResponse{
			RedirectURL:   out.PaymentURL,
			TransactionID: out.Reference,
			ExpiryTime:    &expiresAt,
		}, nil
	}
	return nil, &payment.GatewayError{Gateway: Name, Message: "inquiry returned no payment instructions"}
}
