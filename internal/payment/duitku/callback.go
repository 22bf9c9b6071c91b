package duitku

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// Callback is the merchant callback body. Duitku posts it form-encoded;
// JSON bodies with the same field names are accepted too.
type Callback struct {
	MerchantCode    string      `json:"merchantCode"`
	Amount          json.Number `json:"amount"`
	MerchantOrderID string      `json:"merchantOrderId"`
	ResultCode      string      `json:"resultCode"`
	Signature       string      `json:"signature"`
	Reference       string      `json:"reference"`
	PaymentCode     string      `json:"paymentCode"`
	SettlementDate  string      `json:"settlementDate"`
}

// CallbackSignature is MD5(merchantCode + amount + merchantOrderId + apiKey)
func CallbackSignature(merchantCode, amount, orderRef, apiKey string) string {
	sum := md5.Sum([]byte(merchantCode + amount + orderRef + apiKey))
	return hex.EncodeToString(sum[:])
}

// MapResultCode converts a resultCode: 00 paid, 02 failed, anything else pending
func MapResultCode(code string) models.PaymentStatus {
	switch code {
	case "00":
		return models.PaymentPaid
	case "02":
		return models.PaymentFailed
	default:
		return models.PaymentPending
	}
}

// DecodeCallback reads a callback from a JSON or form-encoded request
func DecodeCallback(r *http.Request) (Callback, error) {
	var cb Callback
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return cb, fmt.Errorf("read duitku callback: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return cb, fmt.Errorf("decode duitku callback form: %w", err)
		}
		cb = Callback{
			MerchantCode:    form.Get("merchantCode"),
			Amount:          json.Number(form.Get("amount")),
			MerchantOrderID: form.Get("merchantOrderId"),
			ResultCode:      form.Get("resultCode"),
			Signature:       form.Get("signature"),
			Reference:       form.Get("reference"),
			PaymentCode:     form.Get("paymentCode"),
			SettlementDate:  form.Get("settlementDate"),
		}
		return cb, nil
	}

	if err := json.Unmarshal(body, &cb); err != nil {
		return cb, fmt.Errorf("decode duitku callback: %w", err)
	}
	return cb, nil
}

// Verify authenticates a callback against the configured merchant and maps it
func Verify(cb Callback, merchantCode, apiKey string) (*payment.Notification, error) {
	if cb.MerchantOrderID == "" {
		return nil, fmt.Errorf("duitku callback: missing merchantOrderId")
	}
	if apiKey == "" || (merchantCode != "" && cb.MerchantCode != merchantCode) {
		return nil, payment.ErrSignatureMismatch
	}
	expected := CallbackSignature(cb.MerchantCode, cb.Amount.String(), cb.MerchantOrderID, apiKey)
	if !payment.SignatureEqual(expected, cb.Signature) {
		return nil, payment.ErrSignatureMismatch
	}

	out := &payment.Notification{
		Gateway:       Name,
		OrderRef:      cb.MerchantOrderID,
		Status:        MapResultCode(cb.ResultCode),
		TransactionID: cb.Reference,
		PaymentType:   cb.PaymentCode,
	}
	if out.Status == models.PaymentPaid {
		paidAt := time.Now().UTC()
		out.PaidAt = &paidAt
	}
	return out, nil
}
