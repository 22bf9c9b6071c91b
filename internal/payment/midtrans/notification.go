package midtrans

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

// provider timestamps are Jakarta local time
var wib = time.FixedZone("WIB", 7*60*60)

// Notification is the HTTP notification body. gross_amount arrives as a
// decimal string ("100000.00") and must be signed exactly as sent.
type Notification struct {
	OrderID           string      `json:"order_id"`
	StatusCode        string      `json:"status_code"`
	GrossAmount       json.Number `json:"gross_amount"`
	SignatureKey      string      `json:"signature_key"`
	TransactionStatus string      `json:"transaction_status"`
	FraudStatus       string      `json:"fraud_status"`
	TransactionID     string      `json:"transaction_id"`
	PaymentType       string      `json:"payment_type"`
	SettlementTime    string      `json:"settlement_time"`
}

// Signature computes SHA-512(order_id + status_code + gross_amount + serverKey) as lowercase hex
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// MapStatus converts transaction_status/fraud_status into an order status.
// Unrecognized statuses map to PENDING so the callback is never dropped.
func MapStatus(transactionStatus, fraudStatus string) models.PaymentStatus {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" {
			return models.PaymentPaid
		}
		return models.PaymentFailed
	case "settlement":
		return models.PaymentPaid
	case "deny", "cancel", "failure":
		return models.PaymentFailed
	case "expire":
		return models.PaymentExpired
	default:
		return models.PaymentPending
	}
}

// Verify authenticates a decoded notification with the server key and maps it
func Verify(n Notification, serverKey string) (*payment.Notification, error) {
	if n.OrderID == "" {
		return nil, fmt.Errorf("midtrans notification: missing order_id")
	}
	if serverKey == "" || !payment.SignatureEqual(Signature(n.OrderID, n.StatusCode, n.GrossAmount.String(), serverKey), n.SignatureKey) {
		return nil, payment.ErrSignatureMismatch
	}

	out := &payment.Notification{
		Gateway:       Name,
		OrderRef:      n.OrderID,
		Status:        MapStatus(n.TransactionStatus, n.FraudStatus),
		TransactionID: n.TransactionID,
		PaymentType:   n.PaymentType,
	}
	if out.Status == models.PaymentPaid {
		paidAt := time.Now().UTC()
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", n.SettlementTime, wib); err == nil {
			paidAt = t.UTC()
		}
		out.PaidAt = &paidAt
	}
	return out, nil
}

// ParseNotification decodes and verifies a raw notification body
func ParseNotification(body []byte, serverKey string) (*payment.Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode midtrans notification: %w", err)
	}
	return Verify(n, serverKey)
}

func basicAuth(serverKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(serverKey+":"))
}
