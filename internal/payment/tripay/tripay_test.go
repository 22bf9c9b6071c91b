package tripay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

var testConfig = models.PaymentGatewayConfig{GatewayName: Name, MerchantCode: "T0001", APIKey: "api-key", SecretKey: "private-key"}

func TestCharge_PayCode(t *testing.T) {
	var got createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/create", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"data":{"reference":"T0001-REF","payment_method":"BRIVA","pay_code":"57585748548596587","checkout_url":"https://tripay.co.id/checkout/T0001-REF","expired_time":1893456000}}`))
	}))
	defer srv.Close()

	resp, err := New(testConfig, payment.Options{BaseURL: srv.URL}).Charge(context.Background(), payment.ChargeRequest{
		OrderRef:    "ORD-1",
		GrossAmount: 50000,
		Items:       []payment.Item{{ID: "7", Name: "ebook", Price: 50000, Quantity: 1}},
		Customer:    payment.Customer{Name: "Budi", Email: "budi@example.com"},
		MethodHint:  "bri-va",
	})
	require.NoError(t, err)

	direct, ok := resp.(*payment.DirectCodeResponse)
	require.True(t, ok)
	assert.Equal(t, "57585748548596587", direct.PaymentCode)
	assert.Equal(t, "BRIVA", direct.PaymentType)
	assert.EqualValues(t, 1893456000, direct.ExpiryTime.Unix())

	assert.Equal(t, "BRIVA", got.Method)
	assert.Equal(t, Sign("private-key", "T0001ORD-150000"), got.Signature)
}

func TestCharge_Redirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"reference":"T0001-REF","payment_method":"OVO","checkout_url":"https://tripay.co.id/checkout/T0001-REF"}}`))
	}))
	defer srv.Close()

	resp, err := New(testConfig, payment.Options{BaseURL: srv.URL}).Charge(context.Background(), payment.ChargeRequest{OrderRef: "ORD-2", GrossAmount: 1000, MethodHint: "ovo"})
	require.NoError(t, err)
	redirect, ok := resp.(*payment.RedirectResponse)
	require.True(t, ok)
	assert.Equal(t, "https://tripay.co.id/checkout/T0001-REF", redirect.RedirectURL)
}

func TestCharge_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Invalid API Key"}`))
	}))
	defer srv.Close()

	_, err := New(testConfig, payment.Options{BaseURL: srv.URL}).Charge(context.Background(), payment.ChargeRequest{OrderRef: "ORD-3", GrossAmount: 1000})
	var gwErr *payment.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "Invalid API Key", gwErr.Message)
}

func TestMethod(t *testing.T) {
	assert.Equal(t, DefaultMethod, Method(""))
	assert.Equal(t, "BRIVA", Method("BRIVA"))
	assert.Equal(t, "MANDIRIVA", Method("mandiri"))
	assert.Equal(t, "OCBCVA", Method("ocbcva"))
}

func TestParseCallback(t *testing.T) {
	body := []byte(`{"reference":"T0001-REF","merchant_ref":"ORD-1","payment_method_code":"BRIVA","total_amount":50000,"status":"PAID","paid_at":1714550400}`)

	n, err := ParseCallback(body, Sign("private-key", string(body)), "private-key")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", n.OrderRef)
	assert.Equal(t, models.PaymentPaid, n.Status)
	assert.EqualValues(t, 1714550400, n.PaidAt.Unix())

	_, err = ParseCallback(body, Sign("wrong", string(body)), "private-key")
	assert.ErrorIs(t, err, payment.ErrSignatureMismatch)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, models.PaymentPaid, MapStatus("PAID"))
	assert.Equal(t, models.PaymentExpired, MapStatus("EXPIRED"))
	assert.Equal(t, models.PaymentFailed, MapStatus("REFUND"))
	assert.Equal(t, models.PaymentPending, MapStatus("UNPAID"))
}
