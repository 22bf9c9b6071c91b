package duitku

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment"
)

var testConfig = models.PaymentGatewayConfig{GatewayName: Name, MerchantCode: "D0001", SecretKey: "api-key"}

func fakeInquiry(t *testing.T, reply string, got *inquiryRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webapi/api/merchant/v2/inquiry", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Write([]byte(reply))
	}))
}

func TestCharge_VirtualAccount(t *testing.T) {
	var got inquiryRequest
	srv := fakeInquiry(t, `{"merchantCode":"D0001","reference":"DK-REF","paymentUrl":"https://pay.example","vaNumber":"7007014001234567","statusCode":"00","statusMessage":"SUCCESS"}`, &got)
	defer srv.Close()

	gw := New(testConfig, payment.Options{BaseURL: srv.URL, CallbackURL: "https://shop.example/api/callbacks/duitku"})
	resp, err := gw.Charge(context.Background(), payment.ChargeRequest{
		OrderRef:    "ORD-1",
		GrossAmount: 90000,
		Items: []payment.Item{
			{ID: "1", Name: "ebook", Price: 50000, Quantity: 2},
			{ID: "discount", Name: "Discount", Price: -10000, Quantity: 1},
		},
		Customer:   payment.Customer{Name: "Budi", Email: "budi@example.com"},
		MethodHint: "bca",
	})
	require.NoError(t, err)

	direct, ok := resp.(*payment.DirectCodeResponse)
	require.True(t, ok)
	assert.Equal(t, "7007014001234567", direct.PaymentCode)
	assert.Equal(t, "DK-REF", direct.TransactionID)
	assert.Equal(t, "virtual_account:BC", direct.PaymentType)
	assert.NotNil(t, direct.ExpiryTime)

	assert.Equal(t, "BC", got.PaymentMethod)
	assert.Equal(t, RequestSignature("D0001", "ORD-1", 90000, "api-key"), got.Signature)
	assert.EqualValues(t, 100000, got.ItemDetails[0].Price)
	assert.Equal(t, "https://shop.example/api/callbacks/duitku", got.CallbackURL)
}

func TestCharge_QRIS(t *testing.T) {
	var got inquiryRequest
	srv := fakeInquiry(t, `{"reference":"DK-QR","qrString":"00020101021226...","statusCode":"00"}`, &got)
	defer srv.Close()

	resp, err := New(testConfig, payment.Options{BaseURL: srv.URL}).Charge(context.Background(), payment.ChargeRequest{OrderRef: "ORD-2", GrossAmount: 1000})
	require.NoError(t, err)

	direct, ok := resp.(*payment.DirectCodeResponse)
	require.True(t, ok)
	assert.Equal(t, "qris", direct.PaymentType)
	assert.Equal(t, DefaultMethod, got.PaymentMethod)
}

func TestCharge_Rejected(t *testing.T) {
	var got inquiryRequest
	srv := fakeInquiry(t, `{"statusCode":"01","statusMessage":"Invalid signature"}`, &got)
	defer srv.Close()

	_, err := New(testConfig, payment.Options{BaseURL: srv.URL}).Charge(context.Background(), payment.ChargeRequest{OrderRef: "ORD-3", GrossAmount: 1000})
	var gwErr *payment.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "Invalid signature", gwErr.Message)
}

func TestMapResultCode(t *testing.T) {
	assert.Equal(t, models.PaymentPaid, MapResultCode("00"))
	assert.Equal(t, models.PaymentFailed, MapResultCode("02"))
	assert.Equal(t, models.PaymentPending, MapResultCode("01"))
	assert.Equal(t, models.PaymentPending, MapResultCode(""))
}

func TestDecodeAndVerify_Form(t *testing.T) {
	form := url.Values{
		"merchantCode":    {"D0001"},
		"amount":          {"90000"},
		"merchantOrderId": {"ORD-1"},
		"resultCode":      {"00"},
		"reference":       {"DK-REF"},
		"paymentCode":     {"BC"},
		"signature":       {CallbackSignature("D0001", "90000", "ORD-1", "api-key")},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/callbacks/duitku", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	cb, err := DecodeCallback(req)
	require.NoError(t, err)
	n, err := Verify(cb, "D0001", "api-key")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, n.Status)
	assert.Equal(t, "ORD-1", n.OrderRef)
	assert.Equal(t, "DK-REF", n.TransactionID)
	assert.NotNil(t, n.PaidAt)
}

func TestDecodeAndVerify_JSONTampered(t *testing.T) {
	body := `{"merchantCode":"D0001","amount":90000,"merchantOrderId":"ORD-1","resultCode":"00","signature":"` +
		CallbackSignature("D0001", "1000", "ORD-1", "api-key") + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/callbacks/duitku", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	cb, err := DecodeCallback(req)
	require.NoError(t, err)
	_, err = Verify(cb, "D0001", "api-key")
	assert.ErrorIs(t, err, payment.ErrSignatureMismatch)
}

func TestVerify_WrongMerchant(t *testing.T) {
	cb := Callback{MerchantCode: "OTHER", Amount: "1000", MerchantOrderID: "ORD-1", ResultCode: "00",
		Signature: CallbackSignature("OTHER", "1000", "ORD-1", "api-key")}
	_, err := Verify(cb, "D0001", "api-key")
	assert.ErrorIs(t, err, payment.ErrSignatureMismatch)
}
