package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nikarya-store/internal/callback"
	"nikarya-store/internal/checkout"
	"nikarya-store/internal/config"
	"nikarya-store/internal/database"
	"nikarya-store/internal/middleware"
	"nikarya-store/internal/models"
	"nikarya-store/internal/notification"
	"nikarya-store/internal/orchestrator"
	"nikarya-store/internal/payment"
	"nikarya-store/internal/payment/duitku"
	"nikarya-store/internal/payment/manual"
	"nikarya-store/internal/payment/midtrans"
	"nikarya-store/internal/payment/tripay"
	"nikarya-store/internal/promo"
)

const (
	midtransKey  = "SB-Mid-server-key"
	duitkuCode   = "D0001"
	duitkuKey    = "duitku-api-key"
	tripayKey    = "tripay-private-key"
	jwtTestToken = "jwt-secret"
)

type fakeReceipts struct {
	err error
	got []string
}

func (f *fakeReceipts) ResendReceipt(ctx context.Context, orderRef, email string) error {
	f.got = append(f.got, orderRef+":"+email)
	return f.err
}

type failingCheckout struct{ err error }

func (f failingCheckout) PlaceOrder(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	return nil, f.err
}

type env struct {
	db       *database.DB
	h        *Handler
	router   http.Handler
	receipts *fakeReceipts
	product  models.Product
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, cfg := range []models.PaymentGatewayConfig{
		{GatewayName: midtrans.Name, SecretKey: midtransKey, Mode: models.ModeGateway},
		{GatewayName: duitku.Name, MerchantCode: duitkuCode, SecretKey: duitkuKey, Mode: models.ModeGateway},
		{GatewayName: tripay.Name, SecretKey: tripayKey, Mode: models.ModeGateway},
		{GatewayName: manual.Name, DisplayName: "Bank Transfer", Mode: models.ModeManual, IsActive: true},
	} {
		cfg := cfg
		require.NoError(t, db.SavePaymentConfig(ctx, &cfg))
	}
	require.NoError(t, db.CreateManualMethod(ctx, &models.ManualPaymentMethod{ProviderName: "BCA", AccountName: "Toko", AccountNumber: "123", IsActive: true}))

	product := models.Product{Name: "ebook", Price: 50000, IsActive: true, FileURL: "https://files.example/ebook.pdf"}
	require.NoError(t, db.CreateProduct(ctx, &product))
	require.NoError(t, db.CreateOrders(ctx, []models.Order{{
		OrderRef: "ORD-1", CustomerName: "Budi", CustomerEmail: "budi@example.com", ProductID: product.ID,
		ProductName: product.Name, Quantity: 1, UnitPrice: 50000, TotalPrice: 50000, OriginalTotal: 50000,
		PaymentStatus: models.PaymentPending, GatewayName: midtrans.Name,
	}}))

	log, _ := test.NewNullLogger()
	promos := promo.NewEngine(db)
	orch := orchestrator.New(db, manual.NewResolver(db), payment.NewRegistry(), time.Second, log)
	svc := checkout.NewService(db, promos, orch, nil, log)
	processor := callback.NewProcessor(db, svc, log)
	receipts := &fakeReceipts{}

	h := NewHandler(&config.Config{}, db, svc, promos, processor, receipts, nil, log)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &env{
		db:       db,
		h:        h,
		router:   middleware.OptionalAuth(jwtTestToken)(router),
		receipts: receipts,
		product:  product,
	}
}

func (e *env) do(t *testing.T, method, path, contentType string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) postJSON(t *testing.T, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, path, "application/json", body, nil)
}

func (e *env) status(t *testing.T, ref string) models.PaymentStatus {
	t.Helper()
	orders, err := e.db.GetOrdersByRef(context.Background(), ref)
	require.NoError(t, err)
	return orders[0].PaymentStatus
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestPlaceOrder_ManualMode(t *testing.T) {
	e := newEnv(t)

	rec := e.postJSON(t, "/api/checkout", map[string]interface{}{
		"items":    []map[string]interface{}{{"product_id": e.product.ID, "quantity": 2}},
		"customer": map[string]string{"name": "Sari", "email": "sari@example.com", "phone": "0812"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res checkout.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.PaymentPendingManual, res.Status)
	assert.EqualValues(t, 100000, res.Total)
	require.NotNil(t, res.Payment)
	assert.Equal(t, models.ModeManual, res.Payment.Mode)
	assert.Len(t, res.Payment.ManualMethods, 1)
	assert.Equal(t, models.PaymentPendingManual, e.status(t, res.OrderRef))
}

func TestPlaceOrder_Validation(t *testing.T) {
	e := newEnv(t)

	rec := e.postJSON(t, "/api/checkout", map[string]interface{}{
		"items":    []map[string]interface{}{{"product_id": e.product.ID, "quantity": 1}},
		"customer": map[string]string{"name": "Sari", "email": "not-an-email"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid 'Email' with value 'not-an-email'")

	rec = e.postJSON(t, "/api/checkout", map[string]interface{}{
		"items":    []map[string]interface{}{},
		"customer": map[string]string{"name": "Sari", "email": "sari@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/checkout", "application/json", []byte("{"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	e := newEnv(t)
	rec := e.postJSON(t, "/api/checkout", map[string]interface{}{
		"items":    []map[string]interface{}{{"product_id": 999, "quantity": 1}},
		"customer": map[string]string{"name": "Sari", "email": "sari@example.com"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	e := newEnv(t)
	payload := map[string]interface{}{
		"items":    []map[string]interface{}{{"product_id": e.product.ID, "quantity": 1}},
		"customer": map[string]string{"name": "Sari", "email": "sari@example.com"},
	}

	e.h.Checkout = failingCheckout{err: &payment.GatewayError{Gateway: "midtrans", Message: "server key rejected: Access denied"}}
	rec := e.postJSON(t, "/api/checkout", payload)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Access denied")

	e.h.Checkout = failingCheckout{err: &checkout.PromoRejectedError{Reason: promo.MsgQuotaExhausted}}
	rec = e.postJSON(t, "/api/checkout", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, promo.MsgQuotaExhausted, decode(t, rec)["error"])
}

func TestPlaceOrder_AuthenticatedUser(t *testing.T) {
	e := newEnv(t)
	token, err := middleware.GenerateToken(jwtTestToken, 42, "member@example.com", time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"items":    []map[string]interface{}{{"product_id": e.product.ID, "quantity": 1}},
		"customer": map[string]string{"name": "Member"},
	})
	rec := e.do(t, http.MethodPost, "/api/checkout", "application/json", body, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res checkout.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	orders, err := e.db.GetOrdersByRef(context.Background(), res.OrderRef)
	require.NoError(t, err)
	require.NotNil(t, orders[0].UserID)
	assert.EqualValues(t, 42, *orders[0].UserID)
	assert.Equal(t, "member@example.com", orders[0].CustomerEmail)
}

func TestValidatePromo(t *testing.T) {
	e := newEnv(t)

	rec := e.postJSON(t, "/api/promos/validate", map[string]interface{}{
		"code":  "NOPE",
		"items": []map[string]interface{}{{"id": e.product.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["valid"])
	assert.Equal(t, promo.MsgNotFound, out["message"])

	rec = e.postJSON(t, "/api/promos/validate", map[string]interface{}{"code": "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func midtransBody(t *testing.T, ref, status, key string) []byte {
	t.Helper()
	gross := "50000.00"
	body, err := json.Marshal(map[string]string{
		"order_id":           ref,
		"status_code":        "200",
		"gross_amount":       gross,
		"signature_key":      midtrans.Signature(ref, "200", gross, key),
		"transaction_status": status,
		"transaction_id":     "trx-9",
		"payment_type":       "bank_transfer",
	})
	require.NoError(t, err)
	return body
}

func TestMidtransCallback(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/callbacks/midtrans", "application/json", midtransBody(t, "ORD-1", "settlement", "wrong-key"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.PaymentPending, e.status(t, "ORD-1"))

	rec = e.do(t, http.MethodPost, "/api/callbacks/midtrans", "application/json", midtransBody(t, "ORD-1", "settlement", midtransKey), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.Equal(t, models.PaymentPaid, e.status(t, "ORD-1"))

	// retries and late pending notifications are acknowledged without regressing
	rec = e.do(t, http.MethodPost, "/api/callbacks/midtrans", "application/json", midtransBody(t, "ORD-1", "pending", midtransKey), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentPaid, e.status(t, "ORD-1"))

	rec = e.do(t, http.MethodPost, "/api/callbacks/midtrans", "application/json", midtransBody(t, "ORD-404", "settlement", midtransKey), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMidtransCallback_FallbackServerKey(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.SavePaymentConfig(context.Background(), &models.PaymentGatewayConfig{GatewayName: midtrans.Name, Mode: models.ModeGateway}))
	e.h.Config.MidtransServerKey = "env-key"

	rec := e.do(t, http.MethodPost, "/api/callbacks/midtrans", "application/json", midtransBody(t, "ORD-1", "expire", "env-key"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentExpired, e.status(t, "ORD-1"))
}

func duitkuForm(ref, resultCode, key string) []byte {
	form := url.Values{}
	form.Set("merchantCode", duitkuCode)
	form.Set("amount", "50000")
	form.Set("merchantOrderId", ref)
	form.Set("resultCode", resultCode)
	form.Set("reference", "DK-1")
	form.Set("paymentCode", "SP")
	form.Set("signature", duitku.CallbackSignature(duitkuCode, "50000", ref, key))
	return []byte(form.Encode())
}

func TestDuitkuCallback(t *testing.T) {
	e := newEnv(t)
	const form = "application/x-www-form-urlencoded"

	rec := e.do(t, http.MethodPost, "/api/callbacks/duitku", form, duitkuForm("ORD-1", "00", "tampered"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, models.PaymentPending, e.status(t, "ORD-1"))

	rec = e.do(t, http.MethodPost, "/api/callbacks/duitku", form, duitkuForm("ORD-1", "00", duitkuKey), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentPaid, e.status(t, "ORD-1"))

	rec = e.do(t, http.MethodPost, "/api/callbacks/duitku", "application/json", []byte("not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTripayCallback(t *testing.T) {
	e := newEnv(t)
	body := []byte(`{"reference":"T-1","merchant_ref":"ORD-1","payment_method_code":"QRIS","total_amount":50000,"status":"PAID","paid_at":1714550400}`)

	rec := e.do(t, http.MethodPost, "/api/callbacks/tripay", "application/json", body, map[string]string{"X-Callback-Signature": "bad"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/callbacks/tripay", "application/json", body, map[string]string{"X-Callback-Signature": tripay.Sign(tripayKey, string(body))})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.PaymentPaid, e.status(t, "ORD-1"))
}

func TestGetOrder(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/orders/ORD-1", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "PENDING", out["status"])
	assert.EqualValues(t, 50000, out["total"])
	assert.Len(t, out["items"], 1)
	assert.NotContains(t, rec.Body.String(), "files.example")

	rec = e.do(t, http.MethodGet, "/api/orders/ORD-404", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload_OnlyWhenPaid(t *testing.T) {
	e := newEnv(t)
	path := "/api/orders/ORD-1/download/" + strconv.FormatInt(e.product.ID, 10)

	rec := e.do(t, http.MethodGet, path, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/callbacks/midtrans", "application/json", midtransBody(t, "ORD-1", "settlement", midtransKey), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, path, "", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://files.example/ebook.pdf", rec.Header().Get("Location"))
}

func TestResendReceipt(t *testing.T) {
	e := newEnv(t)

	rec := e.postJSON(t, "/api/orders/ORD-1/resend-receipt", map[string]string{"email": "budi@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ORD-1:budi@example.com"}, e.receipts.got)

	e.receipts.err = &notification.ThrottledError{RetryAfter: 42 * time.Second}
	rec = e.postJSON(t, "/api/orders/ORD-1/resend-receipt", map[string]string{"email": "budi@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	e.receipts.err = notification.ErrNotEligible
	rec = e.postJSON(t, "/api/orders/ORD-1/resend-receipt", map[string]string{"email": "budi@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.postJSON(t, "/api/orders/ORD-1/resend-receipt", map[string]string{"email": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
