package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

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
	"nikarya-store/internal/payment/midtrans"
	"nikarya-store/internal/payment/tripay"
	"nikarya-store/internal/promo"
	"nikarya-store/internal/websocket"
)

const maxBodySize = 1 << 20

// Store is the read surface the HTTP layer needs directly
type Store interface {
	GetPaymentConfigByGateway(ctx context.Context, gatewayName string) (*models.PaymentGatewayConfig, error)
	GetOrdersByRef(ctx context.Context, orderRef string) ([]models.Order, error)
	IncrementDownloadCount(ctx context.Context, orderRef string, productID int64) (string, error)
}

type Checkout interface {
	PlaceOrder(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type PromoValidator interface {
	Validate(ctx context.Context, code string, items []promo.CartItem, id models.Identity) (*promo.Result, error)
}

type StateMachine interface {
	Apply(ctx context.Context, n payment.Notification) (callback.Outcome, error)
}

type ReceiptSender interface {
	ResendReceipt(ctx context.Context, orderRef, email string) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	Config    *config.Config
	Store     Store
	Checkout  Checkout
	Promos    PromoValidator
	Callbacks StateMachine
	Receipts  ReceiptSender
	WSHub     *websocket.Hub
	Validate  *validator.Validate
	Log       *logrus.Logger
}

// NewHandler creates a new Handler
func NewHandler(cfg *config.Config, store Store, co Checkout, promos PromoValidator, callbacks StateMachine, receipts ReceiptSender, wsHub *websocket.Hub, log *logrus.Logger) *Handler {
	return &Handler{
		Config:    cfg,
		Store:     store,
		Checkout:  co,
		Promos:    promos,
		Callbacks: callbacks,
		Receipts:  receipts,
		WSHub:     wsHub,
		Validate:  validator.New(),
		Log:       log,
	}
}

// RegisterRoutes mounts the public API on router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/checkout", h.PlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/promos/validate", h.ValidatePromo).Methods(http.MethodPost)

	// Provider webhooks
	api.HandleFunc("/callbacks/midtrans", h.HandleMidtransCallback).Methods(http.MethodPost)
	api.HandleFunc("/callbacks/duitku", h.HandleDuitkuCallback).Methods(http.MethodPost)
	api.HandleFunc("/callbacks/tripay", h.HandleTripayCallback).Methods(http.MethodPost)

	// Orders
	api.HandleFunc("/orders/{ref}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{ref}/download/{productId:[0-9]+}", h.Download).Methods(http.MethodGet)
	api.HandleFunc("/orders/{ref}/resend-receipt", h.ResendReceipt).Methods(http.MethodPost)

	if h.WSHub != nil {
		router.HandleFunc("/ws/orders/{ref}", h.OrderStream)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) validate(ctx context.Context, payload interface{}) error {
	err := h.Validate.StructCtx(ctx, payload)
	if err == nil {
		return nil
	}

	var errorFields validator.ValidationErrors
	if !errors.As(err, &errorFields) {
		return err
	}

	errMessages := make([]string, len(errorFields))
	for k, errorField := range errorFields {
		errMessages[k] = fmt.Sprintf("invalid '%s' with value '%v'", errorField.Field(), errorField.Value())
	}
	return errors.New(strings.Join(errMessages, ", "))
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
}

func identityFromRequest(r *http.Request, email string) models.Identity {
	if claims := middleware.GetUserFromContext(r.Context()); claims != nil {
		id := claims.UserID
		return models.Identity{UserID: &id, Email: claims.Email}
	}
	return models.Identity{Email: strings.TrimSpace(email)}
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type checkoutItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0,lte=100"`
}

type checkoutCustomer struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,max=20"`
}

type checkoutRequest struct {
	Items     []checkoutItem   `json:"items" validate:"required,min=1,max=50,dive"`
	Customer  checkoutCustomer `json:"customer"`
	PromoCode string           `json:"promo_code" validate:"omitempty,max=50"`
	Method    string           `json:"method" validate:"omitempty,max=30"`
}

// PlaceOrder creates an order group and initiates payment
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := identityFromRequest(r, req.Customer.Email)
	if req.Customer.Email == "" {
		req.Customer.Email = id.Email
	}
	if err := h.validate(ctx, req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]promo.CartItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = promo.CartItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	result, err := h.Checkout.PlaceOrder(ctx, checkout.Request{
		Items: items,
		Customer: payment.Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		UserID:    id.UserID,
		PromoCode: req.PromoCode,
		Method:    req.Method,
	})
	if err != nil {
		h.respondCheckoutError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) respondCheckoutError(w http.ResponseWriter, err error) {
	var promoErr *checkout.PromoRejectedError
	var gwErr *payment.GatewayError

	switch {
	case errors.As(err, &promoErr):
		respondError(w, http.StatusUnprocessableEntity, promoErr.Reason)
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "Some products are no longer available")
	case errors.Is(err, orchestrator.ErrInvalidCharge):
		respondError(w, http.StatusBadRequest, "Invalid order")
	case errors.As(err, &gwErr):
		h.Log.WithError(err).WithField("gateway", gwErr.Gateway).Error("Payment initiation failed")
		respondError(w, http.StatusBadGateway, "Payment provider is unavailable, please try again")
	default:
		h.Log.WithError(err).Error("Checkout failed")
		respondError(w, http.StatusInternalServerError, "Checkout failed")
	}
}

type promoValidateRequest struct {
	Code  string           `json:"code" validate:"required,max=50"`
	Items []promo.CartItem `json:"items" validate:"required,min=1,max=50,dive"`
	Email string           `json:"email" validate:"omitempty,email"`
}

// ValidatePromo previews a promo against a cart. Rejections are 200 with valid=false.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req promoValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate(ctx, req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.Promos.Validate(ctx, req.Code, req.Items, identityFromRequest(r, req.Email))
	if err != nil {
		h.Log.WithError(err).WithField("promo_code", req.Code).Error("Promo validation failed")
		respondError(w, http.StatusInternalServerError, "Failed to validate promo")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// gatewaySecret loads credentials for a provider, even when it is not the active one,
// so callbacks for orders created before a switch still verify.
func (h *Handler) gatewaySecret(ctx context.Context, name string) (*models.PaymentGatewayConfig, error) {
	cfg, err := h.Store.GetPaymentConfigByGateway(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		return &models.PaymentGatewayConfig{GatewayName: name}, nil
	}
	return cfg, err
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	return body, true
}

// applyNotification finishes a webhook once the provider payload has been parsed
func (h *Handler) applyNotification(w http.ResponseWriter, r *http.Request, gateway string, n *payment.Notification, err error) {
	entry := h.Log.WithField("gateway", gateway)

	if errors.Is(err, payment.ErrSignatureMismatch) {
		if n != nil {
			entry = entry.WithField("order_ref", n.OrderRef)
		}
		entry.WithField("remote_addr", r.RemoteAddr).Warn("Callback signature mismatch")
		respondError(w, http.StatusForbidden, "Invalid signature")
		return
	}
	if err != nil {
		entry.WithError(err).Warn("Malformed callback")
		respondError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	outcome, err := h.Callbacks.Apply(r.Context(), *n)
	if errors.Is(err, callback.ErrOrderNotFound) {
		entry.WithField("order_ref", n.OrderRef).Warn("Callback for unknown order")
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		entry.WithError(err).WithField("order_ref", n.OrderRef).Error("Failed to apply callback")
		respondError(w, http.StatusInternalServerError, "Failed to process callback")
		return
	}

	entry.WithFields(logrus.Fields{"order_ref": n.OrderRef, "outcome": outcome}).Debug("Callback processed")
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMidtransCallback processes Snap HTTP notifications
func (h *Handler) HandleMidtransCallback(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	cfg, err := h.gatewaySecret(r.Context(), midtrans.Name)
	if err != nil {
		h.Log.WithError(err).Error("Failed to load midtrans config")
		respondError(w, http.StatusInternalServerError, "Failed to process callback")
		return
	}
	serverKey := cfg.SecretKey
	if serverKey == "" {
		serverKey = h.Config.MidtransServerKey
	}

	n, err := midtrans.ParseNotification(body, serverKey)
	h.applyNotification(w, r, midtrans.Name, n, err)
}

// HandleDuitkuCallback accepts both form-encoded and JSON callbacks
func (h *Handler) HandleDuitkuCallback(w http.ResponseWriter, r *http.Request) {
	cb, err := duitku.DecodeCallback(r)
	if err != nil {
		h.applyNotification(w, r, duitku.Name, nil, err)
		return
	}

	cfg, err := h.gatewaySecret(r.Context(), duitku.Name)
	if err != nil {
		h.Log.WithError(err).Error("Failed to load duitku config")
		respondError(w, http.StatusInternalServerError, "Failed to process callback")
		return
	}

	n, err := duitku.Verify(cb, cfg.MerchantCode, cfg.SecretKey)
	if errors.Is(err, payment.ErrSignatureMismatch) {
		n = &payment.Notification{OrderRef: cb.MerchantOrderID}
	}
	h.applyNotification(w, r, duitku.Name, n, err)
}

// HandleTripayCallback verifies X-Callback-Signature over the raw body
func (h *Handler) HandleTripayCallback(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	cfg, err := h.gatewaySecret(r.Context(), tripay.Name)
	if err != nil {
		h.Log.WithError(err).Error("Failed to load tripay config")
		respondError(w, http.StatusInternalServerError, "Failed to process callback")
		return
	}

	n, err := tripay.ParseCallback(body, r.Header.Get("X-Callback-Signature"), cfg.SecretKey)
	h.applyNotification(w, r, tripay.Name, n, err)
}

type orderItemView struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
	OriginalTotal  int64  `json:"original_total"`
	DiscountAmount int64  `json:"discount_amount"`
	TotalPrice     int64  `json:"total_price"`
	DownloadCount  int    `json:"download_count"`
}

type orderView struct {
	OrderRef        string               `json:"order_ref"`
	Status          models.PaymentStatus `json:"status"`
	GatewayName     string               `json:"gateway_name"`
	PaymentType     string               `json:"payment_type,omitempty"`
	PaymentCode     string               `json:"payment_code,omitempty"`
	PaymentDeadline *time.Time           `json:"payment_deadline,omitempty"`
	PaidAt          *time.Time           `json:"paid_at,omitempty"`
	PromoCode       string               `json:"promo_code,omitempty"`
	Discount        int64                `json:"discount"`
	Total           int64                `json:"total"`
	Items           []orderItemView      `json:"items"`
	CreatedAt       time.Time            `json:"created_at"`
}

func newOrderView(orders []models.Order) orderView {
	o := orders[0]
	v := orderView{
		OrderRef:        o.OrderRef,
		Status:          o.PaymentStatus,
		GatewayName:     o.GatewayName,
		PaymentType:     o.PaymentType,
		PaymentCode:     o.PaymentCode,
		PaymentDeadline: o.PaymentDeadline,
		PaidAt:          o.PaidAt,
		PromoCode:       o.PromoCode,
		CreatedAt:       o.CreatedAt,
		Items:           make([]orderItemView, 0, len(orders)),
	}
	for _, row := range orders {
		v.Discount += row.DiscountAmount
		v.Total += row.TotalPrice
		v.Items = append(v.Items, orderItemView{
			ProductID:      row.ProductID,
			ProductName:    row.ProductName,
			Quantity:       row.Quantity,
			UnitPrice:      row.UnitPrice,
			OriginalTotal:  row.OriginalTotal,
			DiscountAmount: row.DiscountAmount,
			TotalPrice:     row.TotalPrice,
			DownloadCount:  row.DownloadCount,
		})
	}
	return v
}

// GetOrder returns the status and payment metadata of an order group
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]

	orders, err := h.Store.GetOrdersByRef(r.Context(), ref)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		h.Log.WithError(err).WithField("order_ref", ref).Error("Failed to load order")
		respondError(w, http.StatusInternalServerError, "Failed to load order")
		return
	}
	respondJSON(w, http.StatusOK, newOrderView(orders))
}

// Download redirects to the purchased file of a PAID order
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref := vars["ref"]
	productID, err := strconv.ParseInt(vars["productId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product id")
		return
	}

	fileURL, err := h.Store.IncrementDownloadCount(r.Context(), ref, productID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && fileURL == "") {
		respondError(w, http.StatusNotFound, "Download not available")
		return
	}
	if err != nil {
		h.Log.WithError(err).WithField("order_ref", ref).Error("Failed to record download")
		respondError(w, http.StatusInternalServerError, "Download failed")
		return
	}

	http.Redirect(w, r, fileURL, http.StatusFound)
}

type resendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResendReceipt re-sends the buyer receipt, throttled per buyer
func (h *Handler) ResendReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := mux.Vars(r)["ref"]

	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate(ctx, req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.Receipts.ResendReceipt(ctx, ref, req.Email)

	var throttled *notification.ThrottledError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	case errors.As(err, &throttled):
		secs := int(throttled.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		respondError(w, http.StatusTooManyRequests, fmt.Sprintf("Please wait %d seconds before requesting again", secs))
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, notification.ErrNotEligible):
		respondError(w, http.StatusForbidden, "Receipt is not available for this order")
	default:
		h.Log.WithError(err).WithField("order_ref", ref).Error("Failed to resend receipt")
		respondError(w, http.StatusInternalServerError, "Failed to resend receipt")
	}
}

// OrderStream subscribes a websocket to status changes of one order
func (h *Handler) OrderStream(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	if _, err := h.Store.GetOrdersByRef(r.Context(), ref); err != nil {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	websocket.HandleWebSocket(h.WSHub, w, r, ref)
}
