package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nikarya-store/internal/models"
)

func TestSendMessage(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	c := New("TOKEN", "-100", log)
	c.baseURL = srv.URL

	require.NoError(t, c.SendMessage(context.Background(), "<b>hi</b>"))
	assert.Equal(t, "-100", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
}

func TestSendMessage_Unconfigured(t *testing.T) {
	log, _ := test.NewNullLogger()
	assert.NoError(t, New("", "", log).SendMessage(context.Background(), "x"))
}

func TestSendMessage_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	c := New("TOKEN", "-100", log)
	c.baseURL = srv.URL
	assert.ErrorContains(t, c.SendMessage(context.Background(), "x"), "403")
}

func TestMessages(t *testing.T) {
	orders := []models.Order{
		{OrderRef: "ORD-1", CustomerName: "A&B", CustomerEmail: "a@example.com", GatewayName: "duitku", ProductName: "ebook", Quantity: 1, TotalPrice: 54000, PromoCode: "DISKON10"},
		{OrderRef: "ORD-1", ProductName: "course", Quantity: 2, TotalPrice: 36000},
	}

	paid := PaidOrderMessage(orders)
	assert.Contains(t, paid, "ORD-1")
	assert.Contains(t, paid, "A&amp;B")
	assert.Contains(t, paid, "Rp 90.000")
	assert.Contains(t, paid, "DISKON10")

	pending := ManualOrderMessage(orders, nil)
	assert.Contains(t, pending, "Manual Payment Pending")
	assert.Contains(t, pending, "No active manual payment methods")
	assert.NotContains(t, ManualOrderMessage(orders, []models.ManualPaymentMethod{{ProviderName: "BCA"}}), "No active")
}
