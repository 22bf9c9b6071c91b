package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/models"
	"nikarya-store/internal/payment/manual"
)

const apiBase = "https://api.telegram.org"

// Client represents a Telegram bot client posting to the admin chat
type Client struct {
	Token   string
	ChatID  string
	baseURL string
	http    *http.Client
	log     *logrus.Logger
}

// New creates a new Telegram client
func New(token, chatID string, log *logrus.Logger) *Client {
	return &Client{
		Token:   token,
		ChatID:  chatID,
		baseURL: apiBase,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Message represents a Telegram message payload
type Message struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML message to the admin chat
func (c *Client) SendMessage(ctx context.Context, message string) error {
	if c.Token == "" || c.ChatID == "" {
		c.log.Debug("telegram token or chat_id not configured, message skipped")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.Token)
	jsonData, err := json.Marshal(Message{ChatID: c.ChatID, Text: message, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func summarize(orders []models.Order) (string, int64) {
	var b strings.Builder
	var total int64
	for _, o := range orders {
		total += o.TotalPrice
		fmt.Fprintf(&b, "• %s x%d\n", html.EscapeString(o.ProductName), o.Quantity)
	}
	return b.String(), total
}

// PaidOrderMessage announces a confirmed payment
func PaidOrderMessage(orders []models.Order) string {
	if len(orders) == 0 {
		return ""
	}
	items, total := summarize(orders)
	o := orders[0]
	text := fmt.Sprintf(
		"<b>✅ Order Paid</b>\n\n"+
			"<b>Order:</b> <code>%s</code>\n"+
			"<b>Buyer:</b> %s (%s)\n"+
			"<b>Gateway:</b> %s\n"+
			"<b>Total:</b> Rp %s\n\n%s",
		o.OrderRef, html.EscapeString(o.CustomerName), html.EscapeString(o.CustomerEmail),
		o.GatewayName, manual.FormatRupiah(total), items,
	)
	if o.PromoCode != "" {
		text += fmt.Sprintf("\n<b>Promo:</b> %s", html.EscapeString(o.PromoCode))
	}
	return text
}

// ManualOrderMessage asks an admin to reconcile a manual transfer
func ManualOrderMessage(orders []models.Order, methods []models.ManualPaymentMethod) string {
	if len(orders) == 0 {
		return ""
	}
	items, total := summarize(orders)
	o := orders[0]
	text := fmt.Sprintf(
		"<b>🕓 Manual Payment Pending</b>\n\n"+
			"<b>Order:</b> <code>%s</code>\n"+
			"<b>Buyer:</b> %s (%s, %s)\n"+
			"<b>Total:</b> Rp %s\n\n%s",
		o.OrderRef, html.EscapeString(o.CustomerName), html.EscapeString(o.CustomerEmail), html.EscapeString(o.CustomerPhone),
		manual.FormatRupiah(total), items,
	)
	if len(methods) == 0 {
		text += "\n⚠️ No active manual payment methods are configured."
	}
	return text
}
