package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/config"
	"nikarya-store/internal/models"
	"nikarya-store/internal/payment/manual"
)

// Client handles WhatsApp notifications through a Fonnte-style form API
type Client struct {
	providerURL string
	apiKey      string
	http        *http.Client
	log         *logrus.Logger
}

// New creates a new WhatsApp client
func New(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		providerURL: cfg.WAProviderURL,
		apiKey:      cfg.WAApiKey,
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// NormalizePhone converts local numbers (08xx, +628xx) to 628xx
func NormalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "62" + p[1:]
	}
	return p
}

// Send sends a WhatsApp message
func (c *Client) Send(ctx context.Context, phone, message string) error {
	target := NormalizePhone(phone)
	if target == "" {
		return fmt.Errorf("whatsapp: empty phone number")
	}
	if c.apiKey == "" {
		c.log.WithField("to", target).Info("[MOCK WA] api key not configured")
		return nil
	}

	data := url.Values{}
	data.Set("target", target)
	data.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("whatsapp API error: %d", resp.StatusCode)
	}
	return nil
}

// ReceiptMessage is the buyer's paid-order message
func ReceiptMessage(orders []models.Order, baseURL string) string {
	if len(orders) == 0 {
		return ""
	}
	var total int64
	var b strings.Builder
	for _, o := range orders {
		total += o.TotalPrice
		fmt.Fprintf(&b, "- %s: %s/api/orders/%s/download/%d\n", o.ProductName, baseURL, o.OrderRef, o.ProductID)
	}
	return fmt.Sprintf("*Pembayaran Diterima - Nikarya Store*\n\nHalo %s,\nPembayaran pesanan #%s sebesar Rp %s telah kami terima.\n\nUnduh produk Anda:\n%s\nTerima kasih.",
		orders[0].CustomerName, orders[0].OrderRef, manual.FormatRupiah(total), b.String())
}
