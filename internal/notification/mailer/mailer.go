package mailer

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nikarya-store/internal/config"
	"nikarya-store/internal/models"
	"nikarya-store/internal/payment/manual"
)

// Mailer handles email sending
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	log      *logrus.Logger
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates a new Mailer. Without SMTP_HOST it only logs (mock mode).
func New(cfg *config.Config, log *logrus.Logger) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		log:      log,
		send:     smtp.SendMail,
	}
}

// Send sends an HTML email
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.host == "" {
		m.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("[MOCK MAIL] smtp not configured")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", m.from, to, subject, body))

	return m.send(addr, auth, m.from, []string{to}, msg)
}

// ReceiptSubject is the subject line of a paid-order receipt
func ReceiptSubject(orderRef string) string {
	return "Payment received for order " + orderRef
}

// ReceiptHTML renders the receipt for a paid order group with download links
func ReceiptHTML(orders []models.Order, baseURL string) string {
	if len(orders) == 0 {
		return ""
	}
	first := orders[0]

	var rows strings.Builder
	var total int64
	for _, o := range orders {
		total += o.TotalPrice
		link := fmt.Sprintf("%s/api/orders/%s/download/%d", baseURL, first.OrderRef, o.ProductID)
		fmt.Fprintf(&rows, `<tr><td>%s</td><td>%d</td><td>Rp %s</td><td><a href="%s">Download</a></td></tr>`,
			html.EscapeString(o.ProductName), o.Quantity, manual.FormatRupiah(o.TotalPrice), link)
	}

	paidAt := time.Now()
	if first.PaidAt != nil {
		paidAt = *first.PaidAt
	}

	return fmt.Sprintf(`
		<html>
		<body>
			<h2>Payment Receipt</h2>
			<p>Dear %s,</p>
			<p>We have received your payment for order <strong>%s</strong>.</p>
			<table>%s</table>
			<p><strong>Amount Paid:</strong> Rp %s</p>
			<p><strong>Date:</strong> %s</p>
			<br>
			<p>Thank you,<br>Nikarya Store</p>
		</body>
		</html>
	`, html.EscapeString(first.CustomerName), first.OrderRef, rows.String(), manual.FormatRupiah(total), paidAt.Format("2006-01-02 15:04"))
}
