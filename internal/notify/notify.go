// Package notify delivers price alarms. Delivery is best-effort: callers log
// failures and keep going.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"

	"pricetracker/internal/products"
)

// Notifier is invoked when a new price crosses a product's alarm threshold.
type Notifier interface {
	Notify(ctx context.Context, p *products.Product, newPrice float64) error
}

// LogNotifier writes alarms to the process log. Default when SMTP is not
// configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Notify(_ context.Context, p *products.Product, newPrice float64) error {
	log.Printf("ALARM: %s dropped to %.2f (threshold %.2f)", p.Title, newPrice, p.AlarmPrice)
	return nil
}

// EmailNotifier sends alarm mails over SMTP.
type EmailNotifier struct {
	host string
	port string
	user string
	pass string
	to   string
}

func NewEmailNotifier(host, port, user, pass, to string) *EmailNotifier {
	return &EmailNotifier{host: host, port: port, user: user, pass: pass, to: to}
}

func (n *EmailNotifier) Notify(_ context.Context, p *products.Product, newPrice float64) error {
	subject := fmt.Sprintf("Price alarm: %s", p.Title)
	body := fmt.Sprintf("%s dropped to %.2f (alarm threshold %.2f).\n%s\n",
		p.Title, newPrice, p.AlarmPrice, p.URL)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.user, n.to, subject, body)

	auth := smtp.PlainAuth("", n.user, n.pass, n.host)
	if err := smtp.SendMail(n.host+":"+n.port, auth, n.user, []string{n.to}, []byte(msg)); err != nil {
		return fmt.Errorf("send alarm mail: %w", err)
	}
	return nil
}
