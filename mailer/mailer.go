// Package mailer sends subscriber broadcast mail over SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"sync/atomic"

	"bluetry/utils"

	"gopkg.in/gomail.v2"
	"golang.org/x/sync/errgroup"
)

// ErrNotConfigured is returned when SMTP credentials are missing.
var ErrNotConfigured = errors.New("email service not configured")

// Sender delivers one HTML message to one recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTPMailer sends through an authenticated SMTP relay.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewSMTPMailer returns ErrNotConfigured when user or password is empty.
func NewSMTPMailer(host string, port int, user, password string) (*SMTPMailer, error) {
	if user == "" || password == "" {
		return nil, ErrNotConfigured
	}
	return &SMTPMailer{Host: host, Port: port, Username: user, Password: password, From: user}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

var updateTemplate = template.Must(template.New("update").Funcs(template.FuncMap{
	"lines": func(s string) template.HTML {
		parts := strings.Split(s, "\n")
		for i, p := range parts {
			parts[i] = template.HTMLEscapeString(p)
		}
		return template.HTML(strings.Join(parts, "<br>"))
	},
}).Parse(`<div style="font-family: Georgia, serif; max-width: 600px; margin: 0 auto;">
  <h2>Update from bluetry</h2>
  <p>{{lines .Message}}</p>
  <hr>
  <p style="font-size: 12px; color: #666;">
    You are receiving this because you subscribed to bluetry.
    <a href="{{.UnsubscribeURL}}">Unsubscribe</a>
  </p>
</div>`))

// Links builds the per-recipient URLs embedded in outgoing mail.
type Links struct {
	AppURL string
	Secret string
}

// Unsubscribe returns the signed opt-out link for email.
func (l Links) Unsubscribe(email string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", utils.SignEmail(l.Secret, email))
	return strings.TrimRight(l.AppURL, "/") + "/unsubscribe?" + q.Encode()
}

// RenderUpdate renders the broadcast body for one recipient.
func RenderUpdate(message string, links Links, recipient string) (string, error) {
	var buf bytes.Buffer
	err := updateTemplate.Execute(&buf, map[string]any{
		"Message":        message,
		"UnsubscribeURL": links.Unsubscribe(recipient),
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

// Result counts per-recipient outcomes of a broadcast.
type Result struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// FanOut sends the update to every recipient with at most limit sends in
// flight. A failed recipient is counted and never retried.
func FanOut(ctx context.Context, sender Sender, recipients []string, subject, message string, links Links, limit int) Result {
	var sent, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, to := range recipients {
		g.Go(func() error {
			body, err := RenderUpdate(message, links, to)
			if err == nil {
				err = sender.Send(gctx, to, subject, body)
			}
			if err != nil {
				failed.Add(1)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return Result{Sent: int(sent.Load()), Failed: int(failed.Load())}
}
