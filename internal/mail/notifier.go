// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package mail

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"math"
	netmail "net/mail"
	"time"

	"github.com/samber/oops"

	"github.com/lavendrix/credentiald/internal/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Sender display names and subjects.
const (
	welcomeFromName   = "Lavendrix Team"
	resetFromName     = "Lavendrix Support"
	welcomeSubject    = "Registration Successful - Lavendrix"
	resetSubject      = "Reset Your Password - Lavendrix"
	welcomeTemplate   = "welcome.html"
	resetTemplate     = "password_reset.html"
	kindWelcome       = "welcome"
	kindPasswordReset = "password_reset"
)

// Recorder counts deliveries. outcome is "success" or "failure".
type Recorder interface {
	RecordMailSend(kind, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMailSend(string, string) {}

// Notifier renders account emails and hands them to a Sender.
type Notifier struct {
	sender      Sender
	fromAddress string
	recorder    Recorder
	now         func() time.Time
}

var _ auth.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier sending from fromAddress. recorder may be nil.
func NewNotifier(sender Sender, fromAddress string, recorder Recorder) (*Notifier, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("sender is required")
	}
	if _, err := netmail.ParseAddress(fromAddress); err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("from_address", fromAddress).Wrap(err)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Notifier{sender: sender, fromAddress: fromAddress, recorder: recorder, now: time.Now}, nil
}

// SendWelcome greets a newly registered account.
func (n *Notifier) SendWelcome(ctx context.Context, to, name string) error {
	body, err := render(welcomeTemplate, struct{ Name string }{name})
	if err != nil {
		return err
	}
	return n.send(ctx, kindWelcome, Message{
		From:    n.from(welcomeFromName),
		To:      to,
		Subject: welcomeSubject,
		HTML:    body,
	})
}

// SendPasswordReset mails the reset link.
func (n *Notifier) SendPasswordReset(ctx context.Context, to, name, link string, expiresAt time.Time) error {
	minutes := int(math.Ceil(expiresAt.Sub(n.now()).Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	body, err := render(resetTemplate, struct {
		Name         string
		Link         template.URL
		ValidMinutes int
	}{name, template.URL(link), minutes}) //nolint:gosec // link is built by the service from configuration
	if err != nil {
		return err
	}
	return n.send(ctx, kindPasswordReset, Message{
		From:    n.from(resetFromName),
		To:      to,
		Subject: resetSubject,
		HTML:    body,
	})
}

func (n *Notifier) send(ctx context.Context, kind string, msg Message) error {
	if err := n.sender.Send(ctx, msg); err != nil {
		n.recorder.RecordMailSend(kind, "failure")
		return oops.Code("MAIL_SEND_FAILED").With("kind", kind).Wrap(err)
	}
	n.recorder.RecordMailSend(kind, "success")
	return nil
}

func (n *Notifier) from(name string) string {
	return (&netmail.Address{Name: name, Address: n.fromAddress}).String()
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", oops.Code("MAIL_RENDER_FAILED").With("template", name).Wrap(err)
	}
	return buf.String(), nil
}
