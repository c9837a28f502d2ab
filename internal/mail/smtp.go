// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SMTPConfig addresses an SMTP submission server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// RequireTLS fails delivery when the server does not offer STARTTLS.
	RequireTLS bool
}

// SMTPSender delivers mail over SMTP with opportunistic STARTTLS and PLAIN
// auth when credentials are set.
type SMTPSender struct {
	cfg       SMTPConfig
	dialer    net.Dialer
	tlsConfig *tls.Config
	now       func() time.Time
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	return &SMTPSender{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
	}, nil
}

// Send delivers msg. The whole SMTP conversation is bounded by ctx.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	from, err := netmail.ParseAddress(msg.From)
	if err != nil {
		return oops.Code("MAIL_ADDRESS_INVALID").With("field", "from").Wrap(err)
	}
	to, err := netmail.ParseAddress(msg.To)
	if err != nil {
		return oops.Code("MAIL_ADDRESS_INVALID").With("field", "to").Wrap(err)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return oops.Code("MAIL_DIAL_FAILED").With("addr", addr).Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return oops.Code("MAIL_HANDSHAKE_FAILED").With("addr", addr).Wrap(err)
	}
	defer func() { _ = c.Close() }()

	if err := s.deliver(c, from.Address, to.Address, buildMessage(msg, s.now())); err != nil {
		return oops.With("addr", addr).Wrap(err)
	}
	return nil
}

func (s *SMTPSender) deliver(c *smtp.Client, from, to string, body []byte) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return oops.Code("MAIL_STARTTLS_FAILED").Wrap(err)
		}
	} else if s.cfg.RequireTLS {
		return oops.Code("MAIL_STARTTLS_FAILED").Errorf("server does not offer STARTTLS")
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return oops.Code("MAIL_AUTH_FAILED").Wrap(err)
		}
	}

	if err := c.Mail(from); err != nil {
		return oops.Code("MAIL_REJECTED").With("stage", "MAIL FROM").Wrap(err)
	}
	if err := c.Rcpt(to); err != nil {
		return oops.Code("MAIL_REJECTED").With("stage", "RCPT TO").Wrap(err)
	}
	w, err := c.Data()
	if err != nil {
		return oops.Code("MAIL_REJECTED").With("stage", "DATA").Wrap(err)
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return oops.Code("MAIL_WRITE_FAILED").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.Code("MAIL_REJECTED").With("stage", "end of data").Wrap(err)
	}
	if err := c.Quit(); err != nil {
		return oops.Code("MAIL_QUIT_FAILED").Wrap(err)
	}
	return nil
}

// buildMessage renders RFC 5322 headers and an 8bit HTML body with CRLF
// line endings.
func buildMessage(msg Message, now time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	header("From", msg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+ulid.Make().String()+"@credentiald>")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.Write(bytes.ReplaceAll(bytes.ReplaceAll([]byte(msg.HTML), []byte("\r\n"), []byte("\n")), []byte("\n"), []byte("\r\n")))
	return b.Bytes()
}
