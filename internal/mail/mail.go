// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package mail renders and delivers account emails.
package mail

import (
	"context"
	"log/slog"
)

// Message is a single outbound HTML email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message. Implementations must honor ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender records that a message would have been sent without delivering
// it. Only the envelope is logged; bodies carry reset links and are never
// written out. Used for local development and must be selected explicitly.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the envelope and the body size.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail not delivered (log driver)",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.HTML),
	)
	return nil
}
