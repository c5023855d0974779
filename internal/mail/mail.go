// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

// Package mail provides outbound email dispatch.
//
// No third-party mail client is carried: delivery goes through a plain
// SMTP submission, and anything richer (templating, providers, retry
// queues) belongs to the platform's notification service, not the auth
// core.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/samber/oops"
)

// SMTPConfig configures the SMTP dispatcher.
type SMTPConfig struct {
	Addr     string // host:port of the submission endpoint
	From     string // envelope and header sender
	Username string // empty disables authentication
	Password string
}

// SMTPMailer sends mail through an SMTP submission endpoint.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Addr == "" {
		return nil, oops.Code("MAIL_MISSING_ADDR").Errorf("smtp address is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_MISSING_FROM").Errorf("sender address is required")
	}
	return &SMTPMailer{cfg: cfg}, nil
}

// Send delivers a single plain-text message.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_CANCELED").Wrap(err)
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.Addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.cfg.From, to, subject, body)
	if err := smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("addr", m.cfg.Addr).
			Wrap(err)
	}
	return nil
}

// LogMailer logs messages instead of sending them. Used in development
// and when no SMTP endpoint is configured.
type LogMailer struct{}

// Send logs the message headers. The body is withheld because reset
// bodies embed live tokens.
func (LogMailer) Send(ctx context.Context, to, subject, _ string) error {
	slog.InfoContext(ctx, "mail dispatch skipped (no smtp configured)",
		"to", to,
		"subject", subject,
	)
	return nil
}
