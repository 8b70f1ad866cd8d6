// Copyright 2025 The RestFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
)

// EmailConfig configures an email node. The SMTP password comes either
// inline or from the secret store via PasswordSecret.
type EmailConfig struct {
	To      string `json:"to"` // comma or semicolon separated
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    bool   `json:"html,omitempty"`

	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	PasswordSecret string `json:"password_secret,omitempty"`
	StartTLS       bool   `json:"starttls,omitempty"`
}

// EmailExecutor sends mail over SMTP with optional STARTTLS. Recipient
// parsing fails the node; SMTP transport errors are retryable upstream.
type EmailExecutor struct{}

// Kind implements Executor.
func (EmailExecutor) Kind() models.NodeKind { return models.NodeEmail }

// Execute implements Executor.
func (EmailExecutor) Execute(ctx context.Context, node models.Node, ec *engine.ExecutionContext, _ json.RawMessage) (json.RawMessage, error) {
	var cfg EmailConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("email node requires smtp_host")
	}

	recipients, err := parseRecipients(ec.Interpolate(cfg.To))
	if err != nil {
		return nil, err
	}

	password := cfg.Password
	if password == "" && cfg.PasswordSecret != "" {
		if ec.Secrets == nil {
			return nil, fmt.Errorf("no secret resolver available for %q", cfg.PasswordSecret)
		}
		password, err = ec.Secrets.Resolve(cfg.PasswordSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve SMTP password: %w", err)
		}
	}

	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	opts := []gomail.Option{gomail.WithPort(port)}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(password),
		)
	}
	if cfg.StartTLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	msg := gomail.NewMsg()
	if err := msg.From(ec.Interpolate(cfg.From)); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	subject := ec.Interpolate(cfg.Subject)
	msg.Subject(subject)

	body := ec.Interpolate(cfg.Body)
	if cfg.HTML {
		msg.SetBodyString(gomail.TypeTextHTML, body)
	} else {
		msg.SetBodyString(gomail.TypeTextPlain, body)
	}
	messageID := fmt.Sprintf("<%s@restflow>", uuid.NewString())
	msg.SetMessageIDWithValue(messageID)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return nil, fmt.Errorf("SMTP send failed: %w", err)
	}

	return json.Marshal(map[string]any{
		"sent_at":    time.Now().UnixMilli(),
		"message_id": messageID,
		"recipients": recipients,
		"subject":    subject,
		"is_html":    cfg.HTML,
	})
}

// parseRecipients splits and validates a recipient list. Any malformed
// address fails the whole node.
func parseRecipients(raw string) ([]string, error) {
	split := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var recipients []string
	for _, part := range split {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("malformed recipient address %q: %w", addr, err)
		}
		recipients = append(recipients, addr)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("email node requires at least one recipient")
	}
	return recipients, nil
}
