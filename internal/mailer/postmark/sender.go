// Package postmark provides email delivery via the Postmark transactional API.
package postmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"

	"github.com/budgetbook/mailroom/internal/mailer"
)

// Config holds Postmark sender configuration.
type Config struct {
	ServerToken  string
	AccountToken string
	FromAddress  string
	ReplyTo      string
}

// Sender implements mailer.Transport using Postmark's transactional API.
// Template sends map first-class kinds to Postmark template aliases, so
// the templates are managed on the provider side.
type Sender struct {
	client *postmark.Client
	config Config
}

// NewSender creates a new Postmark sender. Both tokens are required so
// that a misconfigured service fails at startup instead of at send time.
func NewSender(config Config) (*Sender, error) {
	if config.ServerToken == "" {
		return nil, errors.New("postmark sender: server token is required")
	}
	if config.AccountToken == "" {
		return nil, errors.New("postmark sender: account token is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("postmark sender: from address is required")
	}

	slog.Info("postmark sender configured", "from_address", config.FromAddress)

	return &Sender{
		client: postmark.NewClient(config.ServerToken, config.AccountToken),
		config: config,
	}, nil
}

// Send delivers a resolved email and returns Postmark's message ID.
// Open tracking is enabled; link tracking stays HTML-only because plain
// text links must not be rewritten.
func (s *Sender) Send(ctx context.Context, email mailer.Email) (string, error) {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.config.FromAddress,
		ReplyTo:    s.config.ReplyTo,
		To:         email.To,
		Subject:    email.Subject,
		HTMLBody:   email.HTML,
		TextBody:   email.Text,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return "", fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return "", fmt.Errorf("postmark send: %d - %s", resp.ErrorCode, resp.Message)
	}
	return resp.MessageID, nil
}

// SendTemplate delivers a templated email using the Postmark template
// whose alias matches the kind.
func (s *Sender) SendTemplate(ctx context.Context, kind mailer.TemplateKind, email mailer.TemplateEmail) (string, error) {
	model := make(map[string]any, len(email.Data))
	for k, v := range email.Data {
		model[k] = v
	}

	resp, err := s.client.SendTemplatedEmail(ctx, postmark.TemplatedEmail{
		TemplateAlias: string(kind),
		TemplateModel: model,
		From:          s.config.FromAddress,
		ReplyTo:       s.config.ReplyTo,
		To:            email.To,
		TrackOpens:    true,
	})
	if err != nil {
		return "", fmt.Errorf("postmark send template %q: %w", kind, err)
	}
	if resp.ErrorCode > 0 {
		return "", fmt.Errorf("postmark send template %q: %d - %s", kind, resp.ErrorCode, resp.Message)
	}
	return resp.MessageID, nil
}
