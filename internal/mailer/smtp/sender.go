// Package smtp provides email delivery via SMTP with STARTTLS.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/budgetbook/mailroom/internal/mailer"
)

// Config holds SMTP sender configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	// RateLimit caps outbound messages per second; 0 disables the cap.
	RateLimit float64
}

// Sender implements mailer.Transport over SMTP. Template sends are
// rendered locally since SMTP has no provider-side template machinery.
type Sender struct {
	config   Config
	auth     smtp.Auth
	renderer *mailer.Renderer
	limiter  *rate.Limiter
}

// NewSender creates a new SMTP sender.
func NewSender(config Config, renderer *mailer.Renderer) (*Sender, error) {
	if config.Host == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("smtp sender: from address is required")
	}
	if renderer == nil {
		return nil, errors.New("smtp sender: renderer is required")
	}

	if config.Port == 0 {
		config.Port = 587
	}

	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	slog.Info("smtp sender configured",
		"host", config.Host,
		"port", config.Port,
		"from_address", config.FromAddress,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:   config,
		auth:     auth,
		renderer: renderer,
		limiter:  limiter,
	}, nil
}

// Send delivers a resolved email and returns the generated Message-ID.
func (s *Sender) Send(ctx context.Context, email mailer.Email) (string, error) {
	if email.To == "" {
		return "", errors.New("recipient address is empty")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	messageID := s.newMessageID()
	msg := s.buildMessage(messageID, email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	if err := s.sendWithSTARTTLS(ctx, addr, tlsConfig, email.To, msg); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendTemplate renders a first-class template locally and delivers it.
func (s *Sender) SendTemplate(ctx context.Context, kind mailer.TemplateKind, email mailer.TemplateEmail) (string, error) {
	subject, html, text, err := s.renderer.Render(string(kind), email.Data)
	if err != nil {
		return "", err
	}
	return s.Send(ctx, mailer.Email{
		To:      email.To,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
}

// newMessageID generates an RFC 5322 Message-ID using the sender domain.
func (s *Sender) newMessageID() string {
	domain := "localhost"
	from := extractEmail(s.config.FromAddress)
	if at := strings.LastIndex(from, "@"); at != -1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// buildMessage constructs the message with headers. When both HTML and
// text bodies are present a multipart/alternative message is built.
func (s *Sender) buildMessage(messageID string, email mailer.Email) []byte {
	var msg strings.Builder

	// Headers in deterministic order
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case email.HTML != "" && email.Text != "":
		boundary := strings.ReplaceAll(uuid.New().String(), "-", "")
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
		msg.WriteString("\r\n")
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		msg.WriteString(email.Text)
		msg.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
		msg.WriteString(email.HTML)
		msg.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))
	case email.HTML != "":
		msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.HTML)
	default:
		msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(email.Text)
	}

	return []byte(msg.String())
}

// sendWithSTARTTLS sends the message using STARTTLS (port 587).
func (s *Sender) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, recipient string, msg []byte) error {
	// Dial with timeout
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}
