package mailer

import "context"

// Email is a fully-resolved outbound message handed to a transport.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// TemplateEmail is the input for a transport's own template machinery.
type TemplateEmail struct {
	To   string
	Data map[string]any
}

// Transport delivers resolved emails through an external provider.
// Send returns the provider's message identifier on success.
// SendTemplate is the first-class path for template kinds the provider
// renders itself (e.g. Postmark template aliases).
type Transport interface {
	Send(ctx context.Context, email Email) (string, error)
	SendTemplate(ctx context.Context, kind TemplateKind, email TemplateEmail) (string, error)
}
