package mailer

// TemplateKind identifies a template with first-class transport support.
// Messages referencing one of these names skip local rendering and go
// through the provider's own template machinery via SendTemplate. Every
// other template name takes the generic render-then-send path.
type TemplateKind string

// First-class template kinds.
const (
	KindWelcome           TemplateKind = "welcome"
	KindEmailVerification TemplateKind = "email-verification"
)

// firstClassKind maps a template name to its kind, if it has one.
func firstClassKind(name string) (TemplateKind, bool) {
	switch TemplateKind(name) {
	case KindWelcome:
		return KindWelcome, true
	case KindEmailVerification:
		return KindEmailVerification, true
	}
	return "", false
}
