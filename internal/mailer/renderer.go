package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Template names shipped with the renderer. Each has an HTML and a
// plain-text variant under templates/. The first-class kinds are
// included so transports without provider-side templates (SMTP) can
// render them locally.
var templateNames = []string{
	"budget-alert",
	"goal-reached",
	"monthly-report",
	string(KindWelcome),
	string(KindEmailVerification),
}

// Renderer resolves template references into subject, HTML body and
// plain-text body.
type Renderer struct {
	html map[string]*htmltemplate.Template
	text map[string]*texttemplate.Template
}

// NewRenderer loads and parses all embedded templates.
func NewRenderer() (*Renderer, error) {
	funcMap := map[string]any{
		"title":        titleCase,
		"upper":        strings.ToUpper,
		"lower":        strings.ToLower,
		"formatTime":   formatTime,
		"formatAmount": formatAmount,
	}

	r := &Renderer{
		html: make(map[string]*htmltemplate.Template),
		text: make(map[string]*texttemplate.Template),
	}

	for _, name := range templateNames {
		htmlFile := fmt.Sprintf("templates/%s_html.tmpl", name)
		content, err := templatesFS.ReadFile(htmlFile)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", htmlFile, err)
		}
		htmlTmpl, err := htmltemplate.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", htmlFile, err)
		}
		r.html[name] = htmlTmpl

		textFile := fmt.Sprintf("templates/%s_text.tmpl", name)
		content, err = templatesFS.ReadFile(textFile)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", textFile, err)
		}
		textTmpl, err := texttemplate.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", textFile, err)
		}
		r.text[name] = textTmpl
	}

	return r, nil
}

// Has reports whether the renderer knows the given template name.
func (r *Renderer) Has(name string) bool {
	_, ok := r.html[name]
	return ok
}

// Render renders the named template with the given data.
// Returns subject, HTML body and plain-text body.
func (r *Renderer) Render(name string, data map[string]any) (subject, html, text string, err error) {
	htmlTmpl, ok := r.html[name]
	if !ok {
		return "", "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("execute template %s (html): %w", name, err)
	}
	html = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := r.text[name].Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("execute template %s (text): %w", name, err)
	}
	text = strings.TrimSpace(buf.String())

	return r.renderSubject(name, data), html, text, nil
}

// renderSubject generates the subject line for a generic template.
func (r *Renderer) renderSubject(name string, data map[string]any) string {
	switch name {
	case "budget-alert":
		if category, ok := data["category"].(string); ok && category != "" {
			return fmt.Sprintf("Budget alert: %s", titleCase(category))
		}
		return "Budget alert"
	case "goal-reached":
		if goal, ok := data["goal_name"].(string); ok && goal != "" {
			return fmt.Sprintf("Goal reached: %s", goal)
		}
		return "Goal reached"
	case "monthly-report":
		if month, ok := data["month"].(string); ok && month != "" {
			return fmt.Sprintf("Your %s report", month)
		}
		return "Your monthly report"
	case string(KindWelcome):
		return "Welcome to Budgetbook"
	case string(KindEmailVerification):
		return "Verify your email address"
	default:
		return "Notification"
	}
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func formatAmount(v any) string {
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", n)
	case int:
		return fmt.Sprintf("%d.00", n)
	case string:
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}
