package mailer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	for _, name := range templateNames {
		assert.True(t, r.Has(name), "missing template %s", name)
	}
	assert.False(t, r.Has("no-such-template"))
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, _, err = r.Render("no-such-template", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestRenderer_BudgetAlert(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, html, text, err := r.Render("budget-alert", map[string]any{
		"user_name": "Ada",
		"category":  "groceries",
		"spent":     142.5,
		"limit":     120.0,
		"currency":  "EUR",
		"over":      true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Budget alert: Groceries", subject)
	assert.Contains(t, html, "Ada")
	assert.Contains(t, html, "142.50")
	assert.Contains(t, text, "Ada")
	assert.Contains(t, text, "over budget")
}

func TestRenderer_Subjects(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	tests := []struct {
		name     string
		template string
		data     map[string]any
		subject  string
	}{
		{
			name:     "budget alert without category",
			template: "budget-alert",
			data:     map[string]any{"spent": 1.0, "limit": 2.0, "currency": "EUR"},
			subject:  "Budget alert",
		},
		{
			name:     "goal reached",
			template: "goal-reached",
			data:     map[string]any{"goal_name": "Vacation fund", "amount": 500.0, "currency": "EUR"},
			subject:  "Goal reached: Vacation fund",
		},
		{
			name:     "monthly report",
			template: "monthly-report",
			data:     map[string]any{"month": "July 2026", "income": 1.0, "expenses": 2.0, "net": -1.0, "currency": "EUR"},
			subject:  "Your July 2026 report",
		},
		{
			name:     "welcome",
			template: string(KindWelcome),
			data:     map[string]any{"user_name": "Ada"},
			subject:  "Welcome to Budgetbook",
		},
		{
			name:     "email verification",
			template: string(KindEmailVerification),
			data:     map[string]any{"code": "123456"},
			subject:  "Verify your email address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, html, text, err := r.Render(tt.template, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
			assert.NotEmpty(t, html)
			assert.NotEmpty(t, text)
		})
	}
}

func TestRenderer_HTMLEscaping(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, html, text, err := r.Render(string(KindWelcome), map[string]any{
		"user_name": "<script>alert(1)</script>",
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, text, "<script>alert(1)</script>")
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		input    any
		expected string
	}{
		{input: 142.5, expected: "142.50"},
		{input: 120, expected: "120.00"},
		{input: "99.99", expected: "99.99"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatAmount(tt.input))
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 7, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "Jul 14, 2026 09:30 UTC", formatTime(ts))
}
