package mailer

import "time"

// Status represents the lifecycle state of a queue item.
type Status string

// Item statuses. An item is "processing" only transiently, while the
// current drain pass is attempting its delivery.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Priority controls where an item is inserted into the queue.
type Priority string

// Priorities. High-priority items are inserted at the head of the
// queue, normal-priority items at the tail.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Message is the content of an outbound email. Exactly one representation
// is populated: either the direct fields (To, Subject, HTML, Text) or a
// template reference (Template + Data). A malformed or empty recipient is
// accepted at enqueue time; it surfaces as a delivery failure when the
// transport rejects it.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`

	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// IsTemplated reports whether the message carries a template reference.
func (m Message) IsTemplated() bool {
	return m.Template != ""
}

// Item represents one pending or historical delivery attempt in the queue.
type Item struct {
	ID            string            `json:"id"`
	Message       Message           `json:"message"`
	Priority      Priority          `json:"priority"`
	Status        Status            `json:"status"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	CreatedAt     time.Time         `json:"created_at"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	FailedAt      *time.Time        `json:"failed_at,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	ProviderID    string            `json:"provider_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// QueueStats is an operator-facing summary of queue state.
type QueueStats struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Sent       int  `json:"sent"`
	Failed     int  `json:"failed"`
	Draining   bool `json:"draining"`
}
