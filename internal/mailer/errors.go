package mailer

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	// ErrUnknownTemplate is returned when a message references a template
	// name with no registered handler. Note: per the documented contract
	// this still consumes delivery attempts like a transient failure.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrEmptyMessage is returned when a message carries neither a direct
	// payload nor a template reference.
	ErrEmptyMessage = errors.New("message has no payload and no template")

	// ErrItemNotFound is returned when a queue item id does not exist.
	ErrItemNotFound = errors.New("queue item not found")
)

// RetryQueuedError reports a failed immediate send whose message was
// enqueued at high priority as a fallback. ItemID identifies the queued
// fallback item.
type RetryQueuedError struct {
	ItemID string
	Cause  error
}

func (e *RetryQueuedError) Error() string {
	return fmt.Sprintf("immediate send failed, retry queued as %s: %v", e.ItemID, e.Cause)
}

func (e *RetryQueuedError) Unwrap() error { return e.Cause }
