package mailer

import "time"

// EnqueueOption is a functional option for the Enqueue method.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    Priority
	maxAttempts int
	scheduledAt *time.Time
	delay       time.Duration
	metadata    map[string]string
}

// WithPriority sets the item priority.
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		if p == PriorityHigh || p == PriorityNormal {
			o.priority = p
		}
	}
}

// WithMaxAttempts overrides the engine-wide attempt ceiling for this item.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithScheduledAt defers delivery until the given time.
func WithScheduledAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &at
	}
}

// WithDelay defers delivery by the given duration from now.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithMetadata attaches key-value metadata to the item. Metadata has no
// effect on delivery; it only feeds the Recent dedup query.
func WithMetadata(md map[string]string) EnqueueOption {
	return func(o *enqueueOptions) {
		if len(md) > 0 {
			o.metadata = md
		}
	}
}
