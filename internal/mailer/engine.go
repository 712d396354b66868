// Package mailer implements an asynchronous, prioritized, retrying
// delivery queue for outbound email. Producers enqueue work items; a
// periodic trigger drains due items in bounded batches through an
// external transport, retrying failures up to a per-item attempt
// ceiling. The queue is memory-resident: its state does not survive a
// process restart.
package mailer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MetadataUserID is the metadata key matched by the subject argument of
// the Recent dedup query.
const MetadataUserID = "user_id"

// Config contains queue engine configuration.
type Config struct {
	// BatchSize is the maximum number of items attempted per drain pass.
	BatchSize int
	// MaxAttempts is the default per-item attempt ceiling, overridable
	// at enqueue time via WithMaxAttempts.
	MaxAttempts int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   5,
		MaxAttempts: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// Queue is the delivery queue engine. It exclusively owns its item
// collection; construct one instance at process start and hand it to
// the components that enqueue work and to the runner that ticks it.
type Queue struct {
	config    Config
	store     *memoryStore
	transport Transport
	renderer  *Renderer

	// draining converts overlapping drain passes into skipped ones. A
	// tick that arrives while a previous tick is still waiting on the
	// transport must not double-send.
	draining atomic.Bool
}

// New creates a queue engine delivering through the given transport.
func New(transport Transport, renderer *Renderer, config Config) *Queue {
	return &Queue{
		config:    config.withDefaults(),
		store:     newMemoryStore(),
		transport: transport,
		renderer:  renderer,
	}
}

// Enqueue adds a message to the queue and returns the generated item id.
// The id is unique for the process lifetime and usable immediately for
// Remove, RetryFailed and Get, before any drain pass runs. Enqueue never
// attempts delivery itself.
func (q *Queue) Enqueue(msg Message, opts ...EnqueueOption) string {
	options := &enqueueOptions{
		priority:    PriorityNormal,
		maxAttempts: q.config.MaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	item := &Item{
		ID:          uuid.New().String(),
		Message:     msg,
		Priority:    options.priority,
		Status:      StatusPending,
		MaxAttempts: options.maxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		Metadata:    options.metadata,
	}
	q.store.Insert(item)

	slog.Debug("email enqueued",
		"item_id", item.ID,
		"priority", item.Priority,
		"template", msg.Template,
		"scheduled_at", scheduledAt,
	)

	return item.ID
}

// Schedule enqueues a message for delivery no earlier than at.
func (q *Queue) Schedule(msg Message, at time.Time) string {
	return q.Enqueue(msg, WithScheduledAt(at))
}

// SendNow attempts immediate synchronous delivery, bypassing the queue.
// On transport failure the message is enqueued with high priority as a
// fallback and the original error is still returned: a non-nil error
// does not mean nothing was queued.
func (q *Queue) SendNow(ctx context.Context, msg Message) (string, error) {
	providerID, err := q.send(ctx, msg)
	if err != nil {
		id := q.Enqueue(msg, WithPriority(PriorityHigh))
		slog.Warn("immediate send failed, queued high-priority fallback",
			"item_id", id,
			"error", err,
		)
		return "", &RetryQueuedError{ItemID: id, Cause: err}
	}
	return providerID, nil
}

// Tick runs one drain pass: selects due, attempt-eligible items up to
// the batch size in queue order and delivers them one at a time. A tick
// arriving while a previous one is still running is skipped, not queued.
func (q *Queue) Tick(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		slog.Debug("drain pass already running, skipping tick")
		ticksSkipped.Inc()
		return
	}
	defer q.draining.Store(false)

	batch := q.store.ClaimDue(time.Now(), q.config.BatchSize)
	if len(batch) == 0 {
		return
	}

	slog.Debug("draining queue", "count", len(batch))

	for i := range batch {
		q.deliver(ctx, &batch[i])
	}

	RecordQueueStats(q.store.Stats())
}

// deliver attempts one item and records the outcome. A failure here is
// isolated to the item; it never aborts the rest of the batch.
func (q *Queue) deliver(ctx context.Context, item *Item) {
	start := time.Now()
	providerID, err := q.send(ctx, item.Message)
	duration := time.Since(start)
	recordSendDuration(duration)

	if err != nil {
		q.handleSendError(item, err)
		return
	}

	q.store.MarkSent(item.ID, providerID, time.Now())
	recordDelivery(outcomeSent)

	slog.Info("email sent",
		"item_id", item.ID,
		"provider_id", providerID,
		"attempt", item.Attempts,
		"duration", duration,
	)
}

// send resolves message content and invokes the transport.
func (q *Queue) send(ctx context.Context, msg Message) (string, error) {
	if msg.IsTemplated() {
		if kind, ok := firstClassKind(msg.Template); ok {
			return q.transport.SendTemplate(ctx, kind, TemplateEmail{
				To:   msg.To,
				Data: msg.Data,
			})
		}

		subject, html, text, err := q.renderer.Render(msg.Template, msg.Data)
		if err != nil {
			return "", err
		}
		return q.transport.Send(ctx, Email{
			To:      msg.To,
			Subject: subject,
			HTML:    html,
			Text:    text,
		})
	}

	if msg.Subject == "" && msg.HTML == "" && msg.Text == "" {
		return "", ErrEmptyMessage
	}

	return q.transport.Send(ctx, Email{
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
}

func (q *Queue) handleSendError(item *Item, err error) {
	// Attempts was already charged when the item was claimed. An unknown
	// template is deliberately accounted the same way as a transient
	// transport failure; see ErrUnknownTemplate.
	if item.Attempts >= item.MaxAttempts {
		q.store.MarkFailed(item.ID, err.Error(), time.Now())
		recordDelivery(outcomeFailed)

		slog.Warn("email delivery failed permanently",
			"item_id", item.ID,
			"attempts", item.Attempts,
			"max_attempts", item.MaxAttempts,
			"error", err,
		)
		return
	}

	q.store.MarkRetry(item.ID, err.Error())
	recordDelivery(outcomeRetry)

	slog.Info("email delivery failed, will retry",
		"item_id", item.ID,
		"attempt", item.Attempts,
		"max_attempts", item.MaxAttempts,
		"error", err,
	)
}

// Remove deletes an item from the queue. Removing an unknown id is a
// no-op, not an error: queue-management operations tolerate races
// between an item completing and an operator acting on its id.
func (q *Queue) Remove(id string) {
	q.store.Remove(id)
}

// RetryFailed resets a failed item to pending with a fresh attempt
// budget and a cleared error. Returns true only when the item existed
// and was in the failed state; false covers both "not found" and
// "not failed" without distinguishing them.
func (q *Queue) RetryFailed(id string) bool {
	ok := q.store.ResetFailed(id)
	if ok {
		slog.Info("failed email queued for retry", "item_id", id)
	}
	return ok
}

// Get returns a copy of the item with the given id.
func (q *Queue) Get(id string) (Item, bool) {
	return q.store.Get(id)
}

// Stats returns item counts by status plus whether a drain pass is
// currently running.
func (q *Queue) Stats() QueueStats {
	stats := q.store.Stats()
	stats.Draining = q.draining.Load()
	return stats
}

// Failed returns all failed items, for operator inspection and manual
// retry.
func (q *Queue) Failed() []Item {
	return q.store.Failed()
}

// Recent returns items of any status created at or after since whose
// metadata matches every key of filter, and whose user_id metadata
// matches subjectID when it is non-empty. Callers use this to decide
// whether an equivalent notification was already queued; the queue does
// not enforce any dedup policy itself.
func (q *Queue) Recent(subjectID string, since time.Time, filter map[string]string) []Item {
	return q.store.Recent(subjectID, since, filter)
}

// Cleanup removes failed items whose failure is older than maxAge and
// returns the count removed.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	removed := q.store.PurgeFailed(time.Now().Add(-maxAge))
	if removed > 0 {
		cleanupRemoved.Add(float64(removed))
		slog.Info("cleaned up failed emails", "removed", removed, "max_age", maxAge)
	}
	return removed
}
