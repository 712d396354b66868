package mailer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_DefaultsApplied(t *testing.T) {
	q := newTestQueue(t, &fakeTransport{}, Config{})
	r := NewRunner(RunnerConfig{}, q)

	assert.Equal(t, 10*time.Second, r.config.PollInterval)
	assert.Equal(t, time.Hour, r.config.CleanupInterval)
	assert.Equal(t, 24*time.Hour, r.config.CleanupMaxAge)
}

func TestRunner_TicksQueue(t *testing.T) {
	transport := &fakeTransport{}
	q := newTestQueue(t, transport, Config{})
	q.Enqueue(directMessage("user@example.com"))

	r := NewRunner(RunnerConfig{PollInterval: 10 * time.Millisecond}, q)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		return transport.sentCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_StopIsIdempotentForNewWork(t *testing.T) {
	transport := &fakeTransport{}
	q := newTestQueue(t, transport, Config{})

	r := NewRunner(RunnerConfig{PollInterval: 10 * time.Millisecond}, q)
	r.Start(context.Background())
	r.Stop()

	// Work enqueued after Stop is never delivered
	q.Enqueue(directMessage("late@example.com"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, transport.sentCount())
}

func TestRunner_ContextCancelStops(t *testing.T) {
	q := newTestQueue(t, &fakeTransport{}, Config{})
	r := NewRunner(RunnerConfig{PollInterval: 10 * time.Millisecond}, q)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop on context cancellation")
	}
}
