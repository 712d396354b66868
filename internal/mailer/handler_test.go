package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, transport Transport) (*Queue, http.Handler) {
	t.Helper()
	q := newTestQueue(t, transport, Config{})
	r := chi.NewRouter()
	NewHandler(q).RegisterRoutes(r)
	return q, r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestHandler_Enqueue(t *testing.T) {
	q, h := newTestHandler(t, &fakeTransport{})

	rec := doJSON(t, h, http.MethodPost, "/queue", map[string]any{
		"to":      "user@example.com",
		"subject": "Hello",
		"text":    "hi",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	decodeData(t, rec, &resp)
	require.NotEmpty(t, resp["id"])

	item, ok := q.Get(resp["id"])
	require.True(t, ok)
	assert.Equal(t, StatusPending, item.Status)
	assert.Equal(t, "user@example.com", item.Message.To)
}

func TestHandler_EnqueueValidation(t *testing.T) {
	_, h := newTestHandler(t, &fakeTransport{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "missing recipient",
			body: map[string]any{"subject": "x", "text": "y"},
		},
		{
			name: "bad email",
			body: map[string]any{"to": "not-an-email", "text": "y"},
		},
		{
			name: "bad priority",
			body: map[string]any{"to": "user@example.com", "text": "y", "priority": "urgent"},
		},
		{
			name: "max attempts out of range",
			body: map[string]any{"to": "user@example.com", "text": "y", "max_attempts": 99},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/queue", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandler_EnqueueInvalidJSON(t *testing.T) {
	_, h := newTestHandler(t, &fakeTransport{})

	req := httptest.NewRequest(http.MethodPost, "/queue", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_EnqueueWithOptions(t *testing.T) {
	q, h := newTestHandler(t, &fakeTransport{})

	rec := doJSON(t, h, http.MethodPost, "/queue", map[string]any{
		"to":            "user@example.com",
		"text":          "hi",
		"priority":      "high",
		"delay_seconds": 60,
		"max_attempts":  5,
		"metadata":      map[string]string{MetadataUserID: "u1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	decodeData(t, rec, &resp)

	item, ok := q.Get(resp["id"])
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, item.Priority)
	assert.Equal(t, 5, item.MaxAttempts)
	assert.Equal(t, "u1", item.Metadata[MetadataUserID])
	assert.True(t, item.ScheduledAt.After(time.Now().Add(30*time.Second)))
}

func TestHandler_SendNow(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		_, h := newTestHandler(t, &fakeTransport{})

		rec := doJSON(t, h, http.MethodPost, "/queue/send", map[string]any{
			"to":      "user@example.com",
			"subject": "Hello",
			"text":    "hi",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]string
		decodeData(t, rec, &resp)
		assert.Equal(t, "msg-1", resp["provider_id"])
	})

	t.Run("failure returns queued fallback id", func(t *testing.T) {
		q, h := newTestHandler(t, &fakeTransport{err: errors.New("boom")})

		rec := doJSON(t, h, http.MethodPost, "/queue/send", map[string]any{
			"to":   "user@example.com",
			"text": "hi",
		})
		require.Equal(t, http.StatusBadGateway, rec.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp["queued_id"])
		assert.Equal(t, "boom", resp["error"])

		item, ok := q.Get(resp["queued_id"])
		require.True(t, ok)
		assert.Equal(t, PriorityHigh, item.Priority)
	})
}

func TestHandler_Stats(t *testing.T) {
	q, h := newTestHandler(t, &fakeTransport{})
	q.Enqueue(directMessage("user@example.com"))

	rec := doJSON(t, h, http.MethodGet, "/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats QueueStats
	decodeData(t, rec, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}

func TestHandler_GetItem(t *testing.T) {
	q, h := newTestHandler(t, &fakeTransport{})
	id := q.Enqueue(directMessage("user@example.com"))

	rec := doJSON(t, h, http.MethodGet, "/queue/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var item Item
	decodeData(t, rec, &item)
	assert.Equal(t, id, item.ID)

	rec = doJSON(t, h, http.MethodGet, "/queue/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ListFailed(t *testing.T) {
	transport := &fakeTransport{err: errors.New("boom")}
	q, h := newTestHandler(t, transport)

	q.Enqueue(directMessage("user@example.com"), WithMaxAttempts(1))
	q.Tick(context.Background())

	rec := doJSON(t, h, http.MethodGet, "/queue/failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var failed []Item
	decodeData(t, rec, &failed)
	require.Len(t, failed, 1)
	assert.Equal(t, StatusFailed, failed[0].Status)
}

func TestHandler_ListRecent(t *testing.T) {
	q, h := newTestHandler(t, &fakeTransport{})

	q.Enqueue(directMessage("a@example.com"),
		WithMetadata(map[string]string{MetadataUserID: "u1", "kind": "budget-alert"}))
	q.Enqueue(directMessage("b@example.com"),
		WithMetadata(map[string]string{MetadataUserID: "u2"}))

	t.Run("requires subject_id", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/queue/recent", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("filters by subject and metadata", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/queue/recent?subject_id=u1&meta.kind=budget-alert", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var items []Item
		decodeData(t, rec, &items)
		require.Len(t, items, 1)
		assert.Equal(t, "a@example.com", items[0].Message.To)
	})

	t.Run("rejects malformed since", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/queue/recent?subject_id=u1&since=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("honors since", func(t *testing.T) {
		future := time.Now().Add(time.Hour).Format(time.RFC3339)
		rec := doJSON(t, h, http.MethodGet, "/queue/recent?subject_id=u1&since="+future, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var items []Item
		decodeData(t, rec, &items)
		assert.Empty(t, items)
	})
}

func TestHandler_RetryItem(t *testing.T) {
	transport := &fakeTransport{err: errors.New("boom")}
	q, h := newTestHandler(t, transport)

	id := q.Enqueue(directMessage("user@example.com"), WithMaxAttempts(1))
	q.Tick(context.Background())

	rec := doJSON(t, h, http.MethodPost, "/queue/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	decodeData(t, rec, &resp)
	assert.True(t, resp["reset"])

	// A second retry on the now-pending item reports false
	rec = doJSON(t, h, http.MethodPost, "/queue/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &resp)
	assert.False(t, resp["reset"])
}

func TestHandler_RemoveItem(t *testing.T) {
	q, h := newTestHandler(t, &fakeTransport{})
	id := q.Enqueue(directMessage("user@example.com"))

	rec := doJSON(t, h, http.MethodDelete, "/queue/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := q.Get(id)
	assert.False(t, ok)
}

func TestHandler_Cleanup(t *testing.T) {
	transport := &fakeTransport{err: errors.New("boom")}
	q, h := newTestHandler(t, transport)

	q.Enqueue(directMessage("user@example.com"), WithMaxAttempts(1))
	q.Tick(context.Background())

	// Default 24h horizon keeps the fresh failure
	rec := doJSON(t, h, http.MethodPost, "/queue/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	decodeData(t, rec, &resp)
	assert.Equal(t, 0, resp["removed"])
	assert.Equal(t, 1, q.Stats().Failed)
}
