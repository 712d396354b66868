package mailer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/budgetbook/mailroom/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUnknownTemplate, Status: http.StatusBadRequest, Message: "unknown email template"},
	{Error: ErrEmptyMessage, Status: http.StatusBadRequest, Message: "message has no renderable content"},
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
}

// Handler handles HTTP requests for the mail queue.
type Handler struct {
	queue     *Queue
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(queue *Queue) *Handler {
	return &Handler{
		queue:     queue,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.Stats)
		r.Post("/", h.Enqueue)
		r.Post("/send", h.SendNow)
		r.Get("/failed", h.ListFailed)
		r.Get("/recent", h.ListRecent)
		r.Post("/cleanup", h.Cleanup)
		r.Get("/{id}", h.GetItem)
		r.Post("/{id}/retry", h.RetryItem)
		r.Delete("/{id}", h.RemoveItem)
	})
}

// EnqueueRequest represents request body for enqueueing an email.
type EnqueueRequest struct {
	To          string            `json:"to" validate:"required,email"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Text        string            `json:"text"`
	Template    string            `json:"template"`
	Data        map[string]any    `json:"data"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=high normal"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
	DelaySec    int               `json:"delay_seconds" validate:"omitempty,min=0"`
	MaxAttempts int               `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	Metadata    map[string]string `json:"metadata"`
}

func (r EnqueueRequest) message() Message {
	return Message{
		To:       r.To,
		Subject:  r.Subject,
		HTML:     r.HTML,
		Text:     r.Text,
		Template: r.Template,
		Data:     r.Data,
	}
}

func (r EnqueueRequest) options() []EnqueueOption {
	var opts []EnqueueOption
	if r.Priority == string(PriorityHigh) {
		opts = append(opts, WithPriority(PriorityHigh))
	}
	if r.ScheduledAt != nil {
		opts = append(opts, WithScheduledAt(*r.ScheduledAt))
	} else if r.DelaySec > 0 {
		opts = append(opts, WithDelay(time.Duration(r.DelaySec)*time.Second))
	}
	if r.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(r.MaxAttempts))
	}
	if len(r.Metadata) > 0 {
		opts = append(opts, WithMetadata(r.Metadata))
	}
	return opts
}

// Enqueue handles POST /queue.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	id := h.queue.Enqueue(req.message(), req.options()...)
	httputil.Success(w, http.StatusAccepted, map[string]string{"id": id})
}

// SendNow handles POST /queue/send. A send failure still queues the
// message at high priority, so the 502 response carries the queued id.
func (h *Handler) SendNow(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	providerID, err := h.queue.SendNow(r.Context(), req.message())
	if err != nil {
		var queued *RetryQueuedError
		if errors.As(err, &queued) {
			httputil.JSON(w, http.StatusBadGateway, map[string]string{
				"error":     queued.Cause.Error(),
				"queued_id": queued.ItemID,
			})
			return
		}
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"provider_id": providerID})
}

// Stats handles GET /queue.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.queue.Stats())
}

// ListFailed handles GET /queue/failed.
func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.queue.Failed())
}

// ListRecent handles GET /queue/recent. Metadata filters are passed as
// meta.<key>=<value> query parameters.
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subject_id")
	if subjectID == "" {
		httputil.Error(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	filter := make(map[string]string)
	for key, values := range r.URL.Query() {
		if name, ok := strings.CutPrefix(key, "meta."); ok && len(values) > 0 {
			filter[name] = values[0]
		}
	}

	httputil.Success(w, http.StatusOK, h.queue.Recent(subjectID, since, filter))
}

// GetItem handles GET /queue/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		httputil.HandleError(r.Context(), w, ErrItemNotFound, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// RetryItem handles POST /queue/{id}/retry.
func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	reset := h.queue.RetryFailed(chi.URLParam(r, "id"))
	httputil.Success(w, http.StatusOK, map[string]bool{"reset": reset})
}

// RemoveItem handles DELETE /queue/{id}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.queue.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// CleanupRequest represents request body for a manual cleanup.
type CleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours" validate:"omitempty,min=1"`
}

// Cleanup handles POST /queue/cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	req := CleanupRequest{MaxAgeHours: 24}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httputil.ValidationError(w, err)
			return
		}
		if req.MaxAgeHours == 0 {
			req.MaxAgeHours = 24
		}
	}

	removed := h.queue.Cleanup(time.Duration(req.MaxAgeHours) * time.Hour)
	httputil.Success(w, http.StatusOK, map[string]int{"removed": removed})
}
