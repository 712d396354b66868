package mailer

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// memoryStore holds the ordered collection of queue items. The queue is
// memory-resident for the process lifetime; items stay in the store after
// reaching a terminal status until they are removed or cleaned up, which
// the Recent dedup query depends on.
//
// All mutation goes through the store mutex. The engine is the only
// writer of item state, but the ops API reads concurrently with the
// drain loop, so plain sequential access is not enough.
type memoryStore struct {
	mu    sync.Mutex
	items map[string]*Item
	order []string // queue order: head first
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		items: make(map[string]*Item),
	}
}

// Insert adds an item to the queue. High-priority items go to the head
// (newest first), everything else to the tail in FIFO order.
func (s *memoryStore) Insert(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item
	if item.Priority == PriorityHigh {
		s.order = append([]string{item.ID}, s.order...)
	} else {
		s.order = append(s.order, item.ID)
	}
}

// Remove deletes an item if present. Removing an unknown id is a no-op.
func (s *memoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

func (s *memoryStore) remove(id string) {
	if _, ok := s.items[id]; !ok {
		return
	}
	delete(s.items, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
}

// ClaimDue selects up to limit due items in queue order and transitions
// them to processing, charging one attempt each. Returned items are
// copies; the caller reports the outcome via MarkSent, MarkRetry or
// MarkFailed.
func (s *memoryStore) ClaimDue(now time.Time, limit int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []Item
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		item := s.items[id]
		if item.Status != StatusPending {
			continue
		}
		if item.ScheduledAt.After(now) {
			continue
		}
		// Exhausted items should already be failed; this is a defensive
		// check so they are never re-attempted.
		if item.Attempts >= item.MaxAttempts {
			continue
		}

		item.Status = StatusProcessing
		item.Attempts++
		at := now
		item.LastAttemptAt = &at
		claimed = append(claimed, copyItem(item))
	}

	return claimed
}

// MarkSent records a successful delivery.
func (s *memoryStore) MarkSent(id, providerID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return
	}
	item.Status = StatusSent
	at := now
	item.SentAt = &at
	item.ProviderID = providerID
	item.LastError = ""
}

// MarkRetry records a failed attempt that still has retries left; the
// item returns to pending and is reconsidered on a later drain pass.
func (s *memoryStore) MarkRetry(id, cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return
	}
	item.Status = StatusPending
	item.LastError = cause
}

// MarkFailed records a failed attempt with the attempt budget exhausted.
func (s *memoryStore) MarkFailed(id, cause string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return
	}
	item.Status = StatusFailed
	at := now
	item.FailedAt = &at
	item.LastError = cause
}

// ResetFailed transitions a failed item back to pending with a fresh
// attempt budget. Returns false when the id is unknown or the item is
// not in the failed state; callers get no finer-grained signal.
func (s *memoryStore) ResetFailed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.Status != StatusFailed {
		return false
	}
	item.Status = StatusPending
	item.Attempts = 0
	item.LastError = ""
	item.FailedAt = nil
	return true
}

// Get returns a copy of the item with the given id.
func (s *memoryStore) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return copyItem(item), true
}

// Stats counts items by status.
func (s *memoryStore) Stats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := QueueStats{Total: len(s.items)}
	for _, item := range s.items {
		switch item.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusSent:
			stats.Sent++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Failed returns copies of all failed items in queue order.
func (s *memoryStore) Failed() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []Item
	for _, id := range s.order {
		if item := s.items[id]; item.Status == StatusFailed {
			failed = append(failed, copyItem(item))
		}
	}
	return failed
}

// Recent returns copies of items, regardless of status, created at or
// after since whose metadata matches every key of filter exactly. When
// subjectID is non-empty it must match the item's "user_id" metadata.
func (s *memoryStore) Recent(subjectID string, since time.Time, filter map[string]string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recent []Item
	for _, id := range s.order {
		item := s.items[id]
		if item.CreatedAt.Before(since) {
			continue
		}
		if subjectID != "" && item.Metadata[MetadataUserID] != subjectID {
			continue
		}
		if !metadataMatches(item.Metadata, filter) {
			continue
		}
		recent = append(recent, copyItem(item))
	}
	return recent
}

// PurgeFailed removes failed items whose failure timestamp is before the
// cutoff and returns how many were removed.
func (s *memoryStore) PurgeFailed(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for id, item := range s.items {
		if item.Status == StatusFailed && item.FailedAt != nil && item.FailedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.remove(id)
	}
	return len(stale)
}

func metadataMatches(md, filter map[string]string) bool {
	for k, want := range filter {
		if md[k] != want {
			return false
		}
	}
	return true
}

func copyItem(item *Item) Item {
	c := *item
	c.Metadata = maps.Clone(item.Metadata)
	if item.Message.Data != nil {
		c.Message.Data = maps.Clone(item.Message.Data)
	}
	return c
}
