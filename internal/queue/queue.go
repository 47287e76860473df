package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
	"github.com/Bharath-Thiravium/athens-sub000/internal/store"
)

// noResponseReason marks items the server never classified after the bounded
// number of delivery attempts
const noResponseReason = "no-response"

// Manager is the single source of truth for queue-item lifecycle. It is
// independent of connectivity: enqueue never touches the network, and store
// failures are absorbed rather than surfaced to producers.
type Manager struct {
	store  store.Store
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]func()
	nextSubID   int
}

// New creates a queue manager over the given store
func New(s store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:       s,
		logger:      logger,
		subscribers: make(map[int]func()),
	}
}

// Subscribe registers a change-notification callback, fired after every
// mutating operation. The returned function unsubscribes it.
func (m *Manager) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// notify broadcasts a queue-changed notification to all subscribers
func (m *Manager) notify() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Enqueue wraps the event in a pending queue item and upserts it by client
// event id. Re-enqueueing an id replaces the stored item, it never
// duplicates. Store failures degrade durability, not the enqueue contract,
// so producers always observe success.
func (m *Manager) Enqueue(event models.Event) *models.QueueItem {
	item := &models.QueueItem{
		Event:     event,
		Status:    models.StatusPending,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.Put(item); err != nil {
		m.logger.Error("failed to persist enqueued event",
			"client_event_id", event.ClientEventID, "error", err)
	}

	m.notify()
	return item
}

// Get returns the item for a client event id, nil if not found
func (m *Manager) Get(clientEventID string) (*models.QueueItem, error) {
	return m.store.Get(clientEventID)
}

// ListPending returns up to limit pending items, oldest first. limit <= 0
// means no limit.
func (m *Manager) ListPending(limit int) ([]models.QueueItem, error) {
	items, err := m.store.ListByStatus(models.StatusPending)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ListFailed returns all failed items for operator visibility
func (m *Manager) ListFailed() ([]models.QueueItem, error) {
	return m.store.ListByStatus(models.StatusFailed)
}

// MarkSynced transitions a pending item to synced. Marking an already-synced
// or missing id is a no-op; a failed item stays failed until requeued.
func (m *Manager) MarkSynced(clientEventID string) {
	item, err := m.store.Get(clientEventID)
	if err != nil {
		m.logger.Error("failed to load item for mark-synced",
			"client_event_id", clientEventID, "error", err)
		return
	}
	if item == nil || item.Status != models.StatusPending {
		return
	}

	item.Status = models.StatusSynced
	item.Error = ""
	if err := m.store.Put(item); err != nil {
		m.logger.Error("failed to mark item synced",
			"client_event_id", clientEventID, "error", err)
		return
	}

	m.notify()
}

// MarkFailed transitions a pending item to failed with the given reason. The
// item is retained for operator review; synced items are never demoted.
func (m *Manager) MarkFailed(clientEventID, reason string) {
	item, err := m.store.Get(clientEventID)
	if err != nil {
		m.logger.Error("failed to load item for mark-failed",
			"client_event_id", clientEventID, "error", err)
		return
	}
	if item == nil || item.Status != models.StatusPending {
		return
	}

	item.Status = models.StatusFailed
	item.Error = reason
	if err := m.store.Put(item); err != nil {
		m.logger.Error("failed to mark item failed",
			"client_event_id", clientEventID, "error", err)
		return
	}

	m.notify()
}

// Requeue resets a failed item back to pending for another sync attempt.
// Only failed items can be requeued. Returns true if the item was requeued.
func (m *Manager) Requeue(clientEventID string) bool {
	item, err := m.store.Get(clientEventID)
	if err != nil {
		m.logger.Error("failed to load item for requeue",
			"client_event_id", clientEventID, "error", err)
		return false
	}
	if item == nil || item.Status != models.StatusFailed {
		return false
	}

	item.Status = models.StatusPending
	item.Attempts = 0
	item.Error = ""
	if err := m.store.Put(item); err != nil {
		m.logger.Error("failed to requeue item",
			"client_event_id", clientEventID, "error", err)
		return false
	}

	m.notify()
	return true
}

// RecordAttempt increments the delivery attempt counter of a pending item
// after the server left it unclassified. Once attempts exceed maxAttempts the
// item is demoted to failed with a synthetic no-response reason so it cannot
// retry forever.
func (m *Manager) RecordAttempt(clientEventID string, maxAttempts int) {
	item, err := m.store.Get(clientEventID)
	if err != nil {
		m.logger.Error("failed to load item for attempt record",
			"client_event_id", clientEventID, "error", err)
		return
	}
	if item == nil || item.Status != models.StatusPending {
		return
	}

	now := time.Now().UTC()
	item.Attempts++
	item.LastAttemptAt = &now
	if item.Attempts >= maxAttempts {
		item.Status = models.StatusFailed
		item.Error = noResponseReason
	}

	if err := m.store.Put(item); err != nil {
		m.logger.Error("failed to record attempt",
			"client_event_id", clientEventID, "error", err)
		return
	}

	m.notify()
}

// PurgeSynced deletes all currently synced items. Only items already in the
// synced set are touched, so a concurrent enqueue of a new pending item is
// never affected.
func (m *Manager) PurgeSynced() int {
	items, err := m.store.ListByStatus(models.StatusSynced)
	if err != nil {
		m.logger.Error("failed to list synced items for purge", "error", err)
		return 0
	}

	purged := 0
	for _, item := range items {
		if err := m.store.Delete(item.Event.ClientEventID); err != nil {
			m.logger.Error("failed to purge synced item",
				"client_event_id", item.Event.ClientEventID, "error", err)
			continue
		}
		purged++
	}

	if purged > 0 {
		m.notify()
	}
	return purged
}

// Counts returns the current pending and failed item counts
func (m *Manager) Counts() (pending, failed int) {
	if items, err := m.store.ListByStatus(models.StatusPending); err == nil {
		pending = len(items)
	}
	if items, err := m.store.ListByStatus(models.StatusFailed); err == nil {
		failed = len(items)
	}
	return pending, failed
}
