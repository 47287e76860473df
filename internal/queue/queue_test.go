package queue_test

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
	"github.com/Bharath-Thiravium/athens-sub000/internal/queue"
	"github.com/Bharath-Thiravium/athens-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *queue.Manager {
	t.Helper()

	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return queue.New(s, logger)
}

func captureEvent(id string) models.Event {
	return models.Event{
		ClientEventID: id,
		Module:        models.ModuleAttendance,
		ModuleRefID:   "site-42",
		EventType:     models.EventCheckIn,
		OccurredAt:    time.Now().UTC(),
		DeviceID:      "device-1",
		Method:        models.MethodPIN,
	}
}

func TestEnqueue_IsIdempotentPerID(t *testing.T) {
	m := newManager(t)

	first := captureEvent("evt-1")
	first.Payload = map[string]any{"v": "old"}
	m.Enqueue(first)

	second := captureEvent("evt-1")
	second.Payload = map[string]any{"v": "new"}
	m.Enqueue(second)

	pending, err := m.ListPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].Event.Payload["v"])
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, 0, pending[0].Attempts)
}

func TestListPending_HonorsLimitAndOrder(t *testing.T) {
	m := newManager(t)

	for i := 0; i < 5; i++ {
		m.Enqueue(captureEvent(fmt.Sprintf("evt-%d", i)))
		time.Sleep(2 * time.Millisecond)
	}

	batch, err := m.ListPending(3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "evt-0", batch[0].Event.ClientEventID)
	assert.Equal(t, "evt-2", batch[2].Event.ClientEventID)
}

func TestStatusTransitions_Legality(t *testing.T) {
	m := newManager(t)
	m.Enqueue(captureEvent("evt-1"))

	// pending -> synced
	m.MarkSynced("evt-1")
	item, err := m.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, item.Status)

	// marking an already-synced id is a no-op
	m.MarkSynced("evt-1")
	m.MarkFailed("evt-1", "too_late")
	item, err = m.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, item.Status)
	assert.Empty(t, item.Error)

	// synced never reverts via requeue
	assert.False(t, m.Requeue("evt-1"))

	// pending -> failed -> (requeue) -> pending
	m.Enqueue(captureEvent("evt-2"))
	m.MarkFailed("evt-2", "duplicate_checkin")
	item, err = m.Get("evt-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, "duplicate_checkin", item.Error)

	assert.True(t, m.Requeue("evt-2"))
	item, err = m.Get("evt-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.Empty(t, item.Error)

	// requeueing a pending item is refused
	assert.False(t, m.Requeue("evt-2"))
	assert.False(t, m.Requeue("missing"))
}

func TestRecordAttempt_DemotesAfterBound(t *testing.T) {
	m := newManager(t)
	m.Enqueue(captureEvent("evt-1"))

	m.RecordAttempt("evt-1", 3)
	m.RecordAttempt("evt-1", 3)
	item, err := m.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 2, item.Attempts)
	assert.NotNil(t, item.LastAttemptAt)

	m.RecordAttempt("evt-1", 3)
	item, err = m.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, "no-response", item.Error)
	assert.Equal(t, 3, item.Attempts)
}

func TestPurgeSynced_RemovesOnlySyncedItems(t *testing.T) {
	m := newManager(t)

	m.Enqueue(captureEvent("evt-done"))
	m.MarkSynced("evt-done")
	m.Enqueue(captureEvent("evt-pending"))
	m.Enqueue(captureEvent("evt-failed"))
	m.MarkFailed("evt-failed", "rejected")

	purged := m.PurgeSynced()
	assert.Equal(t, 1, purged)

	item, err := m.Get("evt-done")
	require.NoError(t, err)
	assert.Nil(t, item)

	pending, failed := m.Counts()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, failed)
}

func TestPurgeSynced_SafeUnderConcurrentEnqueue(t *testing.T) {
	m := newManager(t)

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("evt-old-%d", i)
		m.Enqueue(captureEvent(id))
		m.MarkSynced(id)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.PurgeSynced()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			m.Enqueue(captureEvent(fmt.Sprintf("evt-new-%d", i)))
		}
	}()
	wg.Wait()

	pending, err := m.ListPending(0)
	require.NoError(t, err)
	assert.Len(t, pending, 20)

	synced, err := m.Get("evt-old-0")
	require.NoError(t, err)
	assert.Nil(t, synced)
}

func TestSubscribe_NotifiesOnEveryMutation(t *testing.T) {
	m := newManager(t)

	var mu sync.Mutex
	notified := 0
	unsub := m.Subscribe(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	m.Enqueue(captureEvent("evt-1"))
	m.MarkFailed("evt-1", "bad")
	m.Requeue("evt-1")
	m.MarkSynced("evt-1")
	m.PurgeSynced()

	mu.Lock()
	count := notified
	mu.Unlock()
	assert.Equal(t, 5, count)

	unsub()
	m.Enqueue(captureEvent("evt-2"))

	mu.Lock()
	assert.Equal(t, count, notified)
	mu.Unlock()
}
