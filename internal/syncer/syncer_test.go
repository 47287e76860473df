package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
	"github.com/Bharath-Thiravium/athens-sub000/internal/queue"
	"github.com/Bharath-Thiravium/athens-sub000/internal/status"
	"github.com/Bharath-Thiravium/athens-sub000/internal/store"
	"github.com/Bharath-Thiravium/athens-sub000/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMonitor is a flip-able connectivity source for deterministic tests
type fakeMonitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

func newFakeMonitor(online bool) *fakeMonitor {
	return &fakeMonitor{online: online, subs: make(map[int]func(online bool))}
}

func (f *fakeMonitor) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeMonitor) Subscribe(fn func(online bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeMonitor) setOnline(online bool) {
	f.mu.Lock()
	changed := online != f.online
	f.online = online
	var fns []func(online bool)
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range fns {
		fn(online)
	}
}

// fakeSubmitter records submitted batches and answers with a scripted
// response
type fakeSubmitter struct {
	mu      sync.Mutex
	batches [][]models.Event
	respond func(events []models.Event) (*models.BulkSubmitResponse, error)
}

func (f *fakeSubmitter) SubmitBatch(ctx context.Context, events []models.Event) (*models.BulkSubmitResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, events)
	f.mu.Unlock()
	return f.respond(events)
}

func (f *fakeSubmitter) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// acceptAll acknowledges every submitted id as created
func acceptAll(events []models.Event) (*models.BulkSubmitResponse, error) {
	resp := &models.BulkSubmitResponse{}
	for _, e := range events {
		resp.Created = append(resp.Created, e.ClientEventID)
	}
	return resp, nil
}

func newTestQueue(t *testing.T) *queue.Manager {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return queue.New(s, testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func enqueueN(q *queue.Manager, n int) {
	for i := 0; i < n; i++ {
		q.Enqueue(models.Event{
			ClientEventID: fmt.Sprintf("evt-%03d", i),
			Module:        models.ModuleAttendance,
			ModuleRefID:   "site-42",
			EventType:     models.EventCheckIn,
			OccurredAt:    time.Now().UTC(),
			DeviceID:      "device-1",
			Method:        models.MethodQR,
			Offline:       true,
		})
	}
}

func TestRunCycle_CreatedEventsAreSyncedAndPurged(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(false)
	submitter := &fakeSubmitter{respond: acceptAll}
	tracker := status.NewTracker()
	s := New(q, submitter, monitor, tracker, testLogger(), Options{})

	enqueueN(q, 1)
	pending, _ := q.Counts()
	require.Equal(t, 1, pending)

	// Offline: the cycle backs off without transmitting
	s.runCycle()
	assert.Empty(t, submitter.batchSizes())

	monitor.setOnline(true)
	s.runCycle()

	require.Equal(t, []int{1}, submitter.batchSizes())
	pending, failed := q.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, failed)

	// Acknowledged items were purged, not retained
	item, err := q.Get("evt-000")
	require.NoError(t, err)
	assert.Nil(t, item)

	snap := tracker.Get()
	require.NotNil(t, snap.LastSync)
	assert.Equal(t, 0, snap.PendingCount)
}

func TestRunCycle_DuplicatesCountAsSynced(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)
	submitter := &fakeSubmitter{respond: func(events []models.Event) (*models.BulkSubmitResponse, error) {
		// Retried submission: the server already knows these ids
		resp := &models.BulkSubmitResponse{}
		for _, e := range events {
			resp.Duplicates = append(resp.Duplicates, e.ClientEventID)
		}
		return resp, nil
	}}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{})

	enqueueN(q, 3)
	s.runCycle()

	pending, failed := q.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, failed)
}

func TestRunCycle_RejectedEventIsRetainedAsFailed(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)
	submitter := &fakeSubmitter{respond: func(events []models.Event) (*models.BulkSubmitResponse, error) {
		return &models.BulkSubmitResponse{
			Rejected: []models.Rejection{{ClientEventID: events[0].ClientEventID, Reason: "duplicate_checkin"}},
		}, nil
	}}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{})

	enqueueN(q, 1)
	s.runCycle()

	pending, failed := q.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, failed)

	item, err := q.Get("evt-000")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, "duplicate_checkin", item.Error)
}

func TestRunCycle_BatchCapSplitsWork(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)
	submitter := &fakeSubmitter{respond: acceptAll}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{BatchSize: 50})

	enqueueN(q, 60)

	s.runCycle()
	pending, _ := q.Counts()
	assert.Equal(t, 10, pending)

	s.runCycle()
	pending, _ = q.Counts()
	assert.Equal(t, 0, pending)

	assert.Equal(t, []int{50, 10}, submitter.batchSizes())
}

func TestRunCycle_TransportFailureLeavesBatchUntouched(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)
	submitter := &fakeSubmitter{respond: func(events []models.Event) (*models.BulkSubmitResponse, error) {
		return nil, &transport.TransportError{StatusCode: 503}
	}}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{})

	enqueueN(q, 5)
	s.runCycle()

	pending, failed := q.Counts()
	assert.Equal(t, 5, pending)
	assert.Equal(t, 0, failed)

	// Attempts are not incremented on transport-layer failure
	items, err := q.ListPending(0)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, 0, item.Attempts)
		assert.Nil(t, item.LastAttemptAt)
	}
}

func TestRunCycle_AmbiguousIDsRetryBoundedThenFail(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)
	// Delivered batch, but the server never classifies the id
	submitter := &fakeSubmitter{respond: func(events []models.Event) (*models.BulkSubmitResponse, error) {
		return &models.BulkSubmitResponse{}, nil
	}}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{MaxAttempts: 2})

	enqueueN(q, 1)

	s.runCycle()
	item, err := q.Get("evt-000")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)

	s.runCycle()
	item, err = q.Get("evt-000")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, item.Status)
	assert.Equal(t, "no-response", item.Error)
}

func TestRunCycle_SingleFlight(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)

	entered := make(chan struct{})
	release := make(chan struct{})
	submitter := &fakeSubmitter{respond: func(events []models.Event) (*models.BulkSubmitResponse, error) {
		close(entered)
		<-release
		return acceptAll(events)
	}}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{})

	enqueueN(q, 1)

	done := make(chan struct{})
	go func() {
		s.runCycle()
		close(done)
	}()

	<-entered
	// A second cycle while one is in flight is a no-op
	s.runCycle()
	close(release)
	<-done

	assert.Equal(t, []int{1}, submitter.batchSizes())
}

func TestStart_OnlineTransitionTriggersSync(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(false)
	submitter := &fakeSubmitter{respond: acceptAll}
	tracker := status.NewTracker()
	s := New(q, submitter, monitor, tracker, testLogger(), Options{Interval: time.Hour})

	s.Start()
	defer s.Stop()

	enqueueN(q, 2)
	monitor.setOnline(true)

	require.Eventually(t, func() bool {
		pending, _ := q.Counts()
		return pending == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, tracker.Get().IsOnline)
	assert.NotNil(t, tracker.Get().LastSync)
}

func TestStart_QueueChangeWhileOnlineTriggersSync(t *testing.T) {
	q := newTestQueue(t)
	monitor := newFakeMonitor(true)
	submitter := &fakeSubmitter{respond: acceptAll}
	s := New(q, submitter, monitor, status.NewTracker(), testLogger(), Options{Interval: time.Hour})

	s.Start()
	defer s.Stop()

	enqueueN(q, 1)

	require.Eventually(t, func() bool {
		pending, _ := q.Counts()
		return pending == 0
	}, 5*time.Second, 10*time.Millisecond)
}
