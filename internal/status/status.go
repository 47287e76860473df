package status

import (
	"sync"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
)

// Tracker holds the current sync status snapshot and pushes updates to
// subscribers so the UI never has to poll storage on a timer
type Tracker struct {
	mu          sync.Mutex
	snapshot    models.Snapshot
	subscribers map[int]func(models.Snapshot)
	nextSubID   int
}

// NewTracker creates an empty status tracker
func NewTracker() *Tracker {
	return &Tracker{subscribers: make(map[int]func(models.Snapshot))}
}

// Get returns the current snapshot
func (t *Tracker) Get() models.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// Update applies fn to the snapshot and broadcasts the result
func (t *Tracker) Update(fn func(*models.Snapshot)) {
	t.mu.Lock()
	fn(&t.snapshot)
	snap := t.snapshot
	fns := make([]func(models.Snapshot), 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		fns = append(fns, sub)
	}
	t.mu.Unlock()

	for _, sub := range fns {
		sub(snap)
	}
}

// Subscribe registers a callback fired on every snapshot change. The
// returned function unsubscribes it.
func (t *Tracker) Subscribe(fn func(models.Snapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}
