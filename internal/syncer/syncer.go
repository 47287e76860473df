package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/connectivity"
	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
	"github.com/Bharath-Thiravium/athens-sub000/internal/queue"
	"github.com/Bharath-Thiravium/athens-sub000/internal/status"
	"github.com/Bharath-Thiravium/athens-sub000/internal/transport"
)

// Submitter sends one batch of raw events to the remote bulk endpoint
type Submitter interface {
	SubmitBatch(ctx context.Context, events []models.Event) (*models.BulkSubmitResponse, error)
}

// Options configure a sync cycle
type Options struct {
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
}

// Syncer bridges the queue to the network. It observes connectivity and
// queue changes, pulls bounded batches of pending events, transmits them in
// one call and reconciles the server's per-item outcome back into the queue.
// Exactly one cycle runs at a time; triggers arriving while a cycle is in
// flight coalesce into at most one follow-up cycle.
type Syncer struct {
	queue   *queue.Manager
	client  Submitter
	monitor connectivity.Monitor
	tracker *status.Tracker
	logger  *slog.Logger
	opts    Options

	syncing  atomic.Bool
	wake     chan struct{}
	shutdown chan struct{}
	stopped  bool
	unsubs   []func()
}

// New creates a syncer. Zero option fields fall back to batch 50, 5 attempts
// and a 5 minute interval.
func New(q *queue.Manager, client Submitter, monitor connectivity.Monitor, tracker *status.Tracker, logger *slog.Logger, opts Options) *Syncer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}

	return &Syncer{
		queue:    q,
		client:   client,
		monitor:  monitor,
		tracker:  tracker,
		logger:   logger,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
}

// Start wires the triggers and begins the sync loop
func (s *Syncer) Start() {
	pending, failed := s.queue.Counts()
	online := s.monitor.IsOnline()
	s.tracker.Update(func(snap *models.Snapshot) {
		snap.IsOnline = online
		snap.PendingCount = pending
		snap.FailedCount = failed
	})

	s.unsubs = append(s.unsubs, s.monitor.Subscribe(func(online bool) {
		s.tracker.Update(func(snap *models.Snapshot) { snap.IsOnline = online })
		if online {
			s.SyncNow()
		}
	}))

	s.unsubs = append(s.unsubs, s.queue.Subscribe(func() {
		pending, failed := s.queue.Counts()
		s.tracker.Update(func(snap *models.Snapshot) {
			snap.PendingCount = pending
			snap.FailedCount = failed
		})
		if s.monitor.IsOnline() {
			s.SyncNow()
		}
	}))

	go s.loop()
	s.logger.Info("syncer started",
		"batch_size", s.opts.BatchSize, "interval", s.opts.Interval)
}

// Stop shuts down the sync loop and detaches all triggers (idempotent)
func (s *Syncer) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true

	for _, unsub := range s.unsubs {
		unsub()
	}
	close(s.shutdown)
	s.logger.Info("syncer stopped")
}

// SyncNow requests a sync cycle. It returns immediately; if a cycle is
// already running the request coalesces into the next one.
func (s *Syncer) SyncNow() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop is the trigger loop: wake requests, plus a fixed periodic retry while
// work is pending
func (s *Syncer) loop() {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
			s.runCycle()

		case <-ticker.C:
			pending, _ := s.queue.Counts()
			if pending > 0 {
				s.runCycle()
			}

		case <-s.shutdown:
			return
		}
	}
}

// runCycle executes one sync cycle: connectivity check, batch collection,
// transmit, reconcile, purge. The in-flight guard makes concurrent calls a
// no-op.
func (s *Syncer) runCycle() {
	if !s.syncing.CompareAndSwap(false, true) {
		return
	}
	defer s.syncing.Store(false)

	if !s.monitor.IsOnline() {
		return
	}

	batch, err := s.queue.ListPending(s.opts.BatchSize)
	if err != nil {
		s.logger.Error("failed to collect sync batch", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	s.tracker.Update(func(snap *models.Snapshot) { snap.IsSyncing = true })
	defer s.tracker.Update(func(snap *models.Snapshot) { snap.IsSyncing = false })

	events := make([]models.Event, len(batch))
	for i, item := range batch {
		events[i] = item.Event
	}

	s.logger.Info("transmitting batch", "events", len(events))
	resp, err := s.client.SubmitBatch(context.Background(), events)
	if err != nil {
		// Transport failure: the whole batch stays pending untouched and is
		// retried as-is by the next trigger
		var terr *transport.TransportError
		if errors.As(err, &terr) {
			s.logger.Warn("batch undeliverable, will retry", "error", err)
		} else {
			s.logger.Error("batch submit failed", "error", err)
		}
		return
	}

	s.reconcile(batch, resp)

	purged := s.queue.PurgeSynced()
	if purged > 0 {
		s.logger.Info("purged acknowledged events", "count", purged)
	}

	now := time.Now().UTC()
	pending, failed := s.queue.Counts()
	s.tracker.Update(func(snap *models.Snapshot) {
		snap.LastSync = &now
		snap.PendingCount = pending
		snap.FailedCount = failed
	})
}

// reconcile maps the server's disjoint id sets onto item outcomes. Created
// and duplicate ids are synced, rejected ids fail with the server's reason,
// and ids absent from all three sets stay pending with a bounded attempt
// count before demotion.
func (s *Syncer) reconcile(batch []models.QueueItem, resp *models.BulkSubmitResponse) {
	acknowledged := make(map[string]bool, len(resp.Created)+len(resp.Duplicates))
	for _, id := range resp.Created {
		acknowledged[id] = true
	}
	for _, id := range resp.Duplicates {
		acknowledged[id] = true
	}

	rejected := make(map[string]string, len(resp.Rejected))
	for _, r := range resp.Rejected {
		rejected[r.ClientEventID] = r.Reason
	}

	for _, item := range batch {
		id := item.Event.ClientEventID
		if acknowledged[id] {
			s.queue.MarkSynced(id)
		} else if reason, ok := rejected[id]; ok {
			s.logger.Warn("event rejected by server",
				"client_event_id", id, "reason", reason)
			s.queue.MarkFailed(id, reason)
		} else {
			s.logger.Warn("event unclassified in response, left pending",
				"client_event_id", id, "attempts", item.Attempts+1)
			s.queue.RecordAttempt(id, s.opts.MaxAttempts)
		}
	}
}
