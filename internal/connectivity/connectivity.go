package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Monitor is the injected connectivity signal. Implementations report the
// current link state and notify subscribers on every offline/online edge.
type Monitor interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) func()
}

// Probe monitors reachability of the remote service by issuing a lightweight
// request against its health endpoint on a fixed interval
type Probe struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	logger    *slog.Logger

	mu          sync.Mutex
	online      bool
	subscribers map[int]func(online bool)
	nextSubID   int

	shutdown chan struct{}
	stopped  bool
}

// NewProbe creates a connectivity probe against healthURL
func NewProbe(healthURL string, interval, timeout time.Duration, logger *slog.Logger) *Probe {
	return &Probe{
		healthURL:   healthURL,
		interval:    interval,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		subscribers: make(map[int]func(online bool)),
		shutdown:    make(chan struct{}),
	}
}

// Start probes once immediately to settle the initial state, then keeps
// probing in the background until Stop
func (p *Probe) Start() {
	p.check()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.check()
			case <-p.shutdown:
				return
			}
		}
	}()
}

// Stop shuts down the probe loop (idempotent)
func (p *Probe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	close(p.shutdown)
}

// IsOnline reports the last observed link state
func (p *Probe) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe registers a callback fired on every state transition. The
// returned function unsubscribes it.
func (p *Probe) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

// check performs one reachability probe and broadcasts on state change
func (p *Probe) check() {
	online := p.reachable()

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	var fns []func(online bool)
	if changed {
		fns = make([]func(online bool), 0, len(p.subscribers))
		for _, fn := range p.subscribers {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.Info("connectivity changed", "online", online)
	for _, fn := range fns {
		fn(online)
	}
}

func (p *Probe) reachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.healthURL, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
