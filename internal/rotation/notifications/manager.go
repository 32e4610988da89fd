package notifications

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/systmms/keyrotate/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	drainTimeout = 5 * time.Second
)

// Observer counts deliveries. result is "sent", "failed" or "dropped".
type Observer interface {
	ObserveNotification(notifier, result string)
}

// Manager fans events out to notifiers from a single background worker.
// Send never blocks; events are dropped when the queue is full.
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
	observer  Observer

	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}
	dropped atomic.Int64
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan Event, n)
		}
	}
}

// WithObserver reports every delivery result.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a stopped manager
func NewManager(notifiers []Notifier, logger *logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		notifiers: notifiers,
		logger:    logger,
		queue:     make(chan Event, DefaultQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len returns the number of notifiers.
func (m *Manager) Len() int { return len(m.notifiers) }

// Start begins the worker. Calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop delivers whatever is still queued and waits for the worker.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// Send queues an event. Events sent before Start or after Stop are ignored.
func (m *Manager) Send(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return
	}

	select {
	case m.queue <- event:
	default:
		m.dropped.Add(1)
		m.logger.Warn("Notification queue full, dropped %s event for %s", event.Type, event.Identity)
		m.observe("queue", "dropped")
	}
}

// Dropped returns the number of events lost to a full queue.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case <-m.done:
			m.drain()
			return
		case event := <-m.queue:
			m.dispatch(ctx, event)
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case event := <-m.queue:
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			m.dispatch(ctx, event)
			cancel()
		default:
			return
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, event Event) {
	for _, n := range m.notifiers {
		if !n.SupportsEvent(event.Type) {
			continue
		}
		if err := n.Send(ctx, event); err != nil {
			m.logger.Warn("Notification via %s failed: %v", n.Name(), err)
			m.observe(n.Name(), "failed")
			continue
		}
		m.logger.Debug("Sent %s notification for %s via %s", event.Type, event.Identity, n.Name())
		m.observe(n.Name(), "sent")
	}
}

func (m *Manager) observe(notifier, result string) {
	if m.observer != nil {
		m.observer.ObserveNotification(notifier, result)
	}
}
