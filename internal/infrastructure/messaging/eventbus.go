// Package messaging implements in-process event delivery for the progression
// engine. Approval, scoring and leaderboard events flow through the bus to the
// cache-invalidation and rank-notification handlers.
package messaging

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// ErrEventBusClosed is returned when publishing or subscribing on a closed bus.
var ErrEventBusClosed = errors.New("event bus is closed")

// InMemoryEventBus delivers events to subscribed handlers within a single
// process. Both the API and the worker run one bus each; cross-process
// consistency comes from the database, not from event delivery.
type InMemoryEventBus struct {
	mu        sync.RWMutex
	byType    map[shared.EventType][]shared.EventHandler
	catchAll  []shared.EventHandler
	asyncMode bool
	sem       chan struct{}
	logger    *slog.Logger
	counters  *busCounters
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// InMemoryEventBusConfig configures the bus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on the worker pool instead of the publisher's
	// goroutine. Command handlers publish inside request handling, so async
	// is the production setting.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent handler executions in async mode.
	WorkerPoolSize int

	Logger *slog.Logger

	// EnableMetrics turns on publish/execution counters.
	EnableMetrics bool
}

// DefaultInMemoryEventBusConfig returns the production defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// NewInMemoryEventBus creates a bus from the given config.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	bus := &InMemoryEventBus{
		byType:    make(map[shared.EventType][]shared.EventHandler),
		asyncMode: config.AsyncMode,
		sem:       make(chan struct{}, config.WorkerPoolSize),
		logger:    config.Logger,
		closeCh:   make(chan struct{}),
	}
	if config.EnableMetrics {
		bus.counters = &busCounters{}
	}
	return bus
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.byType[eventType] = append(b.byType[eventType], handler)
	return nil
}

// SubscribeAll registers a handler that receives every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.catchAll = append(b.catchAll, handler)
	return nil
}

// Publish delivers the event to every matching handler. In async mode the
// call returns once all handlers are queued; handler errors are logged, not
// returned, so a failing cache refresh cannot fail an approval.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.byType[event.EventType()])+len(b.catchAll))
	handlers = append(handlers, b.byType[event.EventType()]...)
	handlers = append(handlers, b.catchAll...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}
	if b.counters != nil {
		b.counters.published.Add(1)
	}

	for _, handler := range handlers {
		if b.asyncMode {
			b.runAsync(event, handler)
		} else if err := b.run(event, handler); err != nil {
			b.logger.Error("event handler failed",
				"event_type", event.EventType(),
				"error", err,
			)
		}
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		select {
		case b.sem <- struct{}{}:
			defer func() { <-b.sem }()
		case <-b.closeCh:
			return
		}

		if err := b.run(event, handler); err != nil {
			b.logger.Error("event handler failed",
				"event_type", event.EventType(),
				"error", err,
			)
		}
	}()
}

func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) error {
	start := time.Now()
	err := handler(event)
	if b.counters != nil {
		b.counters.record(time.Since(start), err == nil)
	}
	return err
}

// Close stops accepting events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// Stats returns cumulative counters, or zeroes when metrics are disabled.
func (b *InMemoryEventBus) Stats() BusStats {
	if b.counters == nil {
		return BusStats{}
	}
	return b.counters.snapshot()
}

// busCounters tracks delivery totals with atomics; Publish is on the hot path
// of every approval.
type busCounters struct {
	published  atomic.Int64
	executions atomic.Int64
	failures   atomic.Int64
	totalNanos atomic.Int64
}

func (c *busCounters) record(d time.Duration, ok bool) {
	c.executions.Add(1)
	c.totalNanos.Add(int64(d))
	if !ok {
		c.failures.Add(1)
	}
}

func (c *busCounters) snapshot() BusStats {
	execs := c.executions.Load()
	stats := BusStats{
		Published:  c.published.Load(),
		Executions: execs,
		Failures:   c.failures.Load(),
	}
	if execs > 0 {
		stats.AvgHandlerTime = time.Duration(c.totalNanos.Load() / execs)
	}
	return stats
}

// BusStats is a point-in-time view of bus activity.
type BusStats struct {
	Published      int64
	Executions     int64
	Failures       int64
	AvgHandlerTime time.Duration
}
