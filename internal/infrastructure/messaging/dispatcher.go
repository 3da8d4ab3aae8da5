package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

// Dispatcher routes bus events to named handlers. Compared to subscribing
// handlers on the bus directly it adds retry with exponential backoff, panic
// recovery, per-handler timeouts, and a bounded queue of events that
// exhausted their retries.
type Dispatcher struct {
	eventBus shared.EventBus
	routes   map[shared.EventType][]route
	failed   *failedEvents
	backoff  BackoffPolicy
	logger   *slog.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	sem      chan struct{}
}

// route binds one handler to an event type.
type route struct {
	name       string
	handler    shared.EventHandler
	async      bool
	maxRetries int
	timeout    time.Duration
}

// BackoffPolicy controls the wait between handler retries.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffPolicy returns the production retry policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2.0,
	}
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	EventBus shared.EventBus

	// WorkerPoolSize bounds concurrent handler executions.
	WorkerPoolSize int

	// DefaultRetries applies to handlers registered without an explicit count.
	DefaultRetries int

	// FailedQueueSize bounds the retained record of exhausted events.
	FailedQueueSize int

	Backoff BackoffPolicy
	Logger  *slog.Logger
}

// DefaultDispatcherConfig returns production defaults for the given bus.
func DefaultDispatcherConfig(eventBus shared.EventBus) DispatcherConfig {
	return DispatcherConfig{
		EventBus:        eventBus,
		WorkerPoolSize:  10,
		DefaultRetries:  3,
		FailedQueueSize: 1000,
		Backoff:         DefaultBackoffPolicy(),
	}
}

// NewDispatcher creates a dispatcher from the given config.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}
	if config.DefaultRetries < 0 {
		config.DefaultRetries = 0
	}

	return &Dispatcher{
		eventBus: config.EventBus,
		routes:   make(map[shared.EventType][]route),
		failed:   newFailedEvents(config.FailedQueueSize),
		backoff:  config.Backoff,
		logger:   config.Logger,
		stopCh:   make(chan struct{}),
		sem:      make(chan struct{}, config.WorkerPoolSize),
	}
}

// Register binds an async handler to an event type under a stable name.
// The name appears in logs and in the failed-event record.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.register(eventType, name, handler, true)
}

// RegisterSync binds a handler whose error propagates to the publisher.
func (d *Dispatcher) RegisterSync(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.register(eventType, name, handler, false)
}

func (d *Dispatcher) register(eventType shared.EventType, name string, handler shared.EventHandler, async bool) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if name == "" {
		return errors.New("handler name cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.routes[eventType] {
		if r.name == name {
			return fmt.Errorf("handler %q already registered for %s", name, eventType)
		}
	}
	d.routes[eventType] = append(d.routes[eventType], route{
		name:       name,
		handler:    handler,
		async:      async,
		maxRetries: 3,
		timeout:    30 * time.Second,
	})
	return nil
}

// Start subscribes the dispatcher to every event on the bus.
func (d *Dispatcher) Start() error {
	return d.eventBus.SubscribeAll(d.dispatch)
}

// Stop waits for in-flight handlers to finish.
func (d *Dispatcher) Stop() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

// FailedEvents returns the retained record of events whose handlers
// exhausted all retries, oldest first.
func (d *Dispatcher) FailedEvents() []FailedEvent {
	return d.failed.list()
}

func (d *Dispatcher) dispatch(event shared.Event) error {
	d.mu.RLock()
	routes := d.routes[event.EventType()]
	d.mu.RUnlock()

	var syncErrs []error
	for _, r := range routes {
		if r.async {
			d.wg.Add(1)
			go func(r route) {
				defer d.wg.Done()
				d.runRoute(event, r)
			}(r)
			continue
		}
		if err := d.runRoute(event, r); err != nil {
			syncErrs = append(syncErrs, err)
		}
	}

	if len(syncErrs) > 0 {
		return errors.Join(syncErrs...)
	}
	return nil
}

// runRoute executes one handler with retry, timeout and panic recovery.
func (d *Dispatcher) runRoute(event shared.Event, r route) error {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.stopCh:
		return errors.New("dispatcher stopped")
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-d.stopCh:
				return errors.New("dispatcher stopped")
			case <-time.After(d.backoffFor(attempt)):
			}
		}

		err := d.runOnce(event, r)
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("event handler attempt failed",
			"handler", r.name,
			"event_type", event.EventType(),
			"attempt", attempt+1,
			"error", err,
		)
	}

	d.failed.add(FailedEvent{
		Event:    event,
		Handler:  r.name,
		Err:      lastErr,
		Attempts: r.maxRetries + 1,
		FailedAt: time.Now().UTC(),
	})
	return fmt.Errorf("handler %s exhausted %d attempts: %w", r.name, r.maxRetries+1, lastErr)
}

func (d *Dispatcher) runOnce(event shared.Event, r route) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("event handler panicked",
					"handler", r.name,
					"event_type", event.EventType(),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				done <- fmt.Errorf("handler panic: %v", rec)
			}
		}()
		done <- r.handler(event)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("handler timeout after %v", r.timeout)
	case <-d.stopCh:
		return errors.New("dispatcher stopped")
	}
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	wait := float64(d.backoff.Initial)
	for i := 1; i < attempt; i++ {
		wait *= d.backoff.Multiplier
	}
	if wait > float64(d.backoff.Max) {
		wait = float64(d.backoff.Max)
	}
	return time.Duration(wait)
}

// FailedEvent records a handler that exhausted its retries.
type FailedEvent struct {
	Event    shared.Event
	Handler  string
	Err      error
	Attempts int
	FailedAt time.Time
}

// failedEvents is a bounded FIFO of FailedEvent records.
type failedEvents struct {
	mu      sync.Mutex
	entries []FailedEvent
	maxSize int
}

func newFailedEvents(maxSize int) *failedEvents {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &failedEvents{maxSize: maxSize}
}

func (q *failedEvents) add(e FailedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, e)
}

func (q *failedEvents) list() []FailedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]FailedEvent, len(q.entries))
	copy(out, q.entries)
	return out
}

// DispatcherBuilder assembles a Dispatcher over a bus with fluent options.
type DispatcherBuilder struct {
	config DispatcherConfig
}

// NewDispatcherBuilder starts a builder with production defaults.
func NewDispatcherBuilder(eventBus shared.EventBus) *DispatcherBuilder {
	return &DispatcherBuilder{config: DefaultDispatcherConfig(eventBus)}
}

// WithWorkerPoolSize sets the concurrent handler bound.
func (b *DispatcherBuilder) WithWorkerPoolSize(size int) *DispatcherBuilder {
	b.config.WorkerPoolSize = size
	return b
}

// WithBackoff sets the retry backoff policy.
func (b *DispatcherBuilder) WithBackoff(policy BackoffPolicy) *DispatcherBuilder {
	b.config.Backoff = policy
	return b
}

// WithLogger replaces the default slog logger.
func (b *DispatcherBuilder) WithLogger(logger *slog.Logger) *DispatcherBuilder {
	b.config.Logger = logger
	return b
}

// Build finalizes the configuration.
func (b *DispatcherBuilder) Build() *Dispatcher {
	return NewDispatcher(b.config)
}
