package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/marmos91/dittodrive/internal/logger"
)

// EventKind identifies what happened to an entity.
type EventKind string

const (
	EventSaved   EventKind = "saved"
	EventRemoved EventKind = "removed"
)

// Event describes a persisted change to one entity.
type Event struct {
	Kind      EventKind
	Table     string
	CompanyID string
	ID        string

	// Data is the JSON encoding of the entity as saved (or as it was before
	// removal).
	Data []byte
}

// sameEntity reports whether both events describe the same stored entity.
func (e Event) sameEntity(other Event) bool {
	return e.Table == other.Table && e.CompanyID == other.CompanyID && e.ID == other.ID
}

// EventPublisher receives repository events. Publish must not block on
// delivery.
type EventPublisher interface {
	Publish(Event)
}

// Handler consumes events. Returning an error schedules a redelivery.
// Handlers must be idempotent: an event may be delivered more than once.
type Handler func(ctx context.Context, event Event) error

// OutboxConfig controls redelivery.
type OutboxConfig struct {
	// MaxAttempts is the number of deliveries tried per handler before the
	// event is parked as a dead letter. Default: 8.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound the exponential delay between attempts.
	// Defaults: 50ms and 10s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type envelope struct {
	event     Event
	handler   int
	attempts  int
	notBefore time.Time
}

// Outbox is an unbounded in-process queue delivering repository events to
// subscribed handlers with at-least-once semantics.
//
// Publish never blocks and never fails, so a repository write is never
// affected by a slow or failing subscriber. Failed deliveries are retried
// with exponential backoff (jpillora/backoff). After MaxAttempts the event is
// kept in a dead-letter list that can be redriven.
//
// A failed delivery is never retried once a newer event for the same entity
// has been published to that handler: the newer event carries the current
// state, and replaying the older one after it would resurrect stale data.
// Fresh events are delivered in publish order.
//
// Delivery is performed by a single worker goroutine started with Start.
type Outbox struct {
	cfg     OutboxConfig
	backoff *backoff.Backoff

	mu          sync.Mutex
	handlers    []Handler
	pending     []envelope
	deadLetters []envelope
	inFlight    int

	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewOutbox creates an outbox. Call Start to begin delivery.
func NewOutbox(cfg OutboxConfig) *Outbox {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 50 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	return &Outbox{
		cfg:     cfg,
		backoff: &backoff.Backoff{Min: cfg.MinBackoff, Max: cfg.MaxBackoff, Factor: 2, Jitter: true},
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Subscribe registers a handler. Events published before a handler is
// subscribed are not delivered to it.
func (o *Outbox) Subscribe(h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = append(o.handlers, h)
}

// Publish enqueues event for every subscribed handler. Retries and dead
// letters of older events for the same entity are discarded.
func (o *Outbox) Publish(event Event) {
	o.mu.Lock()
	superseded := func(env envelope) bool {
		return env.event.sameEntity(event)
	}
	o.pending = dropRetries(o.pending, superseded)
	o.deadLetters = dropRetries(o.deadLetters, superseded)
	for i := range o.handlers {
		o.pending = append(o.pending, envelope{event: event, handler: i})
	}
	o.mu.Unlock()
	o.signal()
}

// dropRetries removes the envelopes that already failed at least once and
// match superseded, keeping the order of the rest.
func dropRetries(envs []envelope, superseded func(envelope) bool) []envelope {
	kept := envs[:0]
	for _, env := range envs {
		if env.attempts > 0 && superseded(env) {
			logger.Debug("Outbox: dropping superseded %s event for %s/%s/%s",
				env.event.Kind, env.event.CompanyID, env.event.Table, env.event.ID)
			continue
		}
		kept = append(kept, env)
	}
	return kept
}

// Start launches the delivery worker. It stops when ctx is cancelled or Stop
// is called.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	go o.run(ctx)
}

// Stop halts the worker and waits for the in-flight delivery to finish.
// Undelivered events remain queued.
func (o *Outbox) Stop() {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}

	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
	<-o.doneCh
}

// Pending returns the number of queued and in-flight deliveries.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending) + o.inFlight
}

// DeadLetters returns events whose delivery exhausted all attempts.
func (o *Outbox) DeadLetters() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	events := make([]Event, len(o.deadLetters))
	for i, env := range o.deadLetters {
		events[i] = env.event
	}
	return events
}

// Redrive moves every dead letter back to the pending queue.
//
// Returns the number of deliveries requeued.
func (o *Outbox) Redrive() int {
	o.mu.Lock()
	n := len(o.deadLetters)
	for _, env := range o.deadLetters {
		env.attempts = 0
		env.notBefore = time.Time{}
		o.pending = append(o.pending, env)
	}
	o.deadLetters = nil
	o.mu.Unlock()

	o.signal()
	return n
}

// Flush blocks until every pending delivery has either succeeded or been
// dead-lettered, or ctx is done.
func (o *Outbox) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if o.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) run(ctx context.Context) {
	defer close(o.doneCh)

	for {
		env, handler, wait, ok := o.next()
		if !ok {
			var timer <-chan time.Time
			if wait > 0 {
				timer = time.After(wait)
			}
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-o.wake:
			case <-timer:
			}
			continue
		}

		err := handler(ctx, env.event)
		o.complete(env, err)
	}
}

// next pops the first envelope whose backoff has elapsed. When none is ready
// it returns the delay until the earliest one becomes ready (0 if the queue
// is empty).
func (o *Outbox) next() (envelope, Handler, time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	var earliest time.Duration
	for i, env := range o.pending {
		if !env.notBefore.After(now) {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			o.inFlight++
			return env, o.handlers[env.handler], 0, true
		}
		if d := env.notBefore.Sub(now); earliest == 0 || d < earliest {
			earliest = d
		}
	}
	return envelope{}, nil, earliest, false
}

func (o *Outbox) complete(env envelope, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight--

	if err == nil {
		return
	}

	env.attempts++
	for _, queued := range o.pending {
		if queued.handler == env.handler && queued.event.sameEntity(env.event) {
			logger.Debug("Outbox: not retrying %s event for %s/%s/%s, a newer event is queued",
				env.event.Kind, env.event.CompanyID, env.event.Table, env.event.ID)
			return
		}
	}
	if env.attempts >= o.cfg.MaxAttempts {
		logger.Error("Outbox: giving up on %s event for %s/%s/%s after %d attempts: %v",
			env.event.Kind, env.event.CompanyID, env.event.Table, env.event.ID, env.attempts, err)
		o.deadLetters = append(o.deadLetters, env)
		return
	}

	delay := o.backoff.ForAttempt(float64(env.attempts - 1))
	logger.Warn("Outbox: delivery of %s event for %s/%s/%s failed (attempt %d), retrying in %s: %v",
		env.event.Kind, env.event.CompanyID, env.event.Table, env.event.ID, env.attempts, delay, err)
	env.notBefore = time.Now().Add(delay)
	o.pending = append(o.pending, env)
}
