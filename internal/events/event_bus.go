// Package events provides the progress event bus spec §6 names: one
// structured event per change in run state, fan-out to whatever
// consumers are attached. Shaped as a worker-pool draining a channel,
// with a subscription list and panic-safe async dispatch, re-themed
// from market/trading events to evolution run-progress events.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType is the closed set of progress event kinds spec §6 names.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventLog         EventType = "log"
	EventStatus      EventType = "status"
	EventRunFinished EventType = "run_finished"
	EventError       EventType = "error"
)

// KillStats is a histogram of kill reasons observed so far in the run.
type KillStats map[string]int

// Progress is the payload of a status event.
type Progress struct {
	EvalsCompleted    int       `json:"evals_completed"`
	MaxTotalEvals     int       `json:"max_total_evals"`
	CurrentGeneration int       `json:"current_generation"`
	BestFitness       float64   `json:"best_fitness"`
	KillStats         KillStats `json:"kill_stats"`
}

// Event is one entry in the progress stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Handler processes one event. A handler that returns an error or panics
// is logged and otherwise ignored — a slow or broken consumer must never
// stop the run, per spec §5 ("the Driver MUST continue if no consumer is
// attached").
type Handler func(Event) error

type subscription struct {
	id     int64
	handler Handler
	active atomic.Bool
}

// Bus is a process-wide fan-out point for progress events. Subscribers
// may attach after events have already started flowing; Bus itself does
// not replay history — callers needing "late joiner gets cumulative
// history" semantics (spec §6) keep their own buffer on top, e.g.
// internal/api's connection handler.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []*subscription

	eventChan chan Event
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	nextSubID atomic.Int64
}

// Config configures the bus's worker pool and channel buffer.
type Config struct {
	NumWorkers int
	BufferSize int
}

// DefaultConfig is sized for a single evolution run's event volume —
// one event per evaluation, not per market tick.
func DefaultConfig() Config {
	return Config{NumWorkers: 4, BufferSize: 4096}
}

// NewBus creates and starts a Bus.
func NewBus(logger *zap.Logger, config Config) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:    logger,
		eventChan: make(chan Event, config.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < config.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.eventChan:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.invoke(sub, ev)
	}
	b.processed.Add(1)
}

func (b *Bus) invoke(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panicked", zap.Any("panic", r), zap.String("event_type", string(ev.Type)))
		}
	}()
	if err := sub.handler(ev); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler returned an error", zap.Error(err), zap.String("event_type", string(ev.Type)))
	}
}

// Subscription is a handle returned by Subscribe; pass it to Unsubscribe
// to stop receiving events.
type Subscription struct {
	bus *Bus
	sub *subscription
}

// Unsubscribe deactivates the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.sub.active.Store(false)
}

// Subscribe registers handler to receive every event published after
// this call.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	sub := &subscription{id: b.nextSubID.Add(1), handler: handler}
	sub.active.Store(true)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return &Subscription{bus: b, sub: sub}
}

// Publish enqueues an event for asynchronous dispatch. If the buffer is
// full the event is dropped and counted — per spec §5, a slow consumer
// must never block the Driver.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.eventChan <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("progress event dropped: buffer full", zap.String("event_type", string(ev.Type)))
	}
}

// Stats is a point-in-time snapshot of the bus's counters.
type Stats struct {
	Published int64 `json:"published"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Errors    int64 `json:"errors"`
}

// Stats returns the bus's current counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Processed: b.processed.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
	}
}

// Stop shuts down the bus's workers, waiting up to timeout.
func (b *Bus) Stop(timeout time.Duration) {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		b.logger.Warn("event bus shutdown timed out")
	}
}
