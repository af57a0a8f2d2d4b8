// Package events emits message lifecycle events to interested sinks.
// Emission is fire-and-forget: the relay never blocks on a slow sink and
// events are dropped when the queue saturates.
package events

import (
	"log/slog"
	"sync"
	"time"

	"xcmlite/internal/proto"
)

const queueSize = 256

type Kind string

const (
	Submitted  Kind = "Submitted"
	Validated  Kind = "Validated"
	HopAttempt Kind = "HopAttempt"
	Executed   Kind = "Executed"
	Failed     Kind = "Failed"
)

type Event struct {
	Kind      Kind
	MessageID string
	Hop       int
	OK        bool
	Reason    string
	Outcome   *proto.Outcome
	At        time.Time
}

// Sink receives events on the emitter's dispatch goroutine. Sinks must
// not block.
type Sink func(Event)

type Emitter struct {
	ch        chan Event
	closeOnce sync.Once
	done      chan struct{}
}

// New starts an emitter dispatching to sinks in order.
func New(sinks ...Sink) *Emitter {
	e := &Emitter{
		ch:   make(chan Event, queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		for ev := range e.ch {
			for _, s := range sinks {
				s(ev)
			}
		}
	}()
	return e
}

// Emit queues ev without blocking; saturated queues drop.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Close stops dispatch after draining queued events.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.ch)
		<-e.done
	})
}

// SlogSink logs every event through logger.
func SlogSink(logger *slog.Logger) Sink {
	return func(ev Event) {
		attrs := []any{"msg_id", ev.MessageID}
		switch ev.Kind {
		case HopAttempt:
			attrs = append(attrs, "hop", ev.Hop, "ok", ev.OK)
			if ev.Reason != "" {
				attrs = append(attrs, "reason", ev.Reason)
			}
		case Executed:
			if ev.Outcome != nil {
				attrs = append(attrs, "outcome", ev.Outcome.Kind)
			}
		case Failed:
			attrs = append(attrs, "reason", ev.Reason)
		}
		logger.Info(string(ev.Kind), attrs...)
	}
}

// Collector is a test sink that records every event it sees.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Sink(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfKind returns the collected events matching kind, in order.
func (c *Collector) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range c.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
