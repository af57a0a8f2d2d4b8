package relay

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"xcmlite/internal/engine"
	"xcmlite/internal/events"
	"xcmlite/internal/metrics"
	"xcmlite/internal/proto"
	"xcmlite/internal/state"
	"xcmlite/internal/xcmerr"
)

// FaultInjector decides whether a non-terminal hop fails. A nil return
// lets the hop proceed; a taxonomy error aborts the relay with that
// failure. Used by tests and demo tooling in place of the random rate.
type FaultInjector func(messageID string, hop int) error

type Options struct {
	HopDelay    time.Duration
	HopTimeout  time.Duration
	FailureRate float64
	MaxInFlight int
	Faults      FaultInjector
}

// Router owns the per-message relay state machine:
// Pending -> Relaying(1) -> Relaying(2) -> Relaying(3) -> Executed|Failed.
// One goroutine per in-flight message; hops within a message are strictly
// sequential; nothing is ordered across messages.
type Router struct {
	validator *Validator
	engine    *engine.Engine
	log       *state.Log
	events    *events.Emitter
	metrics   *metrics.Metrics
	opts      Options
	slots     chan struct{}
	wg        sync.WaitGroup
}

func NewRouter(v *Validator, eng *engine.Engine, log *state.Log, em *events.Emitter, m *metrics.Metrics, opts Options) *Router {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 128
	}
	if opts.HopTimeout <= 0 {
		opts.HopTimeout = 2 * time.Second
	}
	return &Router{
		validator: v,
		engine:    eng,
		log:       log,
		events:    em,
		metrics:   m,
		opts:      opts,
		slots:     make(chan struct{}, opts.MaxInFlight),
	}
}

// Submit validates env and starts its relay. Returns the message id; the
// caller polls Status for the terminal result. A duplicate id returns
// the existing id without reprocessing. Blocks while the in-flight limit
// is saturated.
func (r *Router) Submit(env proto.Envelope) (string, error) {
	r.metrics.IncSubmitted()
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	r.events.Emit(events.Event{Kind: events.Submitted, MessageID: env.MessageID})

	if err := r.validator.Validate(env); err != nil {
		r.metrics.IncRejected()
		return "", err
	}
	r.events.Emit(events.Event{Kind: events.Validated, MessageID: env.MessageID})

	if err := r.log.Create(env.MessageID); err != nil {
		// Already known: at-most-once delivery, return the existing record.
		r.metrics.IncDeduplicated()
		return env.MessageID, nil
	}

	r.slots <- struct{}{}
	r.wg.Add(1)
	go r.run(env)
	return env.MessageID, nil
}

// Status returns the current record for a message id.
func (r *Router) Status(messageID string) (state.Record, bool) {
	return r.log.Get(messageID)
}

// Drain blocks until every in-flight message reaches a terminal status.
func (r *Router) Drain() {
	r.wg.Wait()
}

func (r *Router) run(env proto.Envelope) {
	defer func() {
		<-r.slots
		r.wg.Done()
	}()

	id := env.MessageID
	for hop := 1; hop <= proto.MaxHops; hop++ {
		_ = r.log.SetRelaying(id, hop)
		from, to := hopEndpoints(hop, env.SenderPara, env.DestPara)

		var outcome proto.Outcome
		var err error
		if hop < proto.MaxHops {
			err = r.transit(id, hop)
		} else {
			outcome, err = r.engine.Execute(engine.Request{
				MessageID:   id,
				SenderPara:  env.SenderPara,
				DestPara:    env.DestPara,
				Instruction: env.Instruction,
			})
		}

		attempt := proto.RelayAttempt{Hop: hop, From: from, To: to, OK: err == nil}
		if err != nil {
			attempt.Reason = err.Error()
		}
		_ = r.log.AddAttempt(id, attempt)
		r.events.Emit(events.Event{
			Kind: events.HopAttempt, MessageID: id, Hop: hop, OK: err == nil, Reason: attempt.Reason,
		})

		if err != nil {
			r.fail(id, hop, err)
			return
		}
		if hop == proto.MaxHops {
			r.finish(id, outcome)
			return
		}
	}
}

// transit simulates one non-terminal hop: fault injection first, then the
// configured delay raced against the hop timeout.
func (r *Router) transit(messageID string, hop int) error {
	if r.opts.Faults != nil {
		if err := r.opts.Faults(messageID, hop); err != nil {
			return err
		}
	} else if r.opts.FailureRate > 0 && rand.Float64() < r.opts.FailureRate {
		return xcmerr.Newf(xcmerr.HopFailure, "transit fault at hop %d", hop)
	}

	delay := time.NewTimer(r.opts.HopDelay)
	defer delay.Stop()
	timeout := time.NewTimer(r.opts.HopTimeout)
	defer timeout.Stop()
	select {
	case <-delay.C:
		return nil
	case <-timeout.C:
		return xcmerr.Newf(xcmerr.HopTimeout, "hop %d exceeded %s", hop, r.opts.HopTimeout)
	}
}

func (r *Router) fail(id string, hop int, err error) {
	code, ok := xcmerr.CodeOf(err)
	if !ok {
		code = xcmerr.HopFailure
	}
	switch code {
	case xcmerr.HopTimeout:
		r.metrics.IncHopTimeouts()
	case xcmerr.HopFailure:
		r.metrics.IncHopFailures()
	}
	r.metrics.IncFailed()
	_ = r.log.SetFailed(id, code, err.Error())
	r.events.Emit(events.Event{Kind: events.Failed, MessageID: id, Hop: hop, Reason: err.Error()})
	r.metrics.RecordFinished(metrics.MessageHeader{
		MessageID: id, Phase: proto.PhaseFailed, Code: string(code), Hops: hop,
	})
}

func (r *Router) finish(id string, outcome proto.Outcome) {
	r.metrics.IncExecuted()
	_ = r.log.SetExecuted(id, outcome)
	r.events.Emit(events.Event{Kind: events.Executed, MessageID: id, Outcome: &outcome})
	r.metrics.RecordFinished(metrics.MessageHeader{
		MessageID: id, Phase: proto.PhaseExecuted, Hops: proto.MaxHops,
	})
}

// hopEndpoints maps a hop index onto its transit endpoints. Partition 0
// stands for the simulated relay chain between the two parachains.
func hopEndpoints(hop int, sender, dest uint32) (uint32, uint32) {
	switch hop {
	case 1:
		return sender, 0
	case proto.MaxHops:
		return 0, dest
	default:
		return 0, 0
	}
}
