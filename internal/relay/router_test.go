package relay

import (
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xcmlite/internal/crypto"
	"xcmlite/internal/engine"
	"xcmlite/internal/events"
	"xcmlite/internal/metrics"
	"xcmlite/internal/proto"
	"xcmlite/internal/state"
	"xcmlite/internal/xcmerr"
)

type rig struct {
	router    *Router
	ring      *crypto.Keyring
	store     *state.Store
	log       *state.Log
	collector *events.Collector
	metrics   *metrics.Metrics
	emitter   *events.Emitter
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	ring, err := crypto.BuildKeyring([]uint32{1000, 2000}, nil)
	require.NoError(t, err)
	store, err := state.New([]uint32{1000, 2000})
	require.NoError(t, err)
	log := state.NewLog()
	collector := events.NewCollector()
	emitter := events.New(collector.Sink)
	t.Cleanup(emitter.Close)
	m := metrics.New()
	v := NewValidator(ring, store, []uint32{3, 4})
	router := NewRouter(v, engine.New(store), log, emitter, m, opts)
	return &rig{router: router, ring: ring, store: store, log: log, collector: collector, metrics: m, emitter: emitter}
}

func (r *rig) sign(t *testing.T, env proto.Envelope) proto.Envelope {
	t.Helper()
	sig, err := r.ring.Sign(env.SenderPara, proto.SigningBytes(env))
	require.NoError(t, err)
	env.Signature = hex.EncodeToString(sig)
	return env
}

func transferEnvelope(id string, amount uint64) proto.Envelope {
	return proto.Envelope{
		MessageID:  id,
		SenderPara: 1000,
		DestPara:   2000,
		Version:    3,
		Instruction: proto.Instruction{
			Kind: proto.KindTransferReserveAsset,
			Transfer: &proto.TransferReserveAsset{
				Amount:      amount,
				FromAccount: "reserve:1000",
				ToAccount:   "acct-123",
			},
		},
	}
}

func TestTransferExecutesThroughThreeHops(t *testing.T) {
	r := newRig(t, Options{HopDelay: time.Millisecond, HopTimeout: time.Second})
	require.NoError(t, r.store.Credit(2000, "reserve:1000", 100))

	env := r.sign(t, transferEnvelope("m-1", 50))
	id, err := r.router.Submit(env)
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	r.router.Drain()

	rec, ok := r.router.Status(id)
	require.True(t, ok)
	require.Equal(t, proto.PhaseExecuted, rec.Status.Phase)
	require.NotNil(t, rec.Status.Outcome)
	assert.Equal(t, uint64(50), rec.Status.Outcome.NewBalance)

	// Destination credited, reserve debited, value conserved.
	dest, _ := r.store.Balance(2000, "acct-123")
	reserve, _ := r.store.Balance(2000, "reserve:1000")
	assert.Equal(t, uint64(50), dest)
	assert.Equal(t, uint64(50), reserve)

	// Exactly three hop attempts, all successful, strictly ordered.
	require.Len(t, rec.Attempts, proto.MaxHops)
	for i, a := range rec.Attempts {
		assert.Equal(t, i+1, a.Hop)
		assert.True(t, a.OK)
	}
	assert.Equal(t, uint32(1000), rec.Attempts[0].From)
	assert.Equal(t, uint32(2000), rec.Attempts[2].To)

	// Lifecycle events in order. Close flushes the emitter's queue before
	// the collector is read; it is idempotent, so the cleanup stays safe.
	r.emitter.Close()
	kinds := []events.Kind{}
	for _, ev := range r.collector.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []events.Kind{
		events.Submitted, events.Validated,
		events.HopAttempt, events.HopAttempt, events.HopAttempt,
		events.Executed,
	}, kinds)

	snap := r.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Relay.Executed)
	assert.Equal(t, uint64(0), snap.Relay.Failed)
}

func TestHopTwoFaultRollsBackNothing(t *testing.T) {
	r := newRig(t, Options{
		HopDelay:   time.Millisecond,
		HopTimeout: time.Second,
		Faults: func(messageID string, hop int) error {
			if hop == 2 {
				return xcmerr.Newf(xcmerr.HopFailure, "injected fault at hop %d", hop)
			}
			return nil
		},
	})
	require.NoError(t, r.store.Credit(2000, "reserve:1000", 100))

	var before map[string]uint64
	_ = r.store.View(2000, func(p *state.Partition) { before = p.Balances })

	env := r.sign(t, transferEnvelope("m-1", 50))
	id, err := r.router.Submit(env)
	require.NoError(t, err)
	r.router.Drain()

	rec, _ := r.router.Status(id)
	require.Equal(t, proto.PhaseFailed, rec.Status.Phase)
	assert.Equal(t, string(xcmerr.HopFailure), rec.Status.Code)

	// Balances identical to the pre-submission snapshot.
	var after map[string]uint64
	_ = r.store.View(2000, func(p *state.Partition) { after = p.Balances })
	assert.Equal(t, before, after)
	dest, _ := r.store.Balance(2000, "acct-123")
	assert.Zero(t, dest)

	// Hop 1 succeeded, hop 2 failed, hop 3 never ran.
	require.Len(t, rec.Attempts, 2)
	assert.True(t, rec.Attempts[0].OK)
	assert.False(t, rec.Attempts[1].OK)
}

func TestHopTimeoutTreatedAsTransitFailure(t *testing.T) {
	r := newRig(t, Options{HopDelay: time.Second, HopTimeout: 5 * time.Millisecond})
	env := r.sign(t, transferEnvelope("m-1", 1))
	require.NoError(t, r.store.Credit(2000, "reserve:1000", 10))

	id, err := r.router.Submit(env)
	require.NoError(t, err)
	r.router.Drain()

	rec, _ := r.router.Status(id)
	require.Equal(t, proto.PhaseFailed, rec.Status.Phase)
	assert.Equal(t, string(xcmerr.HopTimeout), rec.Status.Code)
	assert.Equal(t, uint64(1), r.metrics.Snapshot().Relay.HopTimeouts)
}

func TestTerminalHopExecutionFailureLeavesStateUntouched(t *testing.T) {
	// Insufficient reserve: the failure surfaces at the execution hop and
	// nothing is committed.
	r := newRig(t, Options{HopDelay: time.Millisecond, HopTimeout: time.Second})
	env := r.sign(t, transferEnvelope("m-1", 50)) // reserve is empty

	id, err := r.router.Submit(env)
	require.NoError(t, err)
	r.router.Drain()

	rec, _ := r.router.Status(id)
	require.Equal(t, proto.PhaseFailed, rec.Status.Phase)
	assert.Equal(t, string(xcmerr.InsufficientBalance), rec.Status.Code)
	dest, _ := r.store.Balance(2000, "acct-123")
	assert.Zero(t, dest)
	require.Len(t, rec.Attempts, proto.MaxHops)
	assert.False(t, rec.Attempts[2].OK)
}

func TestVersionGateStopsBeforeRelay(t *testing.T) {
	r := newRig(t, Options{HopDelay: time.Millisecond, HopTimeout: time.Second})
	env := transferEnvelope("m-1", 1)
	env.Version = 9
	env = r.sign(t, env)

	_, err := r.router.Submit(env)
	assert.True(t, xcmerr.Is(err, xcmerr.VersionMismatch), "got %v", err)

	// Never entered the log: no record, no relay attempts.
	_, ok := r.router.Status("m-1")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), r.metrics.Snapshot().Relay.Rejected)
	assert.Empty(t, r.collector.OfKind(events.HopAttempt))
}

func TestDuplicateSubmissionExecutesOnce(t *testing.T) {
	r := newRig(t, Options{HopDelay: time.Millisecond, HopTimeout: time.Second})
	require.NoError(t, r.store.Credit(2000, "reserve:1000", 100))

	env := r.sign(t, transferEnvelope("m-1", 50))
	id1, err := r.router.Submit(env)
	require.NoError(t, err)
	r.router.Drain()

	id2, err := r.router.Submit(env)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	r.router.Drain()

	// Only one execution: transferred once, not twice.
	dest, _ := r.store.Balance(2000, "acct-123")
	assert.Equal(t, uint64(50), dest)
	assert.Equal(t, uint64(1), r.metrics.Snapshot().Relay.Deduplicated)
	assert.Equal(t, uint64(1), r.metrics.Snapshot().Relay.Executed)
}

func TestServerAssignsMessageID(t *testing.T) {
	r := newRig(t, Options{HopDelay: time.Millisecond, HopTimeout: time.Second})
	require.NoError(t, r.store.Credit(2000, "reserve:1000", 10)) // enough for one

	env := transferEnvelope("", 1)
	env = r.sign(t, env) // note: id is not part of the signed encoding
	id, err := r.router.Submit(env)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	r.router.Drain()
	rec, ok := r.router.Status(id)
	require.True(t, ok)
	assert.Equal(t, proto.PhaseExecuted, rec.Status.Phase)
}

func TestEveryValidatedMessageTerminatesWithinMaxHops(t *testing.T) {
	r := newRig(t, Options{
		HopDelay:    time.Millisecond,
		HopTimeout:  time.Second,
		FailureRate: 0.5,
		MaxInFlight: 8,
	})
	require.NoError(t, r.store.Credit(2000, "reserve:1000", 1000))

	const n = 40
	ids := make([]string, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := r.sign(t, transferEnvelope(fmt.Sprintf("m-%d", i), 1))
			id, err := r.router.Submit(env)
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	r.router.Drain()

	for _, id := range ids {
		rec, ok := r.router.Status(id)
		require.True(t, ok, id)
		assert.True(t, rec.Status.Phase.Terminal(), "message %s stuck in %s", id, rec.Status.Phase)
		assert.LessOrEqual(t, len(rec.Attempts), proto.MaxHops)
	}
	snap := r.metrics.Snapshot()
	assert.Equal(t, uint64(n), snap.Relay.Executed+snap.Relay.Failed)
}

func TestQueryResponseEndToEnd(t *testing.T) {
	r := newRig(t, Options{HopDelay: time.Millisecond, HopTimeout: time.Second})
	require.NoError(t, r.store.OpenQuery(2000, "q-1"))

	env := proto.Envelope{
		MessageID:  "m-q",
		SenderPara: 1000,
		DestPara:   2000,
		Version:    3,
		Instruction: proto.Instruction{
			Kind:  proto.KindQueryResponse,
			Query: &proto.QueryResponse{QueryID: "q-1", Response: "42"},
		},
	}
	env = r.sign(t, env)
	id, err := r.router.Submit(env)
	require.NoError(t, err)
	r.router.Drain()

	rec, _ := r.router.Status(id)
	require.Equal(t, proto.PhaseExecuted, rec.Status.Phase)
	assert.Equal(t, "q-1", rec.Status.Outcome.QueryID)
}
