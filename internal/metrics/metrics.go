// Package metrics counts relay activity with lock-free counters and keeps
// a short ring of recently finished messages.
package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"xcmlite/internal/proto"
)

// MessageHeader is one entry in the recent-messages ring.
type MessageHeader struct {
	MessageID string      `json:"message_id"`
	Phase     proto.Phase `json:"phase"`
	Code      string      `json:"code,omitempty"`
	Hops      int         `json:"hops"`
}

type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Relay       RelayMetrics    `json:"relay"`
	Recent      []MessageHeader `json:"recent"`
}

type RelayMetrics struct {
	Submitted    uint64 `json:"submitted"`
	Rejected     uint64 `json:"rejected"`
	Deduplicated uint64 `json:"deduplicated"`
	Executed     uint64 `json:"executed"`
	Failed       uint64 `json:"failed"`
	HopFailures  uint64 `json:"hop_failures"`
	HopTimeouts  uint64 `json:"hop_timeouts"`
}

type Metrics struct {
	submitted    atomic.Uint64
	rejected     atomic.Uint64
	deduplicated atomic.Uint64
	executed     atomic.Uint64
	failed       atomic.Uint64
	hopFailures  atomic.Uint64
	hopTimeouts  atomic.Uint64
	recent       *recentRing
}

func New() *Metrics {
	return &Metrics{recent: newRecentRing(64)}
}

func (m *Metrics) IncSubmitted()    { m.submitted.Add(1) }
func (m *Metrics) IncRejected()     { m.rejected.Add(1) }
func (m *Metrics) IncDeduplicated() { m.deduplicated.Add(1) }
func (m *Metrics) IncExecuted()     { m.executed.Add(1) }
func (m *Metrics) IncFailed()       { m.failed.Add(1) }
func (m *Metrics) IncHopFailures()  { m.hopFailures.Add(1) }
func (m *Metrics) IncHopTimeouts()  { m.hopTimeouts.Add(1) }

// RecordFinished adds a finished message to the recent ring.
func (m *Metrics) RecordFinished(h MessageHeader) {
	if m == nil {
		return
	}
	m.recent.add(h)
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []MessageHeader{}
	if m.recent != nil {
		recent = m.recent.list()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Relay: RelayMetrics{
			Submitted:    m.submitted.Load(),
			Rejected:     m.rejected.Load(),
			Deduplicated: m.deduplicated.Load(),
			Executed:     m.executed.Load(),
			Failed:       m.failed.Load(),
			HopFailures:  m.hopFailures.Load(),
			HopTimeouts:  m.hopTimeouts.Load(),
		},
		Recent: recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type recentRing struct {
	mu   sync.Mutex
	cap  int
	entries []MessageHeader
}

func newRecentRing(capacity int) *recentRing {
	if capacity <= 0 {
		capacity = 64
	}
	return &recentRing{cap: capacity}
}

func (r *recentRing) add(h MessageHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.cap {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = h
		return
	}
	r.entries = append(r.entries, h)
}

func (r *recentRing) list() []MessageHeader {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MessageHeader, len(r.entries))
	copy(out, r.entries)
	return out
}
