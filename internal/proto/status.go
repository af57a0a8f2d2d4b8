package proto

// MaxHops is the relay hop bound. The final hop is where execution happens.
const MaxHops = 3

type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRelaying Phase = "relaying"
	PhaseExecuted Phase = "executed"
	PhaseFailed   Phase = "failed"
)

// Terminal reports whether no further transition is allowed from p.
func (p Phase) Terminal() bool {
	return p == PhaseExecuted || p == PhaseFailed
}

// Status is the externally visible lifecycle position of a message.
type Status struct {
	Phase   Phase    `json:"status"`
	Hop     int      `json:"hop,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Code    string   `json:"code,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Before reports whether s strictly precedes next in the status machine:
// Pending < Relaying(1) < Relaying(2) < Relaying(3) < Executed|Failed.
func (s Status) Before(next Status) bool {
	return s.rank() < next.rank()
}

func (s Status) rank() int {
	switch s.Phase {
	case PhasePending:
		return 0
	case PhaseRelaying:
		return s.Hop // 1..MaxHops
	case PhaseExecuted, PhaseFailed:
		return MaxHops + 1
	}
	return -1
}

// Outcome is produced by the execution engine and surfaced in Executed
// statuses. Kind mirrors the instruction kind executed.
type Outcome struct {
	Kind       string `json:"kind"`
	NewBalance uint64 `json:"newBalance,omitempty"`
	LogLength  int    `json:"logLength,omitempty"`
	QueryID    string `json:"queryId,omitempty"`
}

// RelayAttempt records one hop for audit. Partition 0 denotes the
// simulated relay chain between sender and destination.
type RelayAttempt struct {
	Hop    int    `json:"hop"`
	From   uint32 `json:"from"`
	To     uint32 `json:"to"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}
