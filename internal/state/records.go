package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"xcmlite/internal/proto"
	"xcmlite/internal/xcmerr"
)

// ErrDuplicateMessage reports a message id already present in the log.
var ErrDuplicateMessage = errors.New("message id already recorded")

// Record tracks one message's lifecycle. The status only ever moves
// forward; attempts are append-only.
type Record struct {
	MessageID   string               `json:"messageId"`
	Status      proto.Status         `json:"status"`
	Attempts    []proto.RelayAttempt `json:"attempts,omitempty"`
	SubmittedAt time.Time            `json:"submittedAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Log is the process-wide message status log. Ids are unique for the
// process lifetime.
type Log struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewLog() *Log {
	return &Log{records: make(map[string]*Record)}
}

// Create records a new message as Pending. Returns ErrDuplicateMessage if
// the id is already known.
func (l *Log) Create(messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[messageID]; ok {
		return ErrDuplicateMessage
	}
	now := time.Now().UTC()
	l.records[messageID] = &Record{
		MessageID:   messageID,
		Status:      proto.Status{Phase: proto.PhasePending},
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	return nil
}

// Get returns a copy of the record for messageID.
func (l *Log) Get(messageID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[messageID]
	if !ok {
		return Record{}, false
	}
	return r.copy(), true
}

// Len returns the number of recorded messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// SetRelaying advances the message to Relaying(hop).
func (l *Log) SetRelaying(messageID string, hop int) error {
	if hop < 1 || hop > proto.MaxHops {
		return fmt.Errorf("hop %d out of range", hop)
	}
	return l.transition(messageID, proto.Status{Phase: proto.PhaseRelaying, Hop: hop})
}

// SetExecuted moves the message to its Executed terminal status.
func (l *Log) SetExecuted(messageID string, outcome proto.Outcome) error {
	return l.transition(messageID, proto.Status{Phase: proto.PhaseExecuted, Outcome: &outcome})
}

// SetFailed moves the message to its Failed terminal status.
func (l *Log) SetFailed(messageID string, code xcmerr.Code, reason string) error {
	return l.transition(messageID, proto.Status{Phase: proto.PhaseFailed, Code: string(code), Reason: reason})
}

func (l *Log) transition(messageID string, next proto.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[messageID]
	if !ok {
		return fmt.Errorf("unknown message %q", messageID)
	}
	if !r.Status.Before(next) {
		return fmt.Errorf("invalid status transition %s(%d) -> %s(%d) for %s",
			r.Status.Phase, r.Status.Hop, next.Phase, next.Hop, messageID)
	}
	r.Status = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// AddAttempt appends a relay attempt to the message's audit trail.
func (l *Log) AddAttempt(messageID string, attempt proto.RelayAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[messageID]
	if !ok {
		return fmt.Errorf("unknown message %q", messageID)
	}
	r.Attempts = append(r.Attempts, attempt)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Record) copy() Record {
	out := *r
	if r.Attempts != nil {
		out.Attempts = make([]proto.RelayAttempt, len(r.Attempts))
		copy(out.Attempts, r.Attempts)
	}
	if r.Status.Outcome != nil {
		o := *r.Status.Outcome
		out.Status.Outcome = &o
	}
	return out
}
