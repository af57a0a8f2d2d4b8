// Package engine interprets instructions against a destination
// parachain's state. Execution happens only at the terminal relay hop and
// each instruction applies as one atomic mutation: a failing instruction
// leaves the destination byte-identical.
package engine

import (
	"fmt"

	"xcmlite/internal/proto"
	"xcmlite/internal/state"
	"xcmlite/internal/xcmerr"
)

// Request carries the execution context for one instruction.
type Request struct {
	MessageID   string
	SenderPara  uint32
	DestPara    uint32
	Instruction proto.Instruction
}

type applyFunc func(e *Engine, req Request) (proto.Outcome, error)

// dispatch is fixed at init; one entry per supported instruction kind.
var dispatch = map[string]applyFunc{
	proto.KindTransferReserveAsset: (*Engine).applyTransfer,
	proto.KindTransact:             (*Engine).applyTransact,
	proto.KindQueryResponse:        (*Engine).applyQueryResponse,
}

type Engine struct {
	store *state.Store
}

func New(store *state.Store) *Engine {
	return &Engine{store: store}
}

// Execute dispatches on the instruction kind. Unknown kinds and unknown
// destinations are validator responsibilities; hitting them here is an
// internal consistency failure, not a taxonomy error.
func (e *Engine) Execute(req Request) (proto.Outcome, error) {
	apply, ok := dispatch[req.Instruction.Kind]
	if !ok {
		return proto.Outcome{}, fmt.Errorf("internal: unvalidated instruction kind %q reached execution", req.Instruction.Kind)
	}
	if !e.store.Has(req.DestPara) {
		return proto.Outcome{}, fmt.Errorf("internal: unvalidated destination %d reached execution", req.DestPara)
	}
	return apply(e, req)
}

// applyTransfer debits the sender-side reserve account held on the
// destination and credits the beneficiary. Debit and credit commit as one
// mutation; an insufficient reserve aborts with nothing applied.
func (e *Engine) applyTransfer(req Request) (proto.Outcome, error) {
	t := req.Instruction.Transfer
	var newBalance uint64
	err := e.store.Mutate(req.DestPara, func(p *state.Partition) error {
		reserve := p.Balances[t.FromAccount]
		if reserve < t.Amount {
			return xcmerr.Newf(xcmerr.InsufficientBalance,
				"reserve %s holds %d, need %d", t.FromAccount, reserve, t.Amount)
		}
		p.Balances[t.FromAccount] = reserve - t.Amount
		p.Balances[t.ToAccount] += t.Amount
		newBalance = p.Balances[t.ToAccount]
		p.Append(fmt.Sprintf("transfer %d from %s to %s (msg %s)",
			t.Amount, t.FromAccount, t.ToAccount, req.MessageID))
		return nil
	})
	if err != nil {
		return proto.Outcome{}, err
	}
	return proto.Outcome{Kind: proto.KindTransferReserveAsset, NewBalance: newBalance}, nil
}

// applyTransact appends the opaque call to the destination's log.
func (e *Engine) applyTransact(req Request) (proto.Outcome, error) {
	t := req.Instruction.Transact
	var logLen int
	err := e.store.Mutate(req.DestPara, func(p *state.Partition) error {
		p.Append(fmt.Sprintf("transact from %d: callData=%d bytes weight=%d (msg %s)",
			req.SenderPara, len(t.CallData), t.Weight, req.MessageID))
		logLen = len(p.Log)
		return nil
	})
	if err != nil {
		return proto.Outcome{}, err
	}
	return proto.Outcome{Kind: proto.KindTransact, LogLength: logLen}, nil
}

// applyQueryResponse closes a pending query or fails with UnknownQuery.
func (e *Engine) applyQueryResponse(req Request) (proto.Outcome, error) {
	q := req.Instruction.Query
	err := e.store.Mutate(req.DestPara, func(p *state.Partition) error {
		if !p.PendingQueries[q.QueryID] {
			return xcmerr.Newf(xcmerr.UnknownQuery, "no pending query %q", q.QueryID)
		}
		delete(p.PendingQueries, q.QueryID)
		p.Append(fmt.Sprintf("query %s closed: %s (msg %s)", q.QueryID, q.Response, req.MessageID))
		return nil
	})
	if err != nil {
		return proto.Outcome{}, err
	}
	return proto.Outcome{Kind: proto.KindQueryResponse, QueryID: q.QueryID}, nil
}
