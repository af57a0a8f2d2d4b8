package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xcmlite/internal/proto"
	"xcmlite/internal/state"
	"xcmlite/internal/xcmerr"
)

func newFixture(t *testing.T) (*Engine, *state.Store) {
	t.Helper()
	store, err := state.New([]uint32{1000, 2000})
	require.NoError(t, err)
	return New(store), store
}

func transferReq(amount uint64) Request {
	return Request{
		MessageID:  "m-1",
		SenderPara: 1000,
		DestPara:   2000,
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

func TestTransferMovesValueAtomically(t *testing.T) {
	e, store := newFixture(t)
	require.NoError(t, store.Credit(2000, "reserve:1000", 100))

	out, err := e.Execute(transferReq(50))
	require.NoError(t, err)
	assert.Equal(t, proto.KindTransferReserveAsset, out.Kind)
	assert.Equal(t, uint64(50), out.NewBalance)

	reserve, _ := store.Balance(2000, "reserve:1000")
	dest, _ := store.Balance(2000, "acct-123")
	assert.Equal(t, uint64(50), reserve, "reserve debited by exactly the amount")
	assert.Equal(t, uint64(50), dest, "beneficiary credited by exactly the amount")
	assert.Equal(t, uint64(100), reserve+dest, "value conserved")
}

func TestTransferInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	e, store := newFixture(t)
	require.NoError(t, store.Credit(2000, "reserve:1000", 30))

	_, err := e.Execute(transferReq(50))
	require.Error(t, err)
	assert.True(t, xcmerr.Is(err, xcmerr.InsufficientBalance), "got %v", err)

	reserve, _ := store.Balance(2000, "reserve:1000")
	dest, _ := store.Balance(2000, "acct-123")
	assert.Equal(t, uint64(30), reserve)
	assert.Equal(t, uint64(0), dest)
	var logLen int
	_ = store.View(2000, func(p *state.Partition) { logLen = len(p.Log) })
	assert.Zero(t, logLen, "failed execution must not log")
}

func TestTransferFromEmptyReserve(t *testing.T) {
	e, _ := newFixture(t)
	_, err := e.Execute(transferReq(1))
	assert.True(t, xcmerr.Is(err, xcmerr.InsufficientBalance), "got %v", err)
}

func TestTransactAppendsToDestinationLog(t *testing.T) {
	e, store := newFixture(t)
	req := Request{
		MessageID:  "m-2",
		SenderPara: 1000,
		DestPara:   2000,
		Instruction: proto.Instruction{
			Kind:     proto.KindTransact,
			Transact: &proto.Transact{CallData: "0xdeadbeef", Weight: 10},
		},
	}
	out, err := e.Execute(req)
	require.NoError(t, err)
	assert.Equal(t, proto.KindTransact, out.Kind)
	assert.Equal(t, 1, out.LogLength)

	var log []string
	_ = store.View(2000, func(p *state.Partition) { log = p.Log })
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "transact from 1000")
}

func TestQueryResponseClosesPendingQuery(t *testing.T) {
	e, store := newFixture(t)
	require.NoError(t, store.OpenQuery(2000, "q-7"))

	req := Request{
		MessageID:  "m-3",
		SenderPara: 1000,
		DestPara:   2000,
		Instruction: proto.Instruction{
			Kind:  proto.KindQueryResponse,
			Query: &proto.QueryResponse{QueryID: "q-7", Response: "42"},
		},
	}
	out, err := e.Execute(req)
	require.NoError(t, err)
	assert.Equal(t, "q-7", out.QueryID)

	var pending bool
	_ = store.View(2000, func(p *state.Partition) { pending = p.PendingQueries["q-7"] })
	assert.False(t, pending, "query must be closed")

	// Closing again fails: the query is gone.
	_, err = e.Execute(req)
	assert.True(t, xcmerr.Is(err, xcmerr.UnknownQuery), "got %v", err)
}

func TestQueryResponseUnknownQuery(t *testing.T) {
	e, _ := newFixture(t)
	req := Request{
		MessageID:  "m-4",
		SenderPara: 1000,
		DestPara:   2000,
		Instruction: proto.Instruction{
			Kind:  proto.KindQueryResponse,
			Query: &proto.QueryResponse{QueryID: "nope", Response: "x"},
		},
	}
	_, err := e.Execute(req)
	assert.True(t, xcmerr.Is(err, xcmerr.UnknownQuery), "got %v", err)
}

func TestExecuteInternalConsistency(t *testing.T) {
	e, _ := newFixture(t)

	_, err := e.Execute(Request{
		DestPara:    2000,
		Instruction: proto.Instruction{Kind: "teleport"},
	})
	require.Error(t, err)
	_, hasCode := xcmerr.CodeOf(err)
	assert.False(t, hasCode, "internal failures are not taxonomy errors")

	_, err = e.Execute(transferReqTo(9999))
	require.Error(t, err)
}

func transferReqTo(dest uint32) Request {
	r := transferReq(1)
	r.DestPara = dest
	return r
}
