// Package proto defines the message envelope, the supported instruction
// set, and the canonical byte encoding signatures are computed over.
package proto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Instruction kinds supported by the simulation.
const (
	KindTransferReserveAsset = "transferReserveAsset"
	KindTransact             = "transact"
	KindQueryResponse        = "queryResponse"
)

// Kinds lists the supported instruction kinds in a stable order.
func Kinds() []string {
	return []string{KindTransferReserveAsset, KindTransact, KindQueryResponse}
}

// KnownKind reports whether kind names a supported instruction.
func KnownKind(kind string) bool {
	switch kind {
	case KindTransferReserveAsset, KindTransact, KindQueryResponse:
		return true
	}
	return false
}

// Envelope is an incoming message submission. Immutable once accepted.
type Envelope struct {
	MessageID   string      `json:"messageId,omitempty"`
	SenderPara  uint32      `json:"senderPara"`
	DestPara    uint32      `json:"destPara"`
	Version     uint32      `json:"version"`
	Instruction Instruction `json:"instruction"`
	Signature   string      `json:"signature,omitempty"` // hex, 64 bytes decoded
	Body        []byte      `json:"body,omitempty"`
}

// Instruction is a tagged union over the three supported kinds. Exactly
// the payload matching Kind must be set.
type Instruction struct {
	Kind     string                `json:"kind"`
	Transfer *TransferReserveAsset `json:"transfer,omitempty"`
	Transact *Transact             `json:"transact,omitempty"`
	Query    *QueryResponse        `json:"queryResponse,omitempty"`
}

// TransferReserveAsset moves value from the sender-side reserve view held
// on the destination partition to a destination account.
type TransferReserveAsset struct {
	Amount      uint64 `json:"amount"`
	FromAccount string `json:"fromAccount"`
	ToAccount   string `json:"toAccount"`
}

// Transact carries an opaque call appended to the destination's log.
type Transact struct {
	CallData string `json:"callData"`
	Weight   uint64 `json:"weight,omitempty"`
}

// QueryResponse closes a previously opened pending query.
type QueryResponse struct {
	QueryID  string `json:"queryId"`
	Response string `json:"response"`
}

// CheckPayload validates the instruction's own payload: the kind must be
// known and exactly the matching payload must be present and well formed.
func (i Instruction) CheckPayload() error {
	switch i.Kind {
	case KindTransferReserveAsset:
		if i.Transfer == nil {
			return fmt.Errorf("transfer payload missing")
		}
		if i.Transact != nil || i.Query != nil {
			return fmt.Errorf("conflicting instruction payloads")
		}
		return i.Transfer.check()
	case KindTransact:
		if i.Transact == nil {
			return fmt.Errorf("transact payload missing")
		}
		if i.Transfer != nil || i.Query != nil {
			return fmt.Errorf("conflicting instruction payloads")
		}
		return i.Transact.check()
	case KindQueryResponse:
		if i.Query == nil {
			return fmt.Errorf("queryResponse payload missing")
		}
		if i.Transfer != nil || i.Transact != nil {
			return fmt.Errorf("conflicting instruction payloads")
		}
		return i.Query.check()
	}
	return fmt.Errorf("unknown instruction kind %q", i.Kind)
}

func (t TransferReserveAsset) check() error {
	if t.Amount == 0 {
		return fmt.Errorf("transfer amount must be greater than zero")
	}
	if strings.TrimSpace(t.FromAccount) == "" {
		return fmt.Errorf("fromAccount must be provided")
	}
	if strings.TrimSpace(t.ToAccount) == "" {
		return fmt.Errorf("toAccount must be provided")
	}
	return nil
}

func (t Transact) check() error {
	if strings.TrimSpace(t.CallData) == "" {
		return fmt.Errorf("callData must be provided")
	}
	return nil
}

func (q QueryResponse) check() error {
	if strings.TrimSpace(q.QueryID) == "" {
		return fmt.Errorf("queryId must be provided")
	}
	if strings.TrimSpace(q.Response) == "" {
		return fmt.Errorf("response must be provided")
	}
	return nil
}

// SignatureBytes decodes the hex signature field.
func (e Envelope) SignatureBytes() ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(e.Signature), "0x")
	if s == "" {
		return nil, fmt.Errorf("signature is required")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signature is not valid hex")
	}
	return raw, nil
}

// SigningBytes is the canonical encoding of (sender, dest, instruction,
// version, body) that signatures cover. Variable-length fields are
// length-prefixed so no two distinct envelopes share an encoding.
func SigningBytes(e Envelope) []byte {
	b := make([]byte, 0, 64+len(e.Body))
	b = appendU32(b, e.SenderPara)
	b = appendU32(b, e.DestPara)
	b = appendU32(b, e.Version)
	b = appendStr(b, e.Instruction.Kind)
	switch e.Instruction.Kind {
	case KindTransferReserveAsset:
		if t := e.Instruction.Transfer; t != nil {
			b = appendU64(b, t.Amount)
			b = appendStr(b, t.FromAccount)
			b = appendStr(b, t.ToAccount)
		}
	case KindTransact:
		if t := e.Instruction.Transact; t != nil {
			b = appendStr(b, t.CallData)
			b = appendU64(b, t.Weight)
		}
	case KindQueryResponse:
		if q := e.Instruction.Query; q != nil {
			b = appendStr(b, q.QueryID)
			b = appendStr(b, q.Response)
		}
	}
	b = appendU32(b, uint32(len(e.Body)))
	b = append(b, e.Body...)
	return b
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendStr(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}
