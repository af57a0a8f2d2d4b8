// Package relay validates accepted messages and drives them through the
// simulated hop chain to execution.
package relay

import (
	"xcmlite/internal/crypto"
	"xcmlite/internal/proto"
	"xcmlite/internal/state"
	"xcmlite/internal/xcmerr"
)

// Validator checks well-formedness, version compatibility, and signature
// authenticity. It never touches state; failures are reported before a
// message enters the relay.
type Validator struct {
	keys     *crypto.Keyring
	store    *state.Store
	accepted map[uint32]bool
}

func NewValidator(keys *crypto.Keyring, store *state.Store, versions []uint32) *Validator {
	accepted := make(map[uint32]bool, len(versions))
	for _, v := range versions {
		accepted[v] = true
	}
	return &Validator{keys: keys, store: store, accepted: accepted}
}

// Validate runs the checks in order, short-circuiting on the first
// failure: field presence, parachains known, instruction supported,
// version accepted, signature authentic.
func (v *Validator) Validate(env proto.Envelope) error {
	// (a) required fields
	if env.SenderPara == 0 {
		return xcmerr.New(xcmerr.InvalidPayload, "sender parachain id must be non-zero")
	}
	if env.DestPara == 0 {
		return xcmerr.New(xcmerr.InvalidPayload, "destination parachain id must be non-zero")
	}
	if env.SenderPara == env.DestPara {
		return xcmerr.New(xcmerr.InvalidPayload, "sender and destination parachain ids must differ")
	}
	if env.Instruction.Kind == "" {
		return xcmerr.New(xcmerr.InvalidPayload, "instruction is required")
	}
	if env.Version == 0 {
		return xcmerr.New(xcmerr.InvalidPayload, "version is required")
	}
	if env.Signature == "" {
		return xcmerr.New(xcmerr.InvalidPayload, "signature is required")
	}

	// (b) parachains known under the current configuration
	if !v.store.Has(env.SenderPara) {
		return xcmerr.Newf(xcmerr.UnknownParachain, "sender parachain %d is not registered", env.SenderPara)
	}
	if !v.store.Has(env.DestPara) {
		return xcmerr.Newf(xcmerr.UnknownParachain, "destination parachain %d is not registered", env.DestPara)
	}

	// (c) instruction kind supported and payload well formed
	if !proto.KnownKind(env.Instruction.Kind) {
		return xcmerr.Newf(xcmerr.InvalidPayload, "unsupported instruction kind %q", env.Instruction.Kind)
	}
	if err := env.Instruction.CheckPayload(); err != nil {
		return xcmerr.Newf(xcmerr.InvalidPayload, "invalid instruction: %v", err)
	}

	// (d) version in the accepted set
	if !v.accepted[env.Version] {
		return xcmerr.Newf(xcmerr.VersionMismatch, "version %d is not in the accepted set", env.Version)
	}

	// (e) signature over the canonical encoding
	sig, err := env.SignatureBytes()
	if err != nil {
		return xcmerr.Newf(xcmerr.InvalidSignature, "%v", err)
	}
	if err := v.keys.Verify(env.SenderPara, proto.SigningBytes(env), sig); err != nil {
		return xcmerr.New(xcmerr.InvalidSignature, "signature verification failed")
	}
	return nil
}
