// Package crypto holds the per-parachain signing keys and the digest
// scheme message signatures are computed over.
//
// Suite: Ed25519 signatures over a SHA3-256 digest of the canonical
// envelope encoding. Keys come from a hex secret, a seed phrase, or are
// generated at startup; private keys never leave process memory except
// through the explicit CLI save path.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	SeedSize      = ed25519.SeedSize      // 32
	SignatureSize = ed25519.SignatureSize // 64
)

var (
	ErrUnknownParachain = errors.New("parachain not registered")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrNoPrivateKey     = errors.New("no private key for parachain")
)

func Digest(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// KeySource describes where a parachain's key material comes from. At
// most one of SecretHex and SeedPhrase may be set; neither means the
// keypair is generated fresh.
type KeySource struct {
	SecretHex  string
	SeedPhrase string
}

// Keypair is a parachain's signing identity.
type Keypair struct {
	ParaID uint32
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
}

func (k *Keypair) Public() ed25519.PublicKey {
	out := make(ed25519.PublicKey, len(k.pub))
	copy(out, k.pub)
	return out
}

func (k *Keypair) PublicHex() string {
	return hex.EncodeToString(k.pub)
}

// String hides key material from accidental logging.
func (k *Keypair) String() string {
	return fmt.Sprintf("Keypair{para=%d pub=%s priv=REDACTED}", k.ParaID, k.PublicHex())
}

func keypairFromSource(paraID uint32, src KeySource) (*Keypair, error) {
	if src.SecretHex != "" && src.SeedPhrase != "" {
		return nil, fmt.Errorf("parachain %d: secret key and seed phrase both provided; pick one source", paraID)
	}
	var priv ed25519.PrivateKey
	switch {
	case src.SecretHex != "":
		raw, err := decodeHex(src.SecretHex)
		if err != nil {
			return nil, fmt.Errorf("parachain %d: bad secret key: %w", paraID, err)
		}
		switch len(raw) {
		case SeedSize:
			priv = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			priv = ed25519.PrivateKey(raw)
		default:
			return nil, fmt.Errorf("parachain %d: secret key must be %d or %d bytes, got %d",
				paraID, SeedSize, ed25519.PrivateKeySize, len(raw))
		}
	case src.SeedPhrase != "":
		if strings.TrimSpace(src.SeedPhrase) == "" {
			return nil, fmt.Errorf("parachain %d: seed phrase cannot be empty", paraID)
		}
		sum := sha512.Sum512([]byte(src.SeedPhrase))
		priv = ed25519.NewKeyFromSeed(sum[:SeedSize])
	default:
		var seed [SeedSize]byte
		if _, err := rand.Read(seed[:]); err != nil {
			return nil, err
		}
		priv = ed25519.NewKeyFromSeed(seed[:])
	}
	return &Keypair{
		ParaID: paraID,
		pub:    priv.Public().(ed25519.PublicKey),
		priv:   priv,
	}, nil
}

// Keyring maps parachain ids to their keypairs. Built once at startup,
// read-only afterwards.
type Keyring struct {
	keys map[uint32]*Keypair
}

// BuildKeyring constructs keypairs for every listed parachain. Parachains
// without an entry in sources get a generated key.
func BuildKeyring(paraIDs []uint32, sources map[uint32]KeySource) (*Keyring, error) {
	keys := make(map[uint32]*Keypair, len(paraIDs))
	for _, id := range paraIDs {
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("duplicate parachain id %d", id)
		}
		kp, err := keypairFromSource(id, sources[id])
		if err != nil {
			return nil, err
		}
		keys[id] = kp
	}
	return &Keyring{keys: keys}, nil
}

func (r *Keyring) Len() int {
	return len(r.keys)
}

func (r *Keyring) Get(paraID uint32) (*Keypair, bool) {
	kp, ok := r.keys[paraID]
	return kp, ok
}

// Sign signs msg with the parachain's key. Fixture and CLI use only; the
// service itself never signs on behalf of a submitter.
func (r *Keyring) Sign(paraID uint32, msg []byte) ([]byte, error) {
	kp, ok := r.keys[paraID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParachain, paraID)
	}
	if kp.priv == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoPrivateKey, paraID)
	}
	return ed25519.Sign(kp.priv, Digest(msg)), nil
}

// Verify checks sig against the parachain's registered public key.
func (r *Keyring) Verify(paraID uint32, msg, sig []byte) error {
	kp, ok := r.keys[paraID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParachain, paraID)
	}
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: expected %d-byte signature, got %d", ErrBadSignature, SignatureSize, len(sig))
	}
	if !ed25519.Verify(kp.pub, Digest(msg), sig) {
		return ErrBadSignature
	}
	return nil
}

func decodeHex(input string) ([]byte, error) {
	normalized := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	raw, err := hex.DecodeString(normalized)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SaveKeypair writes pub.hex/priv.hex under dir for CLI keygen.
func SaveKeypair(dir string, kp *Keypair) error {
	if kp == nil || kp.priv == nil {
		return errors.New("empty key")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	pubPath := filepath.Join(dir, "pub.hex")
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.pub)), 0600); err != nil {
		return err
	}
	seed := kp.priv.Seed()
	return os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(seed)), 0600)
}

// LoadKeypair reads a keypair previously written by SaveKeypair.
func LoadKeypair(dir string, paraID uint32) (*Keypair, error) {
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return nil, err
	}
	seed, err := decodeHex(string(privHex))
	if err != nil {
		return nil, fmt.Errorf("bad priv.hex")
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("bad priv.hex: expected %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		ParaID: paraID,
		pub:    priv.Public().(ed25519.PublicKey),
		priv:   priv,
	}, nil
}
