package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrInvalidKey = errors.New("invalid key")

// Identity is the public face of a wallet.
type Identity struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Name      string `json:"name"`
}

// Signer signs arbitrary data and exposes who signed it.
type Signer interface {
	Sign(data []byte) (string, error)
	Identity() Identity
}

// Verifier checks a hex signature against a hex public key.
type Verifier interface {
	Verify(data []byte, signatureHex, publicKeyHex string) bool
}

// Wallet holds an ed25519 key pair. Key custody is the caller's concern.
type Wallet struct {
	name string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// New generates a fresh key pair.
func New(name string) (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Wallet{name: name, pub: pub, priv: priv}, nil
}

// FromSeed rebuilds a wallet from a hex encoded 32 byte seed.
func FromSeed(name, seedHex string) (*Wallet, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d hex bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Wallet{name: name, pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// Seed returns the hex encoded private seed so the caller can store it.
func (w *Wallet) Seed() string {
	return hex.EncodeToString(w.priv.Seed())
}

func (w *Wallet) Sign(data []byte) (string, error) {
	if len(w.priv) != ed25519.PrivateKeySize {
		return "", ErrInvalidKey
	}
	return hex.EncodeToString(ed25519.Sign(w.priv, data)), nil
}

func (w *Wallet) Verify(data []byte, signatureHex, publicKeyHex string) bool {
	return Verify(data, signatureHex, publicKeyHex)
}

func (w *Wallet) Identity() Identity {
	pk := hex.EncodeToString(w.pub)
	return Identity{ID: pk[:16], PublicKey: pk, Name: w.name}
}

// Verify is the stateless form used by peers that hold no keys of their own.
func Verify(data []byte, signatureHex, publicKeyHex string) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(data []byte, signatureHex, publicKeyHex string) bool

func (f VerifierFunc) Verify(data []byte, signatureHex, publicKeyHex string) bool {
	return f(data, signatureHex, publicKeyHex)
}

// Ed25519 verifies without a wallet instance.
var Ed25519 Verifier = VerifierFunc(Verify)
