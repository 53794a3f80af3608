package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mossy-p/peerplay/internal/wallet"
)

// Action is one game command. Payload is kept as raw JSON so that the bytes
// a peer verifies are the bytes the author signed.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewAction marshals payload into an Action. A nil payload is omitted.
func NewAction(typ string, payload any) (Action, error) {
	a := Action{Type: typ}
	if payload == nil {
		return a, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Action{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	a.Payload = raw
	return a, nil
}

// SigningBytes is the canonical form covered by an entry signature.
func (a Action) SigningBytes() ([]byte, error) {
	return json.Marshal(a)
}

// Decode unmarshals the payload into v.
func (a Action) Decode(v any) error {
	if len(a.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", a.Type)
	}
	return json.Unmarshal(a.Payload, v)
}

// Entry is an accepted, immutable ledger record.
type Entry struct {
	Index           int    `json:"index"`
	Action          Action `json:"action"`
	Signature       string `json:"signature"`
	SignerPublicKey string `json:"signerPublicKey"`
	Timestamp       int64  `json:"timestamp"`
}

// Verify reports whether the signature covers the action for the signer key.
func (e Entry) Verify(v wallet.Verifier) bool {
	if e.Signature == "" || e.SignerPublicKey == "" {
		return false
	}
	data, err := e.Action.SigningBytes()
	if err != nil {
		return false
	}
	return v.Verify(data, e.Signature, e.SignerPublicKey)
}

// Same reports whether two entries describe the same history record.
func (e Entry) Same(o Entry) bool {
	if e.Index != o.Index || e.Signature != o.Signature || e.SignerPublicKey != o.SignerPublicKey ||
		e.Timestamp != o.Timestamp || e.Action.Type != o.Action.Type {
		return false
	}
	a, errA := e.Action.SigningBytes()
	b, errB := o.Action.SigningBytes()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// SignAction signs a with s. The result is what a guest sends in an action
// request and what the host records when it authors an entry itself.
func SignAction(s wallet.Signer, a Action) (signature, publicKey string, err error) {
	data, err := a.SigningBytes()
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize action: %w", err)
	}
	sig, err := s.Sign(data)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign action: %w", err)
	}
	return sig, s.Identity().PublicKey, nil
}
