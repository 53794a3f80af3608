package peer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ErrMalformedSignal is returned when a signal blob cannot be decoded.
// Callers must treat it as a negotiation error with no state change.
var ErrMalformedSignal = errors.New("malformed signal")

// Signal is the single unit exchanged by manual and relay signaling.
type Signal struct {
	ConnectionID       string                    `json:"connectionId"`
	SessionDescription webrtc.SessionDescription `json:"sessionDescription"`
	PlayerName         string                    `json:"playerName"`
	ICECandidates      []webrtc.ICECandidateInit `json:"iceCandidates"`
}

// Encode serializes the signal to base64 encoded JSON.
func (s Signal) Encode() (string, error) {
	if s.ICECandidates == nil {
		s.ICECandidates = []webrtc.ICECandidateInit{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode signal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSignal parses a blob produced by Encode. Surrounding whitespace from
// copy/paste is tolerated; anything else that is off yields ErrMalformedSignal.
func DecodeSignal(blob string) (Signal, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	if err := s.validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

func (s Signal) validate() error {
	if s.ConnectionID == "" {
		return fmt.Errorf("%w: missing connectionId", ErrMalformedSignal)
	}
	switch s.SessionDescription.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer:
	default:
		return fmt.Errorf("%w: unexpected description type %q", ErrMalformedSignal, s.SessionDescription.Type.String())
	}
	if s.SessionDescription.SDP == "" {
		return fmt.Errorf("%w: empty session description", ErrMalformedSignal)
	}
	return nil
}

// IsOffer reports whether the signal carries an offer.
func (s Signal) IsOffer() bool {
	return s.SessionDescription.Type == webrtc.SDPTypeOffer
}
