package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mossy-p/peerplay/internal/ledger"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is the wire form. SYNC_LEDGER keeps its entries as the payload
// and carries the seed beside it.
type Envelope struct {
	Channel Channel         `json:"channel"`
	Type    Type            `json:"type"`
	Seed    *uint32         `json:"seed,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var registry = map[Type]func() Message{
	TypeStartGame:        func() Message { return &StartGame{} },
	TypeGameStarted:      func() Message { return &GameStarted{} },
	TypeGameReset:        func() Message { return &GameReset{} },
	TypeNewBoard:         func() Message { return &NewBoard{} },
	TypeSyncPlayerStatus: func() Message { return &SyncPlayerStatus{} },
	TypeSyncParticipants: func() Message { return &SyncParticipants{} },
	TypeGameFinished:     func() Message { return &GameFinished{} },
	TypeActionRequest:    func() Message { return &ActionRequest{} },
	TypeRequestSync:      func() Message { return &RequestSync{} },
	TypeGameMessage:      func() Message { return &GameMessage{} },
}

// Encode validates m and returns its wire form.
func Encode(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	env := Envelope{Channel: m.Channel(), Type: m.Type()}

	var payload any = m
	switch sync := m.(type) {
	case SyncLedger:
		env.Seed, payload = &sync.Seed, sync.Entries
	case *SyncLedger:
		env.Seed, payload = &sync.Seed, sync.Entries
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", m.Type(), err)
	}
	env.Payload = raw
	return json.Marshal(env)
}

// Decode parses and validates one message. Concrete messages are returned
// as values, never pointers.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Type == TypeSyncLedger {
		return decodeSyncLedger(env)
	}

	ctor, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	ptr := ctor()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, ptr); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
	}
	m := deref(ptr)
	if env.Channel != m.Channel() {
		return nil, fmt.Errorf("%w: %s on channel %q", ErrMalformed, env.Type, env.Channel)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeSyncLedger(env Envelope) (Message, error) {
	if env.Channel != ChannelLedger {
		return nil, fmt.Errorf("%w: %s on channel %q", ErrMalformed, env.Type, env.Channel)
	}
	if env.Seed == nil {
		return nil, fmt.Errorf("%w: %s without seed", ErrMalformed, env.Type)
	}
	m := SyncLedger{Seed: *env.Seed}
	if err := json.Unmarshal(env.Payload, &m.Entries); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func deref(m Message) Message {
	switch v := m.(type) {
	case *StartGame:
		return *v
	case *GameStarted:
		return *v
	case *GameReset:
		return *v
	case *NewBoard:
		return *v
	case *SyncPlayerStatus:
		return *v
	case *SyncParticipants:
		return *v
	case *GameFinished:
		return *v
	case *ActionRequest:
		return *v
	case *RequestSync:
		return *v
	case *GameMessage:
		return *v
	}
	return m
}

func (StartGame) validate() error    { return nil }
func (GameStarted) validate() error  { return nil }
func (GameReset) validate() error    { return nil }
func (RequestSync) validate() error  { return nil }
func (GameFinished) validate() error { return nil }

func (m NewBoard) validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("%w: %s without session id", ErrMalformed, m.Type())
	}
	return nil
}

func (m SyncPlayerStatus) validate() error {
	if !m.Status.Valid() {
		return fmt.Errorf("%w: player status %q", ErrMalformed, m.Status)
	}
	return nil
}

func (m SyncParticipants) validate() error {
	for _, p := range m.Participants {
		if p.ConnectionID == "" || !p.Status.Valid() {
			return fmt.Errorf("%w: participant %q", ErrMalformed, p.ConnectionID)
		}
	}
	return nil
}

func (m SyncLedger) validate() error {
	for i, e := range m.Entries {
		if e.Action.Type == "" {
			return fmt.Errorf("%w: entry %d has no action type", ErrMalformed, i)
		}
	}
	return nil
}

func (m ActionRequest) validate() error {
	if m.Action.Type == "" || m.Signature == "" || m.SignerPublicKey == "" {
		return fmt.Errorf("%w: incomplete action request", ErrMalformed)
	}
	return nil
}

func (m GameMessage) validate() error {
	if m.Kind == "" {
		return fmt.Errorf("%w: game message without kind", ErrMalformed)
	}
	return nil
}

// Request builds an ActionRequest from a signed action.
func Request(a ledger.Action, signature, publicKey string) ActionRequest {
	return ActionRequest{Action: a, Signature: signature, SignerPublicKey: publicKey}
}
