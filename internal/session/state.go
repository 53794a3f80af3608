package session

import (
	"errors"

	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/protocol"
	"github.com/mossy-p/peerplay/internal/replay"
)

var (
	ErrRoomFull          = errors.New("room is full")
	ErrNotHost           = errors.New("only the host can do that")
	ErrInvalidState      = errors.New("invalid session state")
	ErrNoPendingGuest    = errors.New("no guest awaiting approval")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNoRecord          = errors.New("no persisted session")
)

type State string

const (
	StateIdle      State = "idle"
	StateHosting   State = "hosting"
	StateJoining   State = "joining"
	StateApproving State = "approving"
	StateWaiting   State = "room.waiting"
	StatePlaying   State = "room.playing"
	StateFinished  State = "room.finished"
)

// InRoom reports whether s is one of the room substates.
func (s State) InRoom() bool {
	return s == StateWaiting || s == StatePlaying || s == StateFinished
}

type EventKind string

const (
	EventStateChanged  EventKind = "state_changed"
	EventGuestPending  EventKind = "guest_pending"
	EventPeerConnected EventKind = "peer_connected"
	EventPeerLeft      EventKind = "peer_left"
	EventLedgerUpdated EventKind = "ledger_updated"
	EventSyncRejected  EventKind = "sync_rejected"
	EventParticipants  EventKind = "participants"
	EventGameMessage   EventKind = "game_message"
	EventRelayError    EventKind = "relay_error"
)

// Event is pushed to subscribers after the change it describes is committed.
type Event struct {
	Kind         EventKind
	State        State
	ConnectionID string
	Name         string
	Err          error
	Message      *protocol.GameMessage
}

type ConnectionInfo struct {
	ID           string                `json:"id"`
	RemoteName   string                `json:"remoteName,omitempty"`
	Status       string                `json:"status"`
	PlayerStatus protocol.PlayerStatus `json:"playerStatus,omitempty"`
	Open         bool                  `json:"open"`
}

type PendingGuest struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// Snapshot is a read-only copy of the session for UI layers.
type Snapshot struct {
	SessionID    string                 `json:"sessionId"`
	State        State                  `json:"state"`
	IsHost       bool                   `json:"isHost"`
	PlayerName   string                 `json:"playerName"`
	MaxPlayers   int                    `json:"maxPlayers"`
	Started      bool                   `json:"started"`
	Finished     bool                   `json:"finished"`
	Seed         uint32                 `json:"seed"`
	Connections  []ConnectionInfo       `json:"connections"`
	Participants []protocol.Participant `json:"participants"`
	Pending      *PendingGuest          `json:"pending,omitempty"`
	LedgerLength int                    `json:"ledgerLength"`
	Game         replay.View            `json:"game,omitempty"`
}

// ConnectedPeers counts connections whose transport is up.
func (s Snapshot) ConnectedPeers() int {
	n := 0
	for _, c := range s.Connections {
		if c.Status == peer.StatusConnected.String() {
			n++
		}
	}
	return n
}
