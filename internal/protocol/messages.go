// Package protocol defines the messages peers exchange over the data channel.
// Every message belongs to exactly one channel purpose so lifecycle and
// ledger traffic never collide with game payloads.
package protocol

import (
	"encoding/json"

	"github.com/mossy-p/peerplay/internal/ledger"
)

type Channel string

const (
	ChannelLifecycle Channel = "lifecycle"
	ChannelLedger    Channel = "ledger"
	ChannelGame      Channel = "game"
)

type Type string

const (
	TypeStartGame        Type = "START_GAME"
	TypeGameStarted      Type = "GAME_STARTED"
	TypeGameReset        Type = "GAME_RESET"
	TypeNewBoard         Type = "NEW_BOARD"
	TypeSyncPlayerStatus Type = "SYNC_PLAYER_STATUS"
	TypeSyncParticipants Type = "SYNC_PARTICIPANTS"
	TypeGameFinished     Type = "GAME_FINISHED"

	TypeSyncLedger    Type = "SYNC_LEDGER"
	TypeActionRequest Type = "ACTION_REQUEST"
	TypeRequestSync   Type = "REQUEST_SYNC"

	TypeGameMessage Type = "GAME_MESSAGE"
)

// PlayerStatus is the per-player lobby flag, tracked apart from transport status.
type PlayerStatus string

const (
	PlayerLobby PlayerStatus = "lobby"
	PlayerGame  PlayerStatus = "game"
)

func (s PlayerStatus) Valid() bool {
	return s == PlayerLobby || s == PlayerGame
}

// Message is the closed set of data channel messages.
type Message interface {
	Channel() Channel
	Type() Type
	validate() error
}

// StartGame is broadcast by the host. Seed drives every random outcome.
type StartGame struct {
	Seed uint32 `json:"seed"`
}

// GameStarted is a guest's acknowledgement of StartGame.
type GameStarted struct{}

type GameReset struct {
	Seed uint32 `json:"seed"`
}

type NewBoard struct {
	SessionID string `json:"sessionId"`
}

type SyncPlayerStatus struct {
	Status PlayerStatus `json:"status"`
}

type Participant struct {
	ConnectionID string       `json:"connectionId"`
	Name         string       `json:"name"`
	Status       PlayerStatus `json:"status"`
	Connected    bool         `json:"connected"`
	Host         bool         `json:"host,omitempty"`
}

// SyncParticipants also tells guests which session id they belong to.
type SyncParticipants struct {
	SessionID    string        `json:"sessionId,omitempty"`
	Participants []Participant `json:"participants"`
}

type GameFinished struct {
	Winner string `json:"winner,omitempty"`
}

// SyncLedger carries the full ledger or a delta. Seed travels with it so a
// late joiner can replay from scratch.
type SyncLedger struct {
	Seed    uint32         `json:"seed"`
	Entries []ledger.Entry `json:"entries"`
}

// ActionRequest is a guest's signed proposal; only the host turns it into an entry.
type ActionRequest struct {
	Action          ledger.Action `json:"action"`
	Signature       string        `json:"signature"`
	SignerPublicKey string        `json:"signerPublicKey"`
}

type RequestSync struct{}

// GameMessage is an opaque game-specific payload that is not part of the ledger.
type GameMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (StartGame) Channel() Channel        { return ChannelLifecycle }
func (GameStarted) Channel() Channel      { return ChannelLifecycle }
func (GameReset) Channel() Channel        { return ChannelLifecycle }
func (NewBoard) Channel() Channel         { return ChannelLifecycle }
func (SyncPlayerStatus) Channel() Channel { return ChannelLifecycle }
func (SyncParticipants) Channel() Channel { return ChannelLifecycle }
func (GameFinished) Channel() Channel     { return ChannelLifecycle }
func (SyncLedger) Channel() Channel       { return ChannelLedger }
func (ActionRequest) Channel() Channel    { return ChannelLedger }
func (RequestSync) Channel() Channel      { return ChannelLedger }
func (GameMessage) Channel() Channel      { return ChannelGame }

func (StartGame) Type() Type        { return TypeStartGame }
func (GameStarted) Type() Type      { return TypeGameStarted }
func (GameReset) Type() Type        { return TypeGameReset }
func (NewBoard) Type() Type         { return TypeNewBoard }
func (SyncPlayerStatus) Type() Type { return TypeSyncPlayerStatus }
func (SyncParticipants) Type() Type { return TypeSyncParticipants }
func (GameFinished) Type() Type     { return TypeGameFinished }
func (SyncLedger) Type() Type       { return TypeSyncLedger }
func (ActionRequest) Type() Type    { return TypeActionRequest }
func (RequestSync) Type() Type      { return TypeRequestSync }
func (GameMessage) Type() Type      { return TypeGameMessage }
