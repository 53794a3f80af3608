package game

import (
	"errors"
	"fmt"

	"github.com/mossy-p/peerplay/internal/ledger"
)

var ErrNotOwner = errors.New("player belongs to another signer")

type PlayerPayload struct {
	PlayerID string `json:"playerId"`
}

type AddPlayerPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// RollDicePayload carries an optional fixed value. Without one the die is
// drawn from the roller's seeded stream.
type RollDicePayload struct {
	PlayerID string `json:"playerId,omitempty"`
	Value    *int   `json:"value,omitempty"`
}

type TraitPayload struct {
	PlayerID string `json:"playerId"`
	Trait    Trait  `json:"trait"`
}

type CompetePayload struct {
	PlayerID string `json:"playerId"`
	TargetID string `json:"targetId"`
}

func AddPlayer(id, name string) (ledger.Action, error) {
	return ledger.NewAction(ActionAddPlayer, AddPlayerPayload{PlayerID: id, Name: name})
}

func Begin() (ledger.Action, error) {
	return ledger.NewAction(ActionBegin, nil)
}

// RollDice draws from the seeded stream.
func RollDice(playerID string) (ledger.Action, error) {
	return ledger.NewAction(ActionRollDice, RollDicePayload{PlayerID: playerID})
}

// TableRoll draws from the environment's stream for nobody in particular.
func TableRoll() (ledger.Action, error) {
	return ledger.NewAction(ActionRollDice, nil)
}

// RollDiceValue records a roll made elsewhere.
func RollDiceValue(playerID string, value int) (ledger.Action, error) {
	return ledger.NewAction(ActionRollDice, RollDicePayload{PlayerID: playerID, Value: &value})
}

func Mutate(playerID string, t Trait) (ledger.Action, error) {
	return ledger.NewAction(ActionMutate, TraitPayload{PlayerID: playerID, Trait: t})
}

func Express(playerID string, t Trait) (ledger.Action, error) {
	return ledger.NewAction(ActionExpress, TraitPayload{PlayerID: playerID, Trait: t})
}

func DrawEvent() (ledger.Action, error) {
	return ledger.NewAction(ActionDrawEvent, nil)
}

func Compete(playerID, targetID string) (ledger.Action, error) {
	return ledger.NewAction(ActionCompete, CompetePayload{PlayerID: playerID, TargetID: targetID})
}

func Optimize(playerID string) (ledger.Action, error) {
	return ledger.NewAction(ActionOptimize, PlayerPayload{PlayerID: playerID})
}

func EndPhase() (ledger.Action, error) {
	return ledger.NewAction(ActionEndPhase, nil)
}

// Authorize checks that a only names a player added by the same signer.
// Actions without a player, and players nobody has added yet, pass.
func Authorize(entries []ledger.Entry, a ledger.Action, signer string) error {
	var p PlayerPayload
	if len(a.Payload) == 0 || a.Decode(&p) != nil || p.PlayerID == "" {
		return nil
	}
	for _, e := range entries {
		if e.Action.Type != ActionAddPlayer {
			continue
		}
		var added AddPlayerPayload
		if e.Action.Decode(&added) != nil || added.PlayerID != p.PlayerID {
			continue
		}
		if e.SignerPublicKey != signer {
			return fmt.Errorf("%w: %s", ErrNotOwner, p.PlayerID)
		}
		return nil
	}
	return nil
}
