// Package game implements the evolution board game as a pure reducer over
// ledger entries.
package game

import (
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"

	"lukechampine.com/blake3"
)

type Phase string

const (
	PhaseSetup         Phase = "setup"
	PhaseMutation      Phase = "mutation"
	PhasePhenotype     Phase = "phenotype"
	PhaseEnvironmental Phase = "environmental"
	PhaseCompetitive   Phase = "competitive"
	PhaseOptimization  Phase = "optimization"
	PhaseTerminal      Phase = "terminal"
)

type Trait string

const (
	TraitSpeed      Trait = "speed"
	TraitArmor      Trait = "armor"
	TraitCamouflage Trait = "camouflage"
	TraitMetabolism Trait = "metabolism"
)

var Traits = []Trait{TraitSpeed, TraitArmor, TraitCamouflage, TraitMetabolism}

func (t Trait) Valid() bool {
	return slices.Contains(Traits, t)
}

const (
	MaxPlayers          = 8
	StartingBiomass     = 5
	MaxExpressed        = 2
	DefaultWinThreshold = 20
	CompeteSpoils       = 2
)

type Player struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Biomass        int           `json:"biomass"`
	MutationPoints int           `json:"mutationPoints"`
	Traits         map[Trait]int `json:"traits"`
	Expressed      []Trait       `json:"expressed"`
	Optimized      bool          `json:"optimized"`
}

func (p Player) clone() Player {
	p.Traits = maps.Clone(p.Traits)
	p.Expressed = slices.Clone(p.Expressed)
	return p
}

func (p Player) expresses(t Trait) bool {
	return slices.Contains(p.Expressed, t)
}

// Roll is the most recent die result.
type Roll struct {
	PlayerID string `json:"playerId"`
	Value    int    `json:"value"`
	Round    int    `json:"round"`
}

// EventCard is an environmental condition favouring one trait.
type EventCard struct {
	Name     string `json:"name"`
	Favoured Trait  `json:"favoured"`
	Bonus    int    `json:"bonus"`
}

var Deck = []EventCard{
	{Name: "Predator Bloom", Favoured: TraitSpeed, Bonus: 2},
	{Name: "Acid Rain", Favoured: TraitArmor, Bonus: 2},
	{Name: "Canopy Shift", Favoured: TraitCamouflage, Bonus: 2},
	{Name: "Famine", Favoured: TraitMetabolism, Bonus: 3},
	{Name: "Warm Current", Favoured: TraitSpeed, Bonus: 1},
	{Name: "Volcanic Winter", Favoured: TraitArmor, Bonus: 3},
}

// Bout records the last competitive exchange.
type Bout struct {
	AttackerID    string `json:"attackerId"`
	DefenderID    string `json:"defenderId"`
	AttackerTotal int    `json:"attackerTotal"`
	DefenderTotal int    `json:"defenderTotal"`
	Transferred   int    `json:"transferred"`
}

// State is an immutable snapshot; Apply always returns a fresh copy.
type State struct {
	Seed         uint32     `json:"seed"`
	WinThreshold int        `json:"winThreshold"`
	Phase        Phase      `json:"phase"`
	Round        int        `json:"round"`
	Players      []Player   `json:"players"`
	LastRoll     *Roll      `json:"lastRoll,omitempty"`
	Event        *EventCard `json:"event,omitempty"`
	LastBout     *Bout      `json:"lastBout,omitempty"`
	// Draws counts PRNG draws per actor index within the current round.
	Draws   map[int]int `json:"draws"`
	Winner  string      `json:"winner,omitempty"`
	Applied int         `json:"applied"`
	Skipped int         `json:"skipped"`
}

func (s State) clone() State {
	out := s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		out.Players[i] = p.clone()
	}
	out.Draws = maps.Clone(s.Draws)
	if out.Draws == nil {
		out.Draws = map[int]int{}
	}
	if s.LastRoll != nil {
		r := *s.LastRoll
		out.LastRoll = &r
	}
	if s.Event != nil {
		e := *s.Event
		out.Event = &e
	}
	if s.LastBout != nil {
		b := *s.LastBout
		out.LastBout = &b
	}
	return out
}

// PlayerIndex returns the actor index of id, or -1.
func (s State) PlayerIndex(id string) int {
	for i, p := range s.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s State) Player(id string) (Player, bool) {
	i := s.PlayerIndex(id)
	if i < 0 {
		return Player{}, false
	}
	return s.Players[i], true
}

func (s State) Terminal() bool { return s.Phase == PhaseTerminal }

// WinnerID is the winning player id once the game is terminal.
func (s State) WinnerID() string { return s.Winner }

// Digest is a blake3 hash of the canonical JSON form. Peers compare digests
// to confirm they replayed the same history.
func (s State) Digest() string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
