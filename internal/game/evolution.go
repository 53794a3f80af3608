package game

import (
	"slices"

	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/replay"
)

const (
	ActionAddPlayer = "ADD_PLAYER"
	ActionBegin     = "BEGIN"
	ActionRollDice  = "ROLL_DICE"
	ActionMutate    = "MUTATE"
	ActionExpress   = "EXPRESS"
	ActionDrawEvent = "DRAW_EVENT"
	ActionCompete   = "COMPETE"
	ActionOptimize  = "OPTIMIZE"
	ActionEndPhase  = "END_PHASE"
)

// accepted lists the action types each phase reacts to. Anything else is a
// no-op in that phase.
var accepted = map[Phase][]string{
	PhaseSetup:         {ActionAddPlayer, ActionBegin, ActionRollDice},
	PhaseMutation:      {ActionRollDice, ActionMutate, ActionEndPhase},
	PhasePhenotype:     {ActionExpress, ActionEndPhase},
	PhaseEnvironmental: {ActionDrawEvent, ActionEndPhase},
	PhaseCompetitive:   {ActionCompete, ActionRollDice, ActionEndPhase},
	PhaseOptimization:  {ActionOptimize, ActionEndPhase},
}

var nextPhase = map[Phase]Phase{
	PhaseMutation:      PhasePhenotype,
	PhasePhenotype:     PhaseEnvironmental,
	PhaseEnvironmental: PhaseCompetitive,
	PhaseCompetitive:   PhaseOptimization,
	PhaseOptimization:  PhaseMutation,
}

// Accepts reports whether phase reacts to the action type.
func Accepts(phase Phase, actionType string) bool {
	return slices.Contains(accepted[phase], actionType)
}

// Evolution is the reducer. The zero value uses DefaultWinThreshold.
type Evolution struct {
	WinThreshold int
}

var _ replay.Reducer[State] = Evolution{}

func (r Evolution) Initial(seed uint32) State {
	threshold := r.WinThreshold
	if threshold <= 0 {
		threshold = DefaultWinThreshold
	}
	return State{
		Seed:         seed,
		WinThreshold: threshold,
		Phase:        PhaseSetup,
		Players:      []Player{},
		Draws:        map[int]int{},
	}
}

// Apply returns the state after entry. s is never modified.
func (r Evolution) Apply(s State, e ledger.Entry) State {
	next := s.clone()
	if !Accepts(s.Phase, e.Action.Type) || !next.apply(e.Action) {
		next.Skipped++
		return next
	}
	next.Applied++
	next.checkWin()
	return next
}

func (s *State) apply(a ledger.Action) bool {
	switch a.Type {
	case ActionAddPlayer:
		return s.addPlayer(a)
	case ActionBegin:
		return s.begin()
	case ActionRollDice:
		return s.rollDice(a)
	case ActionMutate:
		return s.mutate(a)
	case ActionExpress:
		return s.express(a)
	case ActionDrawEvent:
		return s.drawEvent()
	case ActionCompete:
		return s.compete(a)
	case ActionOptimize:
		return s.optimize(a)
	case ActionEndPhase:
		return s.endPhase()
	}
	return false
}

func (s *State) addPlayer(a ledger.Action) bool {
	var p AddPlayerPayload
	if a.Decode(&p) != nil || p.PlayerID == "" {
		return false
	}
	if len(s.Players) >= MaxPlayers || s.PlayerIndex(p.PlayerID) >= 0 {
		return false
	}
	traits := make(map[Trait]int, len(Traits))
	for _, t := range Traits {
		traits[t] = 0
	}
	s.Players = append(s.Players, Player{
		ID:      p.PlayerID,
		Name:    p.Name,
		Biomass: StartingBiomass,
		Traits:  traits,
	})
	return true
}

func (s *State) begin() bool {
	if len(s.Players) == 0 {
		return false
	}
	s.Phase = PhaseMutation
	s.Round = 1
	s.Draws = map[int]int{}
	return true
}

// draw takes the actor's next die roll and advances its stream.
func (s *State) draw(actor int) int {
	v := replay.Die(s.Seed, s.Round, actor, s.Draws[actor])
	s.Draws[actor]++
	return v
}

func (s *State) rollDice(a ledger.Action) bool {
	// An empty payload is a table roll, same as one without a player.
	var p RollDicePayload
	if len(a.Payload) > 0 && a.Decode(&p) != nil {
		return false
	}
	// A roll without a player is a table roll on the environment's stream.
	actor := len(s.Players)
	if p.PlayerID != "" {
		actor = s.PlayerIndex(p.PlayerID)
		if actor < 0 {
			return false
		}
	}
	var value int
	if p.Value != nil {
		if *p.Value < 1 || *p.Value > 6 {
			return false
		}
		value = *p.Value
	} else {
		value = s.draw(actor)
	}
	s.LastRoll = &Roll{PlayerID: p.PlayerID, Value: value, Round: s.Round}
	if s.Phase == PhaseMutation && p.PlayerID != "" {
		s.Players[actor].MutationPoints += value
	}
	return true
}

func (s *State) mutate(a ledger.Action) bool {
	var p TraitPayload
	if a.Decode(&p) != nil || !p.Trait.Valid() {
		return false
	}
	idx := s.PlayerIndex(p.PlayerID)
	if idx < 0 {
		return false
	}
	pl := &s.Players[idx]
	cost := pl.Traits[p.Trait] + 1
	if pl.MutationPoints < cost {
		return false
	}
	pl.MutationPoints -= cost
	pl.Traits[p.Trait]++
	return true
}

func (s *State) express(a ledger.Action) bool {
	var p TraitPayload
	if a.Decode(&p) != nil || !p.Trait.Valid() {
		return false
	}
	idx := s.PlayerIndex(p.PlayerID)
	if idx < 0 {
		return false
	}
	pl := &s.Players[idx]
	if pl.Traits[p.Trait] < 1 || pl.expresses(p.Trait) || len(pl.Expressed) >= MaxExpressed {
		return false
	}
	pl.Expressed = append(pl.Expressed, p.Trait)
	return true
}

// drawEvent uses the environment's own stream, actor index len(players).
func (s *State) drawEvent() bool {
	if s.Event != nil {
		return false
	}
	env := len(s.Players)
	card := Deck[replay.Stream(s.Seed, s.Round, env, s.Draws[env]).Intn(len(Deck))]
	s.Draws[env]++
	s.Event = &card

	for i := range s.Players {
		pl := &s.Players[i]
		if pl.expresses(card.Favoured) {
			pl.Biomass += card.Bonus * pl.Traits[card.Favoured]
		} else if pl.Biomass > 0 {
			pl.Biomass--
		}
	}
	return true
}

func (s *State) compete(a ledger.Action) bool {
	var p CompetePayload
	if a.Decode(&p) != nil || p.PlayerID == p.TargetID {
		return false
	}
	atk, def := s.PlayerIndex(p.PlayerID), s.PlayerIndex(p.TargetID)
	if atk < 0 || def < 0 {
		return false
	}
	attacker, defender := &s.Players[atk], &s.Players[def]
	bout := Bout{
		AttackerID:    attacker.ID,
		DefenderID:    defender.ID,
		AttackerTotal: s.draw(atk) + attacker.Traits[TraitSpeed],
		DefenderTotal: s.draw(def) + defender.Traits[TraitArmor],
	}
	switch {
	case bout.AttackerTotal > bout.DefenderTotal:
		bout.Transferred = min(CompeteSpoils, defender.Biomass)
		defender.Biomass -= bout.Transferred
		attacker.Biomass += bout.Transferred
	case bout.DefenderTotal > bout.AttackerTotal:
		bout.Transferred = min(CompeteSpoils, attacker.Biomass)
		attacker.Biomass -= bout.Transferred
		defender.Biomass += bout.Transferred
	}
	s.LastBout = &bout
	return true
}

func (s *State) optimize(a ledger.Action) bool {
	var p PlayerPayload
	if a.Decode(&p) != nil {
		return false
	}
	idx := s.PlayerIndex(p.PlayerID)
	if idx < 0 || s.Players[idx].Optimized {
		return false
	}
	pl := &s.Players[idx]
	pl.Biomass += pl.Traits[TraitMetabolism] + 1
	pl.Expressed = nil
	pl.Optimized = true
	return true
}

func (s *State) endPhase() bool {
	next, ok := nextPhase[s.Phase]
	if !ok {
		return false
	}
	if s.Phase == PhaseOptimization {
		s.Round++
		s.Draws = map[int]int{}
		s.Event = nil
		for i := range s.Players {
			s.Players[i].Optimized = false
		}
	}
	s.Phase = next
	return true
}

// checkWin freezes the game once any player reaches the threshold. The
// winner is the highest biomass, earliest actor on ties.
func (s *State) checkWin() {
	if s.Phase == PhaseTerminal {
		return
	}
	best := -1
	for i, p := range s.Players {
		if p.Biomass < s.WinThreshold {
			continue
		}
		if best < 0 || p.Biomass > s.Players[best].Biomass {
			best = i
		}
	}
	if best < 0 {
		return
	}
	s.Phase = PhaseTerminal
	s.Winner = s.Players[best].ID
}
