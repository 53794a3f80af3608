package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/protocol"
)

const gatherTimeout = 15 * time.Second

// Host opens a new session with one outbound slot per possible guest.
func (s *Session) Host(maxPlayers int) error {
	var (
		conns []*peer.Connection
		gen   uint64
		ctx   context.Context
	)
	err := s.update(func(fx *effects) error {
		if s.state != StateIdle {
			return fmt.Errorf("%w: cannot host from %s", ErrInvalidState, s.state)
		}
		n := ClampPlayers(maxPlayers)
		var err error
		conns, err = s.dialAllLocked(fx, n-1)
		if err != nil {
			return err
		}

		s.isHost = true
		s.maxPlayers = n
		s.id = s.cfg.NewID()
		s.roster = []protocol.Participant{s.hostParticipantLocked()}
		for _, c := range conns {
			s.trackLocked(c)
		}
		s.setStateLocked(fx, StateHosting)
		s.saveLocked(fx)
		gen, ctx = s.generation, s.genCtx

		s.logger.Info("hosting session", zap.String("session_id", s.id), zap.Int("max_players", n))
		return nil
	})
	if err != nil {
		return err
	}
	return s.openSlots(ctx, gen, conns)
}

// openSlots creates offers outside the session lock and republishes the
// listing as each slot finishes gathering.
func (s *Session) openSlots(ctx context.Context, gen uint64, conns []*peer.Connection) error {
	var errs error
	for _, c := range conns {
		if _, err := c.CreateOffer(s.cfg.PlayerName); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("slot %s: %w", c.ID(), err))
			continue
		}
		go s.watchGathering(ctx, gen, c)
	}
	_ = s.update(func(fx *effects) error {
		if gen == s.generation {
			s.publishLocked(fx)
		}
		return nil
	})
	return errs
}

func (s *Session) watchGathering(ctx context.Context, gen uint64, c *peer.Connection) {
	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()
	if err := c.WaitGathered(ctx); err != nil {
		s.logger.Debug("gathering did not finish", zap.String("connection_id", c.ID()), zap.Error(err))
	}
	_ = s.update(func(fx *effects) error {
		if gen != s.generation || !s.ownsLocked(c) {
			s.logger.Debug("discarding stale gathering result", zap.String("connection_id", c.ID()))
			return nil
		}
		s.publishLocked(fx)
		return nil
	})
}

// Offer waits for the slot's candidates and returns its offer blob.
func (s *Session) Offer(ctx context.Context, connectionID string) (string, error) {
	s.mu.Lock()
	c, ok := s.conns[connectionID]
	host := s.isHost
	s.mu.Unlock()
	if !host {
		return "", ErrNotHost
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	if err := c.WaitGathered(ctx); err != nil {
		return "", err
	}
	sig, err := c.Signal()
	if err != nil {
		return "", err
	}
	return sig.Encode()
}

// OpenSlots lists the connection ids still waiting for an answer.
func (s *Session) OpenSlots() []string {
	var ids []string
	for _, c := range s.Snapshot().Connections {
		if c.Open {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// ReceiveAnswer queues a guest's answer for approval. A malformed blob
// leaves the session untouched.
func (s *Session) ReceiveAnswer(blob string) error {
	return s.receiveAnswer(0, blob)
}

// receiveAnswer checks gen when it is non-zero so relay deliveries for an
// older session are dropped.
func (s *Session) receiveAnswer(gen uint64, blob string) error {
	sig, err := peer.DecodeSignal(blob)
	if err != nil {
		return err
	}
	if sig.IsOffer() {
		return fmt.Errorf("%w: expected an answer", peer.ErrMalformedSignal)
	}

	return s.update(func(fx *effects) error {
		if gen != 0 && gen != s.generation {
			return fmt.Errorf("%w: session changed", ErrInvalidState)
		}
		if !s.isHost {
			return ErrNotHost
		}
		if st := s.roomStateLocked(); st != StateHosting && !st.InRoom() {
			return fmt.Errorf("%w: cannot take answers in %s", ErrInvalidState, s.state)
		}

		c, ok := s.conns[sig.ConnectionID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownConnection, sig.ConnectionID)
		}
		if !s.openLocked(c) {
			s.logger.Info("refusing answer for a taken slot",
				zap.String("session_id", s.id), zap.String("connection_id", c.ID()))
			return fmt.Errorf("%w: slot %s is taken", ErrRoomFull, c.ID())
		}

		if s.state == StateApproving {
			if s.queued != nil {
				return fmt.Errorf("%w: another guest is awaiting approval", ErrInvalidState)
			}
			s.queued = &sig
			s.logger.Info("answer queued behind pending guest",
				zap.String("session_id", s.id), zap.String("connection_id", c.ID()))
			s.publishLocked(fx)
			return nil
		}
		s.holdLocked(fx, c, sig)
		return nil
	})
}

// holdLocked puts an answered slot behind the approval gate.
func (s *Session) holdLocked(fx *effects, c *peer.Connection, sig peer.Signal) {
	s.pending = &pendingGuest{conn: c, answer: sig, prior: s.state}
	s.setStateLocked(fx, StateApproving)
	fx.emit(Event{Kind: EventGuestPending, ConnectionID: c.ID(), Name: sig.PlayerName})
	s.publishLocked(fx)
}

// closeGateLocked resumes the pending guest's prior state and moves a
// queued answer, if still valid, behind the gate.
func (s *Session) closeGateLocked(fx *effects) {
	prior := s.pending.prior
	s.pending = nil
	s.setStateLocked(fx, prior)

	sig := s.queued
	if sig == nil {
		return
	}
	s.queued = nil
	c, ok := s.conns[sig.ConnectionID]
	if !ok || !s.openLocked(c) {
		s.logger.Info("dropping queued answer", zap.String("session_id", s.id),
			zap.String("connection_id", sig.ConnectionID))
		return
	}
	s.holdLocked(fx, c, *sig)
}

// ApproveGuest completes the handshake with the pending guest.
func (s *Session) ApproveGuest() error {
	var p *pendingGuest
	err := s.update(func(fx *effects) error {
		if s.pending == nil {
			return ErrNoPendingGuest
		}
		p = s.pending
		s.playerStatus[p.conn.ID()] = protocol.PlayerLobby
		s.closeGateLocked(fx)
		return nil
	})
	if err != nil {
		return err
	}

	if err := p.conn.AcceptAnswer(p.answer); err != nil {
		_ = s.update(func(fx *effects) error {
			if s.ownsLocked(p.conn) {
				s.removeConnLocked(p.conn)
				fx.close(p.conn)
				s.publishLocked(fx)
			}
			return nil
		})
		return err
	}

	return s.update(func(fx *effects) error {
		if !s.ownsLocked(p.conn) {
			return nil
		}
		id := p.conn.ID()
		s.upsertParticipantLocked(protocol.Participant{
			ConnectionID: id,
			Name:         p.answer.PlayerName,
			Status:       s.playerStatus[id],
			Connected:    p.conn.Status() == peer.StatusConnected,
		})
		s.logger.Info("guest approved", zap.String("session_id", s.id),
			zap.String("connection_id", id), zap.String("name", p.answer.PlayerName))
		s.broadcastParticipantsLocked(fx)
		s.publishLocked(fx)
		return nil
	})
}

// RejectGuest drops the pending guest and its slot. Use ReopenSlot to
// advertise a replacement.
func (s *Session) RejectGuest() error {
	return s.update(func(fx *effects) error {
		if s.pending == nil {
			return ErrNoPendingGuest
		}
		p := s.pending
		s.closeGateLocked(fx)
		s.removeConnLocked(p.conn)
		fx.close(p.conn)
		s.publishLocked(fx)
		s.logger.Info("guest rejected", zap.String("session_id", s.id),
			zap.String("connection_id", p.conn.ID()), zap.String("name", p.answer.PlayerName))
		return nil
	})
}

// ReopenSlot opens a fresh outbound slot if the room has space.
func (s *Session) ReopenSlot() (string, error) {
	var (
		c   *peer.Connection
		gen uint64
		ctx context.Context
	)
	err := s.update(func(fx *effects) error {
		if !s.isHost {
			return ErrNotHost
		}
		if s.state == StateIdle {
			return fmt.Errorf("%w: no session", ErrInvalidState)
		}
		if len(s.conns) >= s.maxPlayers-1 {
			return ErrRoomFull
		}
		var err error
		if c, err = s.dial(s.cfg.NewID()); err != nil {
			return err
		}
		s.trackLocked(c)
		gen, ctx = s.generation, s.genCtx
		return nil
	})
	if err != nil {
		return "", err
	}
	return c.ID(), s.openSlots(ctx, gen, []*peer.Connection{c})
}

// StartGame picks a seed and moves everyone into play.
func (s *Session) StartGame() error {
	return s.update(func(fx *effects) error {
		if !s.isHost {
			return ErrNotHost
		}
		if s.state != StateWaiting {
			return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, s.state)
		}
		s.newGameLocked(s.cfg.NewSeed())
		s.started = true
		s.setParticipantStatusLocked(hostParticipantID, protocol.PlayerGame)
		s.setStateLocked(fx, StatePlaying)
		s.broadcastLocked(fx, protocol.StartGame{Seed: s.seed}, "")
		s.broadcastParticipantsLocked(fx)
		s.replayLocked()
		s.saveLocked(fx)
		s.logger.Info("game started", zap.String("session_id", s.id), zap.Uint32("seed", s.seed))
		return nil
	})
}

// FinishGame ends play; the ledger is frozen from here on.
func (s *Session) FinishGame() error {
	return s.update(func(fx *effects) error {
		if !s.isHost {
			return ErrNotHost
		}
		if s.roomStateLocked() != StatePlaying {
			return fmt.Errorf("%w: cannot finish from %s", ErrInvalidState, s.state)
		}
		s.finishLocked(fx)
		return nil
	})
}

func (s *Session) finishLocked(fx *effects) {
	s.finished = true
	s.moveLocked(fx, StateFinished)
	s.broadcastLocked(fx, protocol.GameFinished{Winner: s.winnerLocked()}, "")
	s.saveLocked(fx)
	s.logger.Info("game finished", zap.String("session_id", s.id), zap.String("winner", s.winnerLocked()))
}

// ResetGame clears the ledger and returns everyone to the lobby with a new seed.
func (s *Session) ResetGame() error {
	return s.update(func(fx *effects) error {
		if !s.isHost {
			return ErrNotHost
		}
		if !s.roomStateLocked().InRoom() {
			return fmt.Errorf("%w: cannot reset from %s", ErrInvalidState, s.state)
		}
		s.newGameLocked(s.cfg.NewSeed())
		s.lobbyLocked()
		s.moveLocked(fx, StateWaiting)
		s.broadcastLocked(fx, protocol.GameReset{Seed: s.seed}, "")
		s.broadcastParticipantsLocked(fx)
		s.saveLocked(fx)
		return nil
	})
}

// NewBoard re-keys the session under a fresh id with the same peers.
func (s *Session) NewBoard() error {
	return s.update(func(fx *effects) error {
		if !s.isHost {
			return ErrNotHost
		}
		if !s.roomStateLocked().InRoom() {
			return fmt.Errorf("%w: cannot start a new board from %s", ErrInvalidState, s.state)
		}
		old := s.id
		s.id = s.cfg.NewID()
		s.newGameLocked(0)
		s.lobbyLocked()
		s.moveLocked(fx, StateWaiting)
		s.broadcastLocked(fx, protocol.NewBoard{SessionID: s.id}, "")
		s.broadcastParticipantsLocked(fx)
		s.removeRecordLocked(fx, old)
		s.saveLocked(fx)
		fx.do(func() {
			if err := s.cfg.Exchange.Retract(); err != nil {
				s.logger.Warn("failed to retract listing", zap.String("session_id", old), zap.Error(err))
			}
		})
		s.publishLocked(fx)
		s.logger.Info("new board", zap.String("from", old), zap.String("session_id", s.id))
		return nil
	})
}

// publishLocked advertises the current slots. Only the host publishes.
func (s *Session) publishLocked(fx *effects) {
	if !s.isHost || s.id == "" {
		return
	}
	l := models.Listing{
		GameID:    s.cfg.GameID,
		SessionID: s.id,
		HostName:  s.cfg.PlayerName,
		Slots:     []models.Slot{},
	}
	for _, c := range s.orderedConnsLocked() {
		slot := models.Slot{ConnectionID: c.ID()}
		if s.openLocked(c) {
			sig, err := c.Signal()
			if err == nil {
				slot.Signal, err = sig.Encode()
			}
			slot.Open = err == nil
		}
		l.Slots = append(l.Slots, slot)
	}
	fx.do(func() {
		if err := s.cfg.Exchange.Publish(l); err != nil {
			s.logger.Warn("failed to publish listing", zap.String("session_id", l.SessionID), zap.Error(err))
		}
	})
}

func (s *Session) hostParticipantLocked() protocol.Participant {
	status := protocol.PlayerLobby
	if s.started {
		status = protocol.PlayerGame
	}
	return protocol.Participant{
		ConnectionID: hostParticipantID,
		Name:         s.cfg.PlayerName,
		Status:       status,
		Connected:    true,
		Host:         true,
	}
}

func (s *Session) upsertParticipantLocked(p protocol.Participant) {
	for i := range s.roster {
		if s.roster[i].ConnectionID == p.ConnectionID {
			if p.Name == "" {
				p.Name = s.roster[i].Name
			}
			s.roster[i] = p
			return
		}
	}
	s.roster = append(s.roster, p)
}

func (s *Session) updateParticipantLocked(id string, fn func(*protocol.Participant)) bool {
	for i := range s.roster {
		if s.roster[i].ConnectionID == id {
			fn(&s.roster[i])
			return true
		}
	}
	return false
}

func (s *Session) setParticipantStatusLocked(id string, status protocol.PlayerStatus) {
	s.updateParticipantLocked(id, func(p *protocol.Participant) { p.Status = status })
}

func (s *Session) broadcastParticipantsLocked(fx *effects) {
	msg := protocol.SyncParticipants{
		SessionID:    s.id,
		Participants: append([]protocol.Participant(nil), s.roster...),
	}
	s.broadcastLocked(fx, msg, "")
	fx.emit(Event{Kind: EventParticipants})
}

// newGameLocked clears the ledger and game view for a fresh seed.
func (s *Session) newGameLocked(seed uint32) {
	s.seed = seed
	s.started = false
	s.finished = false
	s.ledger.Reset()
	s.view = nil
	if s.cfg.Replayer != nil {
		s.cfg.Replayer.Reset()
	}
}

// lobbyLocked puts every known player back in the lobby.
func (s *Session) lobbyLocked() {
	for id := range s.playerStatus {
		s.playerStatus[id] = protocol.PlayerLobby
	}
	for i := range s.roster {
		s.roster[i].Status = protocol.PlayerLobby
	}
}

func (s *Session) removeRecordLocked(fx *effects, id string) {
	if id == "" {
		return
	}
	fx.do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.cfg.Store.RemoveSession(ctx, id); err != nil {
			s.logger.Warn("failed to remove session", zap.String("session_id", id), zap.Error(err))
		}
	})
}

type winnerView interface {
	WinnerID() string
}

func (s *Session) winnerLocked() string {
	if w, ok := s.view.(winnerView); ok {
		return w.WinnerID()
	}
	return ""
}
