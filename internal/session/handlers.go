package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/protocol"
)

// handleStatus only reacts to a connection coming up; closes arrive
// through handleClose.
func (s *Session) handleStatus(c *peer.Connection, st peer.Status) {
	if st != peer.StatusConnected {
		return
	}
	_ = s.update(func(fx *effects) error {
		if !s.ownsLocked(c) {
			return nil
		}
		s.logger.Info("peer connected", zap.String("session_id", s.id),
			zap.String("connection_id", c.ID()), zap.String("name", c.RemoteName()))
		fx.emit(Event{Kind: EventPeerConnected, ConnectionID: c.ID(), Name: c.RemoteName()})
		if s.isHost {
			s.hostConnectedLocked(fx, c)
		} else {
			s.guestConnectedLocked(fx, c)
		}
		return nil
	})
}

func (s *Session) hostConnectedLocked(fx *effects, c *peer.Connection) {
	id := c.ID()
	if _, ok := s.playerStatus[id]; !ok {
		s.playerStatus[id] = protocol.PlayerLobby
	}
	s.upsertParticipantLocked(protocol.Participant{
		ConnectionID: id,
		Name:         c.RemoteName(),
		Status:       s.playerStatus[id],
		Connected:    true,
	})

	if s.roomStateLocked() == StateHosting {
		s.moveLocked(fx, StateWaiting)
	}

	s.broadcastParticipantsLocked(fx)
	if s.started {
		s.sendLocked(fx, c, protocol.StartGame{Seed: s.seed})
		s.sendLocked(fx, c, protocol.SyncLedger{Seed: s.seed, Entries: s.ledger.Entries()})
	}
	if s.finished {
		s.sendLocked(fx, c, protocol.GameFinished{Winner: s.winnerLocked()})
	}
	s.publishLocked(fx)
	s.saveLocked(fx)
}

func (s *Session) guestConnectedLocked(fx *effects, c *peer.Connection) {
	if s.state == StateJoining {
		s.setStateLocked(fx, StateWaiting)
	}
	s.sendLocked(fx, c, protocol.SyncPlayerStatus{Status: s.guestStatusLocked()})
}

// handleClose keeps the departed peer in the roster as disconnected.
func (s *Session) handleClose(c *peer.Connection, cause error) {
	_ = s.update(func(fx *effects) error {
		if !s.ownsLocked(c) {
			return nil
		}
		if s.isQueuedLocked(c.ID()) {
			s.queued = nil
		}
		s.removeConnLocked(c)
		if s.isPendingLocked(c.ID()) {
			s.closeGateLocked(fx)
		}
		s.logger.Info("peer left", zap.String("session_id", s.id),
			zap.String("connection_id", c.ID()), zap.Error(cause))
		fx.emit(Event{Kind: EventPeerLeft, ConnectionID: c.ID(), Name: c.RemoteName(), Err: cause})

		if !s.isHost {
			s.updateParticipantLocked(hostParticipantID, func(p *protocol.Participant) { p.Connected = false })
			fx.emit(Event{Kind: EventParticipants})
			return nil
		}
		s.updateParticipantLocked(c.ID(), func(p *protocol.Participant) { p.Connected = false })
		s.broadcastParticipantsLocked(fx)
		s.publishLocked(fx)
		return nil
	})
}

func (s *Session) handleMessage(c *peer.Connection, data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		s.logger.Info("dropping malformed message", zap.String("connection_id", c.ID()), zap.Error(err))
		return
	}
	_ = s.update(func(fx *effects) error {
		if !s.ownsLocked(c) {
			return nil
		}
		if s.isHost {
			s.hostMessageLocked(fx, c, m)
		} else {
			s.guestMessageLocked(fx, c, m)
		}
		return nil
	})
}

func (s *Session) hostMessageLocked(fx *effects, c *peer.Connection, m protocol.Message) {
	switch m := m.(type) {
	case protocol.SyncPlayerStatus:
		s.setPlayerStatusLocked(fx, c.ID(), m.Status)
	case protocol.GameStarted:
		s.setPlayerStatusLocked(fx, c.ID(), protocol.PlayerGame)
	case protocol.ActionRequest:
		if err := s.appendLocked(fx, m.Action, m.Signature, m.SignerPublicKey); err != nil {
			s.logger.Warn("rejected action request", zap.String("connection_id", c.ID()),
				zap.String("type", m.Action.Type), zap.Error(err))
		}
	case protocol.RequestSync:
		s.sendLocked(fx, c, protocol.SyncLedger{Seed: s.seed, Entries: s.ledger.Entries()})
	case protocol.GameMessage:
		s.broadcastLocked(fx, m, c.ID())
		fx.emit(Event{Kind: EventGameMessage, ConnectionID: c.ID(), Name: c.RemoteName(), Message: &m})
	default:
		s.logger.Info("ignoring host message from guest",
			zap.String("connection_id", c.ID()), zap.String("type", string(m.Type())))
	}
}

func (s *Session) setPlayerStatusLocked(fx *effects, id string, status protocol.PlayerStatus) {
	if s.playerStatus[id] == status {
		return
	}
	s.playerStatus[id] = status
	s.setParticipantStatusLocked(id, status)
	s.broadcastParticipantsLocked(fx)
}

func (s *Session) guestMessageLocked(fx *effects, c *peer.Connection, m protocol.Message) {
	switch m := m.(type) {
	case protocol.StartGame:
		s.newGameLocked(m.Seed)
		s.started = true
		s.replayLocked()
		s.setStateLocked(fx, StatePlaying)
		s.sendLocked(fx, c, protocol.GameStarted{})
		s.saveLocked(fx)
	case protocol.GameReset:
		s.newGameLocked(m.Seed)
		s.lobbyLocked()
		s.setStateLocked(fx, StateWaiting)
		s.sendLocked(fx, c, protocol.SyncPlayerStatus{Status: protocol.PlayerLobby})
		s.saveLocked(fx)
	case protocol.NewBoard:
		s.removeRecordLocked(fx, s.id)
		s.id = m.SessionID
		s.newGameLocked(0)
		s.lobbyLocked()
		s.setStateLocked(fx, StateWaiting)
		s.saveLocked(fx)
	case protocol.SyncParticipants:
		if m.SessionID != "" && m.SessionID != s.id {
			s.id = m.SessionID
		}
		s.roster = append([]protocol.Participant(nil), m.Participants...)
		fx.emit(Event{Kind: EventParticipants})
		s.saveLocked(fx)
	case protocol.GameFinished:
		s.finished = true
		s.setStateLocked(fx, StateFinished)
		s.saveLocked(fx)
	case protocol.SyncLedger:
		s.mergeLocked(fx, c, m)
	case protocol.GameMessage:
		fx.emit(Event{Kind: EventGameMessage, ConnectionID: c.ID(), Name: c.RemoteName(), Message: &m})
	default:
		s.logger.Info("ignoring guest message from host",
			zap.String("connection_id", c.ID()), zap.String("type", string(m.Type())))
	}
}

// mergeLocked applies a SYNC_LEDGER batch. A batch for a different seed
// replaces the local ledger, but only once it verifies on its own.
func (s *Session) mergeLocked(fx *effects, c *peer.Connection, m protocol.SyncLedger) {
	var (
		added []ledger.Entry
		err   error
	)
	if m.Seed != s.seed {
		fresh := ledger.New(s.cfg.Verifier)
		if added, err = fresh.Merge(m.Entries); err == nil {
			if err = s.ledger.Load(fresh.Entries()); err == nil {
				s.seed = m.Seed
				if s.cfg.Replayer != nil {
					s.cfg.Replayer.Reset()
				}
			}
		}
	} else {
		added, err = s.ledger.Merge(m.Entries)
	}

	if err != nil {
		s.logger.Warn("rejected ledger sync", zap.String("session_id", s.id),
			zap.Int("entries", len(m.Entries)), zap.Error(err))
		fx.emit(Event{Kind: EventSyncRejected, ConnectionID: c.ID(), Err: err})
		if errors.Is(err, ledger.ErrGap) {
			s.sendLocked(fx, c, protocol.RequestSync{})
		}
		return
	}
	if len(added) == 0 && s.view != nil {
		return
	}
	s.replayLocked()
	s.saveLedgerLocked(fx)
	fx.emit(Event{Kind: EventLedgerUpdated})
}

// handleTargeted takes an answer the relay routed to this host.
func (s *Session) handleTargeted(a models.Answer) {
	s.mu.Lock()
	gen, id, host := s.generation, s.id, s.isHost
	s.mu.Unlock()
	if !host || a.SessionID != id {
		s.logger.Debug("discarding answer for another session",
			zap.String("session_id", a.SessionID), zap.String("connection_id", a.ConnectionID))
		return
	}
	if err := s.receiveAnswer(gen, a.Signal); err != nil {
		s.logger.Info("refused relayed answer", zap.String("session_id", a.SessionID),
			zap.String("connection_id", a.ConnectionID), zap.String("from", a.From), zap.Error(err))
	}
}
