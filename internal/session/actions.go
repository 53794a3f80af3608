package session

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/protocol"
)

// SubmitAction signs a and either records it (host) or proposes it to the
// host (guest).
func (s *Session) SubmitAction(a ledger.Action) error {
	sig, pub, err := ledger.SignAction(s.cfg.Wallet, a)
	if err != nil {
		return err
	}
	return s.update(func(fx *effects) error {
		if s.isHost {
			return s.appendLocked(fx, a, sig, pub)
		}
		if !s.started || s.finished {
			return fmt.Errorf("%w: no game in progress", ErrInvalidState)
		}
		c, err := s.hostConnLocked()
		if err != nil {
			return err
		}
		s.sendLocked(fx, c, protocol.Request(a, sig, pub))
		return nil
	})
}

// appendLocked records a signed action, broadcasts it as a delta and
// finishes the game once the replayed state is terminal.
func (s *Session) appendLocked(fx *effects, a ledger.Action, signature, publicKey string) error {
	if !s.started || s.finished {
		return fmt.Errorf("%w: no game in progress", ErrInvalidState)
	}
	if s.cfg.Authorize != nil {
		if err := s.cfg.Authorize(s.ledger.Entries(), a, publicKey); err != nil {
			return err
		}
	}
	e, err := s.ledger.Append(a, signature, publicKey)
	if err != nil {
		return err
	}
	s.broadcastLocked(fx, protocol.SyncLedger{Seed: s.seed, Entries: []ledger.Entry{e}}, "")
	s.replayLocked()
	s.saveLedgerLocked(fx)
	fx.emit(Event{Kind: EventLedgerUpdated})

	if s.view != nil && s.view.Terminal() {
		s.finishLocked(fx)
	}
	return nil
}

func (s *Session) replayLocked() {
	if s.cfg.Replayer == nil {
		return
	}
	s.view = s.cfg.Replayer.Sync(s.seed, s.ledger.Entries())
}

// SendGameMessage sends an opaque game payload to every peer. Guests send
// it to the host, which relays it to the others.
func (s *Session) SendGameMessage(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode game message: %w", err)
	}
	msg := protocol.GameMessage{Kind: kind, Payload: raw}
	return s.update(func(fx *effects) error {
		if !s.state.InRoom() {
			return fmt.Errorf("%w: not in a room", ErrInvalidState)
		}
		if s.isHost {
			s.broadcastLocked(fx, msg, "")
			return nil
		}
		c, err := s.hostConnLocked()
		if err != nil {
			return err
		}
		s.sendLocked(fx, c, msg)
		return nil
	})
}

// CloseSession closes every connection, withdraws the listing and forgets
// the persisted record. The session is idle afterwards.
func (s *Session) CloseSession() error {
	var (
		conns []*peer.Connection
		id    string
	)
	_ = s.update(func(fx *effects) error {
		conns = s.orderedConnsLocked()
		id = s.id
		prev := s.state
		s.resetLocked()
		if prev != StateIdle {
			fx.emit(Event{Kind: EventStateChanged, State: StateIdle})
		}
		s.removeRecordLocked(fx, id)
		return nil
	})

	err := s.cfg.Exchange.Retract()
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	s.logger.Info("session closed", zap.String("session_id", id), zap.Int("connections", len(conns)))
	return err
}

// Resume restores a persisted session. A host reopens its slots so guests
// can reconnect; a guest waits for a fresh offer.
func (s *Session) Resume(ctx context.Context, sessionID string) error {
	rec, err := s.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	var (
		conns []*peer.Connection
		gen   uint64
		gctx  context.Context
	)
	err = s.update(func(fx *effects) error {
		if s.state != StateIdle {
			return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, s.state)
		}
		if err := s.ledger.Load(rec.Entries); err != nil {
			return fmt.Errorf("persisted ledger rejected: %w", err)
		}
		if rec.Host {
			n := ClampPlayers(rec.MaxPlayers)
			dialed, err := s.dialAllLocked(fx, n-1)
			if err != nil {
				s.ledger.Reset()
				return err
			}
			conns = dialed
			s.maxPlayers = n
		}

		s.id = rec.SessionID
		s.isHost = rec.Host
		s.seed = rec.Seed
		s.started = rec.Started
		s.finished = rec.Finished
		if s.isHost {
			s.roster = []protocol.Participant{s.hostParticipantLocked()}
			for _, c := range conns {
				s.trackLocked(c)
			}
		}
		s.replayLocked()

		next := StateWaiting
		switch {
		case s.finished:
			next = StateFinished
		case s.started:
			next = StatePlaying
		}
		s.setStateLocked(fx, next)
		gen, gctx = s.generation, s.genCtx
		s.logger.Info("session resumed", zap.String("session_id", s.id),
			zap.Bool("host", s.isHost), zap.Int("entries", s.ledger.Len()))
		return nil
	})
	if err != nil || len(conns) == 0 {
		return err
	}
	return s.openSlots(gctx, gen, conns)
}
