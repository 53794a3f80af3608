package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/protocol"
)

// Join prepares the session to answer a host's offer.
func (s *Session) Join() error {
	return s.update(func(fx *effects) error {
		if s.state != StateIdle {
			return fmt.Errorf("%w: cannot join from %s", ErrInvalidState, s.state)
		}
		s.isHost = false
		s.setStateLocked(fx, StateJoining)
		return nil
	})
}

// AcceptOffer answers a host's offer and returns the answer blob once
// candidate gathering is done. A malformed blob leaves the session untouched.
func (s *Session) AcceptOffer(ctx context.Context, blob string) (string, error) {
	sig, err := peer.DecodeSignal(blob)
	if err != nil {
		return "", err
	}
	if !sig.IsOffer() {
		return "", fmt.Errorf("%w: expected an offer", peer.ErrMalformedSignal)
	}

	var (
		c   *peer.Connection
		gen uint64
	)
	err = s.update(func(fx *effects) error {
		if s.isHost {
			return fmt.Errorf("%w: hosts do not accept offers", ErrInvalidState)
		}
		if s.state != StateJoining && !s.state.InRoom() {
			return fmt.Errorf("%w: cannot accept an offer in %s", ErrInvalidState, s.state)
		}
		if len(s.conns) > 0 {
			return fmt.Errorf("%w: already connected to a host", ErrInvalidState)
		}
		var err error
		if c, err = s.dial(sig.ConnectionID); err != nil {
			return err
		}
		s.trackLocked(c)
		gen = s.generation
		return nil
	})
	if err != nil {
		return "", err
	}

	if _, err := c.AcceptOffer(sig, s.cfg.PlayerName); err != nil {
		s.drop(c)
		return "", err
	}
	if err := c.WaitGathered(ctx); err != nil {
		s.drop(c)
		return "", err
	}

	s.mu.Lock()
	stale := gen != s.generation || !s.ownsLocked(c)
	s.mu.Unlock()
	if stale {
		return "", fmt.Errorf("%w: session changed", ErrInvalidState)
	}

	answer, err := c.Signal()
	if err != nil {
		return "", err
	}
	s.logger.Info("answered offer", zap.String("connection_id", c.ID()), zap.String("host", sig.PlayerName))
	return answer.Encode()
}

// drop removes and closes c if it still belongs to the session.
func (s *Session) drop(c *peer.Connection) {
	_ = s.update(func(fx *effects) error {
		if s.ownsLocked(c) {
			s.removeConnLocked(c)
			fx.close(c)
		}
		return nil
	})
}

// JoinListing answers an open slot of a relay listing and routes the answer
// back to its owner.
func (s *Session) JoinListing(ctx context.Context, l models.Listing, connectionID string) error {
	var offer string
	for _, slot := range l.OpenSlots() {
		if connectionID == "" || slot.ConnectionID == connectionID {
			connectionID, offer = slot.ConnectionID, slot.Signal
			break
		}
	}
	if offer == "" {
		return fmt.Errorf("%w: no open slot in session %s", ErrRoomFull, l.SessionID)
	}

	answer, err := s.AcceptOffer(ctx, offer)
	if err != nil {
		return err
	}
	return s.cfg.Exchange.SendTargeted(models.Answer{
		SessionID:    l.SessionID,
		ConnectionID: connectionID,
		Signal:       answer,
	})
}

// Browse streams the relay's open listings to onList.
func (s *Session) Browse(onList func([]models.Listing)) error {
	return s.cfg.Exchange.Subscribe(onList)
}

// RequestSync asks the host for the full ledger.
func (s *Session) RequestSync() error {
	return s.update(func(fx *effects) error {
		if s.isHost {
			return ErrInvalidState
		}
		c, err := s.hostConnLocked()
		if err != nil {
			return err
		}
		s.sendLocked(fx, c, protocol.RequestSync{})
		return nil
	})
}

// hostConnLocked is a guest's only connection, once it is up.
func (s *Session) hostConnLocked() (*peer.Connection, error) {
	for _, c := range s.orderedConnsLocked() {
		if c.Status() == peer.StatusConnected {
			return c, nil
		}
	}
	return nil, peer.ErrNotConnected
}

// guestStatusLocked is the status a guest reports about itself.
func (s *Session) guestStatusLocked() protocol.PlayerStatus {
	if s.started && !s.finished {
		return protocol.PlayerGame
	}
	return protocol.PlayerLobby
}
