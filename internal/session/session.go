// Package session runs one game session: it owns the peer connections, the
// lobby lifecycle and, on the host, the ledger. Everything is scoped to a
// Session value; there is no package level registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/protocol"
	"github.com/mossy-p/peerplay/internal/replay"
	"github.com/mossy-p/peerplay/internal/signaling"
	"github.com/mossy-p/peerplay/internal/wallet"
)

const (
	DefaultMaxPlayers = 4
	MinPlayers        = 2
	MaxPlayers        = 8

	hostParticipantID = "host"
	storeTimeout      = 5 * time.Second
)

// ClampPlayers keeps maxPlayers within the supported range.
func ClampPlayers(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxPlayers
	case n < MinPlayers:
		return MinPlayers
	case n > MaxPlayers:
		return MaxPlayers
	}
	return n
}

type Config struct {
	PlayerName string
	GameID     string
	Wallet     wallet.Signer
	Verifier   wallet.Verifier
	Transports peer.TransportFactory
	Exchange   signaling.Exchange
	Replayer   replay.Replayer
	Store      Persistence
	Logger     *zap.Logger

	// NewSeed picks the seed for a new game. It is only called on the host;
	// guests take the seed from the host's broadcast.
	NewSeed func() uint32
	NewID   func() string

	// Authorize, when set, runs on the host before any action is appended,
	// the host's own included. Signatures only prove who authored an action.
	Authorize func(entries []ledger.Entry, a ledger.Action, signer string) error
}

type pendingGuest struct {
	conn   *peer.Connection
	answer peer.Signal
	prior  State
}

type Session struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	id         string
	generation uint64
	genCtx     context.Context
	genCancel  context.CancelFunc
	isHost     bool
	maxPlayers int
	started    bool
	finished   bool
	seed       uint32
	ledger     *ledger.Ledger
	view       replay.View

	conns        map[string]*peer.Connection
	order        []*peer.Connection
	playerStatus map[string]protocol.PlayerStatus
	roster       []protocol.Participant
	pending      *pendingGuest
	// queued holds at most one answer that arrived while pending was open.
	queued *peer.Signal

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int

	// out serializes the side effects of successive updates so peers see
	// messages in the order the session produced them.
	out sync.Mutex
}

func New(cfg Config) (*Session, error) {
	if cfg.Wallet == nil {
		return nil, errors.New("session wallet is required")
	}
	if cfg.Transports == nil {
		return nil, errors.New("session transport factory is required")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = wallet.Ed25519
	}
	if cfg.Exchange == nil {
		cfg.Exchange = signaling.Manual{}
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewSeed == nil {
		cfg.NewSeed = rand.Uint32
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.PlayerName == "" {
		cfg.PlayerName = cfg.Wallet.Identity().Name
	}

	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateIdle,
		ledger: ledger.New(cfg.Verifier, ledger.WithLogger(cfg.Logger)),
		subs:   make(map[int]func(Event)),
	}
	s.resetLocked()
	cfg.Exchange.OnTargeted(s.handleTargeted)
	return s, nil
}

// Subscribe registers fn for every event and returns a func that removes it.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of everything a UI needs to render the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:    s.id,
		State:        s.state,
		IsHost:       s.isHost,
		PlayerName:   s.cfg.PlayerName,
		MaxPlayers:   s.maxPlayers,
		Started:      s.started,
		Finished:     s.finished,
		Seed:         s.seed,
		Participants: append([]protocol.Participant(nil), s.roster...),
		LedgerLength: s.ledger.Len(),
		Game:         s.view,
	}
	for _, c := range s.orderedConnsLocked() {
		st := c.Status()
		snap.Connections = append(snap.Connections, ConnectionInfo{
			ID:           c.ID(),
			RemoteName:   c.RemoteName(),
			Status:       st.String(),
			PlayerStatus: s.playerStatus[c.ID()],
			Open:         s.isHost && s.openLocked(c),
		})
	}
	if s.pending != nil {
		snap.Pending = &PendingGuest{ConnectionID: s.pending.conn.ID(), Name: s.pending.answer.PlayerName}
	}
	return snap
}

// Ledger returns a copy of the accepted entries.
func (s *Session) Ledger() []ledger.Entry {
	return s.ledger.Entries()
}

func (s *Session) orderedConnsLocked() []*peer.Connection {
	out := make([]*peer.Connection, 0, len(s.order))
	for _, c := range s.order {
		if s.ownsLocked(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) isPendingLocked(id string) bool {
	return s.pending != nil && s.pending.conn.ID() == id
}

func (s *Session) isQueuedLocked(id string) bool {
	return s.queued != nil && s.queued.ConnectionID == id
}

// openLocked reports whether c still waits for a guest's answer. Approved
// guests get a player status before the handshake completes.
func (s *Session) openLocked(c *peer.Connection) bool {
	if c.Status() != peer.StatusStarted || s.isPendingLocked(c.ID()) || s.isQueuedLocked(c.ID()) {
		return false
	}
	_, claimed := s.playerStatus[c.ID()]
	return !claimed
}

// resetLocked drops everything tied to the current session id.
func (s *Session) resetLocked() {
	if s.genCancel != nil {
		s.genCancel()
	}
	s.generation++
	s.genCtx, s.genCancel = context.WithCancel(context.Background())
	s.state = StateIdle
	s.id = ""
	s.isHost = false
	s.started = false
	s.finished = false
	s.seed = 0
	s.maxPlayers = 0
	s.conns = make(map[string]*peer.Connection)
	s.order = nil
	s.playerStatus = make(map[string]protocol.PlayerStatus)
	s.roster = nil
	s.pending = nil
	s.queued = nil
	s.view = nil
	s.ledger.Reset()
	if s.cfg.Replayer != nil {
		s.cfg.Replayer.Reset()
	}
}

// roomStateLocked is the state the room returns to once any approval
// gate closes.
func (s *Session) roomStateLocked() State {
	if s.state == StateApproving && s.pending != nil {
		return s.pending.prior
	}
	return s.state
}

// moveLocked changes the room state. While a guest awaits approval the
// change is recorded as the state to resume.
func (s *Session) moveLocked(fx *effects, next State) {
	if s.state == StateApproving && s.pending != nil {
		s.pending.prior = next
		return
	}
	s.setStateLocked(fx, next)
}

func (s *Session) setStateLocked(fx *effects, next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state", zap.String("session_id", s.id),
		zap.String("from", string(s.state)), zap.String("state", string(next)))
	s.state = next
	fx.emit(Event{Kind: EventStateChanged, State: next})
}

// dial creates a connection. Its callbacks are ignored until it is tracked
// and again once it is removed.
func (s *Session) dial(id string) (*peer.Connection, error) {
	t, err := s.cfg.Transports()
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	c := peer.NewConnection(id, t,
		peer.WithLogger(s.logger),
		peer.WithStatusHandler(s.handleStatus),
		peer.WithCloseHandler(s.handleClose),
	)
	c.AddMessageListener(func(data []byte) { s.handleMessage(c, data) })
	return c, nil
}

// dialAllLocked creates n connections or none.
func (s *Session) dialAllLocked(fx *effects, n int) ([]*peer.Connection, error) {
	conns := make([]*peer.Connection, 0, n)
	for i := 0; i < n; i++ {
		c, err := s.dial(s.cfg.NewID())
		if err != nil {
			for _, done := range conns {
				fx.close(done)
			}
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func (s *Session) trackLocked(c *peer.Connection) {
	s.conns[c.ID()] = c
	s.order = append(s.order, c)
}

// removeConnLocked forgets c; it stays open until the caller closes it.
func (s *Session) removeConnLocked(c *peer.Connection) {
	if !s.ownsLocked(c) {
		return
	}
	delete(s.conns, c.ID())
	delete(s.playerStatus, c.ID())
	for i, o := range s.order {
		if o == c {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// ownsLocked reports whether c is a live connection of this session.
func (s *Session) ownsLocked(c *peer.Connection) bool {
	cur, ok := s.conns[c.ID()]
	return ok && cur == c
}

func (s *Session) emit(ev Event) {
	s.subsMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// update runs fn under the session lock and then applies the effects it
// collected: sends and storage in order, then closes and events with no
// lock held.
func (s *Session) update(fn func(fx *effects) error) error {
	fx := &effects{}
	s.mu.Lock()
	err := fn(fx)
	s.out.Lock()
	s.mu.Unlock()

	for _, w := range fx.work {
		w()
	}
	s.out.Unlock()

	for _, c := range fx.closes {
		if cerr := c.Close(); cerr != nil {
			s.logger.Debug("failed to close connection", zap.String("connection_id", c.ID()), zap.Error(cerr))
		}
	}
	for _, ev := range fx.events {
		s.emit(ev)
	}
	return err
}

type effects struct {
	work   []func()
	closes []*peer.Connection
	events []Event
}

func (fx *effects) do(fn func())             { fx.work = append(fx.work, fn) }
func (fx *effects) close(c *peer.Connection) { fx.closes = append(fx.closes, c) }
func (fx *effects) emit(ev Event)            { fx.events = append(fx.events, ev) }

// sendLocked queues m for one connection.
func (s *Session) sendLocked(fx *effects, c *peer.Connection, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		s.logger.Error("failed to encode message", zap.String("type", string(m.Type())), zap.Error(err))
		return
	}
	fx.do(func() {
		if err := c.Send(data); err != nil {
			s.logger.Debug("failed to send", zap.String("connection_id", c.ID()),
				zap.String("type", string(m.Type())), zap.Error(err))
		}
	})
}

// broadcastLocked queues m for every connected peer except skip.
func (s *Session) broadcastLocked(fx *effects, m protocol.Message, skip string) {
	for _, c := range s.orderedConnsLocked() {
		if c.ID() == skip || c.Status() != peer.StatusConnected {
			continue
		}
		s.sendLocked(fx, c, m)
	}
}

func (s *Session) recordLocked() Record {
	return Record{
		SessionID:  s.id,
		PlayerName: s.cfg.PlayerName,
		Host:       s.isHost,
		MaxPlayers: s.maxPlayers,
		Seed:       s.seed,
		Started:    s.started,
		Finished:   s.finished,
		Entries:    s.ledger.Entries(),
		UpdatedAt:  time.Now().UTC(),
	}
}

// saveLocked queues a save of the whole record.
func (s *Session) saveLocked(fx *effects) {
	if s.id == "" {
		return
	}
	rec := s.recordLocked()
	fx.do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := s.cfg.Store.SaveSession(ctx, rec); err != nil {
			s.logger.Warn("failed to save session", zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	})
}

// saveLedgerLocked queues a ledger-only update.
func (s *Session) saveLedgerLocked(fx *effects) {
	if s.id == "" {
		return
	}
	id, entries := s.id, s.ledger.Entries()
	fx.do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		err := s.cfg.Store.UpdateLedger(ctx, id, entries)
		if errors.Is(err, ErrNoRecord) {
			return
		}
		if err != nil {
			s.logger.Warn("failed to save ledger", zap.String("session_id", id), zap.Error(err))
		}
	})
}
