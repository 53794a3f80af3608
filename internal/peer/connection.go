package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = errors.New("invalid connection transition")
	ErrNotConnected      = errors.New("connection not connected")
	ErrClosed            = errors.New("connection closed")
	ErrTransportFailure  = errors.New("transport failure")
)

// Status of a Connection. Values are ordered; only Closed may be entered
// from any state.
type Status int

const (
	StatusNew Status = iota
	StatusStarted
	StatusAnswered
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusStarted:
		return "started"
	case StatusAnswered:
		return "answered"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ListenerID identifies a registered message listener.
type ListenerID int

// Connection wraps one Transport and drives the offer/answer handshake.
type Connection struct {
	id        string
	transport Transport
	logger    *zap.Logger

	mu         sync.Mutex
	status     Status
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	localName  string
	remoteName string
	candidates []webrtc.ICECandidateInit
	listeners  map[ListenerID]func([]byte)
	nextID     ListenerID
	cause      error
	linkUp     bool

	onStatus func(*Connection, Status)
	onClose  func(*Connection, error)

	gathered   chan struct{}
	gatherOnce sync.Once
}

type Option func(*Connection)

func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStatusHandler is called after every status change, outside the lock.
func WithStatusHandler(fn func(*Connection, Status)) Option {
	return func(c *Connection) { c.onStatus = fn }
}

// WithCloseHandler is invoked exactly once when the connection closes.
// The error is nil for an explicit Close.
func WithCloseHandler(fn func(*Connection, error)) Option {
	return func(c *Connection) { c.onClose = fn }
}

// NewConnection binds a transport to a connection id.
func NewConnection(id string, t Transport, opts ...Option) *Connection {
	c := &Connection{
		id:        id,
		transport: t,
		logger:    zap.NewNop(),
		listeners: make(map[ListenerID]func([]byte)),
		gathered:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("connection_id", id))

	t.OnICECandidate(c.handleCandidate)
	t.OnLinkState(c.handleLinkState)
	t.OnMessage(c.dispatch)
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RemoteName is the player name the other side declared in its signal.
func (c *Connection) RemoteName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteName
}

// Err returns the transport failure that closed the connection, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// CreateOffer starts negotiation as the offering side.
func (c *Connection) CreateOffer(playerName string) (Signal, error) {
	c.mu.Lock()
	if c.status != StatusNew {
		st := c.status
		c.mu.Unlock()
		return Signal{}, fmt.Errorf("%w: create offer from %s", ErrInvalidTransition, st)
	}
	offer, err := c.transport.CreateOffer()
	if err != nil {
		c.mu.Unlock()
		return Signal{}, fmt.Errorf("failed to create offer: %w", err)
	}
	c.local = &offer
	c.localName = playerName
	sig := c.signalLocked()
	c.mu.Unlock()

	c.advance(StatusStarted)
	return sig, nil
}

// AcceptOffer answers a remote offer and returns the answer signal.
func (c *Connection) AcceptOffer(offer Signal, localPlayerName string) (Signal, error) {
	if !offer.IsOffer() {
		return Signal{}, fmt.Errorf("%w: expected offer", ErrMalformedSignal)
	}
	if offer.ConnectionID != c.id {
		return Signal{}, fmt.Errorf("%w: offer for %s", ErrInvalidTransition, offer.ConnectionID)
	}

	c.mu.Lock()
	if c.status != StatusNew {
		st := c.status
		c.mu.Unlock()
		return Signal{}, fmt.Errorf("%w: accept offer from %s", ErrInvalidTransition, st)
	}
	answer, err := c.transport.Answer(offer.SessionDescription)
	if err != nil {
		c.mu.Unlock()
		return Signal{}, fmt.Errorf("failed to answer offer: %w", err)
	}
	remote := offer.SessionDescription
	c.remote = &remote
	c.local = &answer
	c.localName = localPlayerName
	c.remoteName = offer.PlayerName
	c.addRemoteCandidatesLocked(offer.ICECandidates)
	sig := c.signalLocked()
	c.mu.Unlock()

	c.advance(StatusAnswered)
	c.promote()
	return sig, nil
}

// AcceptAnswer finalizes negotiation on the offering side. The status
// becomes connected once the transport reports the link is up.
func (c *Connection) AcceptAnswer(answer Signal) error {
	if answer.IsOffer() {
		return fmt.Errorf("%w: expected answer", ErrMalformedSignal)
	}
	if answer.ConnectionID != c.id {
		return fmt.Errorf("%w: answer for %s", ErrInvalidTransition, answer.ConnectionID)
	}

	c.mu.Lock()
	if c.status != StatusStarted {
		st := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: accept answer from %s", ErrInvalidTransition, st)
	}
	if err := c.transport.SetAnswer(answer.SessionDescription); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	remote := answer.SessionDescription
	c.remote = &remote
	c.remoteName = answer.PlayerName
	c.addRemoteCandidatesLocked(answer.ICECandidates)
	c.mu.Unlock()

	c.advance(StatusAnswered)
	c.promote()
	return nil
}

// AddRemoteCandidates applies candidates from a refreshed remote signal.
func (c *Connection) AddRemoteCandidates(sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil || c.status == StatusClosed {
		return
	}
	c.addRemoteCandidatesLocked(sig.ICECandidates)
}

func (c *Connection) addRemoteCandidatesLocked(cands []webrtc.ICECandidateInit) {
	for _, cand := range cands {
		if err := c.transport.AddICECandidate(cand); err != nil {
			c.logger.Debug("failed to add remote candidate", zap.Error(err))
		}
	}
}

// Signal returns the current outgoing signal with every candidate
// gathered so far. It fails before a local description exists.
func (c *Connection) Signal() (Signal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return Signal{}, fmt.Errorf("%w: no local description", ErrInvalidTransition)
	}
	return c.signalLocked(), nil
}

func (c *Connection) signalLocked() Signal {
	return Signal{
		ConnectionID:       c.id,
		SessionDescription: *c.local,
		PlayerName:         c.localName,
		ICECandidates:      append([]webrtc.ICECandidateInit{}, c.candidates...),
	}
}

// WaitGathered blocks until candidate gathering completes or ctx ends.
func (c *Connection) WaitGathered(ctx context.Context) error {
	select {
	case <-c.gathered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one payload on the message channel.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	st := c.status
	c.mu.Unlock()
	switch st {
	case StatusConnected:
	case StatusClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
	return c.transport.Send(payload)
}

func (c *Connection) AddMessageListener(fn func([]byte)) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = fn
	return c.nextID
}

func (c *Connection) RemoveMessageListener(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

// Close tears the connection down. Safe to call any number of times.
func (c *Connection) Close() error {
	return c.closeWith(nil)
}

func (c *Connection) closeWith(cause error) error {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusClosed
	c.cause = cause
	c.mu.Unlock()

	c.gatherOnce.Do(func() { close(c.gathered) })
	// Transports may report their own teardown synchronously; the status
	// check above turns that re-entry into a no-op.
	err := c.transport.Close()
	c.logger.Debug("connection closed", zap.NamedError("cause", cause))

	if c.onStatus != nil {
		c.onStatus(c, StatusClosed)
	}
	if c.onClose != nil {
		c.onClose(c, cause)
	}
	return err
}

// advance moves the status forward; backwards moves are ignored.
func (c *Connection) advance(next Status) {
	c.mu.Lock()
	if c.status == StatusClosed || next <= c.status {
		c.mu.Unlock()
		return
	}
	c.status = next
	c.mu.Unlock()

	c.logger.Debug("connection status", zap.String("status", next.String()))
	if c.onStatus != nil {
		c.onStatus(c, next)
	}
}

// promote enters connected once both the handshake and the link are done;
// the link may come up before the answer has been recorded.
func (c *Connection) promote() {
	c.mu.Lock()
	ready := c.linkUp && c.status == StatusAnswered
	c.mu.Unlock()
	if ready {
		c.advance(StatusConnected)
	}
}

func (c *Connection) handleCandidate(cand *webrtc.ICECandidateInit) {
	if cand == nil {
		c.gatherOnce.Do(func() { close(c.gathered) })
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Once connected the outgoing signal is final.
	if c.status >= StatusConnected {
		return
	}
	c.candidates = append(c.candidates, *cand)
}

func (c *Connection) handleLinkState(state LinkState) {
	switch state {
	case LinkConnected:
		c.mu.Lock()
		c.linkUp = true
		c.mu.Unlock()
		c.promote()
	case LinkDisconnected, LinkFailed, LinkClosed:
		_ = c.closeWith(fmt.Errorf("%w: link %s", ErrTransportFailure, state))
	}
}

func (c *Connection) dispatch(data []byte) {
	c.mu.Lock()
	fns := make([]func([]byte), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}
