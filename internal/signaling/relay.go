package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/wallet"
)

const (
	readWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

type RelayConfig struct {
	URL      string // ws(s)://host/ws/relay
	Token    string // subscription token from /api/auth/subscribe
	GameID   string
	Signer   wallet.Signer
	Debounce time.Duration
	Logger   *zap.Logger
	Dialer   *websocket.Dialer
}

// Relay is the hosted discovery strategy over one persistent socket.
type Relay struct {
	cfg      RelayConfig
	conn     *websocket.Conn
	logger   *zap.Logger
	debounce *debouncer
	clientID string

	writeMu sync.Mutex

	mu         sync.Mutex
	onList     func([]models.Listing)
	onTargeted func(models.Answer)
	onError    func(error)
	published  string
	closing    bool

	done chan struct{}
}

var _ Exchange = (*Relay)(nil)

// DialRelay opens the socket and waits for the relay to accept the identity.
func DialRelay(ctx context.Context, cfg RelayConfig) (*Relay, error) {
	if cfg.Signer == nil {
		return nil, errors.New("relay signer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad url: %v", ErrRelayUnavailable, err)
	}
	sig, err := cfg.Signer.Sign([]byte(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("failed to sign relay token: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	q.Set("publicKey", cfg.Signer.Identity().PublicKey)
	q.Set("signature", sig)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}

	hello, err := readHello(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	r := &Relay{
		cfg:      cfg,
		conn:     conn,
		logger:   logger.With(zap.String("relay_client", hello.ClientID)),
		debounce: newDebouncer(ClampDebounce(cfg.Debounce)),
		clientID: hello.ClientID,
		done:     make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go r.readPump()
	return r, nil
}

// readHello consumes the relay's first message, which either confirms the
// registration or explains why it was refused.
func readHello(ctx context.Context, conn *websocket.Conn) (models.RelayMessage, error) {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var msg models.RelayMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	switch msg.Type {
	case models.RelayTypeConnected:
		conn.SetReadDeadline(time.Now().Add(readWait))
		return msg, nil
	case models.RelayTypeError:
		return msg, relayError(msg)
	}
	return msg, fmt.Errorf("%w: unexpected %q", ErrRelayUnavailable, msg.Type)
}

func relayError(msg models.RelayMessage) error {
	if msg.Code == models.CodeDuplicateIdentity {
		return ErrDuplicateIdentity
	}
	return fmt.Errorf("%w: %s: %s", ErrRelayUnavailable, msg.Code, msg.Error)
}

// ClientID is the id the relay assigned to this socket.
func (r *Relay) ClientID() string { return r.clientID }

// OnError registers a handler for relay errors after the handshake,
// including the socket dropping.
func (r *Relay) OnError(fn func(error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

func (r *Relay) Publish(listing models.Listing) error {
	if listing.GameID == "" {
		listing.GameID = r.cfg.GameID
	}
	if listing.SessionID == "" {
		return errors.New("listing needs a session id")
	}
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrRelayUnavailable
	}
	r.published = listing.SessionID
	r.mu.Unlock()

	r.debounce.schedule(func() {
		err := r.send(models.RelayMessage{
			Type:      models.RelayTypeOffer,
			GameID:    listing.GameID,
			SessionID: listing.SessionID,
			Listing:   &listing,
		})
		if err != nil {
			r.logger.Warn("failed to publish listing", zap.String("session_id", listing.SessionID), zap.Error(err))
			r.reportError(err)
		}
	})
	return nil
}

func (r *Relay) Subscribe(onList func([]models.Listing)) error {
	r.mu.Lock()
	r.onList = onList
	r.mu.Unlock()
	return r.send(models.RelayMessage{Type: models.RelayTypeListOffers, GameID: r.cfg.GameID})
}

func (r *Relay) SendTargeted(answer models.Answer) error {
	return r.send(models.RelayMessage{
		Type:         models.RelayTypeAnswer,
		GameID:       r.cfg.GameID,
		SessionID:    answer.SessionID,
		ConnectionID: answer.ConnectionID,
		Signal:       answer.Signal,
	})
}

func (r *Relay) OnTargeted(fn func(models.Answer)) {
	r.mu.Lock()
	r.onTargeted = fn
	r.mu.Unlock()
}

// Retract drops any pending publish and deletes the listing.
func (r *Relay) Retract() error {
	r.debounce.cancel()
	r.mu.Lock()
	sessionID := r.published
	r.published = ""
	r.mu.Unlock()
	if sessionID == "" {
		return nil
	}
	return r.send(models.RelayMessage{
		Type:      models.RelayTypeDeleteOffer,
		GameID:    r.cfg.GameID,
		SessionID: sessionID,
	})
}

// Close retracts the listing before tearing the socket down.
func (r *Relay) Close() error {
	err := r.Retract()

	r.mu.Lock()
	already := r.closing
	r.closing = true
	r.mu.Unlock()
	if already {
		return err
	}

	r.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err = multierr.Append(err, r.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)))
	r.writeMu.Unlock()

	err = multierr.Append(err, r.conn.Close())
	<-r.done
	return err
}

func (r *Relay) send(msg models.RelayMessage) error {
	msg.Action = models.ActionSendMessage
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	return nil
}

func (r *Relay) readPump() {
	defer close(r.done)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			if !closing {
				r.logger.Info("relay connection lost", zap.Error(err))
				r.reportError(fmt.Errorf("%w: %v", ErrRelayUnavailable, err))
			}
			return
		}
		r.conn.SetReadDeadline(time.Now().Add(readWait))

		var msg models.RelayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Debug("failed to parse relay message", zap.Error(err))
			continue
		}
		r.handle(msg)
	}
}

func (r *Relay) handle(msg models.RelayMessage) {
	r.mu.Lock()
	onList, onTargeted := r.onList, r.onTargeted
	r.mu.Unlock()

	switch msg.Type {
	case models.RelayTypeOffers:
		if onList != nil {
			onList(msg.Listings)
		}
	case models.RelayTypeAnswer:
		if onTargeted != nil {
			onTargeted(models.Answer{
				SessionID:    msg.SessionID,
				ConnectionID: msg.ConnectionID,
				Signal:       msg.Signal,
				From:         msg.From,
			})
		}
	case models.RelayTypeError:
		r.logger.Warn("relay error", zap.String("code", msg.Code), zap.String("error", msg.Error))
		r.reportError(relayError(msg))
	default:
		r.logger.Debug("ignoring relay message", zap.String("type", string(msg.Type)))
	}
}

func (r *Relay) reportError(err error) {
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
