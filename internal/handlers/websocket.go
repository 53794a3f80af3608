package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mossy-p/peerplay/internal/middleware"
	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/redis"
)

const (
	pingPeriod   = 54 * time.Second
	readWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	storeTimeout = 5 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub routes relay messages between sockets. Each wallet public key may hold
// one socket at a time.
type Hub struct {
	store  *redis.ListingStore
	logger *zap.Logger
	limit  rate.Limit
	burst  int

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client is one relay socket.
type Client struct {
	ID        string
	PublicKey string
	Conn      *websocket.Conn
	Send      chan []byte

	limiter *rate.Limiter
}

// NewHub builds a hub. limit is messages per second per socket, burst the
// bucket size.
func NewHub(store *redis.ListingStore, logger *zap.Logger, limit float64, burst int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:   store,
		logger:  logger,
		limit:   rate.Limit(limit),
		burst:   burst,
		clients: make(map[string]*Client),
	}
}

// HandleRelay upgrades an authenticated request into a relay socket.
func (h *Hub) HandleRelay(c *gin.Context) {
	publicKey := c.GetString(middleware.PublicKeyKey)
	if publicKey == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:        uuid.New().String(),
		PublicKey: publicKey,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		limiter:   rate.NewLimiter(h.limit, h.burst),
	}

	if !h.register(client) {
		h.logger.Info("refusing duplicate identity", zap.String("peer", publicKey))
		refuse(conn, models.RelayMessage{
			Type:  models.RelayTypeError,
			Code:  models.CodeDuplicateIdentity,
			Error: "public key already connected",
		})
		return
	}

	h.logger.Info("relay client connected", zap.String("client_id", client.ID), zap.String("peer", publicKey))
	client.sendMessage(models.RelayMessage{Type: models.RelayTypeConnected, ClientID: client.ID})

	go client.writePump()
	go h.readPump(client)
}

// refuse writes one message and closes the socket without registering it.
func refuse(conn *websocket.Conn, msg models.RelayMessage) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(msg)
	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg.Code)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
	conn.Close()
}

func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.clients[client.PublicKey]; exists {
		return false
	}
	h.clients[client.PublicKey] = client
	return true
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.PublicKey] == client {
		delete(h.clients, client.PublicKey)
		close(client.Send)
	}
}

// sendTo delivers msg to the socket holding publicKey.
func (h *Hub) sendTo(publicKey string, msg models.RelayMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, exists := h.clients[publicKey]
	if !exists {
		return false
	}
	client.sendMessage(msg)
	return true
}

// Connected reports how many sockets are registered.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every socket. Their read pumps clean up their listings.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.Conn.Close()
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		c.Conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		removed, err := h.store.DeleteOwned(ctx, c.PublicKey)
		if err != nil {
			h.logger.Warn("failed to remove listings", zap.String("peer", c.PublicKey), zap.Error(err))
		}
		h.logger.Info("relay client left", zap.String("client_id", c.ID), zap.Int("listings_removed", removed))
	}()

	c.Conn.SetReadDeadline(time.Now().Add(readWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket error", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(readWait))

		if !c.limiter.Allow() {
			c.sendError(models.CodeRateLimited, "slow down")
			continue
		}

		var msg models.RelayMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError(models.CodeBadRequest, "invalid message")
			continue
		}
		h.route(c, msg)
	}
}

func (h *Hub) route(c *Client, msg models.RelayMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	log := h.logger.With(zap.String("client_id", c.ID), zap.String("game_id", msg.GameID),
		zap.String("session_id", msg.SessionID))

	switch msg.Type {
	case models.RelayTypeOffer:
		if msg.Listing == nil {
			c.sendError(models.CodeBadRequest, "offer needs a listing")
			return
		}
		l := *msg.Listing
		if l.GameID == "" {
			l.GameID = msg.GameID
		}
		if l.SessionID == "" {
			l.SessionID = msg.SessionID
		}
		if l.GameID == "" || l.SessionID == "" {
			c.sendError(models.CodeBadRequest, "gameId and sessionId are required")
			return
		}
		l.PublicKey = c.PublicKey
		if err := h.store.Put(ctx, l); err != nil {
			h.storeError(c, log, err)
			return
		}
		log.Debug("listing stored", zap.Int("open_slots", len(l.OpenSlots())))

	case models.RelayTypeListOffers:
		listings, err := h.store.Open(ctx, msg.GameID)
		if err != nil {
			h.storeError(c, log, err)
			return
		}
		c.sendMessage(models.RelayMessage{Type: models.RelayTypeOffers, GameID: msg.GameID, Listings: listings})

	case models.RelayTypeAnswer:
		l, err := h.store.Get(ctx, msg.GameID, msg.SessionID)
		if err != nil {
			h.storeError(c, log, err)
			return
		}
		forward := models.RelayMessage{
			Type:         models.RelayTypeAnswer,
			GameID:       msg.GameID,
			SessionID:    msg.SessionID,
			ConnectionID: msg.ConnectionID,
			Signal:       msg.Signal,
			From:         c.ID,
		}
		if !h.sendTo(l.PublicKey, forward) {
			c.sendError(models.CodeNotFound, "host is not connected")
			return
		}
		log.Debug("answer forwarded", zap.String("connection_id", msg.ConnectionID))

	case models.RelayTypeDeleteOffer:
		err := h.store.Delete(ctx, msg.GameID, msg.SessionID, c.PublicKey)
		if err != nil && !errors.Is(err, redis.ErrNotFound) {
			h.storeError(c, log, err)
		}

	default:
		c.sendError(models.CodeBadRequest, "unknown message type")
	}
}

func (h *Hub) storeError(c *Client, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, redis.ErrNotFound):
		c.sendError(models.CodeNotFound, "listing not found")
	case errors.Is(err, redis.ErrForbidden):
		c.sendError(models.CodeForbidden, "listing belongs to another peer")
	default:
		log.Error("listing store failed", zap.Error(err))
		c.sendError(models.CodeBadRequest, "store unavailable")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMessage(msg models.RelayMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case c.Send <- data:
	default:
		// Buffer full; the peer is not reading.
	}
}

func (c *Client) sendError(code, text string) {
	c.sendMessage(models.RelayMessage{Type: models.RelayTypeError, Code: code, Error: text})
}
