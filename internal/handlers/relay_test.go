package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peerplay/config"
	"github.com/mossy-p/peerplay/internal/handlers"
	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/redis"
	"github.com/mossy-p/peerplay/internal/signaling"
	"github.com/mossy-p/peerplay/internal/wallet"
)

const (
	wait = 3 * time.Second
	tick = 20 * time.Millisecond
)

type relayServer struct {
	srv *httptest.Server
	hub *handlers.Hub
}

func startRelay(t *testing.T, rateLimit float64, burst int) *relayServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		AllowedOrigins:  []string{"http://localhost:5173"},
		JWTSecret:       "test-secret",
		SubscriptionTTL: time.Hour,
		OfferTTL:        time.Minute,
		RateLimit:       rateLimit,
		RateBurst:       burst,
		Redis:           config.RedisConfig{Host: mr.Host(), Port: mr.Port()},
	}
	client, err := redis.Connect(context.Background(), cfg.Redis)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := redis.NewListingStore(client, cfg.OfferTTL)
	hub := handlers.NewHub(store, nil, cfg.RateLimit, cfg.RateBurst)
	srv := httptest.NewServer(handlers.NewRouter(cfg, store, hub))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &relayServer{srv: srv, hub: hub}
}

func (r *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws/relay"
}

func (r *relayServer) subscribe(t *testing.T, w *wallet.Wallet) string {
	t.Helper()
	sig, err := w.Sign([]byte("nonce-1"))
	require.NoError(t, err)
	body, err := json.Marshal(models.SubscribeRequest{PublicKey: w.Identity().PublicKey, Nonce: "nonce-1", Signature: sig})
	require.NoError(t, err)

	res, err := http.Post(r.srv.URL+"/api/auth/subscribe", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out models.SubscribeResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.True(t, out.ExpiresAt.After(time.Now()))
	return out.Token
}

func (r *relayServer) dial(t *testing.T, w *wallet.Wallet) (*signaling.Relay, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return signaling.DialRelay(ctx, signaling.RelayConfig{
		URL:      r.wsURL(),
		Token:    r.subscribe(t, w),
		GameID:   "evolution",
		Signer:   w,
		Debounce: signaling.MinDebounce,
	})
}

func (r *relayServer) offers(t *testing.T) []models.Listing {
	t.Helper()
	res, err := http.Get(r.srv.URL + "/api/games/evolution/offers")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out struct {
		Listings []models.Listing `json:"listings"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out.Listings
}

func newWallet(t *testing.T, name string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.New(name)
	require.NoError(t, err)
	return w
}

func openListing(sessionID, hostName string) models.Listing {
	return models.Listing{
		SessionID: sessionID,
		HostName:  hostName,
		Slots:     []models.Slot{{ConnectionID: "c1", Open: true, Signal: "offer-blob"}},
	}
}

func TestHealthAndOrigins(t *testing.T) {
	r := startRelay(t, 20, 40)

	res, err := http.Get(r.srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req, err := http.NewRequest(http.MethodGet, r.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	req.Header.Set("Origin", "http://localhost:5173")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "http://localhost:5173", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestSubscribeRequiresProofOfKey(t *testing.T) {
	r := startRelay(t, 20, 40)
	w, other := newWallet(t, "Ann"), newWallet(t, "Mallory")

	sig, err := other.Sign([]byte("nonce-1"))
	require.NoError(t, err)
	body, err := json.Marshal(models.SubscribeRequest{PublicKey: w.Identity().PublicKey, Nonce: "nonce-1", Signature: sig})
	require.NoError(t, err)
	res, err := http.Post(r.srv.URL+"/api/auth/subscribe", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, err = http.Post(r.srv.URL+"/api/auth/subscribe", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	_, res, err = websocket.DefaultDialer.Dial(r.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestRelayRoutesListingsAndAnswers(t *testing.T) {
	r := startRelay(t, 20, 40)
	host, err := r.dial(t, newWallet(t, "Ann"))
	require.NoError(t, err)
	guest, err := r.dial(t, newWallet(t, "Bo"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = guest.Close() })
	assert.NotEqual(t, host.ClientID(), guest.ClientID())

	answers := make(chan models.Answer, 1)
	host.OnTargeted(func(a models.Answer) { answers <- a })

	require.NoError(t, host.Publish(openListing("s1", "Ann")))
	require.Eventually(t, func() bool { return len(r.offers(t)) == 1 }, wait, tick)

	var (
		mu     sync.Mutex
		listed []models.Listing
	)
	require.NoError(t, guest.Subscribe(func(ls []models.Listing) {
		mu.Lock()
		listed = ls
		mu.Unlock()
	}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(listed) == 1
	}, wait, tick)
	mu.Lock()
	got := listed[0]
	mu.Unlock()
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "evolution", got.GameID)
	assert.NotEmpty(t, got.PublicKey)

	require.NoError(t, guest.SendTargeted(models.Answer{SessionID: "s1", ConnectionID: "c1", Signal: "answer-blob"}))
	select {
	case a := <-answers:
		assert.Equal(t, "s1", a.SessionID)
		assert.Equal(t, "c1", a.ConnectionID)
		assert.Equal(t, "answer-blob", a.Signal)
		assert.Equal(t, guest.ClientID(), a.From)
	case <-time.After(wait):
		t.Fatal("answer was not routed to the host")
	}

	require.NoError(t, host.Retract())
	require.Eventually(t, func() bool { return len(r.offers(t)) == 0 }, wait, tick)

	require.NoError(t, host.Publish(openListing("s2", "Ann")))
	require.Eventually(t, func() bool { return len(r.offers(t)) == 1 }, wait, tick)
	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return len(r.offers(t)) == 0 }, wait, tick)
}

func TestPublishIsDebounced(t *testing.T) {
	r := startRelay(t, 1, 1)
	host, err := r.dial(t, newWallet(t, "Ann"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close() })

	errs := make(chan error, 8)
	host.OnError(func(err error) { errs <- err })

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, host.Publish(openListing("s1", name)))
	}
	require.Eventually(t, func() bool {
		ls := r.offers(t)
		return len(ls) == 1 && ls[0].HostName == "e"
	}, wait, tick)
	assert.Empty(t, errs)
}

func TestRelayRateLimits(t *testing.T) {
	r := startRelay(t, 1, 1)
	guest, err := r.dial(t, newWallet(t, "Bo"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = guest.Close() })

	errs := make(chan error, 8)
	guest.OnError(func(err error) { errs <- err })
	for i := 0; i < 3; i++ {
		require.NoError(t, guest.Subscribe(func([]models.Listing) {}))
	}

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, signaling.ErrRelayUnavailable)
		assert.Contains(t, err.Error(), models.CodeRateLimited)
	case <-time.After(wait):
		t.Fatal("expected a rate limit error")
	}
}

func TestDuplicateIdentityIsRefused(t *testing.T) {
	r := startRelay(t, 20, 40)
	w := newWallet(t, "Ann")

	first, err := r.dial(t, w)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = r.dial(t, w)
	assert.ErrorIs(t, err, signaling.ErrDuplicateIdentity)
	assert.Equal(t, 1, r.hub.Connected())
}
