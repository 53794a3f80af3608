package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peerplay/internal/wallet"
)

const secret = "test-secret"

func relayRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/relay", RelayAuth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(PublicKeyKey))
	})
	return r
}

func handshake(r *gin.Engine, token, publicKey, signature string) *httptest.ResponseRecorder {
	q := url.Values{}
	q.Set("token", token)
	q.Set("publicKey", publicKey)
	q.Set("signature", signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/relay?"+q.Encode(), nil))
	return w
}

func TestIssueAndParseSubscription(t *testing.T) {
	now := time.Now()
	token, expires, err := IssueSubscription(secret, "abc", time.Hour, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expires, time.Second)

	claims, err := ParseSubscription(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.PublicKey)

	_, err = ParseSubscription("other-secret", token)
	assert.Error(t, err)

	expired, _, err := IssueSubscription(secret, "abc", -time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseSubscription(secret, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestRelayAuth(t *testing.T) {
	r := relayRouter()
	w, err := wallet.New("Ann")
	require.NoError(t, err)
	other, err := wallet.New("Mallory")
	require.NoError(t, err)
	pk := w.Identity().PublicKey

	token, _, err := IssueSubscription(secret, pk, time.Hour, time.Now())
	require.NoError(t, err)
	sig, err := w.Sign([]byte(token))
	require.NoError(t, err)

	res := handshake(r, token, pk, sig)
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, pk, res.Body.String())

	forged, err := other.Sign([]byte(token))
	require.NoError(t, err)
	otherToken, _, err := IssueSubscription(secret, other.Identity().PublicKey, time.Hour, time.Now())
	require.NoError(t, err)

	for name, res := range map[string]*httptest.ResponseRecorder{
		"missing signature": handshake(r, token, pk, ""),
		"bad token":         handshake(r, "nope", pk, sig),
		"foreign signature": handshake(r, token, pk, forged),
		"token for another": handshake(r, otherToken, pk, sig),
	} {
		assert.Equal(t, http.StatusUnauthorized, res.Code, name)
		assert.Contains(t, res.Body.String(), "error", name)
	}
}
