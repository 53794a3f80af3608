package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/peerplay/internal/wallet"
)

// PublicKeyKey is the gin context key holding the authenticated public key.
const PublicKeyKey = "public_key"

// SubscriptionClaims is the relay subscription token. It binds the bearer
// to one wallet public key.
type SubscriptionClaims struct {
	PublicKey string `json:"public_key"`
	jwt.RegisteredClaims
}

// IssueSubscription signs an HS256 subscription token for publicKey.
func IssueSubscription(jwtSecret, publicKey string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := SubscriptionClaims{
		PublicKey: publicKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   publicKey,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign subscription: %w", err)
	}
	return token, expires, nil
}

// ParseSubscription validates a token and returns its claims.
func ParseSubscription(jwtSecret, tokenString string) (*SubscriptionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SubscriptionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*SubscriptionClaims)
	if !ok || !token.Valid || claims.PublicKey == "" {
		return nil, errors.New("invalid subscription claims")
	}
	return claims, nil
}

// RelayAuth authenticates the relay socket handshake. The query carries the
// subscription token, the wallet public key and the wallet's signature of
// the token.
func RelayAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		publicKey := c.Query("publicKey")
		signature := c.Query("signature")
		if token == "" || publicKey == "" || signature == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "token, publicKey and signature are required",
			})
			return
		}

		claims, err := ParseSubscription(jwtSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			return
		}
		if claims.PublicKey != publicKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Token was issued to another key",
			})
			return
		}
		if !wallet.Verify([]byte(token), signature, publicKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid signature",
			})
			return
		}

		c.Set(PublicKeyKey, publicKey)
		c.Next()
	}
}
