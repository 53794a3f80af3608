package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/peerplay/internal/middleware"
	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/wallet"
)

// Subscribe issues a relay subscription token to whoever proves they hold
// the private key for the requested public key by signing the nonce.
func Subscribe(jwtSecret string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if !wallet.Verify([]byte(req.Nonce), req.Signature, req.PublicKey) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid signature",
			})
			return
		}

		token, expires, err := middleware.IssueSubscription(jwtSecret, req.PublicKey, ttl, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, models.SubscribeResponse{
			Token:     token,
			ExpiresAt: expires,
		})
	}
}
