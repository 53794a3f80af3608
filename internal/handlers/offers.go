package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/redis"
)

// ListOffers returns the game's listings that still have an open slot.
func ListOffers(store *redis.ListingStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID := c.Param("gameId")
		if gameID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gameId is required"})
			return
		}

		listings, err := store.Open(c.Request.Context(), gameID)
		if err != nil {
			logger.Error("failed to list offers", zap.String("game_id", gameID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list offers"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"gameId":   gameID,
			"listings": listings,
		})
	}
}
