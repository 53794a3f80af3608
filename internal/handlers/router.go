package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mossy-p/peerplay/config"
	"github.com/mossy-p/peerplay/internal/middleware"
	"github.com/mossy-p/peerplay/internal/redis"
)

// NewRouter wires the relay's HTTP and websocket routes.
func NewRouter(cfg *config.Config, store *redis.ListingStore, hub *Hub) *gin.Engine {
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "clients": hub.Connected()})
	})

	apiGroup := router.Group("/api")
	{
		// Subscription token for a wallet key (public, proof of key)
		apiGroup.POST("/auth/subscribe", Subscribe(cfg.JWTSecret, cfg.SubscriptionTTL))

		// Open listings for a game (public)
		apiGroup.GET("/games/:gameId/offers", ListOffers(store, hub.logger))
	}

	wsGroup := router.Group("/ws")
	{
		// Relay socket - token, key and signature in the query
		wsGroup.GET("/relay", middleware.RelayAuth(cfg.JWTSecret), hub.HandleRelay)
	}

	return router
}
