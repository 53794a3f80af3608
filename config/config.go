package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the relay server configuration.
type Config struct {
	Port            string
	Environment     string
	AllowedOrigins  []string
	JWTSecret       string
	SubscriptionTTL time.Duration
	OfferTTL        time.Duration
	RateLimit       float64
	RateBurst       int
	Redis           RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// PeerConfig is the peer CLI configuration.
type PeerConfig struct {
	PlayerName      string
	RelayURL        string
	RelayToken      string
	GameID          string
	ICEServers      []string
	MaxPlayers      int
	WinThreshold    int
	PublishDebounce time.Duration
	Environment     string
}

// Load reads the relay configuration. A .env file in the working directory
// is applied first when present.
func Load() *Config {
	loadDotEnv()

	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		AllowedOrigins:  origins,
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		SubscriptionTTL: getDuration("SUBSCRIPTION_TTL", 24*time.Hour),
		OfferTTL:        getDuration("OFFER_TTL", 10*time.Minute),
		RateLimit:       getFloat("RELAY_RATE_LIMIT", 20),
		RateBurst:       getInt("RELAY_RATE_BURST", 40),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
	}
}

// LoadPeer reads the peer CLI configuration.
func LoadPeer() *PeerConfig {
	loadDotEnv()

	return &PeerConfig{
		PlayerName:      getEnv("PLAYER_NAME", ""),
		RelayURL:        getEnv("RELAY_URL", "ws://localhost:8080/ws/relay"),
		RelayToken:      getEnv("RELAY_TOKEN", ""),
		GameID:          getEnv("GAME_ID", "evolution"),
		ICEServers:      splitList(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302")),
		MaxPlayers:      getInt("MAX_PLAYERS", 4),
		WinThreshold:    getInt("WIN_THRESHOLD", 20),
		PublishDebounce: getDuration("PUBLISH_DEBOUNCE", 300*time.Millisecond),
		Environment:     getEnv("ENVIRONMENT", "development"),
	}
}

func loadDotEnv() {
	// Missing .env is fine; real env vars still win.
	_ = godotenv.Load()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
