// Package config loads gateway configuration from the environment once at
// startup. Nothing else in the module reads environment variables; every
// component receives its settings explicitly.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all gateway settings.
type Config struct {
	// ListenAddr is the gateway's HTTP listen address.
	ListenAddr string

	// ClientID selects the resource_access claim group merged into caller
	// roles (the identity provider's client identifier).
	ClientID string

	// Downstream service base URLs.
	UserProfileURL  string
	InventoryURL    string
	PharmacyURL     string
	PrescriptionURL string

	// DownstreamTimeout bounds every downstream call.
	DownstreamTimeout time.Duration

	// Redis connection settings for the shared counter store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate limit defaults: reads and writes per window, per user-or-IP.
	ReadLimit  int
	WriteLimit int
	RateWindow time.Duration
}

// Load reads configuration from the environment, with the defaults the
// service ships with in docker-compose.
func Load() Config {
	return Config{
		ListenAddr:        getString("LISTEN_ADDR", ":8080"),
		ClientID:          getString("AUTH_CLIENT_ID", "medihelp-frontend"),
		UserProfileURL:    getString("USER_PROFILE_BASE_URL", "http://user-profile-service:5000"),
		InventoryURL:      getString("INVENTORY_BASE_URL", "http://inventory-service:5000"),
		PharmacyURL:       getString("PHARMACY_BASE_URL", "http://pharmacy-service:5000"),
		PrescriptionURL:   getString("PRESCRIPTION_BASE_URL", "http://prescription-service:5000"),
		DownstreamTimeout: getDuration("DOWNSTREAM_TIMEOUT", 3*time.Second),
		RedisAddr:         getString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getString("REDIS_PASSWORD", ""),
		RedisDB:           getInt("REDIS_DB", 0),
		ReadLimit:         getInt("RATE_LIMIT_READS", 100),
		WriteLimit:        getInt("RATE_LIMIT_WRITES", 30),
		RateWindow:        getDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
