package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries the runtime settings read once at process start.
type Config struct {
	DatabaseURL string
	ListenAddr  string

	EscrowURL   string
	RegistryURL string

	AnchorURL     string
	AnchorEnabled bool

	// MinConfirmations is the native-chain funding policy. Instant-ledger
	// funding ignores it.
	MinConfirmations int

	JWTSecret string
	// SigningKeySeed is the hex-encoded 32-byte ed25519 seed for the
	// credential issuer.
	SigningKeySeed string
	SigningKeyID   string

	NetworkTimeout time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything except DATABASE_URL and JWT_SECRET.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		EscrowURL:        getenv("ESCROW_URL", "http://localhost:9735"),
		RegistryURL:      getenv("REGISTRY_URL", "http://localhost:9820"),
		AnchorURL:        os.Getenv("ANCHOR_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SigningKeySeed:   os.Getenv("SIGNING_KEY_SEED"),
		SigningKeyID:     getenv("SIGNING_KEY_ID", "mintflow-issuer-1"),
		MinConfirmations: 2,
		NetworkTimeout:   15 * time.Second,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}

	if v := os.Getenv("MIN_CONFIRMATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: invalid MIN_CONFIRMATIONS %q", v)
		}
		cfg.MinConfirmations = n
	}

	if v := os.Getenv("NETWORK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid NETWORK_TIMEOUT %q", v)
		}
		cfg.NetworkTimeout = d
	}

	cfg.AnchorEnabled = cfg.AnchorURL != "" && getenv("ANCHOR_ENABLED", "true") == "true"

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
