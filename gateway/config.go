// Package gateway is the REST front-end for merchant integrations. It
// translates HTTP calls into node JSON-RPC, authenticates callers with HMAC
// JWTs and tags every response with a request id.
package gateway

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Config captures the runtime configuration for the gateway service. Values
// come from the environment, matching how the service is deployed.
type Config struct {
	ListenAddress string
	NodeURL       string
	NodeAuthToken string
	JWTSecret     string
	JWTIssuer     string
	ClockSkew     time.Duration
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// LoadConfigFromEnv builds a configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress: getenvDefault("ESCROW_GATEWAY_LISTEN", ":8081"),
		NodeURL:       os.Getenv("ESCROW_GATEWAY_NODE_URL"),
		NodeAuthToken: os.Getenv("ESCROW_GATEWAY_NODE_TOKEN"),
		JWTSecret:     os.Getenv("ESCROW_GATEWAY_JWT_SECRET"),
		JWTIssuer:     getenvDefault("ESCROW_GATEWAY_JWT_ISSUER", "escrowd-gateway"),
		ClockSkew:     2 * time.Minute,
	}
	if skew := strings.TrimSpace(os.Getenv("ESCROW_GATEWAY_CLOCK_SKEW")); skew != "" {
		dur, err := time.ParseDuration(skew)
		if err != nil {
			return Config{}, err
		}
		if dur <= 0 {
			return Config{}, errors.New("ESCROW_GATEWAY_CLOCK_SKEW must be positive")
		}
		cfg.ClockSkew = dur
	}
	if cfg.NodeURL == "" {
		return Config{}, errors.New("ESCROW_GATEWAY_NODE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("ESCROW_GATEWAY_JWT_SECRET is required")
	}
	return cfg, nil
}
