package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"escrowd/gateway"
	"escrowd/observability/logging"
)

func main() {
	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	logger := logging.Setup("escrow-gateway", env)

	cfg, err := gateway.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load gateway config", slog.Any("error", err))
		os.Exit(1)
	}

	auth := gateway.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.ClockSkew)
	node := gateway.NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	server := gateway.NewServer(auth, node)

	logger.Info("starting gateway", slog.String("address", cfg.ListenAddress))
	if err := http.ListenAndServe(cfg.ListenAddress, server.Router()); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
