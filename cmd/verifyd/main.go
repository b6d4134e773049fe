package main

import (
	"context"
	"log"
	"os"

	"github.com/nictjh/originalCapture/internal/config"
	"github.com/nictjh/originalCapture/internal/infra/db"
	httpinfra "github.com/nictjh/originalCapture/internal/infra/http"
	"github.com/nictjh/originalCapture/internal/infra/logging"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.NewJSON(os.Stdout, cfg.LogLevel, "verifyd")

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	srv, err := httpinfra.NewServer(context.Background(), cfg, store, logger)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer srv.Close()

	logger.Info("verifier listening", "addr", cfg.HTTPAddr)
	if err := srv.Run(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
