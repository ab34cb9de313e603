// Package main runs the HazSync collaboration server.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/saferoom/hazsync/internal/auth"
	"github.com/saferoom/hazsync/internal/collab"
	"github.com/saferoom/hazsync/internal/config"
	"github.com/saferoom/hazsync/internal/gateway"
	"github.com/saferoom/hazsync/internal/logging"
	"github.com/saferoom/hazsync/internal/room"
	"github.com/saferoom/hazsync/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "hazsync-server",
		Short:   "Real-time collaboration server for shared hazard-analysis records",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logging.Init(os.Stdout, level)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(db.DB); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	registry := room.NewRegistry()
	dispatcher := collab.NewDispatcher(registry)
	entries := store.NewEntryStore(db)
	coordinator := collab.NewCoordinator(registry, entries, dispatcher, cfg.StoreTimeout)
	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	server := gateway.NewServer(verifier, registry, coordinator, dispatcher, db, cfg.HandshakeTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWebSocket)
	mux.HandleFunc("/healthz", server.HandleHealth)

	logging.Info("server listening", map[string]interface{}{
		"addr":    cfg.Addr,
		"version": Version,
	})
	return http.ListenAndServe(cfg.Addr, mux)
}
