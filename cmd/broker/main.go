// Command broker is the review broker's process entry point: load
// configuration, wire the Application (store, pool, reaper, bindings),
// start the background reaper, and block until SIGINT/SIGTERM, then
// shut down gracefully. Grounded on the teacher's cmd/appserver/main.go
// flag/signal/shutdown shape, minus the HTTP service attach step — this
// spec's bindings layer is an in-process dispatch map, not a server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gsd-tools/review-broker/internal/app"
	"github.com/gsd-tools/review-broker/internal/config"
)

func main() {
	dbPath := flag.String("db", "", "path to the broker's SQLite database (overrides BROKER_DB_PATH)")
	configPath := flag.String("config", "", "path to the reviewer pool config file (overrides BROKER_CONFIG_PATH)")
	flag.Parse()

	cfg, err := config.LoadBrokerConfig()
	if err != nil {
		log.Fatalf("load broker config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *configPath != "" {
		cfg.ConfigPath = *configPath
	}

	rootCtx := context.Background()

	application, err := app.New(rootCtx, cfg)
	if err != nil {
		log.Fatalf("initialize application: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	application.Log.WithField("db_path", cfg.DBPath).Info("review broker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
