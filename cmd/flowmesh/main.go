// Command flowmesh runs the workflow engine server: HTTP API, webhook
// ingestion, cron scheduling, and WebSocket event streaming over a SQLite or
// Postgres database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	apihttp "github.com/flowmesh/flowmesh/api/http"
	"github.com/flowmesh/flowmesh/config"
	"github.com/flowmesh/flowmesh/features/store/gormstore"
	"github.com/flowmesh/flowmesh/features/stream/ws"
	"github.com/flowmesh/flowmesh/nodes/core"
	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/engine"
	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/executions"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/progress"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
	"github.com/flowmesh/flowmesh/runtime/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOtelMetrics()

	var store *gormstore.Store
	if cfg.DatabaseDSN != "" {
		store, err = gormstore.OpenPostgres(cfg.DatabaseDSN)
	} else {
		store, err = gormstore.OpenSQLite(cfg.SQLitePath)
	}
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "open database"})
	}

	cipher, err := credential.NewCipherFromHex(cfg.EncryptionKeyHex)
	if err != nil {
		log.Fatal(ctx, err, log.KV{K: "msg", V: "credential encryption key"})
	}

	registry := node.NewRegistry()
	core.RegisterAll(registry)

	tracker := progress.NewTracker(cfg.Retention)
	bus := events.NewBus(events.DefaultBuffer)
	recorder := execution.NewRecorder(store, logger, execution.DefaultRecorderBuffer)
	resolver := credential.NewResolver(store, cipher)

	eng := engine.New(engine.Config{
		Registry:    registry,
		Tracker:     tracker,
		Recorder:    recorder,
		Bus:         bus,
		Credentials: resolver,
		Logger:      logger,
		Metrics:     metrics,
		GracePeriod: cfg.GracePeriod,
	})
	service := executions.NewService(eng, store, store, tracker, logger, cfg.MaxConcurrency)
	dispatcher := trigger.NewDispatcher(service, store, registry, resolver, bus, logger)
	dispatcher.SetRecordStore(store)
	if err := dispatcher.Restore(ctx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "restore trigger registrations"})
	}
	bridge := ws.NewBridge(bus, logger)
	server := apihttp.NewServer(service, dispatcher, store, bridge, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof(ctx, "listening on %s", cfg.HTTPAddr)
		errc <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, err, log.KV{K: "msg", V: "http server"})
		}
	case sig := <-stop:
		log.Infof(ctx, "received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "http shutdown"})
	}
	dispatcher.Stop()
	recorder.Close()
	log.Infof(ctx, "shutdown complete")
}
