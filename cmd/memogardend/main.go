// Command memogardend is the MemoGarden daemon: it opens the sqlite store,
// wires the verb dispatcher, audit trail, and event bus behind the HTTP
// transport, and serves until signalled, mirroring the teacher's daemon
// process lifecycle (single-writer lock file, signal-driven shutdown,
// periodic health ticking) adapted to Echo instead of a unix-socket RPC
// listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/artifact"
	"github.com/memogarden/memogarden/internal/audit"
	"github.com/memogarden/memogarden/internal/config"
	ctxstore "github.com/memogarden/memogarden/internal/context"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/httpapi"
	"github.com/memogarden/memogarden/internal/logging"
	"github.com/memogarden/memogarden/internal/search"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/txn"
	"github.com/memogarden/memogarden/internal/verb"
)

var daemonSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "memogardend:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := config.Load()

	log, err := logging.New(cfg.LogPath, config.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	lockPath := cfg.DatabasePath + ".lock"
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another memogardend instance holds %s", lockPath)
	}
	defer fileLock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqliteutil.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	facts := soil.New(db, nil, log)
	entities := core.New(db, cfg.UserRelationKinds, log, core.WithSafetyCoefficient(cfg.SafetyCoefficient))
	contexts := ctxstore.New(entities)
	artifacts := artifact.New(entities, facts)
	searcher := search.New(entities, facts)

	var summarizer artifact.Summarizer
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		s, err := artifact.NewAnthropicSummarizer(apiKey, "claude-3-5-haiku-latest")
		if err != nil {
			log.Warn("disabling fold summarization", zap.Error(err))
		} else {
			summarizer = s
		}
	}

	dispatcher := &verb.Dispatcher{
		Entities: entities, Facts: facts, Contexts: contexts, Artifacts: artifacts,
		Search: searcher, Summarizer: summarizer, ContextSize: cfg.ContextSize,
		Config: map[string]any{
			"database_path":        cfg.DatabasePath,
			"http_addr":            cfg.HTTPAddr,
			"context_size":         cfg.ContextSize,
			"safety_coefficient":   cfg.SafetyCoefficient,
			"baseline_entity_types": cfg.BaselineEntityTypes,
			"baseline_item_types":  cfg.BaselineItemTypes,
			"user_relation_kinds":  cfg.UserRelationKinds,
		},
	}

	bus := audit.NewBus(64, log)
	auditor := audit.New(dispatcher, facts, bus, log)
	coord := txn.New(db, soil.BaselineTypes, cfg.UserRelationKinds, log)
	if err := coord.InitSystem(ctx); err != nil {
		return fmt.Errorf("initializing system status: %w", err)
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Addr = cfg.HTTPAddr
	httpCfg.DBPath = cfg.DatabasePath
	server := httpapi.New(httpCfg, auditor, bus, coord, log)

	watchConfigReload(ctx, log)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	healthTicker := time.NewTicker(30 * time.Second)
	defer healthTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, daemonSignals...)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-serverErrChan:
			return fmt.Errorf("http server: %w", err)
		case <-healthTicker.C:
			report := coord.CheckConsistency(ctx)
			if report.Status != txn.StatusNormal {
				log.Warn("consistency check degraded", zap.String("status", string(report.Status)))
			}
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info("received SIGHUP, reloading config")
				if err := config.Initialize(); err != nil {
					log.Error("reloading config", zap.Error(err))
				}
				continue
			}
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// watchConfigReload hot-reloads .memogarden/config.yaml on write, mirroring
// the teacher's SIGHUP-driven reload but triggered by the filesystem
// instead of requiring an operator to send a signal.
func watchConfigReload(ctx context.Context, log *zap.Logger) {
	path := config.ConfigFileUsed()
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config hot-reload disabled", zap.Error(err))
		return
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Warn("watching config directory", zap.Error(err))
		watcher.Close()
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Name == path && (evt.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					if err := config.Initialize(); err != nil {
						log.Error("reloading config after change", zap.Error(err))
					} else {
						log.Info("config reloaded", zap.String("path", path))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
}
