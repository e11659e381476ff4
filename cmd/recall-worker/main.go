// cmd/recall-worker runs the ingestion worker pool.
//
// Startup sequence:
//  1. Load configuration from RECALL_CONFIG and RECALL_* variables.
//  2. Open the vector store, job queue and embedding provider.
//  3. Probe the embedding provider. A failure is logged, not fatal: jobs
//     retry with backoff until the provider comes back.
//  4. Start the memory engine, which redelivers jobs orphaned by a previous
//     process and launches the workers.
//  5. Watch for job events from producers on the same host.
//  6. Run until SIGINT or SIGTERM, then drain in-flight jobs within the
//     shutdown timeout.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/connections"
	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/metrics"
	"github.com/scrypster/recall/internal/notify"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("recall-worker: ")
	log.SetFlags(log.LstdFlags)

	if err := run(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := connections.NewManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Printf("WARNING: failed to close backends: %v", err)
		}
	}()

	probeCtx, cancelProbe := context.WithTimeout(ctx, cfg.Embedding.Timeout)
	if err := llm.Probe(probeCtx, manager.Embedder()); err != nil {
		log.Printf("WARNING: %v", err)
	}
	cancelProbe()

	provider, err := metrics.NewProvider(ctx, cfg.Metrics, "recall-worker", version)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Printf("WARNING: failed to flush metrics: %v", err)
		}
	}()

	metricsObserver, err := metrics.NewObserver(provider.Meter())
	if err != nil {
		return err
	}

	memEngine, err := manager.NewEngine(
		engine.WithObserver(engine.MultiObserver{engine.LogObserver{}, metricsObserver}),
	)
	if err != nil {
		return err
	}
	if err := memEngine.Start(ctx); err != nil {
		return err
	}

	// Producers on this host announce new jobs through event files.
	watcher := notify.NewEventWatcher(cfg.Storage.DataPath, cfg.Queue.Name, func(notify.Event) {
		memEngine.Wake()
	})
	if err := watcher.Start(); err != nil {
		log.Printf("WARNING: job notifications disabled, relying on polling: %v", err)
	}
	defer watcher.Stop()

	log.Printf("ready: %d workers on queue %q (vector backend %s, queue backend %s, embeddings %s)",
		cfg.Queue.Concurrency, cfg.Queue.Name, cfg.VectorStore.Backend, cfg.Queue.Backend, manager.Embedder().GetModel())

	<-ctx.Done()
	log.Println("received shutdown signal")

	// ctx is already cancelled; the engine's own shutdown timeout bounds the drain.
	if err := memEngine.Shutdown(context.Background()); err != nil {
		log.Printf("WARNING: engine shutdown: %v", err)
	}
	return nil
}
