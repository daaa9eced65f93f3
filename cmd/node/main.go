package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/api"
	"github.com/uhyunpark/escrowd/pkg/app/listing"
	"github.com/uhyunpark/escrowd/pkg/metrics"
	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/util"
)

func main() {
	// Load config from an optional TOML file, .env and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "data_dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// ---- Metrics ----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// ---- App: escrow listings ----
	app, err := listing.NewApp(store, cfg.Escrow, sugar.Named("app"), m)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	switch err := app.InitChain(cfg.Genesis.Allocations); {
	case errors.Is(err, listing.ErrGenesisApplied):
		sugar.Infow("genesis_skipped", "height", app.Height())
	case err != nil:
		sugar.Fatalw("genesis_failed", "err", err)
	}

	// ---- Sequencer ----
	seq, err := abci.NewSequencer(app, store, util.RealClock{}, abci.SequencerConfig{
		BlockTime:  cfg.Node.BlockTime,
		MaxTxBytes: cfg.Node.MaxBlockBytes,
	}, sugar.Named("sequencer"))
	if err != nil {
		sugar.Fatalw("sequencer_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"data_dir", cfg.Node.DataDir,
		"height", seq.Height(),
		"app_id", cfg.Escrow.AppID,
		"chain_id", cfg.Escrow.ChainID,
		"custody", app.Custody().Hex(),
		"block_time_ms", cfg.Node.BlockTime.Milliseconds())

	// ---- API Server ----
	// Start HTTP/WebSocket server for clients
	apiServer := api.NewServer(app, cfg.API, sugar.Named("api"), m, registry)
	go func() {
		if err := apiServer.Start(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Hook API server to the sequencer: broadcast updates on every block commit
	seq.OnCommit(apiServer.OnCommit)

	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("sequencer_failed", "err", err)
		}
	}()

	// Progress logging loop
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	lastLogged := seq.Height()

	for {
		select {
		case <-ctx.Done():
			<-seqDone // no block may be mid-commit when the store closes
			sugar.Infow("node_stopping", "height", seq.Height())
			return
		case <-ticker.C:
			if h := seq.Height(); h != lastLogged {
				sugar.Infow("chain_progress",
					"height", h,
					"blocks_since_last_log", h-lastLogged,
					"mempool", app.Pending(),
					"ws_clients", apiServer.Hub().ClientCount())
				lastLogged = h
			}
		}
	}
}
