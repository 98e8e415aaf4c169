// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/admin"
	"github.com/regulens/ingestion-engine/internal/adminapi"
	"github.com/regulens/ingestion-engine/internal/config"
	"github.com/regulens/ingestion-engine/internal/coordinator"
	"github.com/regulens/ingestion-engine/internal/obs"
	"github.com/regulens/ingestion-engine/internal/pipeline"
	"github.com/regulens/ingestion-engine/internal/redisclient"
	"github.com/regulens/ingestion-engine/internal/storage"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Observability.LogFile != "" {
		logger, err = obs.NewRotatingLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile, 100, 5, 28)
	} else {
		logger, err = obs.NewLogger(cfg.Observability.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	st := storage.NewAdapter(cfg, logger)
	defer st.Close()

	dupIndex := buildDuplicateIndex(cfg, st, logger)
	pl := pipeline.New(logger, dupIndex)
	coord := coordinator.New(logger, pl, st, cfg.Coordinator.WorkerCount, cfg.Coordinator.QueueCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	for _, sourceCfg := range cfg.Sources {
		if err := admin.RegisterSource(ctx, coord, sourceCfg, cfg.Realtime.NATSURL, func() { _ = admin.IngestNow(coord, sourceCfg.SourceID) }); err != nil {
			logger.Fatal("register source failed", obs.String("source_id", sourceCfg.SourceID), obs.Err(err))
		}
		if err := admin.StartSource(ctx, coord, sourceCfg.SourceID); err != nil {
			logger.Fatal("start source failed", obs.String("source_id", sourceCfg.SourceID), obs.Err(err))
		}
	}

	httpSrv := obs.StartHTTPServer(cfg, func(c context.Context) error { return nil })
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	obs.StartDeferredTicksUpdater(ctx, 5*time.Second, coord, logger)
	go coord.RunReaper(ctx, cfg.Coordinator.ReaperInterval, cfg.Coordinator.StuckBatchAfter)

	adminCfg := adminapi.DefaultConfig()
	adminCfg.ListenAddr = cfg.Admin.Addr
	adminSrv, err := adminapi.NewServer(adminCfg, coord, st, cfg.Realtime.NATSURL, logger)
	if err != nil {
		logger.Fatal("failed to build admin server", obs.Err(err))
	}
	go func() {
		if err := adminSrv.Start(); err != nil {
			logger.Error("admin server stopped", obs.Err(err))
		}
	}()

	logger.Info("ingestion engine started",
		obs.String("version", version),
		obs.Int("sources", len(cfg.Sources)),
		obs.Int("workers", cfg.Coordinator.WorkerCount))

	if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("coordinator stopped unexpectedly", obs.Err(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), adminCfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown error", obs.Err(err))
	}
	logger.Info("ingestion engine stopped")
}

// buildDuplicateIndex wires the local LRU alone, or a two-tier local+Redis
// index falling back to the storage adapter's authoritative hash lookup,
// depending on whether a Redis address is configured.
func buildDuplicateIndex(cfg *config.Config, st *storage.Adapter, logger *zap.Logger) pipeline.DuplicateIndex {
	local := pipeline.NewLocalLRUIndex(cfg.DuplicateCache.LocalCapacity)
	rdb := redisclient.New(cfg)
	if rdb == nil {
		logger.Info("duplicate cache running without a Redis tier")
		return local
	}
	redisTier := pipeline.NewRedisLRUIndex(rdb, cfg.DuplicateCache.TTL)
	return pipeline.NewTieredIndex(local, redisTier, st)
}
