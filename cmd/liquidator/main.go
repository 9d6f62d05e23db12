package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/chain"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/config"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/executor"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/fees"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/keeper"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/metrics"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/oracle"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/pricefeed"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/recorder"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/runlog"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/state"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "config.yaml", "path to YAML config")
	once := flag.Bool("once", false, "run a single cycle and exit")
	dryRun := flag.Bool("dry-run", false, "estimate and plan but never submit")
	runLogPath := flag.String("run-log", "data/liquidator.jsonl", "JSONL cycle event log (empty to disable)")
	flag.Parse()

	if err := config.LoadDotenv(); err != nil {
		log.Printf("[warn] %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	key, from, err := config.SignerKey()
	if err != nil {
		if !cfg.DryRun {
			log.Fatalf("[fatal] %v", err)
		}
		key, from, err = config.EphemeralKey()
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		log.Printf("[warn] no signer key configured, dry-run with ephemeral account %s", from.Hex())
	}

	log.Printf("TrovePilot liquidator")
	log.Printf("Keeper account: %s", from.Hex())
	log.Printf("TroveManager: %s", cfg.TroveManager.Hex())
	log.Printf("MCR: %s", weiutil.FormatWad(cfg.MCR))
	log.Printf("Max scan: %d, max per job: %d", cfg.MaxScan, cfg.MaxPerJob)
	log.Printf("Dry-run: %v", cfg.DryRun)
	if cfg.SpendCap != nil {
		log.Printf("Spend cap: %s", weiutil.FormatWad(cfg.SpendCap))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Printf("Shutting down...")
		cancel()
	}()

	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.RateLimit, cfg.Burst)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer client.Close()
	if chainID, err := client.ChainID(ctx); err != nil {
		log.Fatalf("[fatal] chain id: %v", err)
	} else if chainID.Int64() != cfg.ChainID {
		log.Fatalf("[fatal] rpc reports chain %d, config expects %d", chainID.Int64(), cfg.ChainID)
	}

	contracts, err := trove.New(client, trove.Addresses{
		TroveManager:    cfg.TroveManager,
		SortedTroves:    cfg.SortedTroves,
		HintHelpers:     cfg.HintHelpers,
		PriceAggregator: cfg.PriceAggregator,
	})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	var extFeed oracle.ExternalFeed
	if cfg.FeedProduct != "" && cfg.MaxDeviationBps > 0 {
		url := cfg.FeedURL
		if url == "" {
			url = pricefeed.DefaultURL
		}
		extFeed = pricefeed.Start(ctx, url, cfg.FeedProduct, pricefeed.Options{})
		log.Printf("External price feed: %s (%s)", url, cfg.FeedProduct)
	}
	gate := oracle.NewGate(contracts, extFeed, oracle.Config{
		MinPrice:        cfg.MinPrice,
		MaxPrice:        cfg.MaxPrice,
		MaxAge:          cfg.PriceMaxAge,
		AnswerDecimals:  cfg.OracleDecimals,
		MaxDeviationBps: cfg.MaxDeviationBps,
	})

	sender := keeper.NewSender(client, key, big.NewInt(cfg.ChainID))
	resolver := fees.NewResolver(client, cfg.MaxFeePerGas)
	exec := executor.New(sender, sender, resolver, executor.NewSpendLedger(cfg.SpendCap), executor.Config{
		GasCap:       cfg.GasCap,
		MinBalance:   cfg.MinBalance,
		GasBufferPct: cfg.GasBufferPct,
		MaxRetries:   cfg.MaxRetries,
		BackoffBase:  cfg.BackoffBase,
		DryRun:       cfg.DryRun,
	})

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cycleLog := runlog.Open(*runLogPath)
	defer func() {
		if err := cycleLog.Close(); err != nil {
			log.Printf("[warn] run log close: %v", err)
		}
	}()

	var rec recorder.Recorder = recorder.Noop{}
	if cfg.SQLitePath != "" {
		db, err := recorder.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		defer db.Close()
		rec = db
		log.Printf("Recording runs to %s", cfg.SQLitePath)
	}

	liquidator := keeper.NewLiquidator(cfg, contracts, gate, exec, keeper.Sinks{
		Store:    store,
		Log:      cycleLog,
		Recorder: rec,
	})

	if *once {
		started := time.Now()
		liquidator.Cycle(ctx)
		log.Printf("[info] cycle finished in %s", time.Since(started).Truncate(time.Millisecond))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.ListenAddr != "" {
		srv := metrics.NewServer(cfg.ListenAddr, func() (any, error) {
			return store.Latest("liquidator")
		})
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		return keeper.RunOnSchedule(gctx, cfg.Schedule, func(cctx context.Context) {
			liquidator.Cycle(cctx)
		})
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}
