// trovescan is a read-only inspection tool: it polls the sorted trove list
// until it finds liquidatable troves or the deadline passes, then prints them
// with their collateral ratios. Exit code 0 when candidates were found, 2 when
// the deadline expired with none.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/chain"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/config"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/oracle"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/scanner"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "config.yaml", "path to YAML config")
	maxScan := flag.Int("max", 0, "override scan.max_scan")
	threshold := flag.String("threshold", "", "override scan.mcr (decimal, e.g. 1.1)")
	all := flag.Bool("all", false, "walk the whole list instead of stopping at the first safe trove")
	interval := flag.Duration("interval", 0, "poll interval; 0 runs a single pass")
	deadline := flag.Duration("deadline", 5*time.Minute, "give up after this long")
	flag.Parse()

	if err := config.LoadDotenv(); err != nil {
		log.Printf("[warn] %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if *maxScan > 0 {
		cfg.MaxScan = *maxScan
	}
	if *threshold != "" {
		if cfg.MCR, err = weiutil.ParseWad(*threshold); err != nil {
			log.Fatalf("[fatal] threshold: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *deadline)
	defer cancel()

	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.RateLimit, cfg.Burst)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer client.Close()

	contracts, err := trove.New(client, trove.Addresses{
		TroveManager:    cfg.TroveManager,
		SortedTroves:    cfg.SortedTroves,
		HintHelpers:     cfg.HintHelpers,
		PriceAggregator: cfg.PriceAggregator,
	})
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	gate := oracle.NewGate(contracts, nil, oracle.Config{
		MinPrice:       cfg.MinPrice,
		MaxPrice:       cfg.MaxPrice,
		MaxAge:         cfg.PriceMaxAge,
		AnswerDecimals: cfg.OracleDecimals,
	})
	log.Printf("Threshold: %s, max scan: %d", weiutil.FormatWad(cfg.MCR), cfg.MaxScan)

	for {
		quote, err := gate.Current(ctx)
		if err != nil {
			log.Fatalf("[fatal] price gate: %v", err)
		}
		log.Printf("Collateral price: %s", weiutil.FormatWad(quote.Value))

		cands, stats, err := scanner.Scan(ctx, contracts, quote.Value, scanner.Options{
			Threshold:       cfg.MCR,
			MaxScan:         cfg.MaxScan,
			StopAtFirstSafe: !*all,
			Deny:            cfg.DenyList,
		})
		if err != nil {
			log.Fatalf("[fatal] scan: %v", err)
		}

		if len(cands) > 0 {
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("TROVE", "RATIO", "STATUS")
			for _, c := range cands {
				table.Append(c.ID.Hex(), weiutil.FormatWad(c.Ratio), "LIQUIDATABLE")
			}
			table.Render()

			fmt.Printf("\nscanned %d troves, %d below threshold", stats.Scanned, stats.Below)
			if stats.EarlyExit {
				fmt.Printf(" (early exit)")
			}
			fmt.Println()
			return
		}

		log.Printf("scanned %d troves, none below threshold", stats.Scanned)
		if *interval <= 0 {
			os.Exit(2)
		}
		select {
		case <-ctx.Done():
			log.Printf("[warn] deadline reached with no candidates")
			os.Exit(2)
		case <-time.After(*interval):
		}
	}
}
