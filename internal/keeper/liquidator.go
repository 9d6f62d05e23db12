package keeper

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/config"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/ethutil"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/executor"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/metrics"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/oracle"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/planner"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/runlog"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/scanner"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/state"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

const agentLiquidator = "liquidator"

// PriceSource yields the gated collateral price.
type PriceSource interface {
	Current(ctx context.Context) (oracle.Quote, error)
}

// Runner executes prepared tasks. Satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, task executor.Task) executor.Result
	Ledger() *executor.SpendLedger
}

// LiquidationContracts is the contract surface the liquidator touches.
type LiquidationContracts interface {
	scanner.Reader
	LiquidatePayload(borrower common.Address) (trove.Payload, error)
	BatchLiquidatePayload(borrowers []common.Address) (trove.Payload, error)
}

// Liquidator discovers undercollateralized troves and liquidates them in
// bounded batches.
type Liquidator struct {
	cfg       *config.Config
	contracts LiquidationContracts
	gate      PriceSource
	exec      Runner
	sinks     Sinks
}

func NewLiquidator(cfg *config.Config, contracts LiquidationContracts, gate PriceSource, exec Runner, sinks Sinks) *Liquidator {
	return &Liquidator{cfg: cfg, contracts: contracts, gate: gate, exec: exec, sinks: sinks}
}

// Cycle runs one full discovery and execution pass. It always produces a
// run record, even when the price gate refuses the cycle.
func (l *Liquidator) Cycle(ctx context.Context) *state.Record {
	started := time.Now()
	rec := state.NewRecord(agentLiquidator)
	l.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindCycleStart})
	defer func() {
		rec.SpentWei = l.exec.Ledger().Spent().String()
		l.sinks.save(ctx, rec)
		l.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindCycleFinish, Detail: rec.Err})
		metrics.CycleDuration.WithLabelValues(rec.Agent).Observe(time.Since(started).Seconds())
		metrics.SpentNative.WithLabelValues(rec.Agent).Set(bigFloat(l.exec.Ledger().Spent()))
	}()

	quote, err := l.gate.Current(ctx)
	if err != nil {
		rec.Err = fmt.Sprintf("price gate: %v", err)
		log.Printf("[warn] liquidator: standing down, %s", rec.Err)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "price_gated").Inc()
		return rec
	}
	rec.PriceWad = quote.Value.String()
	l.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindPrice, PriceWad: rec.PriceWad})
	metrics.PriceWad.Set(bigFloat(quote.Value))

	cands, stats, err := scanner.Discover(ctx, l.contracts, quote.Value, l.cfg.MCR, l.cfg.MaxScan, l.cfg.EarlyExitAfter, l.cfg.DenyList)
	if err != nil {
		rec.Err = fmt.Sprintf("scan: %v", err)
		log.Printf("[warn] liquidator: %s", rec.Err)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "scan_error").Inc()
		return rec
	}
	rec.Scanned = stats.Scanned
	rec.Candidates = len(cands)
	metrics.TrovesScanned.WithLabelValues(rec.Agent).Add(float64(stats.Scanned))
	metrics.CandidatesFound.WithLabelValues(rec.Agent).Add(float64(len(cands)))
	l.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindScan, Scanned: stats.Scanned, Below: stats.Below})
	log.Printf("[info] liquidator: scanned %d troves, %d below threshold (price %s)",
		stats.Scanned, len(cands), weiutil.FormatWad(quote.Value))

	if len(cands) == 0 {
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "idle").Inc()
		return rec
	}

	jobs := planner.ChunkLiquidations(scanner.IDs(cands), l.cfg.MaxPerJob, l.cfg.FallbackOnFailure, l.cfg.SingleBatch)
	for _, job := range jobs {
		if ctx.Err() != nil {
			rec.Err = ctx.Err().Error()
			break
		}
		l.runJob(ctx, rec, job)
	}
	metrics.CyclesTotal.WithLabelValues(rec.Agent, "worked").Inc()
	return rec
}

func (l *Liquidator) runJob(ctx context.Context, rec *state.Record, job planner.Job) {
	task, kind, err := l.buildTask(job)
	if err != nil {
		rec.Actions = append(rec.Actions, state.Action{
			Kind: kind, Targets: ethutil.HexList(job.Candidates), State: string(executor.StateFailed), Error: err.Error(),
		})
		log.Printf("[warn] liquidator: building %s payload: %v", kind, err)
		return
	}

	l.sinks.event(runlog.Event{
		RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindSubmit,
		Targets: ethutil.HexList(job.Candidates), Detail: kind,
	})
	log.Printf("[info] liquidator: submitting %s for %s", kind, ethutil.JoinHex(job.Candidates))
	res := l.exec.Execute(ctx, task)
	targets := job.Candidates[:res.Processed]
	rec.Actions = append(rec.Actions, actionFromResult(kind, targets, res))
	observe(rec.Agent, kind, res)

	switch res.State {
	case executor.StateDone:
		l.sinks.event(runlog.Event{
			RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindDone,
			Targets: ethutil.HexList(targets), TxHash: res.TxHash.Hex(), GasUsed: res.GasUsed, CostWei: costString(res),
		})
		if res.Leftover > 0 {
			log.Printf("[info] liquidator: batch shrunk, %d troves left for next cycle", res.Leftover)
		}
	case executor.StateSkipped:
		l.sinks.event(runlog.Event{
			RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindSkip,
			Targets: ethutil.HexList(job.Candidates), Reason: string(res.SkipReason),
		})
		log.Printf("[info] liquidator: %s skipped (%s)", kind, res.SkipReason)
	case executor.StateFailed:
		l.sinks.event(runlog.Event{
			RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindFail,
			Targets: ethutil.HexList(job.Candidates), Reason: string(res.FailClass), Detail: res.Err.Error(),
		})
		log.Printf("[warn] liquidator: %s failed (%s): %v", kind, res.FailClass, res.Err)
	}
}

func (l *Liquidator) buildTask(job planner.Job) (executor.Task, string, error) {
	if len(job.Candidates) == 1 {
		payload, err := l.contracts.LiquidatePayload(job.Candidates[0])
		if err != nil {
			return executor.Task{}, "liquidate", err
		}
		return executor.Task{Kind: "liquidate", Payload: payload, Size: 1}, "liquidate", nil
	}

	payload, err := l.contracts.BatchLiquidatePayload(job.Candidates)
	if err != nil {
		return executor.Task{}, "batch", err
	}
	task := executor.Task{Kind: "batch", Payload: payload, Size: len(job.Candidates)}
	if job.FallbackOnFailure && !job.SingleBatch {
		candidates := job.Candidates
		task.Shrink = func(k int) (trove.Payload, error) {
			if k == 1 {
				return l.contracts.LiquidatePayload(candidates[0])
			}
			return l.contracts.BatchLiquidatePayload(candidates[:k])
		}
	}
	return task, "batch", nil
}

func costString(res executor.Result) string {
	if res.Cost == nil {
		return ""
	}
	return res.Cost.String()
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := weiutil.ToDecimal(v, 18).Float64()
	return f
}
