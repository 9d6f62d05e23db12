package keeper

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/config"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/executor"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/hints"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/metrics"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/planner"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/runlog"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/state"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

const agentRedeemer = "redeemer"

// RedemptionContracts is the contract surface the redeemer touches.
type RedemptionContracts interface {
	RedeemPayload(amount *big.Int, p trove.RedeemParams) (trove.Payload, error)
}

// HintSource computes redemption hint bundles.
type HintSource interface {
	Compute(ctx context.Context, amount, price *big.Int, maxIterations uint64) (hints.Bundle, error)
}

// Redeemer runs hinted redemptions of a configured mUSD amount.
type Redeemer struct {
	cfg       *config.Config
	contracts RedemptionContracts
	gate      PriceSource
	hints     HintSource
	exec      Runner
	recipient common.Address
	sinks     Sinks
}

// NewRedeemer wires a redeemer. recipient should be the keeper account when
// no explicit recipient is configured.
func NewRedeemer(cfg *config.Config, contracts RedemptionContracts, gate PriceSource, computer HintSource, exec Runner, recipient common.Address, sinks Sinks) *Redeemer {
	if (cfg.RedeemRecipient != common.Address{}) {
		recipient = cfg.RedeemRecipient
	}
	return &Redeemer{
		cfg: cfg, contracts: contracts, gate: gate, hints: computer,
		exec: exec, recipient: recipient, sinks: sinks,
	}
}

// Cycle runs one redemption attempt end to end.
func (r *Redeemer) Cycle(ctx context.Context) *state.Record {
	started := time.Now()
	rec := state.NewRecord(agentRedeemer)
	r.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindCycleStart})
	defer func() {
		rec.SpentWei = r.exec.Ledger().Spent().String()
		r.sinks.save(ctx, rec)
		r.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindCycleFinish, Detail: rec.Err})
		metrics.CycleDuration.WithLabelValues(rec.Agent).Observe(time.Since(started).Seconds())
		metrics.SpentNative.WithLabelValues(rec.Agent).Set(bigFloat(r.exec.Ledger().Spent()))
	}()

	quote, err := r.gate.Current(ctx)
	if err != nil {
		rec.Err = fmt.Sprintf("price gate: %v", err)
		log.Printf("[warn] redeemer: standing down, %s", rec.Err)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "price_gated").Inc()
		return rec
	}
	rec.PriceWad = quote.Value.String()
	r.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindPrice, PriceWad: rec.PriceWad})
	metrics.PriceWad.Set(bigFloat(quote.Value))

	bundle, err := r.hints.Compute(ctx, r.cfg.RedeemAmount, quote.Value, r.cfg.MaxIterations)
	if err != nil {
		rec.Err = fmt.Sprintf("hints: %v", err)
		log.Printf("[warn] redeemer: %s", rec.Err)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "hint_error").Inc()
		return rec
	}

	plan, err := planner.PlanRedemption(planner.RedeemRequest{
		Amount:    r.cfg.RedeemAmount,
		Truncated: bundle.Truncated,
		MaxChunk:  r.cfg.RedeemMaxChunk,
		Strict:    r.cfg.StrictTruncation,
		Recipient: r.recipient,
	})
	if err != nil {
		reason, ok := planner.Reject(err)
		if !ok {
			reason = planner.RejectReason(err.Error())
		}
		rec.Actions = append(rec.Actions, state.Action{
			Kind: "redeem", State: string(executor.StateSkipped), SkipReason: string(reason),
		})
		r.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindSkip, Reason: string(reason)})
		log.Printf("[info] redeemer: nothing to do (%s)", reason)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "rejected").Inc()
		metrics.SkipsTotal.WithLabelValues(rec.Agent, string(reason)).Inc()
		return rec
	}
	log.Printf("[info] redeemer: redeeming %s mUSD (requested %s, truncated %s)",
		weiutil.FormatWad(plan.Effective), weiutil.FormatWad(plan.Requested), weiutil.FormatWad(plan.Truncated))

	payload, err := r.payload(plan.Effective, bundle)
	if err != nil {
		rec.Err = fmt.Sprintf("payload: %v", err)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "payload_error").Inc()
		return rec
	}

	task := executor.Task{
		Kind:    "redeem",
		Payload: payload,
		Size:    1,
		// Hints go stale the moment the sorted list moves; rebuild them
		// once before the first retry.
		Replan: func(ctx context.Context) (trove.Payload, error) {
			q, err := r.gate.Current(ctx)
			if err != nil {
				return trove.Payload{}, fmt.Errorf("replan price: %w", err)
			}
			b, err := r.hints.Compute(ctx, r.cfg.RedeemAmount, q.Value, r.cfg.MaxIterations)
			if err != nil {
				return trove.Payload{}, fmt.Errorf("replan hints: %w", err)
			}
			p, err := planner.PlanRedemption(planner.RedeemRequest{
				Amount:    r.cfg.RedeemAmount,
				Truncated: b.Truncated,
				MaxChunk:  r.cfg.RedeemMaxChunk,
				Strict:    r.cfg.StrictTruncation,
				Recipient: r.recipient,
			})
			if err != nil {
				return trove.Payload{}, fmt.Errorf("replan: %w", err)
			}
			return r.payload(p.Effective, b)
		},
	}

	r.sinks.event(runlog.Event{
		RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindSubmit,
		Detail: weiutil.FormatWad(plan.Effective),
	})
	res := r.exec.Execute(ctx, task)
	rec.Actions = append(rec.Actions, actionFromResult("redeem", nil, res))
	observe(rec.Agent, "redeem", res)

	switch res.State {
	case executor.StateDone:
		r.sinks.event(runlog.Event{
			RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindDone,
			TxHash: res.TxHash.Hex(), GasUsed: res.GasUsed, CostWei: costString(res),
		})
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "worked").Inc()
	case executor.StateSkipped:
		r.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindSkip, Reason: string(res.SkipReason)})
		log.Printf("[info] redeemer: skipped (%s)", res.SkipReason)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "skipped").Inc()
	case executor.StateFailed:
		r.sinks.event(runlog.Event{RunID: rec.RunID, Agent: rec.Agent, Kind: runlog.KindFail, Reason: string(res.FailClass), Detail: res.Err.Error()})
		log.Printf("[warn] redeemer: failed (%s): %v", res.FailClass, res.Err)
		metrics.CyclesTotal.WithLabelValues(rec.Agent, "failed").Inc()
	}
	return rec
}

func (r *Redeemer) payload(amount *big.Int, bundle hints.Bundle) (trove.Payload, error) {
	return r.contracts.RedeemPayload(amount, trove.RedeemParams{
		FirstHint:     bundle.FirstHint,
		UpperHint:     bundle.Upper,
		LowerHint:     bundle.Lower,
		PartialNICR:   bundle.PartialNICR,
		MaxIterations: r.cfg.MaxIterations,
		MaxFeePct:     r.cfg.RedeemMaxFeePct,
	})
}
