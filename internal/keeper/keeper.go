// Package keeper wires discovery, planning and execution into the agent
// cycles the daemons run on a schedule.
package keeper

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/ethutil"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/executor"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/metrics"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/recorder"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/runlog"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/state"
)

// Sinks groups the places a cycle reports to. Any field may be nil.
type Sinks struct {
	Store    *state.Store
	Log      *runlog.Log
	Recorder recorder.Recorder
}

func (s Sinks) save(ctx context.Context, rec *state.Record) {
	if s.Store != nil {
		if err := s.Store.Save(rec); err != nil {
			log.Printf("[warn] saving run record: %v", err)
		}
	}
	if s.Recorder != nil {
		if err := s.Recorder.RecordRun(ctx, rec); err != nil {
			log.Printf("[warn] recording run: %v", err)
		}
	}
}

func (s Sinks) event(ev runlog.Event) {
	if err := s.Log.Append(ev); err != nil {
		log.Printf("[warn] run log append: %v", err)
	}
}

// actionFromResult translates an executor outcome into a durable action.
func actionFromResult(kind string, targets []common.Address, res executor.Result) state.Action {
	a := state.Action{
		Kind:      kind,
		Targets:   ethutil.HexList(targets),
		State:     string(res.State),
		Attempts:  res.Attempts,
		Processed: res.Processed,
		Leftover:  res.Leftover,
	}
	if res.SkipReason != "" {
		a.SkipReason = string(res.SkipReason)
	}
	if res.FailClass != "" && res.State == executor.StateFailed {
		a.FailClass = string(res.FailClass)
	}
	if res.Err != nil {
		a.Error = res.Err.Error()
	}
	if (res.TxHash != common.Hash{}) {
		a.TxHash = res.TxHash.Hex()
	}
	a.GasUsed = res.GasUsed
	if res.Cost != nil {
		a.CostWei = res.Cost.String()
	}
	a.RawGas = res.RawGas
	a.BufferedGas = res.BufferedGas
	a.FeeMode = string(res.Fee.Mode)
	a.ReceiptStatus = res.ReceiptStatus
	if res.EffectiveGasPrice != nil {
		a.EffGasPrice = res.EffectiveGasPrice.String()
	}
	return a
}

// observe feeds the metric counters from one finished action.
func observe(agent, kind string, res executor.Result) {
	metrics.ActionsTotal.WithLabelValues(agent, kind, string(res.State)).Inc()
	if res.State == executor.StateSkipped {
		metrics.SkipsTotal.WithLabelValues(agent, string(res.SkipReason)).Inc()
	}
	if res.GasUsed > 0 {
		metrics.GasUsedTotal.WithLabelValues(agent).Add(float64(res.GasUsed))
	}
}
