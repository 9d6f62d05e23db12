// Package executor drives one prepared transaction through estimation, fee
// resolution, cap checks, submission and receipt, retrying what is worth
// retrying and refusing what is not.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/fees"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
)

// State is the terminal disposition of a task.
type State string

const (
	StateDone    State = "DONE"
	StateSkipped State = "SKIPPED"
	StateFailed  State = "FAILED"
)

// SkipReason explains a refusal to submit. Skips cost nothing on-chain.
type SkipReason string

const (
	SkipEstimateRevert      SkipReason = "ESTIMATE_REVERT"
	SkipGasCap              SkipReason = "GAS_CAP"
	SkipSpendCap            SkipReason = "SPEND_CAP"
	SkipFeeUnavailable      SkipReason = "FEE_UNAVAILABLE"
	SkipInsufficientBalance SkipReason = "INSUFFICIENT_BALANCE"
)

// Caller submits prepared calldata on behalf of the keeper account.
type Caller interface {
	Estimate(ctx context.Context, payload trove.Payload) (uint64, error)
	// Preflight simulates the call at the latest block without spending gas.
	Preflight(ctx context.Context, payload trove.Payload) error
	Send(ctx context.Context, payload trove.Payload, gasLimit uint64, plan fees.Plan) (common.Hash, error)
}

// Backend is the read side the executor needs around a submission.
type Backend interface {
	Balance(ctx context.Context) (*big.Int, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// FeeSource produces a fee plan per attempt.
type FeeSource interface {
	Resolve(ctx context.Context) fees.Plan
}

// Task is one prepared unit of work.
type Task struct {
	Kind    string // "liquidate", "batch", "redeem"
	Payload trove.Payload
	// Size is the number of positions the payload covers; 1 for single ops.
	Size int
	// Shrink rebuilds the payload for the first k positions. Nil means the
	// payload executes whole or not at all.
	Shrink func(k int) (trove.Payload, error)
	// Replan rebuilds the payload with fresh chain state. Invoked at most
	// once, before the first retry.
	Replan func(ctx context.Context) (trove.Payload, error)
}

// Result records everything that happened to a task.
type Result struct {
	State      State
	SkipReason SkipReason
	FailClass  Class
	Err        error

	Attempts    int
	RawGas      uint64
	BufferedGas uint64
	Fee         fees.Plan

	// Processed is how many positions the final payload covered; Leftover
	// is what batch shrinking cut off.
	Processed int
	Leftover  int

	TxHash            common.Hash
	ReceiptStatus     uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Cost              *big.Int
	DryRun            bool
}

// Config bounds what the executor may spend and how hard it retries.
type Config struct {
	GasCap       uint64   // 0 = no cap
	MinBalance   *big.Int // keep at least this much in the keeper account
	GasBufferPct uint64
	MaxRetries   int
	BackoffBase  time.Duration
	WaitTimeout  time.Duration
	DryRun       bool
}

// Executor runs tasks. One executor serves one keeper account; the spend
// ledger is shared across all tasks it runs.
type Executor struct {
	caller  Caller
	backend Backend
	fees    FeeSource
	ledger  *SpendLedger
	cfg     Config
}

func New(caller Caller, backend Backend, feeSource FeeSource, ledger *SpendLedger, cfg Config) *Executor {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 2 * time.Minute
	}
	if ledger == nil {
		ledger = NewSpendLedger(nil)
	}
	return &Executor{caller: caller, backend: backend, fees: feeSource, ledger: ledger, cfg: cfg}
}

// Ledger exposes the shared spend ledger.
func (e *Executor) Ledger() *SpendLedger { return e.ledger }

// Execute runs a task to a terminal state. The returned Result always has
// State set; Err is populated for FAILED. SKIPPED and FAILED report zero
// processed candidates and the whole job as leftover; nothing is dropped
// silently.
func (e *Executor) Execute(ctx context.Context, task Task) Result {
	if task.Size <= 0 {
		task.Size = 1
	}
	res := Result{}
	payload := task.Payload
	replanned := false
	planned := false
	var plan fees.Plan
	k := task.Size
	var lastErr error
	lastClass := ClassTransient

	fail := func(class Class, err error) Result {
		res.State = StateFailed
		res.FailClass = class
		res.Err = err
		res.Processed = 0
		res.Leftover = task.Size
		return res
	}
	skipped := func(reason SkipReason) Result {
		res.State = StateSkipped
		res.SkipReason = reason
		res.Processed = 0
		res.Leftover = task.Size
		return res
	}

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.backoff(attempt)); err != nil {
				return fail(lastClass, err)
			}
		}
		res.Attempts = attempt + 1

		// Planning runs on the first attempt and is refreshed exactly once,
		// on the first retry. Later retries reuse the refreshed plan.
		if !planned || attempt == 1 {
			if attempt == 1 && task.Replan != nil && !replanned {
				replanned = true
				fresh, err := task.Replan(ctx)
				if err != nil {
					log.Printf("[warn] executor: replan failed, reusing stale payload: %v", err)
				} else {
					// A rebuilt payload covers the whole task again.
					payload = fresh
					k = task.Size
					log.Printf("[info] executor: payload replanned before retry")
				}
			}

			raw, buffered, kk, shrunk, skip, err := e.estimate(ctx, task, payload, k)
			if skip != "" {
				return skipped(skip)
			}
			if err != nil {
				lastErr, lastClass = err, Classify(err)
				if !Retryable(lastClass) {
					return fail(lastClass, lastErr)
				}
				log.Printf("[warn] executor: estimate attempt %d failed (%s): %v", attempt+1, lastClass, err)
				continue
			}
			k, payload = kk, shrunk
			res.RawGas, res.BufferedGas = raw, buffered

			plan = e.fees.Resolve(ctx)
			res.Fee = plan
			if !plan.Known {
				// Never guess a price; without a known per-gas ceiling
				// neither the spend cap nor the transaction can be priced.
				return skipped(SkipFeeUnavailable)
			}
			worst := new(big.Int).Mul(plan.PerGas(), new(big.Int).SetUint64(buffered))

			if e.ledger.Capped() && !e.ledger.Allow(worst) {
				return skipped(SkipSpendCap)
			}
			if skip := e.checkBalance(ctx, worst); skip != "" {
				return skipped(skip)
			}

			if err := e.caller.Preflight(ctx, payload); err != nil {
				if Classify(err) == ClassLogic {
					return skipped(SkipEstimateRevert)
				}
				// Best effort only; a flaky node must not block a live payload.
				log.Printf("[warn] executor: preflight inconclusive: %v", err)
			}
			planned = true

			if e.cfg.DryRun {
				log.Printf("[info] executor: dry-run %s to=%s gas=%d worst=%s wei", task.Kind, payload.To.Hex(), buffered, worst)
				res.State = StateDone
				res.DryRun = true
				res.Processed = k
				res.Leftover = task.Size - k
				return res
			}
		}

		hash, err := e.caller.Send(ctx, payload, res.BufferedGas, plan)
		if err != nil {
			lastErr, lastClass = err, Classify(err)
			if !Retryable(lastClass) {
				return fail(lastClass, lastErr)
			}
			log.Printf("[warn] executor: send attempt %d failed (%s): %v", attempt+1, lastClass, err)
			continue
		}
		res.TxHash = hash
		log.Printf("[info] executor: %s submitted tx=%s gas=%d attempt=%d", task.Kind, hash.Hex(), res.BufferedGas, attempt+1)

		receipt, err := e.backend.WaitMined(ctx, hash, e.cfg.WaitTimeout)
		if err != nil {
			// The transaction may still land later. Resending risks a
			// duplicate, so this is terminal.
			return fail(ClassTransient, fmt.Errorf("waiting for receipt of %s: %w", hash.Hex(), err))
		}
		e.settle(&res, receipt, plan)
		if receipt.Status == types.ReceiptStatusFailed {
			return fail(ClassLogic, fmt.Errorf("transaction %s reverted on-chain", hash.Hex()))
		}
		res.State = StateDone
		res.Processed = k
		res.Leftover = task.Size - k
		return res
	}

	if lastErr == nil {
		lastErr = errors.New("retries exhausted")
	}
	return fail(lastClass, lastErr)
}

// estimate finds a payload size the gas rules accept, halving the batch on
// estimation reverts and gas-cap breaches while shrinking is allowed. It
// starts from the caller's current working count, so a batch already shrunk
// on an earlier attempt is never re-inflated by a retry.
func (e *Executor) estimate(ctx context.Context, task Task, payload trove.Payload, start int) (raw, buffered uint64, k int, out trove.Payload, skip SkipReason, err error) {
	k = start
	out = payload
	for {
		raw, err = e.caller.Estimate(ctx, out)
		if err != nil {
			if Classify(err) != ClassLogic {
				return 0, 0, k, out, "", err
			}
			if !e.canShrink(task, k) {
				return 0, 0, k, out, SkipEstimateRevert, nil
			}
			k = (k + 1) / 2
			out, err = task.Shrink(k)
			if err != nil {
				return 0, 0, k, out, "", err
			}
			log.Printf("[info] executor: estimate reverted, batch shrunk to %d", k)
			continue
		}
		buffered = raw + raw*e.cfg.GasBufferPct/100
		if e.cfg.GasCap > 0 && buffered > e.cfg.GasCap {
			if !e.canShrink(task, k) {
				return raw, buffered, k, out, SkipGasCap, nil
			}
			k = (k + 1) / 2
			out, err = task.Shrink(k)
			if err != nil {
				return 0, 0, k, out, "", err
			}
			log.Printf("[info] executor: buffered gas %d over cap %d, batch shrunk to %d", buffered, e.cfg.GasCap, k)
			continue
		}
		return raw, buffered, k, out, "", nil
	}
}

func (e *Executor) canShrink(task Task, k int) bool {
	return task.Shrink != nil && k > 1
}

// checkBalance requires the account to hold max(projected cost, floor).
func (e *Executor) checkBalance(ctx context.Context, worst *big.Int) SkipReason {
	need := new(big.Int).Set(worst)
	if e.cfg.MinBalance != nil && e.cfg.MinBalance.Cmp(need) > 0 {
		need.Set(e.cfg.MinBalance)
	}
	bal, err := e.backend.Balance(ctx)
	if err != nil {
		// Fail closed: an unreadable balance is treated as too low.
		log.Printf("[warn] executor: balance read failed: %v", err)
		return SkipInsufficientBalance
	}
	if bal.Cmp(need) < 0 {
		return SkipInsufficientBalance
	}
	return ""
}

// settle records what the chain charged, falling back to the planned price
// when the receipt does not carry one.
func (e *Executor) settle(res *Result, receipt *types.Receipt, plan fees.Plan) {
	res.ReceiptStatus = receipt.Status
	res.GasUsed = receipt.GasUsed
	price := receipt.EffectiveGasPrice
	if price == nil {
		price = plan.PerGas()
	}
	if price != nil {
		res.EffectiveGasPrice = new(big.Int).Set(price)
		res.Cost = new(big.Int).Mul(res.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		e.ledger.Add(res.Cost)
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	return e.cfg.BackoffBase << uint(attempt-1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
