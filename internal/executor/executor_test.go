package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/fees"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
)

type fakeCaller struct {
	estimateFn  func(k int) (uint64, error)
	preflightFn func() error
	sendFn      func() (common.Hash, error)

	lastSize      int
	sentSize      int
	estimateCalls int
	sendCalls     int
	sentGasLimit  uint64
}

// sizeFromPayload: tests encode the batch size in the first data byte.
func (f *fakeCaller) Estimate(ctx context.Context, p trove.Payload) (uint64, error) {
	f.estimateCalls++
	f.lastSize = int(p.Data[0])
	return f.estimateFn(f.lastSize)
}

func (f *fakeCaller) Preflight(ctx context.Context, p trove.Payload) error {
	if f.preflightFn != nil {
		return f.preflightFn()
	}
	return nil
}

func (f *fakeCaller) Send(ctx context.Context, p trove.Payload, gasLimit uint64, plan fees.Plan) (common.Hash, error) {
	f.sendCalls++
	f.sentSize = int(p.Data[0])
	f.sentGasLimit = gasLimit
	if f.sendFn != nil {
		return f.sendFn()
	}
	return common.HexToHash("0xabc"), nil
}

type fakeChain struct {
	balance *big.Int
	balErr  error
	receipt *types.Receipt
	waitErr error
}

func (f *fakeChain) Balance(ctx context.Context) (*big.Int, error) {
	if f.balErr != nil {
		return nil, f.balErr
	}
	if f.balance == nil {
		return big.NewInt(1e18), nil
	}
	return f.balance, nil
}

func (f *fakeChain) WaitMined(ctx context.Context, h common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 50000, EffectiveGasPrice: big.NewInt(10)}, nil
}

type fixedFees struct{ plan fees.Plan }

func (f fixedFees) Resolve(ctx context.Context) fees.Plan { return f.plan }

func knownFee(perGas int64) fixedFees {
	return fixedFees{plan: fees.Plan{Mode: fees.ModeLegacy, GasPrice: big.NewInt(perGas), Known: true, PriorityKnown: true}}
}

func sizedTask(size int) Task {
	return Task{
		Kind:    "batch",
		Payload: trove.Payload{To: common.BigToAddress(big.NewInt(7)), Data: []byte{byte(size)}},
		Size:    size,
		Shrink: func(k int) (trove.Payload, error) {
			return trove.Payload{To: common.BigToAddress(big.NewInt(7)), Data: []byte{byte(k)}}, nil
		},
	}
}

func newExec(c Caller, b Backend, f FeeSource, ledger *SpendLedger, cfg Config) *Executor {
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	return New(c, b, f, ledger, cfg)
}

func TestExecuteHappyPath(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100000, nil }}
	ex := newExec(caller, &fakeChain{}, knownFee(10), nil, Config{GasBufferPct: 20, MaxRetries: 3})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateDone {
		t.Fatalf("state = %s (err %v)", res.State, res.Err)
	}
	if res.BufferedGas != 120000 {
		t.Fatalf("buffered = %d, want 120000", res.BufferedGas)
	}
	if res.Attempts != 1 || caller.sendCalls != 1 {
		t.Fatalf("attempts = %d, sends = %d", res.Attempts, caller.sendCalls)
	}
	if res.Cost.Cmp(big.NewInt(500000)) != 0 {
		t.Fatalf("cost = %s", res.Cost)
	}
	if ex.Ledger().Spent().Cmp(big.NewInt(500000)) != 0 {
		t.Fatalf("ledger = %s", ex.Ledger().Spent())
	}
}

func TestGasCapShrinksBatch(t *testing.T) {
	// Batch of 3 estimates at 100 gas; with a 20% buffer that is 120,
	// over the 90 cap. Halving to 2 estimates at 60, buffered 72, fits.
	caller := &fakeCaller{estimateFn: func(k int) (uint64, error) {
		if k == 3 {
			return 100, nil
		}
		return 60, nil
	}}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasCap: 90, GasBufferPct: 20, MaxRetries: 0})
	res := ex.Execute(context.Background(), sizedTask(3))
	if res.State != StateDone {
		t.Fatalf("state = %s (err %v)", res.State, res.Err)
	}
	if res.Processed != 2 || res.Leftover != 1 {
		t.Fatalf("processed/leftover = %d/%d, want 2/1", res.Processed, res.Leftover)
	}
	if res.RawGas != 60 || res.BufferedGas != 72 {
		t.Fatalf("raw/buffered = %d/%d, want 60/72", res.RawGas, res.BufferedGas)
	}
	if caller.lastSize != 2 {
		t.Fatalf("sent batch size = %d, want 2", caller.lastSize)
	}
}

func TestGasCapUnshrinkableSkips(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	task := sizedTask(1)
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasCap: 90, GasBufferPct: 20})
	res := ex.Execute(context.Background(), task)
	if res.State != StateSkipped || res.SkipReason != SkipGasCap {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
	if caller.sendCalls != 0 {
		t.Fatalf("skip must not submit")
	}
}

func TestEstimateRevertShrinksThenSkips(t *testing.T) {
	// Every size reverts: 4 -> 2 -> 1, then skip.
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) {
		return 0, errors.New("execution reverted: TroveManager: nothing to liquidate")
	}}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 3})
	res := ex.Execute(context.Background(), sizedTask(4))
	if res.State != StateSkipped || res.SkipReason != SkipEstimateRevert {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
	if res.Attempts != 1 {
		t.Fatalf("revert skips must not retry, attempts = %d", res.Attempts)
	}
	if caller.estimateCalls != 3 {
		t.Fatalf("estimate calls = %d, want 3 (sizes 4, 2, 1)", caller.estimateCalls)
	}
}

func TestFeeUnavailableSkips(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	ex := newExec(caller, &fakeChain{}, fixedFees{plan: fees.Plan{Mode: fees.ModeUnknown}}, NewSpendLedger(big.NewInt(1e15)), Config{GasBufferPct: 20})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateSkipped || res.SkipReason != SkipFeeUnavailable {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
}

func TestSpendCapSkips(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	ledger := NewSpendLedger(big.NewInt(1000))
	ledger.Add(big.NewInt(950))
	// Worst case 120 gas at 1 wei exceeds the 50 wei remaining.
	ex := newExec(caller, &fakeChain{}, knownFee(1), ledger, Config{GasBufferPct: 20})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateSkipped || res.SkipReason != SkipSpendCap {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
	if caller.sendCalls != 0 {
		t.Fatalf("skip must not submit")
	}
	if res.Processed != 0 || res.Leftover != 1 {
		t.Fatalf("skipped job must report everything as leftover: %+v", res)
	}
}

func TestInsufficientBalanceSkips(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	chain := &fakeChain{balance: big.NewInt(50)}
	ex := newExec(caller, chain, knownFee(1), nil, Config{GasBufferPct: 20})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateSkipped || res.SkipReason != SkipInsufficientBalance {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
}

func TestBalanceReadFailureFailsClosed(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	chain := &fakeChain{balErr: errors.New("rpc down")}
	ex := newExec(caller, chain, knownFee(1), nil, Config{GasBufferPct: 20})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateSkipped || res.SkipReason != SkipInsufficientBalance {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
}

func TestSendLogicErrorNoRetry(t *testing.T) {
	caller := &fakeCaller{
		estimateFn: func(int) (uint64, error) { return 100, nil },
		sendFn:     func() (common.Hash, error) { return common.Hash{}, errors.New("execution reverted") },
	}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 3})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateFailed || res.FailClass != ClassLogic {
		t.Fatalf("state = %s class = %s", res.State, res.FailClass)
	}
	if caller.sendCalls != 1 {
		t.Fatalf("logic failures must not retry, sends = %d", caller.sendCalls)
	}
}

func TestTransientSendRetriesAndReplansOnce(t *testing.T) {
	replans := 0
	sends := 0
	caller := &fakeCaller{
		estimateFn: func(int) (uint64, error) { return 100, nil },
	}
	caller.sendFn = func() (common.Hash, error) {
		sends++
		if sends < 3 {
			return common.Hash{}, errors.New("connection reset by peer")
		}
		return common.HexToHash("0xabc"), nil
	}
	task := sizedTask(1)
	task.Replan = func(ctx context.Context) (trove.Payload, error) {
		replans++
		return task.Payload, nil
	}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 3})
	res := ex.Execute(context.Background(), task)
	if res.State != StateDone {
		t.Fatalf("state = %s (err %v)", res.State, res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
	if replans != 1 {
		t.Fatalf("replans = %d, want exactly 1", replans)
	}
}

func TestShrunkBatchSurvivesRetry(t *testing.T) {
	// Batch of 4 reverts on estimation until halved to 2, then the first
	// send fails transiently. The retry re-estimates from the shrunk count,
	// and the result owns up to the two candidates that were cut off.
	sends := 0
	caller := &fakeCaller{estimateFn: func(k int) (uint64, error) {
		if k > 2 {
			return 0, errors.New("execution reverted: TroveManager: nothing to liquidate")
		}
		return 100, nil
	}}
	caller.sendFn = func() (common.Hash, error) {
		sends++
		if sends == 1 {
			return common.Hash{}, errors.New("connection reset by peer")
		}
		return common.HexToHash("0xabc"), nil
	}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 2})
	res := ex.Execute(context.Background(), sizedTask(4))
	if res.State != StateDone {
		t.Fatalf("state = %s (err %v)", res.State, res.Err)
	}
	if caller.sentSize != 2 {
		t.Fatalf("submitted batch size = %d, want 2", caller.sentSize)
	}
	if res.Processed != 2 || res.Leftover != 2 {
		t.Fatalf("processed/leftover = %d/%d, want 2/2", res.Processed, res.Leftover)
	}
	// Attempt 1: sizes 4 and 2. Attempt 2 re-estimates the shrunk batch only.
	if caller.estimateCalls != 3 {
		t.Fatalf("estimate calls = %d, want 3", caller.estimateCalls)
	}
}

func TestRetriesExhausted(t *testing.T) {
	caller := &fakeCaller{
		estimateFn: func(int) (uint64, error) { return 100, nil },
		sendFn:     func() (common.Hash, error) { return common.Hash{}, errors.New("i/o timeout") },
	}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 2})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateFailed || res.FailClass != ClassTransient {
		t.Fatalf("state = %s class = %s", res.State, res.FailClass)
	}
	if caller.sendCalls != 3 {
		t.Fatalf("sends = %d, want maxRetries+1", caller.sendCalls)
	}
	if caller.estimateCalls != 2 {
		t.Fatalf("estimate calls = %d, want 2 (plan + one re-plan, then reuse)", caller.estimateCalls)
	}
	if res.Processed != 0 || res.Leftover != 1 {
		t.Fatalf("failed job must report everything as leftover: %+v", res)
	}
}

func TestRevertedReceiptFailsWithCostLedgered(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	chain := &fakeChain{receipt: &types.Receipt{
		Status: types.ReceiptStatusFailed, GasUsed: 90, EffectiveGasPrice: big.NewInt(2),
	}}
	ex := newExec(caller, chain, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 3})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateFailed || res.FailClass != ClassLogic {
		t.Fatalf("state = %s class = %s", res.State, res.FailClass)
	}
	if res.Cost.Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("cost = %s, want 180", res.Cost)
	}
	if ex.Ledger().Spent().Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("reverted tx cost must still be ledgered, spent = %s", ex.Ledger().Spent())
	}
	if caller.sendCalls != 1 {
		t.Fatalf("on-chain revert must not be resent")
	}
}

func TestWaitTimeoutIsTerminal(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	chain := &fakeChain{waitErr: context.DeadlineExceeded}
	ex := newExec(caller, chain, knownFee(1), nil, Config{GasBufferPct: 20, MaxRetries: 3})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateFailed || res.FailClass != ClassTransient {
		t.Fatalf("state = %s class = %s", res.State, res.FailClass)
	}
	if caller.sendCalls != 1 {
		t.Fatalf("a pending tx must not be resent, sends = %d", caller.sendCalls)
	}
}

func TestDryRunStopsBeforeSend(t *testing.T) {
	caller := &fakeCaller{estimateFn: func(int) (uint64, error) { return 100, nil }}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20, DryRun: true})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateDone || !res.DryRun {
		t.Fatalf("res = %+v", res)
	}
	if caller.sendCalls != 0 {
		t.Fatalf("dry run must not submit")
	}
}

func TestPreflightRevertSkips(t *testing.T) {
	caller := &fakeCaller{
		estimateFn:  func(int) (uint64, error) { return 100, nil },
		preflightFn: func() error { return errors.New("execution reverted: nothing to do") },
	}
	ex := newExec(caller, &fakeChain{}, knownFee(1), nil, Config{GasBufferPct: 20})
	res := ex.Execute(context.Background(), sizedTask(1))
	if res.State != StateSkipped || res.SkipReason != SkipEstimateRevert {
		t.Fatalf("state = %s reason = %s", res.State, res.SkipReason)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Class
	}{
		{"execution reverted: ICR above MCR", ClassLogic},
		{"too many requests", ClassRateLimit},
		{"429 Too Many Requests", ClassRateLimit},
		{"nonce too low", ClassNonce},
		{"already known", ClassNonce},
		{"replacement transaction underpriced", ClassUnderpriced},
		{"max fee per gas less than block base fee", ClassUnderpriced},
		{"connection reset by peer", ClassTransient},
		{"some novel failure", ClassTransient},
	}
	for _, tc := range cases {
		if got := Classify(fmt.Errorf("%s", tc.msg)); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestSpendLedger(t *testing.T) {
	l := NewSpendLedger(big.NewInt(100))
	if !l.Allow(big.NewInt(100)) {
		t.Fatalf("exact fit should be allowed")
	}
	l.Add(big.NewInt(60))
	if l.Allow(big.NewInt(41)) {
		t.Fatalf("over cap should be refused")
	}
	if !l.Allow(big.NewInt(40)) {
		t.Fatalf("remaining headroom should be allowed")
	}
	uncapped := NewSpendLedger(nil)
	if uncapped.Capped() || !uncapped.Allow(big.NewInt(1e18)) {
		t.Fatalf("nil cap must be unlimited")
	}
}
