// Package planner turns candidate sets into bounded units of work: ordered
// liquidation chunks, or a validated redemption plan.
package planner

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Job is one unit of liquidation work. Candidates keep the order the scanner
// produced; the executor only ever takes prefixes.
type Job struct {
	Candidates []common.Address
	// FallbackOnFailure lets the executor shrink the batch when estimation
	// rejects it.
	FallbackOnFailure bool
	// SingleBatch forbids shrinking: the job executes whole or not at all.
	SingleBatch bool
}

// ChunkLiquidations splits candidates into jobs of at most maxPerJob entries,
// preserving order. It is pure and total: nil in, nil out.
func ChunkLiquidations(candidates []common.Address, maxPerJob int, fallback, singleBatch bool) []Job {
	if len(candidates) == 0 {
		return nil
	}
	if maxPerJob <= 0 {
		maxPerJob = 1
	}
	jobs := make([]Job, 0, (len(candidates)+maxPerJob-1)/maxPerJob)
	for start := 0; start < len(candidates); start += maxPerJob {
		end := start + maxPerJob
		if end > len(candidates) {
			end = len(candidates)
		}
		jobs = append(jobs, Job{
			Candidates:        append([]common.Address(nil), candidates[start:end]...),
			FallbackOnFailure: fallback,
			SingleBatch:       singleBatch,
		})
	}
	return jobs
}

// RejectReason tags why a redemption request cannot be executed.
type RejectReason string

const (
	RejectNoopAmount       RejectReason = "NOOP_AMOUNT"
	RejectTruncatedToZero  RejectReason = "TRUNCATED_TO_ZERO"
	RejectStrictTruncation RejectReason = "STRICT_TRUNCATION_MISMATCH"
	RejectInvalidRecipient RejectReason = "INVALID_RECIPIENT"
)

// RejectError carries the tagged reason as an error.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("redemption rejected: %s", e.Reason)
}

// Reject returns the reason when err is a redemption rejection.
func Reject(err error) (RejectReason, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// RedeemRequest is the raw ask plus what the hint query reported back.
type RedeemRequest struct {
	Amount    *big.Int // requested, wad mUSD
	Truncated *big.Int // from the hint bundle
	MaxChunk  *big.Int // nil = uncapped
	Strict    bool     // reject when truncation changed the amount
	Recipient common.Address
}

// RedeemPlan is an executable redemption.
type RedeemPlan struct {
	Requested *big.Int
	Truncated *big.Int
	Effective *big.Int
	Recipient common.Address
}

// PlanRedemption applies the invariant chain: no-op amount,
// truncated-to-zero, strict mismatch, invalid recipient; otherwise
// effective = min(truncated, maxChunk).
func PlanRedemption(req RedeemRequest) (RedeemPlan, error) {
	if req.Amount == nil || req.Amount.Sign() == 0 {
		return RedeemPlan{}, &RejectError{Reason: RejectNoopAmount}
	}
	if req.Truncated == nil || req.Truncated.Sign() == 0 {
		return RedeemPlan{}, &RejectError{Reason: RejectTruncatedToZero}
	}
	if req.Strict && req.Truncated.Cmp(req.Amount) != 0 {
		return RedeemPlan{}, &RejectError{Reason: RejectStrictTruncation}
	}
	if (req.Recipient == common.Address{}) {
		return RedeemPlan{}, &RejectError{Reason: RejectInvalidRecipient}
	}

	effective := new(big.Int).Set(req.Truncated)
	if req.MaxChunk != nil && req.MaxChunk.Sign() > 0 && effective.Cmp(req.MaxChunk) > 0 {
		effective.Set(req.MaxChunk)
	}
	return RedeemPlan{
		Requested: new(big.Int).Set(req.Amount),
		Truncated: new(big.Int).Set(req.Truncated),
		Effective: effective,
		Recipient: req.Recipient,
	}, nil
}
