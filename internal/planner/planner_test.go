package planner

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addrs(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}
	return out
}

func TestChunkLiquidationsOrderAndSizes(t *testing.T) {
	cands := addrs(7)
	jobs := ChunkLiquidations(cands, 3, true, false)
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}
	sizes := []int{3, 3, 1}
	seen := 0
	for i, job := range jobs {
		if len(job.Candidates) != sizes[i] {
			t.Fatalf("job %d size = %d, want %d", i, len(job.Candidates), sizes[i])
		}
		for _, a := range job.Candidates {
			if a != cands[seen] {
				t.Fatalf("job %d out of order: got %s want %s", i, a.Hex(), cands[seen].Hex())
			}
			seen++
		}
		if !job.FallbackOnFailure || job.SingleBatch {
			t.Fatalf("job %d flags not carried: %+v", i, job)
		}
	}
}

func TestChunkLiquidationsEmpty(t *testing.T) {
	if jobs := ChunkLiquidations(nil, 5, true, false); jobs != nil {
		t.Fatalf("expected nil jobs, got %v", jobs)
	}
}

func TestChunkLiquidationsBadSize(t *testing.T) {
	jobs := ChunkLiquidations(addrs(2), 0, false, true)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want one per candidate", len(jobs))
	}
	if !jobs[0].SingleBatch {
		t.Fatalf("SingleBatch not carried")
	}
}

func wad(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wad " + s)
	}
	return v
}

func TestPlanRedemptionEffectiveIsMin(t *testing.T) {
	plan, err := PlanRedemption(RedeemRequest{
		Amount:    wad("100000000000000000000"),
		Truncated: wad("80000000000000000000"),
		MaxChunk:  wad("50000000000000000000"),
		Recipient: common.BigToAddress(big.NewInt(9)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Effective.Cmp(wad("50000000000000000000")) != 0 {
		t.Fatalf("effective = %s, want capped at max chunk", plan.Effective)
	}
	if plan.Truncated.Cmp(wad("80000000000000000000")) != 0 {
		t.Fatalf("truncated mutated: %s", plan.Truncated)
	}
}

func TestPlanRedemptionUncapped(t *testing.T) {
	plan, err := PlanRedemption(RedeemRequest{
		Amount:    wad("100000000000000000000"),
		Truncated: wad("80000000000000000000"),
		Recipient: common.BigToAddress(big.NewInt(9)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Effective.Cmp(plan.Truncated) != 0 {
		t.Fatalf("effective = %s, want truncated amount", plan.Effective)
	}
}

func TestPlanRedemptionRejects(t *testing.T) {
	recipient := common.BigToAddress(big.NewInt(9))
	cases := []struct {
		name string
		req  RedeemRequest
		want RejectReason
	}{
		{"zero amount", RedeemRequest{Amount: big.NewInt(0), Recipient: recipient}, RejectNoopAmount},
		{"nil amount", RedeemRequest{Recipient: recipient}, RejectNoopAmount},
		{"zero recipient", RedeemRequest{Amount: big.NewInt(1), Truncated: big.NewInt(1)}, RejectInvalidRecipient},
		{"truncated to zero", RedeemRequest{Amount: big.NewInt(5), Truncated: big.NewInt(0), Recipient: recipient}, RejectTruncatedToZero},
		{"truncated to zero wins over recipient", RedeemRequest{Amount: big.NewInt(5), Truncated: big.NewInt(0)}, RejectTruncatedToZero},
		{"strict mismatch", RedeemRequest{Amount: big.NewInt(5), Truncated: big.NewInt(4), Strict: true, Recipient: recipient}, RejectStrictTruncation},
	}
	for _, tc := range cases {
		_, err := PlanRedemption(tc.req)
		reason, ok := Reject(err)
		if !ok {
			t.Fatalf("%s: expected rejection, got %v", tc.name, err)
		}
		if reason != tc.want {
			t.Fatalf("%s: reason = %s, want %s", tc.name, reason, tc.want)
		}
	}
}

func TestPlanRedemptionStrictExactMatchPasses(t *testing.T) {
	plan, err := PlanRedemption(RedeemRequest{
		Amount:    big.NewInt(5),
		Truncated: big.NewInt(5),
		Strict:    true,
		Recipient: common.BigToAddress(big.NewInt(1)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Effective.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("effective = %s", plan.Effective)
	}
}
