package trove

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

func callValues(ctx context.Context, contract *bind.BoundContract, method string, args ...any) ([]any, error) {
	if contract == nil {
		return nil, fmt.Errorf("%s: contract not configured", method)
	}
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func oneBig(vals []any, method string) (*big.Int, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

func oneAddress(vals []any, method string) (common.Address, error) {
	if len(vals) != 1 {
		return common.Address{}, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	v, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}

// CurrentICR returns the borrower's collateral ratio at the given wad price.
func (c *Contracts) CurrentICR(ctx context.Context, borrower common.Address, price *big.Int) (*big.Int, error) {
	vals, err := callValues(ctx, c.troveManager, "getCurrentICR", borrower, price)
	if err != nil {
		return nil, err
	}
	return oneBig(vals, "getCurrentICR")
}

// Size returns the number of troves in the sorted list.
func (c *Contracts) Size(ctx context.Context) (uint64, error) {
	vals, err := callValues(ctx, c.sorted, "getSize")
	if err != nil {
		return 0, err
	}
	n, err := oneBig(vals, "getSize")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("getSize: value out of range: %s", n)
	}
	return n.Uint64(), nil
}

// Last returns the tail of the sorted list (the riskiest trove), or the zero
// address when the list is empty.
func (c *Contracts) Last(ctx context.Context) (common.Address, error) {
	vals, err := callValues(ctx, c.sorted, "getLast")
	if err != nil {
		return common.Address{}, err
	}
	return oneAddress(vals, "getLast")
}

// Prev returns the neighbor one step toward the safe end of the list.
func (c *Contracts) Prev(ctx context.Context, id common.Address) (common.Address, error) {
	vals, err := callValues(ctx, c.sorted, "getPrev", id)
	if err != nil {
		return common.Address{}, err
	}
	return oneAddress(vals, "getPrev")
}

// RedemptionHints asks the hint helper where a redemption of amount would
// start and how much of it the protocol would actually accept.
func (c *Contracts) RedemptionHints(ctx context.Context, amount, price *big.Int, maxIterations uint64) (common.Address, *big.Int, *big.Int, error) {
	vals, err := callValues(ctx, c.hints, "getRedemptionHints", amount, price, new(big.Int).SetUint64(maxIterations))
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	if len(vals) != 3 {
		return common.Address{}, nil, nil, fmt.Errorf("getRedemptionHints: unexpected result len %d", len(vals))
	}
	first, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("getRedemptionHints: unexpected hint type %T", vals[0])
	}
	partial, ok := vals[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("getRedemptionHints: unexpected nicr type %T", vals[1])
	}
	truncated, ok := vals[2].(*big.Int)
	if !ok {
		return common.Address{}, nil, nil, fmt.Errorf("getRedemptionHints: unexpected amount type %T", vals[2])
	}
	return first, partial, truncated, nil
}

// InsertPosition resolves the upper/lower neighbors for reinserting a
// partially redeemed trove at the given nominal ICR.
func (c *Contracts) InsertPosition(ctx context.Context, nicr *big.Int, seedA, seedB common.Address) (common.Address, common.Address, error) {
	vals, err := callValues(ctx, c.sorted, "findInsertPosition", nicr, seedA, seedB)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	if len(vals) != 2 {
		return common.Address{}, common.Address{}, fmt.Errorf("findInsertPosition: unexpected result len %d", len(vals))
	}
	upper, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("findInsertPosition: unexpected type %T", vals[0])
	}
	lower, ok := vals[1].(common.Address)
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("findInsertPosition: unexpected type %T", vals[1])
	}
	return upper, lower, nil
}

// LatestRound reads the aggregator's current round. updatedAt of zero is
// passed through; the price gate decides what to make of it.
func (c *Contracts) LatestRound(ctx context.Context) (*big.Int, time.Time, error) {
	vals, err := callValues(ctx, c.aggregator, "latestRoundData")
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(vals) != 5 {
		return nil, time.Time{}, fmt.Errorf("latestRoundData: unexpected result len %d", len(vals))
	}
	answer, ok := vals[1].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("latestRoundData: unexpected answer type %T", vals[1])
	}
	updatedAt, ok := vals[3].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("latestRoundData: unexpected updatedAt type %T", vals[3])
	}
	var ts time.Time
	if updatedAt.Sign() > 0 && updatedAt.IsInt64() {
		ts = time.Unix(updatedAt.Int64(), 0)
	}
	return answer, ts, nil
}

// LatestAnswer is the aggregator's plain point read, used only when round
// data is unavailable and no staleness window is enforced.
func (c *Contracts) LatestAnswer(ctx context.Context) (*big.Int, error) {
	vals, err := callValues(ctx, c.aggregator, "latestAnswer")
	if err != nil {
		return nil, err
	}
	return oneBig(vals, "latestAnswer")
}
