// Package hints resolves the hint bundle a redemption transaction needs:
// where redemption starts, how much of the requested amount the protocol
// will accept, and where a partially redeemed trove would be reinserted.
package hints

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// None is the sentinel "no hint" identifier.
var None common.Address

// Source is the protocol's hint surface.
type Source interface {
	RedemptionHints(ctx context.Context, amount, price *big.Int, maxIterations uint64) (common.Address, *big.Int, *big.Int, error)
	InsertPosition(ctx context.Context, nicr *big.Int, seedA, seedB common.Address) (common.Address, common.Address, error)
}

// TailReader walks the risky end of the sorted list to derive seeds for the
// insertion-point query.
type TailReader interface {
	Last(ctx context.Context) (common.Address, error)
	Prev(ctx context.Context, id common.Address) (common.Address, error)
}

// Bundle is everything a redeemCollateral call needs beyond the amount.
// Upper/Lower stay at None unless InsertionComputed is set: a zero partial
// NICR means the protocol will not reinsert a partially redeemed trove, so
// insertion hints would be meaningless.
type Bundle struct {
	FirstHint   common.Address
	PartialNICR *big.Int
	Truncated   *big.Int

	SeedA common.Address
	SeedB common.Address

	Upper             common.Address
	Lower             common.Address
	InsertionComputed bool
}

type Computer struct {
	src  Source
	tail TailReader

	// Configured seed overrides; None means derive from the tail.
	seedA common.Address
	seedB common.Address
}

func NewComputer(src Source, tail TailReader, seedA, seedB common.Address) *Computer {
	return &Computer{src: src, tail: tail, seedA: seedA, seedB: seedB}
}

// Compute performs the hint query, resolves seeds, and — only when the
// partial ratio is non-zero — the insertion-point query.
func (c *Computer) Compute(ctx context.Context, amount, price *big.Int, maxIterations uint64) (Bundle, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Bundle{}, fmt.Errorf("hint amount must be positive")
	}

	first, partial, truncated, err := c.src.RedemptionHints(ctx, amount, price, maxIterations)
	if err != nil {
		return Bundle{}, fmt.Errorf("redemption hints: %w", err)
	}

	b := Bundle{FirstHint: first, PartialNICR: partial, Truncated: truncated}
	b.SeedA, b.SeedB = c.resolveSeeds(ctx)

	if partial != nil && partial.Sign() != 0 {
		upper, lower, err := c.src.InsertPosition(ctx, partial, b.SeedA, b.SeedB)
		if err != nil {
			return Bundle{}, fmt.Errorf("insert position: %w", err)
		}
		b.Upper, b.Lower = upper, lower
		b.InsertionComputed = true
	}
	return b, nil
}

// resolveSeeds prefers configured seeds and otherwise walks the tail for the
// last two entries. Seed resolution is best effort: a failed read degrades to
// None rather than aborting the redemption.
func (c *Computer) resolveSeeds(ctx context.Context) (common.Address, common.Address) {
	if c.seedA != None || c.seedB != None {
		return c.seedA, c.seedB
	}

	last, err := c.tail.Last(ctx)
	if err != nil {
		log.Printf("[warn] hint seed tail read: %v", err)
		return None, None
	}
	if last == None {
		return None, None
	}
	prev, err := c.tail.Prev(ctx, last)
	if err != nil {
		log.Printf("[warn] hint seed prev read: %v", err)
		return last, None
	}
	return last, prev
}
