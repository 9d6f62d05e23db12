// Package fees resolves a per-transaction fee plan, falling back through
// pricing modes as data sources come up short.
package fees

import (
	"context"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// Mode names the pricing strategy a plan ended up on.
type Mode string

const (
	ModeDynamic Mode = "market-priority"
	ModeLegacy  Mode = "fixed-price"
	ModeUnknown Mode = "unknown"
)

// Plan is the resolved fee schedule for one transaction. Known reports
// whether the per-gas ceiling is trustworthy; spend caps must not be
// enforced against an unknown plan.
type Plan struct {
	Mode          Mode
	MaxFeePerGas  *big.Int
	TipCap        *big.Int
	GasPrice      *big.Int
	Known         bool
	PriorityKnown bool
}

// PerGas returns the worst-case price per gas unit, or nil when unknown.
func (p Plan) PerGas() *big.Int {
	switch p.Mode {
	case ModeDynamic:
		return p.MaxFeePerGas
	case ModeLegacy:
		return p.GasPrice
	}
	return nil
}

// Backend is the slice of the node API the resolver needs.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Resolver produces fee plans. A non-nil fixedMaxFee pins the ceiling and
// only the tip is fetched from the network.
type Resolver struct {
	backend     Backend
	fixedMaxFee *big.Int
}

func NewResolver(backend Backend, fixedMaxFee *big.Int) *Resolver {
	var fixed *big.Int
	if fixedMaxFee != nil && fixedMaxFee.Sign() > 0 {
		fixed = new(big.Int).Set(fixedMaxFee)
	}
	return &Resolver{backend: backend, fixedMaxFee: fixed}
}

// Resolve walks the fallback chain: fixed ceiling, then EIP-1559 market
// pricing, then legacy gas price. It never returns an error for a missing
// price; the plan just comes back unknown.
func (r *Resolver) Resolve(ctx context.Context) Plan {
	if r.fixedMaxFee != nil {
		plan := Plan{
			Mode:         ModeDynamic,
			MaxFeePerGas: new(big.Int).Set(r.fixedMaxFee),
			Known:        true,
		}
		tip, err := r.backend.SuggestGasTipCap(ctx)
		if err != nil || tip == nil {
			// Ceiling still stands; send with a zero tip.
			log.Printf("[warn] fees: tip suggestion failed, proceeding with fixed ceiling: %v", err)
			plan.TipCap = big.NewInt(0)
			return plan
		}
		if tip.Cmp(r.fixedMaxFee) > 0 {
			tip = new(big.Int).Set(r.fixedMaxFee)
		}
		plan.TipCap = tip
		plan.PriorityKnown = true
		return plan
	}

	if plan, ok := r.market(ctx); ok {
		return plan
	}

	if price, err := r.backend.SuggestGasPrice(ctx); err == nil && price != nil && price.Sign() > 0 {
		return Plan{
			Mode:          ModeLegacy,
			GasPrice:      new(big.Int).Set(price),
			Known:         true,
			PriorityKnown: true,
		}
	} else if err != nil {
		log.Printf("[warn] fees: legacy gas price unavailable: %v", err)
	}

	return Plan{Mode: ModeUnknown}
}

func (r *Resolver) market(ctx context.Context) (Plan, bool) {
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		log.Printf("[warn] fees: head fetch failed: %v", err)
		return Plan{}, false
	}
	if head.BaseFee == nil {
		// Chain does not run EIP-1559; fall through to legacy pricing.
		return Plan{}, false
	}
	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		log.Printf("[warn] fees: tip suggestion failed: %v", err)
		return Plan{}, false
	}
	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return Plan{
		Mode:          ModeDynamic,
		MaxFeePerGas:  maxFee,
		TipCap:        new(big.Int).Set(tip),
		Known:         true,
		PriorityKnown: true,
	}, true
}
