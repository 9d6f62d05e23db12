package trove

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Payload is raw calldata plus its target, ready for estimation, preflight,
// and submission. The executor owns fees, nonce, and signing.
type Payload struct {
	To   common.Address
	Data []byte
}

// LiquidatePayload builds calldata for liquidating a single trove.
func (c *Contracts) LiquidatePayload(borrower common.Address) (Payload, error) {
	data, err := c.troveManagerABI.Pack("liquidate", borrower)
	if err != nil {
		return Payload{}, fmt.Errorf("pack liquidate: %w", err)
	}
	return Payload{To: c.addrs.TroveManager, Data: data}, nil
}

// BatchLiquidatePayload builds calldata for liquidating several troves in one
// transaction. Order is preserved.
func (c *Contracts) BatchLiquidatePayload(borrowers []common.Address) (Payload, error) {
	if len(borrowers) == 0 {
		return Payload{}, fmt.Errorf("batch liquidate: empty borrower list")
	}
	data, err := c.troveManagerABI.Pack("batchLiquidateTroves", borrowers)
	if err != nil {
		return Payload{}, fmt.Errorf("pack batchLiquidateTroves: %w", err)
	}
	return Payload{To: c.addrs.TroveManager, Data: data}, nil
}

// RedeemParams carries everything redeemCollateral needs beyond the amount.
type RedeemParams struct {
	FirstHint     common.Address
	UpperHint     common.Address
	LowerHint     common.Address
	PartialNICR   *big.Int
	MaxIterations uint64
	MaxFeePct     *big.Int // wad fraction
}

// RedeemPayload builds calldata for a hinted redemption.
func (c *Contracts) RedeemPayload(amount *big.Int, p RedeemParams) (Payload, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Payload{}, fmt.Errorf("redeem: amount must be positive")
	}
	partial := p.PartialNICR
	if partial == nil {
		partial = new(big.Int)
	}
	maxFee := p.MaxFeePct
	if maxFee == nil {
		maxFee = new(big.Int)
	}
	data, err := c.troveManagerABI.Pack(
		"redeemCollateral",
		amount,
		p.FirstHint,
		p.UpperHint,
		p.LowerHint,
		partial,
		new(big.Int).SetUint64(p.MaxIterations),
		maxFee,
	)
	if err != nil {
		return Payload{}, fmt.Errorf("pack redeemCollateral: %w", err)
	}
	return Payload{To: c.addrs.TroveManager, Data: data}, nil
}
