// Package trove is the boundary to the on-chain protocol: the trove manager,
// the sorted-by-ICR trove list, the hint helper, and the price aggregator.
// ABIs cover only the handful of methods the keeper touches.
package trove

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const troveManagerABIJSON = `[
  {"inputs":[{"internalType":"address","name":"_borrower","type":"address"},{"internalType":"uint256","name":"_price","type":"uint256"}],"name":"getCurrentICR","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_borrower","type":"address"}],"name":"liquidate","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address[]","name":"_troveArray","type":"address[]"}],"name":"batchLiquidateTroves","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"uint256","name":"_amount","type":"uint256"},
    {"internalType":"address","name":"_firstRedemptionHint","type":"address"},
    {"internalType":"address","name":"_upperPartialRedemptionHint","type":"address"},
    {"internalType":"address","name":"_lowerPartialRedemptionHint","type":"address"},
    {"internalType":"uint256","name":"_partialRedemptionHintNICR","type":"uint256"},
    {"internalType":"uint256","name":"_maxIterations","type":"uint256"},
    {"internalType":"uint256","name":"_maxFeePercentage","type":"uint256"}
  ],"name":"redeemCollateral","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const sortedTrovesABIJSON = `[
  {"inputs":[],"name":"getSize","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getLast","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_id","type":"address"}],"name":"getPrev","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_NICR","type":"uint256"},{"internalType":"address","name":"_prevId","type":"address"},{"internalType":"address","name":"_nextId","type":"address"}],"name":"findInsertPosition","outputs":[{"internalType":"address","name":"","type":"address"},{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const hintHelpersABIJSON = `[
  {"inputs":[{"internalType":"uint256","name":"_MUSDamount","type":"uint256"},{"internalType":"uint256","name":"_price","type":"uint256"},{"internalType":"uint256","name":"_maxIterations","type":"uint256"}],"name":"getRedemptionHints","outputs":[{"internalType":"address","name":"firstRedemptionHint","type":"address"},{"internalType":"uint256","name":"partialRedemptionHintNICR","type":"uint256"},{"internalType":"uint256","name":"truncatedMUSDamount","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const aggregatorABIJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestAnswer","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"}
]`

// Addresses identifies the protocol deployment the keeper targets.
type Addresses struct {
	TroveManager    common.Address
	SortedTroves    common.Address
	HintHelpers     common.Address
	PriceAggregator common.Address
}

type Contracts struct {
	addrs Addresses

	troveManagerABI abi.ABI
	sortedABI       abi.ABI
	hintABI         abi.ABI
	aggregatorABI   abi.ABI

	troveManager *bind.BoundContract
	sorted       *bind.BoundContract
	hints        *bind.BoundContract
	aggregator   *bind.BoundContract
}

func New(backend bind.ContractBackend, addrs Addresses) (*Contracts, error) {
	if (addrs.TroveManager == common.Address{}) || (addrs.SortedTroves == common.Address{}) {
		return nil, fmt.Errorf("trove manager and sorted troves addresses required")
	}

	c := &Contracts{addrs: addrs}
	var err error
	if c.troveManagerABI, err = abi.JSON(strings.NewReader(troveManagerABIJSON)); err != nil {
		return nil, fmt.Errorf("trove manager abi: %w", err)
	}
	if c.sortedABI, err = abi.JSON(strings.NewReader(sortedTrovesABIJSON)); err != nil {
		return nil, fmt.Errorf("sorted troves abi: %w", err)
	}
	if c.hintABI, err = abi.JSON(strings.NewReader(hintHelpersABIJSON)); err != nil {
		return nil, fmt.Errorf("hint helpers abi: %w", err)
	}
	if c.aggregatorABI, err = abi.JSON(strings.NewReader(aggregatorABIJSON)); err != nil {
		return nil, fmt.Errorf("aggregator abi: %w", err)
	}

	c.troveManager = bind.NewBoundContract(addrs.TroveManager, c.troveManagerABI, backend, backend, backend)
	c.sorted = bind.NewBoundContract(addrs.SortedTroves, c.sortedABI, backend, backend, backend)
	if (addrs.HintHelpers != common.Address{}) {
		c.hints = bind.NewBoundContract(addrs.HintHelpers, c.hintABI, backend, backend, backend)
	}
	if (addrs.PriceAggregator != common.Address{}) {
		c.aggregator = bind.NewBoundContract(addrs.PriceAggregator, c.aggregatorABI, backend, backend, backend)
	}
	return c, nil
}

func (c *Contracts) Addresses() Addresses {
	return c.addrs
}
