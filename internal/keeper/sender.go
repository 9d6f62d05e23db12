package keeper

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/chain"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/fees"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/trove"
)

// Sender signs and submits payloads from one keeper account. It implements
// the executor's Caller and Backend.
type Sender struct {
	client  *chain.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer
}

func NewSender(client *chain.Client, key *ecdsa.PrivateKey, chainID *big.Int) *Sender {
	return &Sender{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// From is the keeper account address.
func (s *Sender) From() common.Address { return s.from }

func (s *Sender) msg(p trove.Payload) ethereum.CallMsg {
	to := p.To
	return ethereum.CallMsg{From: s.from, To: &to, Data: p.Data}
}

func (s *Sender) Estimate(ctx context.Context, p trove.Payload) (uint64, error) {
	return s.client.EstimateGas(ctx, s.msg(p))
}

func (s *Sender) Preflight(ctx context.Context, p trove.Payload) error {
	_, err := s.client.CallContract(ctx, s.msg(p), nil)
	return err
}

// Send signs a transaction shaped by the fee plan and submits it. The nonce
// is taken from the pending pool so a retry after a nonce error picks up the
// corrected value.
func (s *Sender) Send(ctx context.Context, p trove.Payload, gasLimit uint64, plan fees.Plan) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetching nonce: %w", err)
	}

	to := p.To
	var tx *types.Transaction
	switch plan.Mode {
	case fees.ModeDynamic:
		tip := plan.TipCap
		if tip == nil {
			tip = new(big.Int)
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: plan.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &to,
			Data:      p.Data,
		})
	case fees.ModeLegacy:
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: plan.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Data:     p.Data,
		})
	default:
		return common.Hash{}, fmt.Errorf("cannot send with fee mode %q", plan.Mode)
	}

	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

func (s *Sender) Balance(ctx context.Context) (*big.Int, error) {
	return s.client.BalanceAt(ctx, s.from, nil)
}

// WaitMined polls for the receipt until it lands or the timeout expires.
func (s *Sender) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			log.Printf("[warn] receipt poll for %s: %v", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
