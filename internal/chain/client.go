// Package chain wraps ethclient with a shared rate limiter and per-call
// timeouts so traversal-heavy reads cannot hammer the RPC provider.
//
// Client implements bind.ContractBackend, so bound contracts built on top of
// it inherit the limiter.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

const defaultCallTimeout = 12 * time.Second

type Client struct {
	eth         *ethclient.Client
	limiter     *rate.Limiter
	callTimeout time.Duration
}

// Dial connects to rpcURL. ratePerSec bounds outgoing RPC calls; burst allows
// short spikes (a scan issues two calls per hop).
func Dial(ctx context.Context, rpcURL string, ratePerSec float64, burst int) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url missing")
	}
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	if burst <= 0 {
		burst = int(ratePerSec)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{
		eth:         eth,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), burst),
		callTimeout: defaultCallTimeout,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	return callCtx, cancel, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.ChainID(callCtx)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.BalanceAt(callCtx, account, blockNumber)
}

// WaitMined blocks until the transaction is mined or the timeout elapses.
// A zero timeout waits as long as ctx allows.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return bind.WaitMined(waitCtx, c.eth, tx)
}

// bind.ContractCaller

func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.CodeAt(callCtx, contract, blockNumber)
}

func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.CallContract(callCtx, call, blockNumber)
}

// bind.ContractTransactor

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.HeaderByNumber(callCtx, number)
}

func (c *Client) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.PendingCodeAt(callCtx, account)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	return c.eth.PendingNonceAt(callCtx, account)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.SuggestGasPrice(callCtx)
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.SuggestGasTipCap(callCtx)
}

func (c *Client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	return c.eth.EstimateGas(callCtx, call)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return c.eth.SendTransaction(callCtx, tx)
}

// bind.ContractFilterer

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.FilterLogs(callCtx, q)
}

func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.SubscribeFilterLogs(ctx, q, ch)
}

// bind.DeployBackend

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	callCtx, cancel, err := c.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.eth.TransactionReceipt(callCtx, txHash)
}
