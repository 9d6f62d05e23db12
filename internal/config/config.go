// Package config loads keeper configuration from a YAML file, a .env file,
// and environment variable overrides, then resolves raw strings into the
// typed values the rest of the keeper consumes.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"gopkg.in/yaml.v3"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/ethutil"
	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

// raw mirrors the YAML file layout. Amounts are decimal strings so operators
// write "0.05" rather than wei.
type raw struct {
	Chain struct {
		RPCURL    string  `yaml:"rpc_url"`
		ChainID   int64   `yaml:"chain_id"`
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
	} `yaml:"chain"`
	Contracts struct {
		TroveManager    string `yaml:"trove_manager"`
		SortedTroves    string `yaml:"sorted_troves"`
		HintHelpers     string `yaml:"hint_helpers"`
		PriceAggregator string `yaml:"price_aggregator"`
	} `yaml:"contracts"`
	Scan struct {
		MCR            string `yaml:"mcr"`
		MaxScan        int    `yaml:"max_scan"`
		EarlyExitAfter int    `yaml:"early_exit_after"`
		DenyList       string `yaml:"deny_list"`
	} `yaml:"scan"`
	Liquidation struct {
		MaxPerJob         int   `yaml:"max_per_job"`
		FallbackOnFailure *bool `yaml:"fallback_on_failure"`
		SingleBatch       bool  `yaml:"single_batch"`
	} `yaml:"liquidation"`
	Redemption struct {
		Amount           string `yaml:"amount"`
		MaxChunk         string `yaml:"max_chunk"`
		StrictTruncation bool   `yaml:"strict_truncation"`
		MaxIterations    uint64 `yaml:"max_iterations"`
		MaxFeePct        string `yaml:"max_fee_pct"`
		Recipient        string `yaml:"recipient"`
	} `yaml:"redemption"`
	Price struct {
		Min             string `yaml:"min"`
		Max             string `yaml:"max"`
		MaxAge          string `yaml:"max_age"`
		OracleDecimals  int32  `yaml:"oracle_decimals"`
		FeedURL         string `yaml:"feed_url"`
		FeedProduct     string `yaml:"feed_product"`
		MaxDeviationBps int64  `yaml:"max_deviation_bps"`
	} `yaml:"price"`
	Limits struct {
		GasCap       uint64 `yaml:"gas_cap"`
		SpendCap     string `yaml:"spend_cap"`
		MinBalance   string `yaml:"min_balance"`
		GasBufferPct uint64 `yaml:"gas_buffer_pct"`
		MaxFeeGwei   string `yaml:"max_fee_gwei"`
		MaxRetries   int    `yaml:"max_retries"`
		BackoffBase  string `yaml:"backoff_base"`
	} `yaml:"limits"`
	Keeper struct {
		Schedule string `yaml:"schedule"`
		DryRun   bool   `yaml:"dry_run"`
	} `yaml:"keeper"`
	State struct {
		Dir string `yaml:"dir"`
	} `yaml:"state"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
}

// Config is the resolved configuration consumed by the keeper packages.
type Config struct {
	RPCURL    string
	ChainID   int64
	RateLimit float64
	Burst     int

	TroveManager    common.Address
	SortedTroves    common.Address
	HintHelpers     common.Address
	PriceAggregator common.Address

	MCR            *big.Int // wad
	MaxScan        int
	EarlyExitAfter int
	DenyList       map[common.Address]struct{}

	MaxPerJob         int
	FallbackOnFailure bool
	SingleBatch       bool

	RedeemAmount     *big.Int // wad mUSD
	RedeemMaxChunk   *big.Int // nil = uncapped
	StrictTruncation bool
	MaxIterations    uint64
	RedeemMaxFeePct  *big.Int // wad fraction, e.g. 0.05 = 5%
	RedeemRecipient  common.Address

	MinPrice        *big.Int // wad, nil = unbounded
	MaxPrice        *big.Int
	PriceMaxAge     time.Duration
	OracleDecimals  int32
	FeedURL         string
	FeedProduct     string
	MaxDeviationBps int64

	GasCap       uint64
	SpendCap     *big.Int // wei, nil = uncapped
	MinBalance   *big.Int // wei, nil = no floor
	GasBufferPct uint64
	MaxFeePerGas *big.Int // wei, nil = resolve from market
	MaxRetries   int
	BackoffBase  time.Duration

	Schedule string
	DryRun   bool

	StateDir   string
	SQLitePath string
	ListenAddr string
}

// LoadDotenv loads a .env file if present. A missing file is not an error.
func LoadDotenv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the YAML config at path (missing file is allowed; env can carry
// everything), applies environment overrides and defaults, and resolves the
// typed config.
func Load(path string) (*Config, error) {
	var r raw
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&r)
	applyDefaults(&r)
	return resolve(&r)
}

func applyEnv(r *raw) {
	if v := os.Getenv("RPC_URL"); v != "" {
		r.Chain.RPCURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.Chain.ChainID = id
		}
	}
	if v := os.Getenv("TROVE_MANAGER"); v != "" {
		r.Contracts.TroveManager = v
	}
	if v := os.Getenv("SORTED_TROVES"); v != "" {
		r.Contracts.SortedTroves = v
	}
	if v := os.Getenv("HINT_HELPERS"); v != "" {
		r.Contracts.HintHelpers = v
	}
	if v := os.Getenv("PRICE_AGGREGATOR"); v != "" {
		r.Contracts.PriceAggregator = v
	}
	if v := os.Getenv("DENY_LIST"); v != "" {
		r.Scan.DenyList = v
	}
	if v := os.Getenv("REDEEM_AMOUNT"); v != "" {
		r.Redemption.Amount = v
	}
	if v := os.Getenv("SPEND_CAP"); v != "" {
		r.Limits.SpendCap = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		r.Keeper.DryRun = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("STATE_DIR"); v != "" {
		r.State.Dir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		r.Database.SQLitePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		r.Server.ListenAddr = v
	}
}

func applyDefaults(r *raw) {
	if r.Chain.RateLimit == 0 {
		r.Chain.RateLimit = 20
	}
	if r.Chain.Burst == 0 {
		r.Chain.Burst = 40
	}
	if r.Scan.MCR == "" {
		r.Scan.MCR = "1.1"
	}
	if r.Scan.MaxScan == 0 {
		r.Scan.MaxScan = 200
	}
	if r.Scan.EarlyExitAfter == 0 {
		r.Scan.EarlyExitAfter = 50
	}
	if r.Liquidation.MaxPerJob == 0 {
		r.Liquidation.MaxPerJob = 10
	}
	if r.Liquidation.FallbackOnFailure == nil {
		b := true
		r.Liquidation.FallbackOnFailure = &b
	}
	if r.Redemption.MaxIterations == 0 {
		r.Redemption.MaxIterations = 50
	}
	if r.Redemption.MaxFeePct == "" {
		r.Redemption.MaxFeePct = "0.05"
	}
	if r.Price.MaxAge == "" {
		r.Price.MaxAge = "0s"
	}
	if r.Price.OracleDecimals == 0 {
		r.Price.OracleDecimals = 8
	}
	if r.Limits.GasBufferPct == 0 {
		r.Limits.GasBufferPct = 20
	}
	if r.Limits.MaxRetries == 0 {
		r.Limits.MaxRetries = 3
	}
	if r.Limits.BackoffBase == "" {
		r.Limits.BackoffBase = "2s"
	}
	if r.Keeper.Schedule == "" {
		r.Keeper.Schedule = "@every 30s"
	}
	if r.State.Dir == "" {
		r.State.Dir = "data/state"
	}
}

func resolve(r *raw) (*Config, error) {
	cfg := &Config{
		RPCURL:    strings.TrimSpace(r.Chain.RPCURL),
		ChainID:   r.Chain.ChainID,
		RateLimit: r.Chain.RateLimit,
		Burst:     r.Chain.Burst,

		MaxScan:        r.Scan.MaxScan,
		EarlyExitAfter: r.Scan.EarlyExitAfter,

		MaxPerJob:         r.Liquidation.MaxPerJob,
		FallbackOnFailure: *r.Liquidation.FallbackOnFailure,
		SingleBatch:       r.Liquidation.SingleBatch,

		StrictTruncation: r.Redemption.StrictTruncation,
		MaxIterations:    r.Redemption.MaxIterations,

		OracleDecimals:  r.Price.OracleDecimals,
		FeedURL:         strings.TrimSpace(r.Price.FeedURL),
		FeedProduct:     strings.TrimSpace(r.Price.FeedProduct),
		MaxDeviationBps: r.Price.MaxDeviationBps,

		GasCap:       r.Limits.GasCap,
		GasBufferPct: r.Limits.GasBufferPct,
		MaxRetries:   r.Limits.MaxRetries,

		Schedule: r.Keeper.Schedule,
		DryRun:   r.Keeper.DryRun,

		StateDir:   r.State.Dir,
		SQLitePath: r.Database.SQLitePath,
		ListenAddr: r.Server.ListenAddr,
	}

	var err error
	if cfg.TroveManager, err = parseAddr("contracts.trove_manager", r.Contracts.TroveManager); err != nil {
		return nil, err
	}
	if cfg.SortedTroves, err = parseAddr("contracts.sorted_troves", r.Contracts.SortedTroves); err != nil {
		return nil, err
	}
	if cfg.HintHelpers, err = parseAddr("contracts.hint_helpers", r.Contracts.HintHelpers); err != nil {
		return nil, err
	}
	if cfg.PriceAggregator, err = parseAddr("contracts.price_aggregator", r.Contracts.PriceAggregator); err != nil {
		return nil, err
	}
	if cfg.RedeemRecipient, err = parseOptionalAddr("redemption.recipient", r.Redemption.Recipient); err != nil {
		return nil, err
	}

	if cfg.MCR, err = weiutil.ParseWad(r.Scan.MCR); err != nil {
		return nil, fmt.Errorf("scan.mcr: %w", err)
	}
	if cfg.DenyList, err = ethutil.ParseAddressSet(r.Scan.DenyList); err != nil {
		return nil, fmt.Errorf("scan.deny_list: %w", err)
	}

	if cfg.RedeemAmount, err = parseOptionalWad("redemption.amount", r.Redemption.Amount); err != nil {
		return nil, err
	}
	if cfg.RedeemMaxChunk, err = parseOptionalWad("redemption.max_chunk", r.Redemption.MaxChunk); err != nil {
		return nil, err
	}
	if cfg.RedeemMaxFeePct, err = weiutil.ParseWad(r.Redemption.MaxFeePct); err != nil {
		return nil, fmt.Errorf("redemption.max_fee_pct: %w", err)
	}

	if cfg.MinPrice, err = parseOptionalWad("price.min", r.Price.Min); err != nil {
		return nil, err
	}
	if cfg.MaxPrice, err = parseOptionalWad("price.max", r.Price.Max); err != nil {
		return nil, err
	}
	if cfg.PriceMaxAge, err = parseDuration("price.max_age", r.Price.MaxAge); err != nil {
		return nil, err
	}

	if cfg.SpendCap, err = parseOptionalWad("limits.spend_cap", r.Limits.SpendCap); err != nil {
		return nil, err
	}
	if cfg.MinBalance, err = parseOptionalWad("limits.min_balance", r.Limits.MinBalance); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Limits.MaxFeeGwei) != "" {
		if cfg.MaxFeePerGas, err = weiutil.ParseGwei(r.Limits.MaxFeeGwei); err != nil {
			return nil, fmt.Errorf("limits.max_fee_gwei: %w", err)
		}
	}
	if cfg.BackoffBase, err = parseDuration("limits.backoff_base", r.Limits.BackoffBase); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseAddr(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseOptionalAddr(field, s string) (common.Address, error) {
	return parseAddr(field, s)
}

func parseOptionalWad(field, s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := weiutil.ParseWad(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

// Validate checks the fields every agent needs. Agent-specific requirements
// (redemption amount, contracts) are checked by the agents themselves.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (or set RPC_URL)")
	}
	if !strings.HasPrefix(c.RPCURL, "http") && !strings.HasPrefix(c.RPCURL, "ws") {
		return fmt.Errorf("chain.rpc_url must be http(s):// or ws(s)://, got %q", c.RPCURL)
	}
	if strings.Contains(c.RPCURL, "YOUR_KEY") {
		return fmt.Errorf("chain.rpc_url still contains placeholder YOUR_KEY")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if (c.TroveManager == common.Address{}) {
		return fmt.Errorf("contracts.trove_manager is required")
	}
	if (c.SortedTroves == common.Address{}) {
		return fmt.Errorf("contracts.sorted_troves is required")
	}
	if (c.PriceAggregator == common.Address{}) {
		return fmt.Errorf("contracts.price_aggregator is required")
	}
	if c.MCR == nil || c.MCR.Sign() <= 0 {
		return fmt.Errorf("scan.mcr must be positive")
	}
	if c.MaxScan <= 0 {
		return fmt.Errorf("scan.max_scan must be positive")
	}
	if c.MaxPerJob <= 0 {
		return fmt.Errorf("liquidation.max_per_job must be positive")
	}
	if c.MinPrice != nil && c.MaxPrice != nil && c.MinPrice.Cmp(c.MaxPrice) > 0 {
		return fmt.Errorf("price.min exceeds price.max")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("limits.max_retries must not be negative")
	}
	return nil
}

// RedemptionValidate checks the extra fields the redeemer needs.
func (c *Config) RedemptionValidate() error {
	if (c.HintHelpers == common.Address{}) {
		return fmt.Errorf("contracts.hint_helpers is required for redemption")
	}
	if c.RedeemAmount == nil || c.RedeemAmount.Sign() <= 0 {
		return fmt.Errorf("redemption.amount must be positive (or set REDEEM_AMOUNT)")
	}
	if c.MaxIterations == 0 {
		return fmt.Errorf("redemption.max_iterations must be positive")
	}
	return nil
}
