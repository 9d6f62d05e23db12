package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const sampleYAML = `
chain:
  rpc_url: https://rpc.test.mezo.org
  chain_id: 31611
contracts:
  trove_manager: "0x0000000000000000000000000000000000000011"
  sorted_troves: "0x0000000000000000000000000000000000000012"
  hint_helpers: "0x0000000000000000000000000000000000000013"
  price_aggregator: "0x0000000000000000000000000000000000000014"
scan:
  mcr: "1.1"
  max_scan: 25
  deny_list: "0x0000000000000000000000000000000000000099"
redemption:
  amount: "250"
  max_chunk: "100"
price:
  min: "1000"
  max: "500000"
  max_age: 15m
limits:
  gas_cap: 4000000
  spend_cap: "0.25"
  max_fee_gwei: "30"
  backoff_base: 500ms
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesTypedValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := cfg.RedemptionValidate(); err != nil {
		t.Fatalf("RedemptionValidate: %v", err)
	}

	if cfg.ChainID != 31611 {
		t.Fatalf("chain id = %d", cfg.ChainID)
	}
	if cfg.MCR.String() != "1100000000000000000" {
		t.Fatalf("mcr = %s", cfg.MCR)
	}
	if cfg.MaxScan != 25 {
		t.Fatalf("max_scan = %d", cfg.MaxScan)
	}
	if _, ok := cfg.DenyList[common.HexToAddress("0x99")]; !ok {
		t.Fatalf("deny list missing entry: %#v", cfg.DenyList)
	}
	if cfg.RedeemAmount.String() != "250000000000000000000" {
		t.Fatalf("redeem amount = %s", cfg.RedeemAmount)
	}
	if cfg.SpendCap.String() != "250000000000000000" {
		t.Fatalf("spend cap = %s", cfg.SpendCap)
	}
	if cfg.MaxFeePerGas.String() != "30000000000" {
		t.Fatalf("max fee = %s", cfg.MaxFeePerGas)
	}
	if cfg.PriceMaxAge != 15*time.Minute {
		t.Fatalf("max age = %s", cfg.PriceMaxAge)
	}
	if cfg.BackoffBase != 500*time.Millisecond {
		t.Fatalf("backoff base = %s", cfg.BackoffBase)
	}

	// Defaults applied on top.
	if cfg.GasBufferPct != 20 {
		t.Fatalf("gas buffer default = %d", cfg.GasBufferPct)
	}
	if !cfg.FallbackOnFailure {
		t.Fatalf("fallback default should be true")
	}
	if cfg.Schedule != "@every 30s" {
		t.Fatalf("schedule default = %q", cfg.Schedule)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RPC_URL", "wss://override.example")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("SPEND_CAP", "1.5")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "wss://override.example" {
		t.Fatalf("rpc url = %q", cfg.RPCURL)
	}
	if !cfg.DryRun {
		t.Fatalf("dry run override not applied")
	}
	if cfg.SpendCap.String() != "1500000000000000000" {
		t.Fatalf("spend cap override = %s", cfg.SpendCap)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, "chain:\n  rpc_url: https://x\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation failure for missing chain_id/contracts")
	}
}

func TestValidateRejectsPlaceholderURL(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.RPCURL = "https://rpc.example/YOUR_KEY"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected placeholder rejection")
	}
}

func TestLoadRejectsBadAmounts(t *testing.T) {
	if _, err := Load(writeConfig(t, "limits:\n  spend_cap: nope\n")); err == nil {
		t.Fatalf("expected error for bad spend_cap")
	}
	if _, err := Load(writeConfig(t, "scan:\n  deny_list: 0xzz\n")); err == nil {
		t.Fatalf("expected error for bad deny_list")
	}
}
