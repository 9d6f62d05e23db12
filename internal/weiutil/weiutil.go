// Package weiutil converts between human decimal strings and the 1e18
// fixed-point ("wad") integers the protocol contracts work in.
package weiutil

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	WadDecimals  = 18
	GweiDecimals = 9
)

// Wad is 1e18 as a big integer.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

// ParseWad parses a decimal string like "0.05" into a 1e18-scaled integer.
// Negative values and values with more than 18 fractional digits are rejected.
func ParseWad(s string) (*big.Int, error) {
	return parseScaled(s, WadDecimals)
}

// ParseGwei parses a decimal gwei string like "25" or "0.1" into wei.
func ParseGwei(s string) (*big.Int, error) {
	return parseScaled(s, GweiDecimals)
}

func parseScaled(s string, decimals int32) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatWad renders a 1e18-scaled integer as a decimal string for logs.
func FormatWad(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -WadDecimals).String()
}

// FormatGwei renders a wei amount in gwei.
func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -GweiDecimals).String()
}

// ToDecimal converts a scaled integer to a decimal with the given exponent,
// e.g. ToDecimal(price, 18) for wad values.
func ToDecimal(x *big.Int, decimals int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -decimals)
}

// Rescale converts an integer scaled to fromDecimals into one scaled to
// toDecimals. Used to normalize oracle answers (commonly 1e8) to wad.
func Rescale(x *big.Int, fromDecimals, toDecimals int32) *big.Int {
	if x == nil {
		return nil
	}
	if fromDecimals == toDecimals {
		return new(big.Int).Set(x)
	}
	out := new(big.Int).Set(x)
	if toDecimals > fromDecimals {
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		return out.Mul(out, mul)
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
	return out.Quo(out, div)
}
