// Package ethutil holds small address-handling helpers shared by the
// scanner's deny-list and the configuration layer.
package ethutil

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddressList parses hex addresses from a single string separated by
// commas, semicolons, or whitespace. Duplicates are dropped (first wins).
// An empty/blank input yields (nil, nil).
func ParseAddressList(raw string) ([]common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	})

	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, part := range parts {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q in list", s)
		}
		addr := common.HexToAddress(s)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// ParseAddressSet parses like ParseAddressList but returns a membership set,
// which is what the scanner's deny-list check wants.
func ParseAddressSet(raw string) (map[common.Address]struct{}, error) {
	list, err := ParseAddressList(raw)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	out := make(map[common.Address]struct{}, len(list))
	for _, a := range list {
		out[a] = struct{}{}
	}
	return out, nil
}

// JoinHex renders addresses as a comma-separated hex list for logging.
func JoinHex(addrs []common.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Hex())
	}
	return strings.Join(parts, ",")
}

// HexList renders addresses as individual hex strings, used when building
// state records.
func HexList(addrs []common.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}
