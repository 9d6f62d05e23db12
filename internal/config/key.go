package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerKey loads the keeper's private key from KEEPER_PRIVATE_KEY or
// PRIVATE_KEY and returns the key plus its address.
func SignerKey() (*ecdsa.PrivateKey, common.Address, error) {
	pkHex := firstNonEmpty(os.Getenv("KEEPER_PRIVATE_KEY"), os.Getenv("PRIVATE_KEY"))
	if strings.TrimSpace(pkHex) == "" {
		return nil, common.Address{}, fmt.Errorf("KEEPER_PRIVATE_KEY or PRIVATE_KEY required")
	}
	pkHex = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(pkHex), "0x"))
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey), nil
}

// EphemeralKey generates a throwaway key for read-only / dry-run use.
func EphemeralKey() (*ecdsa.PrivateKey, common.Address, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return pk, crypto.PubkeyToAddress(pk.PublicKey), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
