package secrets

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/getAlby/sweephub.go/lib/service"
	"github.com/tyler-smith/go-bip39"
)

var ErrNoSeed = errors.New("either SEED_MNEMONIC or SEED_HEX must be set, but not both")

// LoadSeed resolves the master seed from the configured mnemonic or raw
// hex. The seed never leaves process memory and must never be logged.
func LoadSeed(config *service.Config) ([]byte, error) {
	hasMnemonic := config.SeedMnemonic != ""
	hasHex := config.SeedHex != ""
	if hasMnemonic == hasHex {
		return nil, ErrNoSeed
	}

	if hasMnemonic {
		mnemonic := strings.TrimSpace(config.SeedMnemonic)
		if !bip39.IsMnemonicValid(mnemonic) {
			return nil, errors.New("SEED_MNEMONIC is not a valid BIP39 mnemonic")
		}
		return bip39.NewSeed(mnemonic, ""), nil
	}

	seed, err := hex.DecodeString(strings.TrimPrefix(config.SeedHex, "0x"))
	if err != nil {
		return nil, errors.New("SEED_HEX is not valid hex")
	}
	return seed, nil
}

// LoadEVMOperatorKey parses the hot wallet key used for gas top-ups on
// the native chain.
func LoadEVMOperatorKey(config *service.Config) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(config.EVMOperatorKeyHex, "0x"))
	if err != nil {
		return nil, errors.New("EVM_OPERATOR_KEY_HEX is not a valid secp256k1 key")
	}
	return key, nil
}

// LoadSolanaOperatorKey parses the base58 hot wallet key used for rent
// and fee top-ups on the token chain.
func LoadSolanaOperatorKey(config *service.Config) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(config.SolanaOperatorKey)
	if err != nil {
		return nil, errors.New("SOLANA_OPERATOR_KEY is not a valid base58 key")
	}
	return key, nil
}
