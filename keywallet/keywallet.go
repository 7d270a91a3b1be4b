package keywallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/getAlby/sweephub.go/common"
)

var ErrInvalidSeed = errors.New("invalid seed material")

// Derivation path templates per asset family. The index is the only
// variable part, so an address is a pure function of (seed, index, family).
const (
	nativePathTemplate = "m/44'/60'/0'/0/%d"
	tokenPathTemplate  = "m/44'/501'/%d'/0'"
)

// Wallet derives per-invoice deposit keys from a single master seed.
// It holds only the seed, performs no I/O and hands out signing keys
// that callers are expected to drop right after use.
type Wallet struct {
	seed []byte
}

// Signer is the transient signing capability for one deposit address.
// Exactly one of Native/Token is set, matching the asset family it was
// derived for. It is never persisted.
type Signer struct {
	Family  string
	Address string
	Native  *ecdsa.PrivateKey
	Token   solana.PrivateKey
}

func New(seed []byte) (*Wallet, error) {
	// BIP32 bounds; BIP39 always yields 64 bytes
	if len(seed) < hdkeychain.MinSeedBytes || len(seed) > hdkeychain.MaxSeedBytes {
		return nil, fmt.Errorf("%w: seed must be between %d and %d bytes, got %d",
			ErrInvalidSeed, hdkeychain.MinSeedBytes, hdkeychain.MaxSeedBytes, len(seed))
	}
	w := &Wallet{seed: make([]byte, len(seed))}
	copy(w.seed, seed)
	return w, nil
}

func NativePath(index uint64) string {
	return fmt.Sprintf(nativePathTemplate, index)
}

func TokenPath(index uint64) string {
	return fmt.Sprintf(tokenPathTemplate, index)
}

// DeriveNative derives the secp256k1 deposit key at the given index and
// returns its 0x address.
func (w *Wallet) DeriveNative(index uint64) (string, *Signer, error) {
	master, err := hdkeychain.NewMaster(w.seed, &chaincfg.MainNetParams)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidSeed, err)
	}

	indices, err := parseDerivationPath(NativePath(index))
	if err != nil {
		return "", nil, err
	}

	key := master
	for _, idx := range indices {
		key, err = key.Derive(idx)
		if err != nil {
			return "", nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get EC private key: %w", err)
	}
	privBytes := priv.Serialize()
	ecdsaKey, err := crypto.ToECDSA(privBytes)
	clearBytes(privBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to convert to ecdsa: %w", err)
	}

	address := crypto.PubkeyToAddress(ecdsaKey.PublicKey).Hex()
	return address, &Signer{Family: common.AssetFamilyNative, Address: address, Native: ecdsaKey}, nil
}

// DeriveToken derives the ed25519 deposit key at the given index and
// returns its base58 address.
func (w *Wallet) DeriveToken(index uint64) (string, *Signer, error) {
	key, err := deriveSLIP10(w.seed, TokenPath(index))
	if err != nil {
		return "", nil, err
	}

	address := key.PublicKey().String()
	return address, &Signer{Family: common.AssetFamilyToken, Address: address, Token: key}, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
