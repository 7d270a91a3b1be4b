package keywallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/gagliardetto/solana-go"
)

// SLIP-0010 ed25519 derivation. hdkeychain only speaks secp256k1, so the
// ed25519 chain is computed here directly: HMAC-SHA512 over the seed with
// the "ed25519 seed" key, then one hardened HMAC round per path segment.
// ed25519 has no normal (non-hardened) child keys.

const slip10MasterKey = "ed25519 seed"

type slip10Node struct {
	key       []byte // 32 bytes
	chainCode []byte // 32 bytes
}

func slip10Master(seed []byte) slip10Node {
	mac := hmac.New(sha512.New, []byte(slip10MasterKey))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return slip10Node{key: sum[:32], chainCode: sum[32:]}
}

func (n slip10Node) child(index uint32) (slip10Node, error) {
	if index < hdkeychain.HardenedKeyStart {
		return slip10Node{}, errors.New("ed25519 derivation requires hardened indices")
	}
	data := make([]byte, 0, 37)
	data = append(data, 0x00)
	data = append(data, n.key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, n.chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return slip10Node{key: sum[:32], chainCode: sum[32:]}, nil
}

func deriveSLIP10(seed []byte, path string) (solana.PrivateKey, error) {
	indices, err := parseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	node := slip10Master(seed)
	for _, idx := range indices {
		node, err = node.child(idx)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path %s: %w", path, err)
		}
	}

	key := ed25519.NewKeyFromSeed(node.key)
	clearBytes(node.key)
	return solana.PrivateKey(key), nil
}

// parseDerivationPath accepts "m/44'/60'/0'/0/0" style paths.
func parseDerivationPath(path string) ([]uint32, error) {
	p := strings.TrimSpace(path)
	if strings.HasPrefix(p, "m/") || strings.HasPrefix(p, "M/") {
		p = p[2:]
	}
	if p == "" {
		return nil, errors.New("empty derivation path")
	}
	parts := strings.Split(p, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("invalid path segment")
		}
		hardened := strings.HasSuffix(part, "'")
		if hardened {
			part = strings.TrimSuffix(part, "'")
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation index %q", part)
		}
		idx := uint32(v)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
