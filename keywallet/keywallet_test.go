package keywallet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = bytes.Repeat([]byte{0x42}, 64)

func TestNewRejectsBadSeedLength(t *testing.T) {
	_, err := New([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = New(bytes.Repeat([]byte{1}, 65))
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = New(testSeed)
	assert.NoError(t, err)
}

func TestPathTemplates(t *testing.T) {
	assert.Equal(t, "m/44'/60'/0'/0/7", NativePath(7))
	assert.Equal(t, "m/44'/501'/7'/0'", TokenPath(7))
}

func TestDeriveNativeIsDeterministic(t *testing.T) {
	first, err := New(testSeed)
	require.NoError(t, err)
	second, err := New(testSeed)
	require.NoError(t, err)

	addrA, signerA, err := first.DeriveNative(3)
	require.NoError(t, err)
	addrB, signerB, err := second.DeriveNative(3)
	require.NoError(t, err)

	assert.Equal(t, addrA, addrB)
	assert.Equal(t, signerA.Native.D, signerB.Native.D)
	assert.True(t, strings.HasPrefix(addrA, "0x"))
	assert.Len(t, addrA, 42)
}

func TestDeriveTokenIsDeterministic(t *testing.T) {
	first, err := New(testSeed)
	require.NoError(t, err)
	second, err := New(testSeed)
	require.NoError(t, err)

	addrA, signerA, err := first.DeriveToken(3)
	require.NoError(t, err)
	addrB, _, err := second.DeriveToken(3)
	require.NoError(t, err)

	assert.Equal(t, addrA, addrB)

	// the address is the base58 public key of the signing key
	pub, err := solana.PublicKeyFromBase58(addrA)
	require.NoError(t, err)
	assert.Equal(t, pub, signerA.Token.PublicKey())
}

func TestDistinctIndicesYieldDistinctAddresses(t *testing.T) {
	wallet, err := New(testSeed)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := uint64(0); i < 10; i++ {
		nativeAddr, _, err := wallet.DeriveNative(i)
		require.NoError(t, err)
		tokenAddr, _, err := wallet.DeriveToken(i)
		require.NoError(t, err)

		assert.False(t, seen[nativeAddr], "native address for index %d repeated", i)
		assert.False(t, seen[tokenAddr], "token address for index %d repeated", i)
		seen[nativeAddr] = true
		seen[tokenAddr] = true
	}
}

func TestDifferentSeedsYieldDifferentAddresses(t *testing.T) {
	walletA, err := New(testSeed)
	require.NoError(t, err)
	walletB, err := New(bytes.Repeat([]byte{0x43}, 64))
	require.NoError(t, err)

	addrA, _, err := walletA.DeriveNative(0)
	require.NoError(t, err)
	addrB, _, err := walletB.DeriveNative(0)
	require.NoError(t, err)
	assert.NotEqual(t, addrA, addrB)
}

func TestSignerCarriesOnlyItsFamilyKey(t *testing.T) {
	wallet, err := New(testSeed)
	require.NoError(t, err)

	_, native, err := wallet.DeriveNative(0)
	require.NoError(t, err)
	assert.NotNil(t, native.Native)
	assert.Nil(t, native.Token)

	_, token, err := wallet.DeriveToken(0)
	require.NoError(t, err)
	assert.Nil(t, token.Native)
	assert.NotNil(t, token.Token)
}
