package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferFee(t *testing.T) {
	feeCap := big.NewInt(2_000_000_000) // 2 gwei
	fee := TransferFee(feeCap, 21000)
	assert.Equal(t, int64(42_000_000_000_000), fee.Int64())
}

func TestSweepAmount(t *testing.T) {
	balance, _ := new(big.Int).SetString("1000000000000000000", 10)
	feeCap := big.NewInt(2_000_000_000)

	amount := SweepAmount(balance, feeCap, 21000)
	expected, _ := new(big.Int).SetString("999958000000000000", 10)
	assert.Equal(t, 0, amount.Cmp(expected))
}

func TestSweepAmountDustBalance(t *testing.T) {
	// fee exceeds the balance, nothing can be drained
	amount := SweepAmount(big.NewInt(1000), big.NewInt(2_000_000_000), 21000)
	assert.True(t, amount.Sign() < 0)
}
