package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func TestRequiredBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		expected int64
	}{
		{"5", 6, 5000000},
		{"0.000001", 6, 1},
		{"1.0000001", 6, 1000001},
		{"0.1", 2, 10},
		{"3", 0, 3},
	}
	for _, tt := range tests {
		got, err := RequiredBaseUnits(tt.amount, tt.decimals)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got.Int64(), "amount %s at %d decimals", tt.amount, tt.decimals)
	}

	wei, err := RequiredBaseUnits("1.5", 18)
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, 0, wei.Cmp(expected))

	_, err = RequiredBaseUnits("not-a-number", 6)
	assert.Error(t, err)
}

// RequiredBaseUnits must round fractional remainders up, otherwise an
// amount like 0.0000015 at 6 decimals could be settled with 1 base unit.
func TestRequiredBaseUnitsRoundsUp(t *testing.T) {
	got, err := RequiredBaseUnits("0.0000015", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Int64())
}

func TestCheckPendingInvoicesMarksPaid(t *testing.T) {
	adapter := newMockAdapter()
	adapter.decimals = 6
	svc := newTestService(map[string]chain.Adapter{common.AssetFamilyToken: adapter})
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyToken, usdcMint, "USDC", "5")
	require.NoError(t, err)
	adapter.balances[invoice.Address] = big.NewInt(5000000)

	processed, failed := svc.CheckPendingInvoices(ctx)
	assert.Equal(t, []string{invoice.ID}, processed)
	assert.Empty(t, failed)

	current, err := svc.FindInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatePaid, current.State)
	assert.False(t, current.PaidAt.IsZero())
}

func TestCheckPendingInvoicesUnderpaymentStaysPending(t *testing.T) {
	adapter := newMockAdapter()
	adapter.decimals = 6
	svc := newTestService(map[string]chain.Adapter{common.AssetFamilyToken: adapter})
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyToken, usdcMint, "USDC", "5")
	require.NoError(t, err)
	// one base unit short of 5 USDC
	adapter.balances[invoice.Address] = big.NewInt(4999999)

	processed, failed := svc.CheckPendingInvoices(ctx)
	assert.Empty(t, processed)
	assert.Empty(t, failed)

	current, err := svc.FindInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatePending, current.State)
}

// Overpayment settles the invoice just the same, the surplus is swept
// along with the rest.
func TestCheckPendingInvoicesOverpayment(t *testing.T) {
	adapter := newMockAdapter()
	adapter.decimals = 18
	svc := newTestService(map[string]chain.Adapter{common.AssetFamilyNative: adapter})
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "0.5")
	require.NoError(t, err)
	balance, _ := new(big.Int).SetString("600000000000000000", 10)
	adapter.balances[invoice.Address] = balance

	processed, _ := svc.CheckPendingInvoices(ctx)
	assert.Equal(t, []string{invoice.ID}, processed)
}

func TestCheckPendingInvoicesFailureIsolation(t *testing.T) {
	adapter := newMockAdapter()
	adapter.decimals = 6
	svc := newTestService(map[string]chain.Adapter{common.AssetFamilyToken: adapter})
	ctx := context.Background()

	broken, err := svc.AddInvoice(ctx, common.AssetFamilyToken, usdcMint, "USDC", "5")
	require.NoError(t, err)
	healthy, err := svc.AddInvoice(ctx, common.AssetFamilyToken, usdcMint, "USDC", "5")
	require.NoError(t, err)

	adapter.balanceErr[broken.Address] = errors.New("rpc timeout")
	adapter.balances[healthy.Address] = big.NewInt(5000000)

	processed, failed := svc.CheckPendingInvoices(ctx)
	assert.Equal(t, []string{healthy.ID}, processed)
	assert.Equal(t, []string{broken.ID}, failed)

	// the broken invoice is untouched and gets rechecked next cycle
	current, err := svc.FindInvoice(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatePending, current.State)
}

func TestCheckPendingInvoicesSkipsCancelled(t *testing.T) {
	adapter := newMockAdapter()
	adapter.decimals = 6
	svc := newTestService(map[string]chain.Adapter{common.AssetFamilyToken: adapter})
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyToken, usdcMint, "USDC", "5")
	require.NoError(t, err)
	adapter.balances[invoice.Address] = big.NewInt(5000000)
	_, err = svc.CancelInvoice(ctx, invoice.ID)
	require.NoError(t, err)

	processed, failed := svc.CheckPendingInvoices(ctx)
	assert.Empty(t, processed)
	assert.Empty(t, failed)
}
