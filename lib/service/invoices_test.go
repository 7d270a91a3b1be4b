package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInvoiceAllocatesSequentialIndices(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	first, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1.5")
	require.NoError(t, err)
	second, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "2")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), first.DerivationIndex)
	assert.Equal(t, uint64(1), second.DerivationIndex)
	assert.NotEqual(t, first.Address, second.Address)
	assert.Equal(t, common.InvoiceStatePending, first.State)
	assert.Equal(t, "m/44'/60'/0'/0/0", first.DerivationPath)
	assert.Equal(t, "1.5", first.Amount)
}

func TestAddInvoiceFamiliesUseSeparateCounters(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	native, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	token, err := svc.AddInvoice(ctx, common.AssetFamilyToken, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "USDC", "5")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), native.DerivationIndex)
	assert.Equal(t, uint64(0), token.DerivationIndex)
	assert.Equal(t, "m/44'/501'/0'/0'", token.DerivationPath)
}

func TestAddInvoiceValidation(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	_, err := svc.AddInvoice(ctx, "somechain", "", "", "1")
	assert.Error(t, err)

	_, err = svc.AddInvoice(ctx, common.AssetFamilyToken, "", "USDC", "1")
	assert.Error(t, err)

	_, err = svc.AddInvoice(ctx, common.AssetFamilyNative, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "", "1")
	assert.Error(t, err)

	_, err = svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "not-a-number")
	assert.Error(t, err)

	_, err = svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "-1")
	assert.Error(t, err)

	_, err = svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "0")
	assert.Error(t, err)
}

func TestAddInvoiceConcurrentIssuance(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	invoices, err := svc.InvoicesFor(ctx, "", n, 0)
	require.NoError(t, err)
	require.Len(t, invoices, n)

	addresses := map[string]bool{}
	indices := map[uint64]bool{}
	for _, invoice := range invoices {
		assert.False(t, addresses[invoice.Address], "address %s issued twice", invoice.Address)
		assert.False(t, indices[invoice.DerivationIndex], "index %d issued twice", invoice.DerivationIndex)
		addresses[invoice.Address] = true
		indices[invoice.DerivationIndex] = true
	}
}

func TestCancelAndReopenInvoice(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)

	cancelled, err := svc.CancelInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStateCancelled, cancelled.State)

	reopened, err := svc.ReopenInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatePending, reopened.State)
}

func TestCancelPaidInvoiceRejected(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	require.NoError(t, svc.markPaid(ctx, invoice))

	_, err = svc.CancelInvoice(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrStateConflict)

	// and a swept invoice can never be reopened
	require.NoError(t, svc.markSwept(ctx, invoice, "some-tx"))
	_, err = svc.ReopenInvoice(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestDeleteInvoiceOnlyBeforePayment(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	pending, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInvoice(ctx, pending.ID))
	_, err = svc.FindInvoice(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvoiceNotFound)

	cancelled, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	_, err = svc.CancelInvoice(ctx, cancelled.ID)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInvoice(ctx, cancelled.ID))

	paid, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	require.NoError(t, svc.markPaid(ctx, paid))
	assert.ErrorIs(t, svc.DeleteInvoice(ctx, paid.ID), ErrStateConflict)

	assert.ErrorIs(t, svc.DeleteInvoice(ctx, "no-such-id"), ErrInvoiceNotFound)
}

func TestDeletedIndexIsNeverReused(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	first, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInvoice(ctx, first.ID))

	second, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)
	assert.Greater(t, second.DerivationIndex, first.DerivationIndex)
}

func TestRequeueSweepOnlyForPaidInvoices(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)

	_, err = svc.RequeueSweep(ctx, invoice.ID)
	assert.ErrorIs(t, err, ErrStateConflict)

	require.NoError(t, svc.markPaid(ctx, invoice))
	requeued, err := svc.RequeueSweep(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, common.InvoiceStatePaid, requeued.State)
}

func TestAdapterForUnknownFamily(t *testing.T) {
	svc := newTestService(map[string]chain.Adapter{common.AssetFamilyNative: newMockAdapter()})

	_, err := svc.AdapterFor(common.AssetFamilyNative)
	assert.NoError(t, err)
	_, err = svc.AdapterFor(common.AssetFamilyToken)
	assert.Error(t, err)
}

func TestMarkPaidTwiceIsConflict(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	invoice, err := svc.AddInvoice(ctx, common.AssetFamilyNative, "", "", "1")
	require.NoError(t, err)

	require.NoError(t, svc.markPaid(ctx, invoice))
	err = svc.markPaid(ctx, invoice)
	assert.True(t, errors.Is(err, ErrStateConflict), fmt.Sprintf("expected state conflict, got %v", err))
}
