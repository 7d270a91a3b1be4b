package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/db/models"
	"github.com/shopspring/decimal"
)

// CheckPendingInvoices is one watcher cycle: every pending invoice gets
// an independent balance check and, when sufficiently funded, the
// pending->paid transition. One invoice failing never aborts the rest of
// the cycle, and re-running a cycle over an invoice that was paid in the
// meantime is a no-op thanks to the conditional state guard.
func (svc *SweepService) CheckPendingInvoices(ctx context.Context) (processedIds, failedIds []string) {
	invoices, err := svc.Store.ListInvoices(ctx, common.InvoiceStatePending, 0, 0)
	if err != nil {
		svc.Logger.Errorf("Failed to list pending invoices: %v", err)
		return nil, nil
	}

	for _, invoice := range invoices {
		invoice := invoice
		paid, err := svc.checkInvoice(ctx, &invoice)
		if err != nil {
			svc.Logger.Errorf("Balance check failed invoice_id:%s address:%s %v", invoice.ID, invoice.Address, err)
			failedIds = append(failedIds, invoice.ID)
			continue
		}
		if paid {
			processedIds = append(processedIds, invoice.ID)
		}
	}
	return processedIds, failedIds
}

func (svc *SweepService) checkInvoice(ctx context.Context, invoice *models.Invoice) (bool, error) {
	adapter, err := svc.AdapterFor(invoice.AssetFamily)
	if err != nil {
		return false, err
	}
	asset := chain.Asset{Family: invoice.AssetFamily, Mint: invoice.TokenMint}

	// decimals come from the asset's own on-chain metadata on every
	// check. Trusting a value stored at creation time would let a
	// spoofed-decimals invoice pass with an underpayment.
	decimals, err := adapter.GetDecimals(ctx, asset)
	if err != nil {
		return false, err
	}
	required, err := RequiredBaseUnits(invoice.Amount, decimals)
	if err != nil {
		return false, err
	}

	balance, err := adapter.GetBalance(ctx, invoice.Address, asset)
	if err != nil {
		return false, err
	}
	if balance.Cmp(required) < 0 {
		// insufficient balance is the expected steady state of a
		// pending invoice, not an error
		return false, nil
	}

	if err := svc.markPaid(ctx, invoice); err != nil {
		if errors.Is(err, ErrStateConflict) {
			// another actor got there first, nothing to do
			return false, nil
		}
		return false, err
	}
	svc.Logger.Infof("Invoice paid invoice_id:%s address:%s balance:%s required:%s",
		invoice.ID, invoice.Address, balance, required)
	return true, nil
}

// RequiredBaseUnits scales a decimal amount string to base units at the
// given precision. Fractional remainders round up so a payer can never
// satisfy an invoice with less than the requested amount.
func RequiredBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	requested, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return requested.Shift(int32(decimals)).Ceil().BigInt(), nil
}
