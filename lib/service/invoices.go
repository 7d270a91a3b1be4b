package service

import (
	"context"
	"fmt"
	"time"

	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/db/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// AddInvoice allocates the next derivation index for the family, derives
// the deposit address and persists a new pending invoice. The chain is
// not touched. The signing key derived alongside the address is dropped
// immediately; only the public address is stored.
func (svc *SweepService) AddInvoice(ctx context.Context, family, tokenMint, tokenSymbol, amount string) (*models.Invoice, error) {
	if family != common.AssetFamilyNative && family != common.AssetFamilyToken {
		return nil, fmt.Errorf("unsupported asset family %q", family)
	}
	if family == common.AssetFamilyToken && tokenMint == "" {
		return nil, fmt.Errorf("token invoices require a token mint")
	}
	if family == common.AssetFamilyNative && tokenMint != "" {
		return nil, fmt.Errorf("native invoices cannot carry a token mint")
	}
	requested, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if !requested.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", requested)
	}

	index, err := svc.Store.NextDerivationIndex(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate derivation index: %w", err)
	}

	address, path, _, err := svc.DeriveAddress(family, index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive deposit address: %w", err)
	}

	invoice := models.Invoice{
		ID:              uuid.NewString(),
		DerivationIndex: index,
		DerivationPath:  path,
		Address:         address,
		AssetFamily:     family,
		TokenMint:       tokenMint,
		TokenSymbol:     tokenSymbol,
		Amount:          requested.String(),
		State:           common.InvoiceStatePending,
		CreatedAt:       time.Now(),
	}

	if err := svc.Store.CreateInvoice(ctx, &invoice); err != nil {
		return nil, fmt.Errorf("failed to persist invoice: %w", err)
	}

	svc.Logger.Infof("Created invoice invoice_id:%s family:%s index:%d address:%s amount:%s",
		invoice.ID, family, index, address, invoice.Amount)
	return &invoice, nil
}

func (svc *SweepService) FindInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return svc.Store.GetInvoice(ctx, id)
}

func (svc *SweepService) InvoicesFor(ctx context.Context, state string, limit, offset int) ([]models.Invoice, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return svc.Store.ListInvoices(ctx, state, limit, offset)
}

// CancelInvoice moves a pending invoice to cancelled. The conditional
// update revalidates the current state server-side, so a race with the
// watcher marking the invoice paid loses cleanly.
func (svc *SweepService) CancelInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return svc.transition(ctx, id, common.InvoiceStateCancelled)
}

// ReopenInvoice moves a cancelled invoice back to pending so the watcher
// picks it up again.
func (svc *SweepService) ReopenInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return svc.transition(ctx, id, common.InvoiceStatePending)
}

func (svc *SweepService) transition(ctx context.Context, id, to string) (*models.Invoice, error) {
	invoice, err := svc.Store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	from := invoice.State
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStateConflict, from, to)
	}

	invoice.State = to
	if err := svc.Store.UpdateInvoice(ctx, invoice, from); err != nil {
		return nil, err
	}
	svc.Logger.Infof("Invoice transition invoice_id:%s %s -> %s", id, from, to)
	svc.InvoicePubSub.Publish(to, *invoice)
	return invoice, nil
}

// DeleteInvoice removes an invoice record. Permitted only while pending
// or cancelled; the derivation index it consumed is never reused.
func (svc *SweepService) DeleteInvoice(ctx context.Context, id string) error {
	if err := svc.Store.DeleteInvoice(ctx, id, models.DeletableStates...); err != nil {
		return err
	}
	svc.Logger.Infof("Deleted invoice invoice_id:%s", id)
	return nil
}

// RequeueSweep re-emits the paid event for a stuck paid invoice so the
// idempotent sweep handler gets another delivery.
func (svc *SweepService) RequeueSweep(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := svc.Store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.State != common.InvoiceStatePaid {
		return nil, fmt.Errorf("%w: invoice is %s, only paid invoices can be re-swept", ErrStateConflict, invoice.State)
	}
	svc.InvoicePubSub.Publish(common.InvoiceStatePaid, *invoice)
	return invoice, nil
}

// markPaid is the watcher's transition. The fromStates guard makes a
// second cycle over an already-paid invoice a no-op.
func (svc *SweepService) markPaid(ctx context.Context, invoice *models.Invoice) error {
	invoice.State = common.InvoiceStatePaid
	invoice.PaidAt = bun.NullTime{Time: time.Now()}
	if err := svc.Store.UpdateInvoice(ctx, invoice, common.InvoiceStatePending); err != nil {
		return err
	}
	svc.InvoicePubSub.Publish(common.InvoiceStatePaid, *invoice)
	return nil
}

// markSwept is the sweeper's transition, legal only from paid.
func (svc *SweepService) markSwept(ctx context.Context, invoice *models.Invoice, txID string) error {
	invoice.State = common.InvoiceStateSwept
	invoice.SweepTxID = txID
	invoice.SweptAt = bun.NullTime{Time: time.Now()}
	if err := svc.Store.UpdateInvoice(ctx, invoice, common.InvoiceStatePaid); err != nil {
		return err
	}
	svc.InvoicePubSub.Publish(common.InvoiceStateSwept, *invoice)
	return nil
}
