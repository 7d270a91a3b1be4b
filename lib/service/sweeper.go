package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/db/models"
	"github.com/getAlby/sweephub.go/keywallet"
	"github.com/getsentry/sentry-go"
)

// HandlePaidInvoice consumes one paid-invoice event and sweeps the
// deposit address into the treasury. Deliveries are at-least-once, so
// everything here is written to be safely re-run: the persisted invoice
// state is the checkpoint and the chain's own balances decide whether a
// top-up or transfer still needs to happen.
//
// On failure the invoice stays paid and the error is returned so the
// delivery mechanism can redeliver; it is never left in a broken
// intermediate state.
func (svc *SweepService) HandlePaidInvoice(ctx context.Context, invoice *models.Invoice) error {
	// one in-flight sweep process-wide keeps hot wallet sequence
	// management trivial; sweep volume does not justify more
	svc.sweepMu.Lock()
	defer svc.sweepMu.Unlock()

	current, err := svc.Store.GetInvoice(ctx, invoice.ID)
	if err != nil {
		return err
	}
	switch current.State {
	case common.InvoiceStatePaid:
	case common.InvoiceStateSwept:
		// duplicate delivery after a completed sweep
		svc.Logger.Infof("Invoice already swept, skipping invoice_id:%s", current.ID)
		return nil
	default:
		svc.Logger.Infof("Invoice no longer paid, skipping sweep invoice_id:%s state:%s", current.ID, current.State)
		return nil
	}

	adapter, err := svc.AdapterFor(current.AssetFamily)
	if err != nil {
		return svc.sweepFailed(ctx, current, err)
	}
	asset := chain.Asset{Family: current.AssetFamily, Mint: current.TokenMint}

	// the signing key only exists for the duration of this sweep
	_, _, signer, err := svc.DeriveAddress(current.AssetFamily, current.DerivationIndex)
	if err != nil {
		return svc.sweepFailed(ctx, current, err)
	}

	var result *chain.SweepResult
	if current.AssetFamily == common.AssetFamilyToken {
		result, err = svc.sweepToken(ctx, adapter, signer, current, asset)
	} else {
		result, err = svc.sweepNative(ctx, adapter, signer, current, asset)
	}
	if err != nil {
		return svc.sweepFailed(ctx, current, err)
	}
	if result == nil {
		// nothing sweepable yet; stays paid for manual inspection or a
		// later redelivery, deliberately without an automatic retry storm
		return nil
	}

	if err := svc.markSwept(ctx, current, result.TxID); err != nil {
		if errors.Is(err, ErrStateConflict) {
			svc.Logger.Infof("Sweep raced a concurrent transition invoice_id:%s", current.ID)
			return nil
		}
		return svc.sweepFailed(ctx, current, err)
	}
	svc.Logger.Infof("Invoice swept invoice_id:%s tx:%s amount:%s", current.ID, result.TxID, result.Amount)
	return nil
}

// sweepNative drains a native deposit address: the transfer fee comes out
// of the swept balance itself, no top-up involved. A balance that cannot
// cover its own fee is left alone for manual intervention.
func (svc *SweepService) sweepNative(ctx context.Context, adapter chain.Adapter, signer *keywallet.Signer, invoice *models.Invoice, asset chain.Asset) (*chain.SweepResult, error) {
	balance, err := adapter.GetBalance(ctx, invoice.Address, asset)
	if err != nil {
		return nil, err
	}
	estimate, err := adapter.EstimateSweep(ctx, invoice.Address, asset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(estimate.Required) <= 0 {
		svc.Logger.Warnf("Balance cannot cover sweep fee, leaving invoice paid invoice_id:%s balance:%s fee:%s",
			invoice.ID, balance, estimate.Required)
		return nil, nil
	}
	return adapter.SubmitSweep(ctx, signer, asset)
}

// sweepToken sweeps an SPL-style deposit. The deposit address holds no
// native currency, so the fee (and the treasury token account's rent,
// when it must be created) is topped up from the hot wallet first. On a
// retry after a partial failure the balance check sees the earlier
// top-up and skips the redundant transfer.
func (svc *SweepService) sweepToken(ctx context.Context, adapter chain.Adapter, signer *keywallet.Signer, invoice *models.Invoice, asset chain.Asset) (*chain.SweepResult, error) {
	balance, err := adapter.GetBalance(ctx, invoice.Address, asset)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		svc.Logger.Warnf("No token balance to sweep invoice_id:%s address:%s", invoice.ID, invoice.Address)
		return nil, nil
	}

	estimate, err := adapter.EstimateSweep(ctx, invoice.Address, asset)
	if err != nil {
		return nil, err
	}
	feeBalance, err := adapter.GetFeeBalance(ctx, invoice.Address)
	if err != nil {
		return nil, err
	}

	if feeBalance.Cmp(estimate.Required) < 0 {
		shortfall := new(big.Int).Sub(estimate.Required, feeBalance)
		txID, err := adapter.SubmitTopUp(ctx, invoice.Address, shortfall)
		if err != nil {
			return nil, err
		}
		svc.Logger.Infof("Topped up sweep fee invoice_id:%s amount:%s tx:%s", invoice.ID, shortfall, txID)

		// the top-up confirmed, but re-read before spending it: a lagging
		// RPC node may not expose the credit yet
		feeBalance, err = adapter.GetFeeBalance(ctx, invoice.Address)
		if err != nil {
			return nil, err
		}
		if feeBalance.Cmp(estimate.Required) < 0 {
			return nil, fmt.Errorf("fee balance %s still below required %s after top-up %s", feeBalance, estimate.Required, txID)
		}
	}

	return adapter.SubmitSweep(ctx, signer, asset)
}

// sweepFailed records the failure on the invoice (which stays paid),
// notifies, and propagates the error so the triggering mechanism can
// decide about redelivery.
func (svc *SweepService) sweepFailed(ctx context.Context, invoice *models.Invoice, cause error) error {
	svc.Logger.Errorf("Sweep failed invoice_id:%s address:%s %v", invoice.ID, invoice.Address, cause)
	sentry.CaptureException(cause)

	invoice.ErrorMessage = cause.Error()
	if err := svc.Store.UpdateInvoice(ctx, invoice, common.InvoiceStatePaid); err != nil && !errors.Is(err, ErrStateConflict) {
		svc.Logger.Errorf("Failed to record sweep error invoice_id:%s %v", invoice.ID, err)
	}
	return cause
}
