package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/db/models"
)

// StartWatcherRoutine runs the payment-detection loop on the configured
// interval until the context is cancelled. Each tick is one independent
// cycle; a cycle cut short by shutdown is safe because every invoice's
// transition is individually guarded.
func (svc *SweepService) StartWatcherRoutine(ctx context.Context) error {
	ticker := time.NewTicker(svc.WatchInterval())
	defer ticker.Stop()

	svc.Logger.Infof("Starting payment watcher with interval %s", svc.WatchInterval())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			processed, failed := svc.CheckPendingInvoices(ctx)
			if len(processed) > 0 || len(failed) > 0 {
				svc.Logger.Infof("Watcher cycle done paid:%d failed:%d", len(processed), len(failed))
			}
		}
	}
}

// StartSweepRoutine consumes paid-invoice events and runs the sweep
// handler for each. With RabbitMQ configured the events come from the
// durable queue (and failed sweeps are redelivered); otherwise the
// in-process change feed is used.
func (svc *SweepService) StartSweepRoutine(ctx context.Context) (err error) {
	if svc.RabbitMQClient != nil {
		err = svc.RabbitMQClient.SubscribeToPaidInvoices(ctx, svc.HandlePaidInvoice)
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}

	paidInvoices := make(chan models.Invoice)
	subId := svc.InvoicePubSub.Subscribe(common.InvoiceStatePaid, paidInvoices)
	defer svc.InvoicePubSub.Unsubscribe(subId, common.InvoiceStatePaid)

	for {
		select {
		case <-ctx.Done():
			return nil
		case invoice := <-paidInvoices:
			// errors are already recorded on the invoice; the paid state
			// itself is the retry checkpoint
			_ = svc.HandlePaidInvoice(ctx, &invoice)
		}
	}
}

// SubscribeInvoiceUpdates returns a channel receiving every invoice state
// change, used by the external publishers (rabbitmq, webhook).
func (svc *SweepService) SubscribeInvoiceUpdates() (chan models.Invoice, error) {
	updates := make(chan models.Invoice)
	for _, state := range []string{
		common.InvoiceStatePending,
		common.InvoiceStatePaid,
		common.InvoiceStateSwept,
		common.InvoiceStateCancelled,
	} {
		svc.InvoicePubSub.Subscribe(state, updates)
	}
	return updates, nil
}

// EncodeInvoice writes the invoice's wire representation for external
// publishers.
func (svc *SweepService) EncodeInvoice(ctx context.Context, w io.Writer, invoice models.Invoice) error {
	return json.NewEncoder(w).Encode(invoice)
}
