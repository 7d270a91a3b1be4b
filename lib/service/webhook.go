package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/getAlby/sweephub.go/db/models"
)

// StartWebhookSubscription forwards invoice state changes to the
// configured webhook url. Delivery is best-effort: a failed post is
// logged and never fails the business operation that triggered it.
func (svc *SweepService) StartWebhookSubscription(ctx context.Context) {

	svc.Logger.Infof("Starting webhook subscription with webhook url %s", svc.Config.WebhookUrl)
	updates, err := svc.SubscribeInvoiceUpdates()
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case invoice := <-updates:
			svc.postToWebhook(invoice)
		}
	}
}

func (svc *SweepService) postToWebhook(invoice models.Invoice) {

	payload := new(bytes.Buffer)
	err := json.NewEncoder(payload).Encode(invoice)
	if err != nil {
		svc.Logger.Error(err)
		return
	}

	resp, err := http.Post(svc.Config.WebhookUrl, "application/json", payload)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			svc.Logger.Error(err)
		}
		svc.Logger.Errorf("Webhook status code was %d, body: %s", resp.StatusCode, msg)
	}
}
