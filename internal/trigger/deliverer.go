package trigger

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"
)

// Deliverer posts signed event payloads to subscribed webhooks. Deliveries
// run in parallel with a bounded timeout each; a slow or failing subscriber
// never delays the others. Failures are logged, not retried.
type Deliverer struct {
	webhookRepo repository.WebhookRepository
	client      *http.Client
}

// NewDeliverer creates a webhook deliverer.
func NewDeliverer(webhookRepo repository.WebhookRepository) *Deliverer {
	return &Deliverer{
		webhookRepo: webhookRepo,
		client:      &http.Client{Timeout: webhookTimeout},
	}
}

// Deliver sends the payload to every active webhook subscribed to its event.
func (d *Deliverer) Deliver(ctx context.Context, payload Payload) error {
	webhooks, err := d.webhookRepo.FindActiveByEvent(payload.WorkspaceID, string(payload.Event))
	if err != nil {
		return fmt.Errorf("unable to load webhooks: %w", err)
	}
	if len(webhooks) == 0 {
		return nil
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("unable to serialize payload: %w", err)
	}

	var wg sync.WaitGroup
	failures := make([]error, len(webhooks))
	for i, wh := range webhooks {
		wg.Add(1)
		go func(i int, wh *crmdomain.Webhook) {
			defer wg.Done()
			if err := d.deliverOne(ctx, wh, payload.Event, body); err != nil {
				log.Printf("[Trigger] webhook %s failed: %v", wh.URL, err)
				failures[i] = err
			}
		}(i, wh)
	}
	wg.Wait()

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d webhook deliveries failed", failed, len(webhooks))
	}
	return nil
}

func (d *Deliverer) deliverOne(ctx context.Context, wh *crmdomain.Webhook, event Event, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CRM-Event", string(event))
	req.Header.Set("X-CRM-Signature", Sign(body, wh.Secret))
	req.Header.Set("X-CRM-Delivery", newDeliveryID())

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}
