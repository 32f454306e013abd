package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"
	"github.com/orangeleaf/crmsync/internal/sync/provider"
)

// Treat a token as expired when it expires within this margin, so a fetch
// never starts with a token about to lapse mid-pagination.
const tokenExpiryMargin = 60 * time.Second

const backgroundSyncTimeout = 5 * time.Minute

// SyncResult reports one integration's sync: messages newly recorded vs.
// total seen in the batch.
type SyncResult struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

// IntegrationResult is one integration's captured outcome within a run.
type IntegrationResult struct {
	IntegrationID string             `json:"integration_id"`
	Email         string             `json:"email"`
	Provider      crmdomain.Provider `json:"provider"`
	Result        *SyncResult        `json:"result,omitempty"`
	Err           error              `json:"-"`
}

// Summary aggregates a full scheduled run.
type Summary struct {
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Results   []IntegrationResult `json:"results"`
}

// Orchestrator drives email synchronization across all linked mailboxes.
// Integrations sync in parallel and fail independently; within one
// integration the steps are strictly sequential so a cursor is only ever
// committed after its full batch has been processed.
type Orchestrator struct {
	integrationRepo repository.IntegrationRepository
	adapters        map[crmdomain.Provider]provider.Adapter
	pipeline        *Pipeline
}

// NewOrchestrator creates a sync orchestrator over the given adapters.
func NewOrchestrator(integrationRepo repository.IntegrationRepository, adapters map[crmdomain.Provider]provider.Adapter, pipeline *Pipeline) *Orchestrator {
	return &Orchestrator{
		integrationRepo: integrationRepo,
		adapters:        adapters,
		pipeline:        pipeline,
	}
}

// SyncAllActive syncs every active integration concurrently. One
// integration's failure is captured in its result and never aborts the
// siblings or the run.
func (o *Orchestrator) SyncAllActive(ctx context.Context) (*Summary, error) {
	integrations, err := o.integrationRepo.FindAllActive()
	if err != nil {
		return nil, fmt.Errorf("unable to load active integrations: %w", err)
	}

	log.Printf("[Sync] syncing %d active integrations", len(integrations))

	results := make([]IntegrationResult, len(integrations))
	var wg sync.WaitGroup
	for i, integration := range integrations {
		wg.Add(1)
		go func(i int, integration *crmdomain.EmailIntegration) {
			defer wg.Done()
			result, err := o.SyncIntegration(ctx, integration.ID)
			results[i] = IntegrationResult{
				IntegrationID: integration.ID,
				Email:         integration.Email,
				Provider:      integration.Provider,
				Result:        result,
				Err:           err,
			}
			if err != nil {
				log.Printf("[Sync] %s (%s) failed: %v", integration.Email, integration.Provider, err)
			} else {
				log.Printf("[Sync] %s (%s): %d/%d messages", integration.Email, integration.Provider, result.Synced, result.Total)
			}
		}(i, integration)
	}
	wg.Wait()

	summary := &Summary{Total: len(integrations), Results: results}
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	return summary, nil
}

// SyncIntegration runs one integration's sync end to end: token refresh if
// needed, incremental fetch, ingestion, then an atomic cursor commit. A
// cursor the provider reports expired is cleared and the sync re-run exactly
// once.
func (o *Orchestrator) SyncIntegration(ctx context.Context, id string) (*SyncResult, error) {
	integration, err := o.integrationRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, fmt.Errorf("integration %s not found", id)
	}
	if !integration.IsActive {
		return nil, fmt.Errorf("integration %s is not active", id)
	}

	adapter, ok := o.adapters[integration.Provider]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %s", integration.Provider)
	}

	return o.syncOnce(ctx, integration, adapter, true)
}

// SyncIntegrationAsync triggers a sync in the background, for webhook
// notifications that must acknowledge before the work is done.
func (o *Orchestrator) SyncIntegrationAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundSyncTimeout)
		defer cancel()
		if _, err := o.SyncIntegration(ctx, id); err != nil {
			log.Printf("[Sync] background sync for integration %s failed: %v", id, err)
		}
	}()
}

// RegisterPushSubscription registers (or renews) the provider push
// subscription for one integration.
func (o *Orchestrator) RegisterPushSubscription(ctx context.Context, id string, target provider.PushTarget) (string, error) {
	integration, err := o.integrationRepo.FindByID(id)
	if err != nil {
		return "", err
	}
	if integration == nil {
		return "", fmt.Errorf("integration %s not found", id)
	}

	adapter, ok := o.adapters[integration.Provider]
	if !ok {
		return "", fmt.Errorf("no adapter for provider %s", integration.Provider)
	}

	accessToken, err := o.ensureAccessToken(ctx, integration, adapter)
	if err != nil {
		return "", err
	}

	target.ClientState = integration.ID
	return adapter.RegisterPushSubscription(ctx, accessToken, target)
}

func (o *Orchestrator) syncOnce(ctx context.Context, integration *crmdomain.EmailIntegration, adapter provider.Adapter, allowRetry bool) (*SyncResult, error) {
	accessToken, err := o.ensureAccessToken(ctx, integration, adapter)
	if err != nil {
		return nil, err
	}

	changes, err := adapter.FetchChanges(ctx, accessToken, provider.SyncState{
		Cursor:       integration.Cursor,
		SyncFromDate: integration.SyncFromDate,
	})
	if err != nil {
		if provider.IsCursorExpired(err) && allowRetry {
			log.Printf("[Sync] cursor expired for %s, restarting with a cleared cursor", integration.Email)
			if clearErr := o.integrationRepo.ClearCursor(integration.ID); clearErr != nil {
				return nil, clearErr
			}
			integration.Cursor = ""
			return o.syncOnce(ctx, integration, adapter, false)
		}
		return nil, err
	}

	synced := 0
	for _, msg := range changes.Messages {
		created, err := o.pipeline.Process(ctx, integration, msg)
		if err != nil {
			// One bad message must not abort the batch; it will be
			// retried on the next run since the cursor commit covers it.
			log.Printf("[Sync] failed to process message %s for %s: %v", msg.ID, integration.Email, err)
			continue
		}
		if created {
			synced++
		}
	}

	if err := o.integrationRepo.SaveSyncState(integration.ID, changes.NewCursor, time.Now()); err != nil {
		return nil, fmt.Errorf("unable to commit sync state: %w", err)
	}

	return &SyncResult{Synced: synced, Total: len(changes.Messages)}, nil
}

// ensureAccessToken refreshes the access token when it is missing or expires
// within the safety margin, persisting the new credentials before any fetch
// uses them.
func (o *Orchestrator) ensureAccessToken(ctx context.Context, integration *crmdomain.EmailIntegration, adapter provider.Adapter) (string, error) {
	if integration.AccessToken != "" &&
		(integration.ExpiresAt == nil || time.Until(*integration.ExpiresAt) > tokenExpiryMargin) {
		return integration.AccessToken, nil
	}

	creds, err := adapter.RefreshAccessToken(ctx, integration.RefreshToken)
	if err != nil {
		if provider.IsAuthError(err) && isPermanentAuthError(err) {
			log.Printf("[Sync] refresh token for %s permanently rejected, deactivating integration", integration.Email)
			if deactivateErr := o.integrationRepo.Deactivate(integration.ID); deactivateErr != nil {
				log.Printf("[Sync] unable to deactivate integration %s: %v", integration.ID, deactivateErr)
			}
		}
		return "", err
	}

	if err := o.integrationRepo.SaveCredentials(integration.ID, creds.AccessToken, creds.ExpiresAt); err != nil {
		return "", fmt.Errorf("unable to persist refreshed credentials: %w", err)
	}
	integration.AccessToken = creds.AccessToken
	expiresAt := creds.ExpiresAt
	integration.ExpiresAt = &expiresAt

	return creds.AccessToken, nil
}

// isPermanentAuthError distinguishes a revoked or invalid grant from a
// transient refresh failure. Only permanent rejections deactivate the
// integration.
func isPermanentAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "revoked") ||
		strings.Contains(msg, "no refresh token")
}
