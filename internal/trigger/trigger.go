// Package trigger fans CRM events out to the audit log, built-in automations
// and consumer-defined webhooks.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"

	"github.com/google/uuid"
)

// Event is a notable CRM state change.
type Event string

const (
	EventOpportunityCreated      Event = "opportunity.created"
	EventOpportunityUpdated      Event = "opportunity.updated"
	EventOpportunityStageChanged Event = "opportunity.stage_changed"
	EventOpportunityWon          Event = "opportunity.won"
	EventOpportunityLost         Event = "opportunity.lost"
	EventContactCreated          Event = "contact.created"
	EventContactUpdated          Event = "contact.updated"
	EventAccountCreated          Event = "account.created"
	EventActivityLogged          Event = "activity.logged"
	EventDealStale               Event = "deal.stale"
	EventEmailReceived           Event = "email.received"
)

// Payload is the full event record. Its JSON form is the body of every
// outbound webhook delivery.
type Payload struct {
	WorkspaceID string                 `json:"workspaceId"`
	Event       Event                  `json:"event"`
	EntityID    string                 `json:"entityId"`
	Data        map[string]interface{} `json:"data"`
	TriggeredBy string                 `json:"triggeredBy,omitempty"`
}

// Outcome is one consumer's result for a fired event. Consumers run in
// parallel and never abort each other; failures are captured here instead of
// being lost.
type Outcome struct {
	Kind string
	Err  error
}

const webhookTimeout = 10 * time.Second

// Engine fires events to three independent consumers.
type Engine struct {
	auditRepo       repository.AuditLogRepository
	activityRepo    repository.ActivityRepository
	opportunityRepo repository.OpportunityRepository
	webhookRepo     repository.WebhookRepository
	deliverer       *Deliverer
}

// NewEngine creates a trigger engine.
func NewEngine(auditRepo repository.AuditLogRepository, activityRepo repository.ActivityRepository, opportunityRepo repository.OpportunityRepository, webhookRepo repository.WebhookRepository) *Engine {
	return &Engine{
		auditRepo:       auditRepo,
		activityRepo:    activityRepo,
		opportunityRepo: opportunityRepo,
		webhookRepo:     webhookRepo,
		deliverer:       NewDeliverer(webhookRepo),
	}
}

// Fire fans the event out to audit logging, built-in automations and webhook
// delivery concurrently, capturing each consumer's outcome.
func (e *Engine) Fire(ctx context.Context, payload Payload) []Outcome {
	consumers := []struct {
		kind string
		run  func(context.Context, Payload) error
	}{
		{"audit", e.logAudit},
		{"automation", e.runAutomations},
		{"webhooks", e.deliverer.Deliver},
	}

	outcomes := make([]Outcome, len(consumers))
	var wg sync.WaitGroup
	for i, consumer := range consumers {
		wg.Add(1)
		go func(i int, kind string, run func(context.Context, Payload) error) {
			defer wg.Done()
			err := run(ctx, payload)
			if err != nil {
				log.Printf("[Trigger] %s consumer failed for %s: %v", kind, payload.Event, err)
			}
			outcomes[i] = Outcome{Kind: kind, Err: err}
		}(i, consumer.kind, consumer.run)
	}
	wg.Wait()
	return outcomes
}

func (e *Engine) logAudit(_ context.Context, payload Payload) error {
	userID := payload.TriggeredBy
	if userID == "" {
		userID = "system"
	}
	entity := string(payload.Event)
	if idx := strings.Index(entity, "."); idx > 0 {
		entity = entity[:idx]
	}

	after := crmdomain.JSONMap{}
	for k, v := range payload.Data {
		after[k] = v
	}

	return e.auditRepo.Append(&crmdomain.AuditLog{
		WorkspaceID: payload.WorkspaceID,
		UserID:      userID,
		Action:      string(payload.Event),
		Entity:      entity,
		EntityID:    payload.EntityID,
		After:       after,
	})
}

func (e *Engine) runAutomations(_ context.Context, payload Payload) error {
	createdBy := payload.TriggeredBy
	if createdBy == "" {
		createdBy = "system"
	}

	switch payload.Event {
	case EventOpportunityStageChanged:
		fromStage, _ := payload.Data["fromStage"].(string)
		toStage, _ := payload.Data["toStage"].(string)
		opportunityID := payload.EntityID
		return e.activityRepo.Create(&crmdomain.Activity{
			WorkspaceID:   payload.WorkspaceID,
			Type:          crmdomain.ActivityTypeStageChange,
			OpportunityID: &opportunityID,
			Title:         fmt.Sprintf("Stage moved: %s → %s", fromStage, toStage),
			IsAutomated:   true,
			CreatedByID:   createdBy,
		})

	case EventOpportunityWon:
		opportunityID := payload.EntityID
		if err := e.activityRepo.Create(&crmdomain.Activity{
			WorkspaceID:   payload.WorkspaceID,
			Type:          crmdomain.ActivityTypeSystem,
			OpportunityID: &opportunityID,
			Title:         "🎉 Deal marked as Won",
			IsAutomated:   true,
			CreatedByID:   createdBy,
		}); err != nil {
			return err
		}
		return e.opportunityRepo.MarkWon(opportunityID, time.Now())

	case EventOpportunityLost:
		opportunityID := payload.EntityID
		reason, _ := payload.Data["reason"].(string)
		title := "Deal marked as Lost"
		if reason != "" {
			title += " — " + reason
		}
		if err := e.activityRepo.Create(&crmdomain.Activity{
			WorkspaceID:   payload.WorkspaceID,
			Type:          crmdomain.ActivityTypeSystem,
			OpportunityID: &opportunityID,
			Title:         title,
			IsAutomated:   true,
			CreatedByID:   createdBy,
		}); err != nil {
			return err
		}
		return e.opportunityRepo.MarkLost(opportunityID, reason, time.Now())
	}

	return nil
}

// Sign computes the HMAC-SHA256 hex digest of body keyed by secret, in the
// form carried by the X-CRM-Signature header.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func marshalPayload(payload Payload) ([]byte, error) {
	if payload.Data == nil {
		payload.Data = map[string]interface{}{}
	}
	return json.Marshal(payload)
}

func newDeliveryID() string {
	return uuid.New().String()
}
