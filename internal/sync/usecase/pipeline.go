package usecase

import (
	"context"
	"strings"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"
	"github.com/orangeleaf/crmsync/internal/sync/provider"
	"github.com/orangeleaf/crmsync/internal/trigger"
	"github.com/orangeleaf/crmsync/pkg/mailtext"
)

const (
	snippetLength      = 200
	activityBodyLength = 500
)

// Pipeline turns normalized provider messages into CRM records: thread,
// message, activity and the email.received trigger. Idempotent per provider
// message id.
type Pipeline struct {
	threadRepo      repository.ThreadRepository
	contactRepo     repository.ContactRepository
	opportunityRepo repository.OpportunityRepository
	activityRepo    repository.ActivityRepository
	triggers        *trigger.Engine
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(threadRepo repository.ThreadRepository, contactRepo repository.ContactRepository, opportunityRepo repository.OpportunityRepository, activityRepo repository.ActivityRepository, triggers *trigger.Engine) *Pipeline {
	return &Pipeline{
		threadRepo:      threadRepo,
		contactRepo:     contactRepo,
		opportunityRepo: opportunityRepo,
		activityRepo:    activityRepo,
		triggers:        triggers,
	}
}

// Process ingests one message for the given integration. Returns true when a
// new message was recorded; re-processing a known message id is a no-op.
func (p *Pipeline) Process(ctx context.Context, integration *crmdomain.EmailIntegration, msg provider.RawMessage) (bool, error) {
	if msg.Draft || msg.ID == "" || msg.ConversationID == "" {
		return false, nil
	}

	from := mailtext.ExtractEmail(msg.From)
	if from == "" {
		return false, nil
	}

	// Inbound when the sender is outside the integration mailbox's domain.
	isInbound := mailtext.Domain(from) != strings.ToLower(integration.Domain())

	otherParty := from
	if !isInbound {
		if len(msg.To) == 0 {
			return false, nil
		}
		otherParty = msg.To[0]
	}

	contactID, opportunityID, err := p.matchContact(integration.WorkspaceID, otherParty)
	if err != nil {
		return false, err
	}

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	snippet := mailtext.Truncate(msg.Body, snippetLength)

	thread, err := p.threadRepo.FindByExternalID(integration.WorkspaceID, msg.ConversationID)
	if err != nil {
		return false, err
	}

	if thread != nil {
		exists, err := p.threadRepo.MessageExists(thread.ID, msg.ID)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
		if err := p.threadRepo.RecordMessage(thread.ID, snippet, msg.SentAt, isInbound); err != nil {
			return false, err
		}
		// A contact link is set once; later unmatched messages keep it.
		if contactID != nil && thread.ContactID == nil {
			if err := p.threadRepo.SetContactIfEmpty(thread.ID, *contactID); err != nil {
				return false, err
			}
		}
	} else {
		thread = &crmdomain.EmailThread{
			WorkspaceID:        integration.WorkspaceID,
			EmailIntegrationID: integration.ID,
			ContactID:          contactID,
			ExternalThreadID:   msg.ConversationID,
			Subject:            subject,
			Snippet:            snippet,
			MessageCount:       1,
			LastMessageAt:      msg.SentAt,
			IsInbound:          isInbound,
		}
		if err := p.threadRepo.Create(thread); err != nil {
			return false, err
		}
	}

	message := &crmdomain.EmailMessage{
		ThreadID:  thread.ID,
		MessageID: msg.ID,
		From:      from,
		To:        msg.To,
		Cc:        msg.Cc,
		Subject:   subject,
		Body:      msg.Body,
		BodyHTML:  msg.BodyHTML,
		SentAt:    msg.SentAt,
	}
	if err := p.threadRepo.CreateMessage(message); err != nil {
		return false, err
	}

	direction := "📤"
	if isInbound {
		direction = "📥"
	}
	threadID := thread.ID
	if err := p.activityRepo.Create(&crmdomain.Activity{
		WorkspaceID:   integration.WorkspaceID,
		Type:          crmdomain.ActivityTypeEmail,
		Title:         direction + " " + subject,
		Body:          mailtext.Truncate(msg.Body, activityBodyLength),
		ContactID:     contactID,
		OpportunityID: opportunityID,
		EmailThreadID: &threadID,
		IsAutomated:   true,
		CreatedByID:   "system",
		Metadata: crmdomain.JSONMap{
			"messageId": msg.ID,
			"provider":  string(integration.Provider),
			"isInbound": isInbound,
		},
	}); err != nil {
		return false, err
	}

	data := map[string]interface{}{
		"threadId":  thread.ID,
		"messageId": msg.ID,
		"subject":   subject,
		"from":      from,
		"isInbound": isInbound,
	}
	if contactID != nil {
		data["contactId"] = *contactID
	}
	if opportunityID != nil {
		data["opportunityId"] = *opportunityID
	}
	p.triggers.Fire(ctx, trigger.Payload{
		WorkspaceID: integration.WorkspaceID,
		Event:       trigger.EventEmailReceived,
		EntityID:    message.ID,
		Data:        data,
	})

	return true, nil
}

// matchContact resolves the other party to a contact and, when matched, that
// contact's most recently updated open opportunity. No match is a normal,
// silent outcome.
func (p *Pipeline) matchContact(workspaceID, email string) (contactID, opportunityID *string, err error) {
	contact, err := p.contactRepo.MatchByEmail(workspaceID, email)
	if err != nil {
		return nil, nil, err
	}
	if contact == nil {
		return nil, nil, nil
	}

	contactID = &contact.ID
	opportunity, err := p.opportunityRepo.LatestOpenForContact(workspaceID, contact.ID)
	if err != nil {
		return nil, nil, err
	}
	if opportunity != nil {
		opportunityID = &opportunity.ID
	}
	return contactID, opportunityID, nil
}
