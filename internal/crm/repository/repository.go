package repository

import (
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
)

// IntegrationRepository manages linked mailbox integrations and their sync
// state. Cursor and last-sync are committed together so an interrupted sync
// can never leave a half-advanced cursor behind.
type IntegrationRepository interface {
	FindByID(id string) (*crmdomain.EmailIntegration, error)
	FindAllActive() ([]*crmdomain.EmailIntegration, error)
	FindActiveByEmail(email string, provider crmdomain.Provider) (*crmdomain.EmailIntegration, error)
	Create(integration *crmdomain.EmailIntegration) error
	SaveCredentials(id, accessToken string, expiresAt time.Time) error
	SaveSyncState(id, cursor string, lastSyncAt time.Time) error
	ClearCursor(id string) error
	Deactivate(id string) error
}

// ThreadRepository manages email threads and their messages.
type ThreadRepository interface {
	FindByExternalID(workspaceID, externalThreadID string) (*crmdomain.EmailThread, error)
	Create(thread *crmdomain.EmailThread) error
	RecordMessage(threadID, snippet string, lastMessageAt time.Time, isInbound bool) error
	SetContactIfEmpty(threadID, contactID string) error
	MessageExists(threadID, providerMessageID string) (bool, error)
	CreateMessage(message *crmdomain.EmailMessage) error
}

// ContactRepository resolves contacts for message matching. Read-only.
type ContactRepository interface {
	MatchByEmail(workspaceID, email string) (*crmdomain.Contact, error)
}

// OpportunityRepository reads open deals for matching and applies the
// won/lost automations.
type OpportunityRepository interface {
	FindByID(id string) (*crmdomain.Opportunity, error)
	LatestOpenForContact(workspaceID, contactID string) (*crmdomain.Opportunity, error)
	MarkWon(id string, closedAt time.Time) error
	MarkLost(id, reason string, closedAt time.Time) error
}

// ActivityRepository appends CRM timeline entries.
type ActivityRepository interface {
	Create(activity *crmdomain.Activity) error
}

// WebhookRepository reads consumer-defined webhook subscriptions.
type WebhookRepository interface {
	FindActiveByEvent(workspaceID, event string) ([]*crmdomain.Webhook, error)
}

// AuditLogRepository appends audit records. Append-only.
type AuditLogRepository interface {
	Append(entry *crmdomain.AuditLog) error
}
