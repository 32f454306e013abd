package domain

import "time"

// EmailThread is the CRM's view of one external conversation, unique per
// (workspace, external thread id).
type EmailThread struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	WorkspaceID        string    `json:"workspace_id" gorm:"uniqueIndex:idx_thread_external;not null"`
	EmailIntegrationID string    `json:"email_integration_id" gorm:"index;not null"`
	ContactID          *string   `json:"contact_id" gorm:"index"`
	ExternalThreadID   string    `json:"external_thread_id" gorm:"uniqueIndex:idx_thread_external;not null"`
	Subject            string    `json:"subject"`
	Snippet            string    `json:"snippet" gorm:"size:255"`
	MessageCount       int       `json:"message_count" gorm:"default:0"`
	LastMessageAt      time.Time `json:"last_message_at"`
	IsInbound          bool      `json:"is_inbound"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// EmailMessage is one provider message inside a thread, immutable once
// created. Unique per (thread, provider message id) — re-processing the same
// message id is a no-op at the repository level.
type EmailMessage struct {
	ID        string      `json:"id" gorm:"primaryKey"`
	ThreadID  string      `json:"thread_id" gorm:"uniqueIndex:idx_message_thread;not null"`
	MessageID string      `json:"message_id" gorm:"uniqueIndex:idx_message_thread;not null"`
	From      string      `json:"from" gorm:"column:from_email"`
	To        StringArray `json:"to" gorm:"type:text"`
	Cc        StringArray `json:"cc" gorm:"type:text"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body" gorm:"type:text"`
	BodyHTML  string      `json:"body_html" gorm:"type:text"`
	SentAt    time.Time   `json:"sent_at"`
	CreatedAt time.Time   `json:"created_at"`
}
