package domain

import "time"

// Activity types written by the engine.
const (
	ActivityTypeEmail       = "EMAIL"
	ActivityTypeStageChange = "STAGE_CHANGE"
	ActivityTypeSystem      = "SYSTEM"
)

// Activity is a CRM timeline entry. Email ingestion creates at most one
// activity per message; automations create stage-change and system entries.
type Activity struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	WorkspaceID   string     `json:"workspace_id" gorm:"index;not null"`
	Type          string     `json:"type" gorm:"size:20;not null"`
	Title         string     `json:"title"`
	Body          string     `json:"body" gorm:"type:text"`
	ContactID     *string    `json:"contact_id" gorm:"index"`
	OpportunityID *string    `json:"opportunity_id" gorm:"index"`
	EmailThreadID *string    `json:"email_thread_id" gorm:"index"`
	IsAutomated   bool       `json:"is_automated"`
	CreatedByID   string     `json:"created_by_id"`
	Metadata      JSONMap    `json:"metadata" gorm:"type:text"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}
