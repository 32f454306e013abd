package domain

import "time"

// Webhook is a consumer-defined outbound subscription. The engine only reads
// these; creation and edits happen in the surrounding application.
type Webhook struct {
	ID          string      `json:"id" gorm:"primaryKey"`
	WorkspaceID string      `json:"workspace_id" gorm:"index;not null"`
	URL         string      `json:"url" gorm:"not null"`
	Secret      string      `json:"-" gorm:"not null"`
	Events      StringArray `json:"events" gorm:"type:text"`
	IsActive    bool        `json:"is_active" gorm:"index;default:true"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AuditLog is an append-only record of every fired event.
type AuditLog struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"index;not null"`
	UserID      string    `json:"user_id"`
	Action      string    `json:"action" gorm:"index"`
	Entity      string    `json:"entity"`
	EntityID    string    `json:"entity_id"`
	After       JSONMap   `json:"after" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}
