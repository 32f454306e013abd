package domain

import "time"

// Contact is a CRM person record. The sync engine only reads contacts; it
// never creates or deletes them.
type Contact struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"index;not null"`
	Email       string    `json:"email" gorm:"index"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Opportunity status values.
const (
	OpportunityOpen = "OPEN"
	OpportunityWon  = "WON"
	OpportunityLost = "LOST"
)

// Opportunity is a deal, weakly linked to a contact. The engine reads open
// opportunities for matching and updates status on won/lost automations.
type Opportunity struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	WorkspaceID     string     `json:"workspace_id" gorm:"index;not null"`
	ContactID       *string    `json:"contact_id" gorm:"index"`
	Name            string     `json:"name"`
	Stage           string     `json:"stage"`
	Status          string     `json:"status" gorm:"size:10;default:OPEN"`
	Amount          float64    `json:"amount"`
	LostReason      string     `json:"lost_reason"`
	ActualCloseDate *time.Time `json:"actual_close_date"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
