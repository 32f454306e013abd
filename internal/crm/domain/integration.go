package domain

import "time"

// Provider identifies which mailbox provider an integration talks to.
type Provider string

const (
	ProviderGoogle    Provider = "GOOGLE"
	ProviderMicrosoft Provider = "MICROSOFT"
)

// EmailIntegration is one linked mailbox per (workspace, user, provider).
// The cursor is provider-opaque: a Gmail history id or a Graph delta link.
// It is passed back to the adapter verbatim and never parsed here.
type EmailIntegration struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	WorkspaceID  string     `json:"workspace_id" gorm:"index:idx_integration_owner;not null"`
	UserID       string     `json:"user_id" gorm:"index:idx_integration_owner;not null"`
	Provider     Provider   `json:"provider" gorm:"index:idx_integration_owner;size:20;not null"`
	Email        string     `json:"email" gorm:"index;not null"`
	AccessToken  string     `json:"-" gorm:"type:text"`
	RefreshToken string     `json:"-" gorm:"type:text"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Cursor       string     `json:"-" gorm:"type:text"`
	SyncFromDate time.Time  `json:"sync_from_date"`
	IsActive     bool       `json:"is_active" gorm:"index;default:true"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Domain returns the mailbox's domain part, used for direction inference.
func (i *EmailIntegration) Domain() string {
	for idx := len(i.Email) - 1; idx >= 0; idx-- {
		if i.Email[idx] == '@' {
			return i.Email[idx+1:]
		}
	}
	return ""
}
