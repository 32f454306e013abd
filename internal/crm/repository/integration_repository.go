package repository

import (
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// integrationRepository implements IntegrationRepository on GORM
type integrationRepository struct {
	db *gorm.DB
}

// NewIntegrationRepository creates a new instance of integrationRepository
func NewIntegrationRepository(db *gorm.DB) IntegrationRepository {
	return &integrationRepository{db: db}
}

func (r *integrationRepository) FindByID(id string) (*crmdomain.EmailIntegration, error) {
	var integration crmdomain.EmailIntegration
	err := r.db.Where("id = ?", id).First(&integration).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &integration, nil
}

func (r *integrationRepository) FindAllActive() ([]*crmdomain.EmailIntegration, error) {
	var integrations []*crmdomain.EmailIntegration
	err := r.db.Where("is_active = ?", true).Find(&integrations).Error
	if err != nil {
		return nil, err
	}
	return integrations, nil
}

func (r *integrationRepository) FindActiveByEmail(email string, provider crmdomain.Provider) (*crmdomain.EmailIntegration, error) {
	var integration crmdomain.EmailIntegration
	err := r.db.Where("email = ? AND provider = ? AND is_active = ?", email, provider, true).
		First(&integration).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &integration, nil
}

// Create links a new mailbox. At most one active integration may exist per
// (workspace, user, provider), so any previous active link is deactivated
// first.
func (r *integrationRepository) Create(integration *crmdomain.EmailIntegration) error {
	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}
	now := time.Now()
	integration.CreatedAt = now
	integration.UpdatedAt = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&crmdomain.EmailIntegration{}).
			Where("workspace_id = ? AND user_id = ? AND provider = ? AND is_active = ?",
				integration.WorkspaceID, integration.UserID, integration.Provider, true).
			Updates(map[string]interface{}{"is_active": false, "updated_at": now}).Error
		if err != nil {
			return err
		}
		return tx.Create(integration).Error
	})
}

// SaveCredentials persists a refreshed access token and its expiry.
func (r *integrationRepository) SaveCredentials(id, accessToken string, expiresAt time.Time) error {
	return r.db.Model(&crmdomain.EmailIntegration{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token": accessToken,
			"expires_at":   expiresAt,
			"updated_at":   time.Now(),
		}).Error
}

// SaveSyncState commits the new cursor and last-sync timestamp in one write.
// Called only after a full batch has been processed.
func (r *integrationRepository) SaveSyncState(id, cursor string, lastSyncAt time.Time) error {
	return r.db.Model(&crmdomain.EmailIntegration{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"cursor":       cursor,
			"last_sync_at": lastSyncAt,
			"updated_at":   time.Now(),
		}).Error
}

// ClearCursor resets the incremental cursor after the provider reported it
// expired. The next sync bootstraps from the provider's starting position.
func (r *integrationRepository) ClearCursor(id string) error {
	return r.db.Model(&crmdomain.EmailIntegration{}).Where("id = ?", id).
		Updates(map[string]interface{}{"cursor": "", "updated_at": time.Now()}).Error
}

// Deactivate flags an integration inactive, e.g. after a permanently
// rejected refresh token. The record is kept for the operator to re-link.
func (r *integrationRepository) Deactivate(id string) error {
	return r.db.Model(&crmdomain.EmailIntegration{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()}).Error
}
