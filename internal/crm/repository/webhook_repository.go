package repository

import (
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// webhookRepository implements WebhookRepository on GORM
type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new instance of webhookRepository
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

// FindActiveByEvent returns the workspace's active webhooks subscribed to the
// given event kind. The event set is a JSON column, so subscription filtering
// happens here rather than in SQL.
func (r *webhookRepository) FindActiveByEvent(workspaceID, event string) ([]*crmdomain.Webhook, error) {
	var webhooks []*crmdomain.Webhook
	err := r.db.Where("workspace_id = ? AND is_active = ?", workspaceID, true).Find(&webhooks).Error
	if err != nil {
		return nil, err
	}

	subscribed := make([]*crmdomain.Webhook, 0, len(webhooks))
	for _, wh := range webhooks {
		if wh.Events.Contains(event) {
			subscribed = append(subscribed, wh)
		}
	}
	return subscribed, nil
}

// auditLogRepository implements AuditLogRepository on GORM
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository creates a new instance of auditLogRepository
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Append(entry *crmdomain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now()
	if entry.After == nil {
		entry.After = crmdomain.JSONMap{}
	}
	return r.db.Create(entry).Error
}
