package repository

import (
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// activityRepository implements ActivityRepository on GORM
type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new instance of activityRepository
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Create(activity *crmdomain.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	now := time.Now()
	activity.CreatedAt = now
	if activity.CompletedAt == nil {
		activity.CompletedAt = &now
	}
	if activity.Metadata == nil {
		activity.Metadata = crmdomain.JSONMap{}
	}
	return r.db.Create(activity).Error
}
