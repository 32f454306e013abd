package repository

import (
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// threadRepository implements ThreadRepository on GORM
type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository creates a new instance of threadRepository
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) FindByExternalID(workspaceID, externalThreadID string) (*crmdomain.EmailThread, error) {
	var thread crmdomain.EmailThread
	err := r.db.Where("workspace_id = ? AND external_thread_id = ?", workspaceID, externalThreadID).
		First(&thread).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

func (r *threadRepository) Create(thread *crmdomain.EmailThread) error {
	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	now := time.Now()
	thread.CreatedAt = now
	thread.UpdatedAt = now
	if thread.MessageCount == 0 {
		thread.MessageCount = 1
	}
	return r.db.Create(thread).Error
}

// RecordMessage bumps the rolling counters on an existing thread: message
// count, snippet, latest timestamp and direction of the newest message.
func (r *threadRepository) RecordMessage(threadID, snippet string, lastMessageAt time.Time, isInbound bool) error {
	return r.db.Model(&crmdomain.EmailThread{}).Where("id = ?", threadID).
		Updates(map[string]interface{}{
			"message_count":   gorm.Expr("message_count + 1"),
			"snippet":         snippet,
			"last_message_at": lastMessageAt,
			"is_inbound":      isInbound,
			"updated_at":      time.Now(),
		}).Error
}

// SetContactIfEmpty links a contact to the thread only when no contact has
// been linked yet. A later message without a match never clears the link.
func (r *threadRepository) SetContactIfEmpty(threadID, contactID string) error {
	return r.db.Model(&crmdomain.EmailThread{}).
		Where("id = ? AND contact_id IS NULL", threadID).
		Updates(map[string]interface{}{"contact_id": contactID, "updated_at": time.Now()}).Error
}

func (r *threadRepository) MessageExists(threadID, providerMessageID string) (bool, error) {
	var message crmdomain.EmailMessage
	err := r.db.Where("thread_id = ? AND message_id = ?", threadID, providerMessageID).
		First(&message).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *threadRepository) CreateMessage(message *crmdomain.EmailMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()
	return r.db.Create(message).Error
}
