package repository

import (
	"strings"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"

	"gorm.io/gorm"
)

// contactRepository implements ContactRepository on GORM
type contactRepository struct {
	db *gorm.DB
}

// NewContactRepository creates a new instance of contactRepository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db}
}

// MatchByEmail finds a contact by case-insensitive email equality within the
// workspace. No match is a normal outcome and returns (nil, nil).
func (r *contactRepository) MatchByEmail(workspaceID, email string) (*crmdomain.Contact, error) {
	var contact crmdomain.Contact
	err := r.db.Where("workspace_id = ? AND LOWER(email) = ?", workspaceID, strings.ToLower(email)).
		First(&contact).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

// opportunityRepository implements OpportunityRepository on GORM
type opportunityRepository struct {
	db *gorm.DB
}

// NewOpportunityRepository creates a new instance of opportunityRepository
func NewOpportunityRepository(db *gorm.DB) OpportunityRepository {
	return &opportunityRepository{db: db}
}

func (r *opportunityRepository) FindByID(id string) (*crmdomain.Opportunity, error) {
	var opportunity crmdomain.Opportunity
	err := r.db.Where("id = ?", id).First(&opportunity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &opportunity, nil
}

// LatestOpenForContact returns the contact's most recently updated open
// opportunity, or nil when none is open. Ties break on updated_at.
func (r *opportunityRepository) LatestOpenForContact(workspaceID, contactID string) (*crmdomain.Opportunity, error) {
	var opportunity crmdomain.Opportunity
	err := r.db.Where("workspace_id = ? AND contact_id = ? AND status = ?",
		workspaceID, contactID, crmdomain.OpportunityOpen).
		Order("updated_at DESC").
		First(&opportunity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &opportunity, nil
}

func (r *opportunityRepository) MarkWon(id string, closedAt time.Time) error {
	return r.db.Model(&crmdomain.Opportunity{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            crmdomain.OpportunityWon,
			"actual_close_date": closedAt,
			"updated_at":        time.Now(),
		}).Error
}

func (r *opportunityRepository) MarkLost(id, reason string, closedAt time.Time) error {
	return r.db.Model(&crmdomain.Opportunity{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            crmdomain.OpportunityLost,
			"lost_reason":       reason,
			"actual_close_date": closedAt,
			"updated_at":        time.Now(),
		}).Error
}
