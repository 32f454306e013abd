package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTriggerFixture(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&crmdomain.Opportunity{},
		&crmdomain.Activity{},
		&crmdomain.Webhook{},
		&crmdomain.AuditLog{},
	))

	engine := NewEngine(
		repository.NewAuditLogRepository(db),
		repository.NewActivityRepository(db),
		repository.NewOpportunityRepository(db),
		repository.NewWebhookRepository(db),
	)
	return engine, db
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"email.received"}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, Sign(body, "secret"))
	assert.NotEqual(t, Sign(body, "secret"), Sign(body, "other"))
}

func TestFireWritesAuditLog(t *testing.T) {
	engine, db := newTriggerFixture(t)

	outcomes := engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventContactCreated,
		EntityID:    "contact-1",
		Data:        map[string]interface{}{"name": "Alice"},
		TriggeredBy: "user-7",
	})
	for _, outcome := range outcomes {
		assert.NoError(t, outcome.Err, outcome.Kind)
	}

	var entry crmdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "contact.created", entry.Action)
	assert.Equal(t, "contact", entry.Entity)
	assert.Equal(t, "contact-1", entry.EntityID)
	assert.Equal(t, "user-7", entry.UserID)
	assert.Equal(t, "Alice", entry.After["name"])
}

func TestFireDefaultsActorToSystem(t *testing.T) {
	engine, db := newTriggerFixture(t)

	engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventEmailReceived,
		EntityID:    "msg-1",
	})

	var entry crmdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "system", entry.UserID)
}

func TestStageChangeAutomationLogsActivity(t *testing.T) {
	engine, db := newTriggerFixture(t)

	engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventOpportunityStageChanged,
		EntityID:    "opp-1",
		Data: map[string]interface{}{
			"fromStage": "Discovery",
			"toStage":   "Negotiation",
		},
	})

	var activity crmdomain.Activity
	require.NoError(t, db.Where("type = ?", crmdomain.ActivityTypeStageChange).First(&activity).Error)
	assert.Equal(t, "Stage moved: Discovery → Negotiation", activity.Title)
	require.NotNil(t, activity.OpportunityID)
	assert.Equal(t, "opp-1", *activity.OpportunityID)
	assert.True(t, activity.IsAutomated)
}

func TestWonAutomationClosesOpportunity(t *testing.T) {
	engine, db := newTriggerFixture(t)
	require.NoError(t, db.Create(&crmdomain.Opportunity{
		ID:          "opp-1",
		WorkspaceID: "ws-1",
		Status:      crmdomain.OpportunityOpen,
	}).Error)

	outcomes := engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventOpportunityWon,
		EntityID:    "opp-1",
	})
	for _, outcome := range outcomes {
		assert.NoError(t, outcome.Err, outcome.Kind)
	}

	var opp crmdomain.Opportunity
	require.NoError(t, db.First(&opp, "id = ?", "opp-1").Error)
	assert.Equal(t, crmdomain.OpportunityWon, opp.Status)
	assert.NotNil(t, opp.ActualCloseDate)

	var activity crmdomain.Activity
	require.NoError(t, db.Where("type = ?", crmdomain.ActivityTypeSystem).First(&activity).Error)
	assert.Equal(t, "🎉 Deal marked as Won", activity.Title)
}

func TestLostAutomationRecordsReason(t *testing.T) {
	engine, db := newTriggerFixture(t)
	require.NoError(t, db.Create(&crmdomain.Opportunity{
		ID:          "opp-1",
		WorkspaceID: "ws-1",
		Status:      crmdomain.OpportunityOpen,
	}).Error)

	engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventOpportunityLost,
		EntityID:    "opp-1",
		Data:        map[string]interface{}{"reason": "budget cut"},
	})

	var opp crmdomain.Opportunity
	require.NoError(t, db.First(&opp, "id = ?", "opp-1").Error)
	assert.Equal(t, crmdomain.OpportunityLost, opp.Status)
	assert.Equal(t, "budget cut", opp.LostReason)

	var activity crmdomain.Activity
	require.NoError(t, db.Where("type = ?", crmdomain.ActivityTypeSystem).First(&activity).Error)
	assert.Equal(t, "Deal marked as Lost — budget cut", activity.Title)
}

func TestDelivererSendsSignedPayload(t *testing.T) {
	engine, db := newTriggerFixture(t)

	var mu sync.Mutex
	var gotEvent, gotSignature, gotDelivery string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEvent = r.Header.Get("X-CRM-Event")
		gotSignature = r.Header.Get("X-CRM-Signature")
		gotDelivery = r.Header.Get("X-CRM-Delivery")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	require.NoError(t, db.Create(&crmdomain.Webhook{
		ID:          "wh-1",
		WorkspaceID: "ws-1",
		URL:         server.URL,
		Secret:      "hook-secret",
		Events:      crmdomain.StringArray{"email.received"},
		IsActive:    true,
	}).Error)

	outcomes := engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventEmailReceived,
		EntityID:    "msg-1",
		Data:        map[string]interface{}{"subject": "Hi"},
	})
	for _, outcome := range outcomes {
		assert.NoError(t, outcome.Err, outcome.Kind)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "email.received", gotEvent)
	assert.Equal(t, Sign(gotBody, "hook-secret"), gotSignature)
	assert.NotEmpty(t, gotDelivery)
	assert.Contains(t, string(gotBody), `"workspaceId":"ws-1"`)
}

func TestDelivererSkipsUnsubscribedEvents(t *testing.T) {
	engine, db := newTriggerFixture(t)

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	require.NoError(t, db.Create(&crmdomain.Webhook{
		ID:          "wh-1",
		WorkspaceID: "ws-1",
		URL:         server.URL,
		Secret:      "s",
		Events:      crmdomain.StringArray{"opportunity.won"},
		IsActive:    true,
	}).Error)

	engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventEmailReceived,
		EntityID:    "msg-1",
	})
	assert.Zero(t, hits)
}

func TestFailingWebhookDoesNotAffectOtherConsumers(t *testing.T) {
	engine, db := newTriggerFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	require.NoError(t, db.Create(&crmdomain.Webhook{
		ID:          "wh-1",
		WorkspaceID: "ws-1",
		URL:         server.URL,
		Secret:      "s",
		Events:      crmdomain.StringArray{"email.received"},
		IsActive:    true,
	}).Error)

	outcomes := engine.Fire(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventEmailReceived,
		EntityID:    "msg-1",
	})

	byKind := make(map[string]error)
	for _, outcome := range outcomes {
		byKind[outcome.Kind] = outcome.Err
	}
	assert.Error(t, byKind["webhooks"])
	assert.NoError(t, byKind["audit"])
	assert.NoError(t, byKind["automation"])

	// audit entry was still written
	var count int64
	require.NoError(t, db.Model(&crmdomain.AuditLog{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDelivererReportsPartialFailures(t *testing.T) {
	engine, db := newTriggerFixture(t)

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	for i, url := range []string{good.URL, bad.URL} {
		require.NoError(t, db.Create(&crmdomain.Webhook{
			ID:          []string{"wh-good", "wh-bad"}[i],
			WorkspaceID: "ws-1",
			URL:         url,
			Secret:      "s",
			Events:      crmdomain.StringArray{"email.received"},
			IsActive:    true,
		}).Error)
	}

	err := engine.deliverer.Deliver(context.Background(), Payload{
		WorkspaceID: "ws-1",
		Event:       EventEmailReceived,
		EntityID:    "msg-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 webhook deliveries failed")
}
