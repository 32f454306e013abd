package delivery

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"
	"github.com/orangeleaf/crmsync/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives provider push notifications. Both providers retry
// aggressively on non-2xx responses, so every branch acknowledges with 200
// and the actual sync runs in the background.
type WebhookHandler struct {
	integrationRepo repository.IntegrationRepository
	orchestrator    *usecase.Orchestrator
}

func NewWebhookHandler(integrationRepo repository.IntegrationRepository, orchestrator *usecase.Orchestrator) *WebhookHandler {
	return &WebhookHandler{
		integrationRepo: integrationRepo,
		orchestrator:    orchestrator,
	}
}

// pubsubEnvelope is the Google Pub/Sub push wrapper. Data is base64-encoded
// JSON published by the Gmail watch.
type pubsubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// HandleGoogle processes a Gmail push notification delivered through Pub/Sub.
func (h *WebhookHandler) HandleGoogle(c *gin.Context) {
	var envelope pubsubEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		log.Printf("[PubSub] malformed push envelope: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		log.Printf("[PubSub] unable to decode push data: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var notification gmailNotification
	if err := json.Unmarshal(payload, &notification); err != nil || notification.EmailAddress == "" {
		log.Printf("[PubSub] unable to parse gmail notification: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	integration, err := h.integrationRepo.FindActiveByEmail(notification.EmailAddress, crmdomain.ProviderGoogle)
	if err != nil {
		log.Printf("[PubSub] lookup for %s failed: %v", notification.EmailAddress, err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if integration == nil {
		log.Printf("[PubSub] no active integration for %s", notification.EmailAddress)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	log.Printf("[PubSub] gmail change for %s (history %d)", notification.EmailAddress, notification.HistoryID)
	h.orchestrator.SyncIntegrationAsync(integration.ID)

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// graphNotification is one entry of a Microsoft Graph change notification.
// ClientState carries the integration id handed over at subscription time.
type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
}

type graphNotificationBatch struct {
	Value []graphNotification `json:"value"`
}

// HandleMicrosoftValidation answers the Graph subscription handshake: the
// validation token must be echoed back as plain text.
func (h *WebhookHandler) HandleMicrosoftValidation(c *gin.Context) {
	token := c.Query("validationToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing validation token"})
		return
	}
	c.String(http.StatusOK, token)
}

// HandleMicrosoft processes Graph change notifications. A batch may carry
// notifications for several subscriptions; each is dispatched independently.
func (h *WebhookHandler) HandleMicrosoft(c *gin.Context) {
	// Graph also sends the handshake as a POST with the token in the query.
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, token)
		return
	}

	var batch graphNotificationBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		log.Printf("[Graph] malformed notification body: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	for _, notification := range batch.Value {
		if notification.ClientState == "" {
			continue
		}
		integration, err := h.integrationRepo.FindByID(notification.ClientState)
		if err != nil || integration == nil || !integration.IsActive {
			log.Printf("[Graph] notification for unknown integration %s", notification.ClientState)
			continue
		}
		log.Printf("[Graph] mailbox change for %s (%s)", integration.Email, notification.ChangeType)
		h.orchestrator.SyncIntegrationAsync(integration.ID)
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
