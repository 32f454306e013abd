package delivery

import (
	"net/http"
	"strings"
	"time"

	"github.com/orangeleaf/crmsync/internal/sync/provider"
	"github.com/orangeleaf/crmsync/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

// SyncHandler exposes the cron entrypoint and the operator sync endpoints.
type SyncHandler struct {
	orchestrator  *usecase.Orchestrator
	cronSecret    string
	publicBaseURL string
	pubsubTopic   string
}

func NewSyncHandler(orchestrator *usecase.Orchestrator, cronSecret, publicBaseURL, pubsubTopic string) *SyncHandler {
	return &SyncHandler{
		orchestrator:  orchestrator,
		cronSecret:    cronSecret,
		publicBaseURL: publicBaseURL,
		pubsubTopic:   pubsubTopic,
	}
}

// HandleCronSync runs a full sync pass over every active integration. Meant
// to be hit by an external scheduler and guarded by a shared bearer secret.
func (h *SyncHandler) HandleCronSync(c *gin.Context) {
	if h.cronSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cron sync is not configured"})
		return
	}

	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.cronSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	summary, err := h.orchestrator.SyncAllActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        summary.Failed == 0,
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleSyncIntegration triggers a synchronous sync of one integration.
func (h *SyncHandler) HandleSyncIntegration(c *gin.Context) {
	id := c.Param("id")

	result, err := h.orchestrator.SyncIntegration(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleWatchIntegration registers or renews the provider push subscription
// for one integration.
func (h *SyncHandler) HandleWatchIntegration(c *gin.Context) {
	id := c.Param("id")

	target := provider.PushTarget{
		CallbackURL: h.publicBaseURL + "/api/webhooks/email/microsoft",
		TopicName:   h.pubsubTopic,
	}

	subscriptionID, err := h.orchestrator.RegisterPushSubscription(c.Request.Context(), id, target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription_id": subscriptionID})
}
