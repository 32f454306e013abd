package api

import (
	"net/http"

	syncDelivery "github.com/orangeleaf/crmsync/internal/sync/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, syncHandler *syncDelivery.SyncHandler, webhookHandler *syncDelivery.WebhookHandler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Scheduled sync entrypoint, guarded by CRON_SECRET
		cron := api.Group("/cron")
		{
			cron.POST("/sync-emails", syncHandler.HandleCronSync)
			cron.GET("/sync-emails", syncHandler.HandleCronSync)
		}

		// Provider push notifications
		webhooks := api.Group("/webhooks/email")
		{
			webhooks.POST("/google", webhookHandler.HandleGoogle)
			webhooks.GET("/microsoft", webhookHandler.HandleMicrosoftValidation)
			webhooks.POST("/microsoft", webhookHandler.HandleMicrosoft)
		}

		// Operator endpoints
		integrations := api.Group("/integrations")
		{
			integrations.POST("/:id/sync", syncHandler.HandleSyncIntegration)
			integrations.POST("/:id/watch", syncHandler.HandleWatchIntegration)
		}
	}
}
