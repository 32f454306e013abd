package api

import (
	syncDelivery "github.com/orangeleaf/crmsync/internal/sync/delivery"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	syncHandler    *syncDelivery.SyncHandler
	webhookHandler *syncDelivery.WebhookHandler
}

func NewHandler(syncHandler *syncDelivery.SyncHandler, webhookHandler *syncDelivery.WebhookHandler) *Handler {
	return &Handler{
		syncHandler:    syncHandler,
		webhookHandler: webhookHandler,
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	SetupRoutes(r, h.syncHandler, h.webhookHandler)

	return r.Run(addr)
}
