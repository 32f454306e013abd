package main

import (
	"context"
	"log"
	"strings"

	api "github.com/orangeleaf/crmsync/cmd/api"
	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"
	"github.com/orangeleaf/crmsync/internal/notification"
	syncDelivery "github.com/orangeleaf/crmsync/internal/sync/delivery"
	"github.com/orangeleaf/crmsync/internal/sync/provider"
	"github.com/orangeleaf/crmsync/internal/sync/scheduler"
	syncUsecase "github.com/orangeleaf/crmsync/internal/sync/usecase"
	"github.com/orangeleaf/crmsync/internal/trigger"
	"github.com/orangeleaf/crmsync/pkg/config"
	"github.com/orangeleaf/crmsync/pkg/database"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.InitDB(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize repositories (dependency injection)
	integrationRepo := repository.NewIntegrationRepository(db)
	threadRepo := repository.NewThreadRepository(db)
	contactRepo := repository.NewContactRepository(db)
	opportunityRepo := repository.NewOpportunityRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Provider adapters
	adapters := make(map[crmdomain.Provider]provider.Adapter)
	if cfg.GoogleClientID != "" {
		adapters[crmdomain.ProviderGoogle] = provider.NewGmailAdapter(cfg.GoogleClientID, cfg.GoogleClientSecret)
	} else {
		log.Printf("[WARN] GOOGLE_CLIENT_ID not configured, Gmail sync disabled")
	}
	if cfg.AzureClientID != "" {
		adapters[crmdomain.ProviderMicrosoft] = provider.NewGraphAdapter(cfg.AzureClientID, cfg.AzureClientSecret, cfg.AzureTenantID)
	} else {
		log.Printf("[WARN] AZURE_CLIENT_ID not configured, Outlook sync disabled")
	}

	// Trigger engine and ingestion pipeline
	triggers := trigger.NewEngine(auditRepo, activityRepo, opportunityRepo, webhookRepo)
	pipeline := syncUsecase.NewPipeline(threadRepo, contactRepo, opportunityRepo, activityRepo, triggers)
	orchestrator := syncUsecase.NewOrchestrator(integrationRepo, adapters, pipeline)

	// Pub/Sub pull listener for Gmail notifications
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.PubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}

		listener, err := notification.NewListener(cfg.GoogleProjectID, topicName, integrationRepo, orchestrator, cfg.GoogleCredsFile)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize pubsub listener: %v", err)
		} else {
			go listener.Start(context.Background())
		}
	} else {
		log.Printf("[WARN] GOOGLE_PROJECT_ID not configured, pubsub listener disabled")
	}

	// Internal fallback scheduler
	syncScheduler := scheduler.NewSyncScheduler(orchestrator, cfg.SyncInterval)
	syncScheduler.Start()

	// HTTP handlers
	syncHandler := syncDelivery.NewSyncHandler(orchestrator, cfg.CronSecret, cfg.PublicBaseURL, cfg.PubSubTopic)
	webhookHandler := syncDelivery.NewWebhookHandler(integrationRepo, orchestrator)
	handler := api.NewHandler(syncHandler, webhookHandler)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
