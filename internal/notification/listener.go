// Package notification runs a Pub/Sub pull listener for Gmail mailbox change
// notifications, as an alternative to the push webhook for deployments that
// cannot expose a public endpoint.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/internal/crm/repository"
	"github.com/orangeleaf/crmsync/internal/sync/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes to the watch topic.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Listener pulls Gmail change notifications and dispatches background syncs.
type Listener struct {
	pubsubClient    *pubsub.Client
	integrationRepo repository.IntegrationRepository
	orchestrator    *usecase.Orchestrator
	topicName       string
	subName         string

	// Gmail fires several notifications per change burst; track the last
	// historyId per mailbox and skip anything at or behind it.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewListener(projectID, topicName string, integrationRepo repository.IntegrationRepository, orchestrator *usecase.Orchestrator, credentialsFile string) (*Listener, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create pubsub client: %w", err)
	}

	return &Listener{
		pubsubClient:    client,
		integrationRepo: integrationRepo,
		orchestrator:    orchestrator,
		topicName:       topicName,
		subName:         topicName + "-sub",
		lastHistoryID:   make(map[string]uint64),
	}, nil
}

// Start blocks pulling messages until the context is cancelled. Run it on its
// own goroutine.
func (l *Listener) Start(ctx context.Context) {
	log.Printf("[PubSub] starting gmail listener on topic %s, subscription %s", l.topicName, l.subName)

	sub := l.pubsubClient.Subscription(l.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] unable to check subscription: %v", err)
		return
	}

	if !exists {
		topic := l.pubsubClient.Topic(l.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] unable to check topic: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] topic %s does not exist, listener disabled", l.topicName)
			return
		}

		sub, err = l.pubsubClient.CreateSubscription(ctx, l.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] unable to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] created subscription %s", l.subName)
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		l.handleMessage(msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] receive loop terminated: %v", err)
	}
}

func (l *Listener) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] unable to parse notification: %v", err)
		return
	}
	if notification.EmailAddress == "" {
		return
	}

	if l.isDuplicate(notification) {
		return
	}

	integration, err := l.integrationRepo.FindActiveByEmail(notification.EmailAddress, crmdomain.ProviderGoogle)
	if err != nil {
		log.Printf("[PubSub] lookup for %s failed: %v", notification.EmailAddress, err)
		return
	}
	if integration == nil {
		log.Printf("[PubSub] no active integration for %s", notification.EmailAddress)
		return
	}

	log.Printf("[PubSub] gmail change for %s (history %d)", notification.EmailAddress, notification.HistoryID)
	l.orchestrator.SyncIntegrationAsync(integration.ID)
}

func (l *Listener) isDuplicate(notification GmailNotification) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, seen := l.lastHistoryID[notification.EmailAddress]
	if seen && notification.HistoryID <= last {
		return true
	}
	l.lastHistoryID[notification.EmailAddress] = notification.HistoryID
	return false
}

// Close releases the Pub/Sub client.
func (l *Listener) Close() error {
	return l.pubsubClient.Close()
}
