// Package provider contains the mailbox provider adapters. All provider
// branching lives behind the Adapter interface; the rest of the engine only
// sees normalized messages and opaque cursors.
package provider

import (
	"context"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
)

// RawMessage is the normalized form of one provider message, independent of
// the wire format it arrived in.
type RawMessage struct {
	ID             string
	ConversationID string
	From           string
	To             []string
	Cc             []string
	Subject        string
	Body           string
	BodyHTML       string
	SentAt         time.Time
	Draft          bool
}

// Credentials is a freshly minted access token and its expiry.
type Credentials struct {
	AccessToken string
	ExpiresAt   time.Time
}

// SyncState carries the stored sync position into a fetch. Cursor is
// provider-opaque; an empty cursor makes the adapter bootstrap according to
// its own policy (Gmail starts at the mailbox's current history position,
// Graph backfills from SyncFromDate).
type SyncState struct {
	Cursor       string
	SyncFromDate time.Time
}

// ChangeSet is the result of one incremental fetch: every new message across
// all pages plus the cursor to commit once the batch has been processed.
type ChangeSet struct {
	Messages  []RawMessage
	NewCursor string
}

// PushTarget describes where provider push notifications should be delivered.
// Gmail publishes to a Pub/Sub topic; Graph posts to a callback URL carrying
// ClientState for integration lookup.
type PushTarget struct {
	CallbackURL string
	ClientState string
	TopicName   string
}

// Adapter is the capability set every mailbox provider must implement.
type Adapter interface {
	Kind() crmdomain.Provider

	// RefreshAccessToken exchanges a refresh token for a new access token.
	// Returns *AuthError when the refresh token is missing or rejected.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Credentials, error)

	// FetchChanges pulls every change since the cursor, paginating
	// internally until the provider reports no further pages. Returns
	// *CursorExpiredError when the provider signals the cursor is too old;
	// the caller must clear the stored cursor and start over.
	FetchChanges(ctx context.Context, accessToken string, state SyncState) (*ChangeSet, error)

	// RegisterPushSubscription sets up provider push notifications.
	// Best-effort: subscriptions are time-limited and renewed out-of-band.
	RegisterPushSubscription(ctx context.Context, accessToken string, target PushTarget) (string, error)
}
