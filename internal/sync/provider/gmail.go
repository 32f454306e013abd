package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/pkg/mailtext"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailAdapter syncs a Gmail mailbox through the history API. The cursor is
// the mailbox's history id; with no cursor it bootstraps from the current
// profile position — Gmail history only moves forward, so a fresh link does
// not backfill.
type GmailAdapter struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	opts         []option.ClientOption
}

// NewGmailAdapter creates a Gmail adapter. Extra client options are passed
// through to the Gmail service, which lets tests point the SDK at a local
// server.
func NewGmailAdapter(clientID, clientSecret string, opts ...option.ClientOption) *GmailAdapter {
	return &GmailAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     google.Endpoint,
		opts:         opts,
	}
}

func (a *GmailAdapter) Kind() crmdomain.Provider { return crmdomain.ProviderGoogle }

func (a *GmailAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, &AuthError{Err: errors.New("no refresh token")}
	}

	config := &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Endpoint:     a.endpoint,
	}
	token, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return &Credentials{AccessToken: token.AccessToken, ExpiresAt: token.Expiry}, nil
}

func (a *GmailAdapter) FetchChanges(ctx context.Context, accessToken string, state SyncState) (*ChangeSet, error) {
	srv, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	startHistoryID := state.Cursor
	if startHistoryID == "" {
		profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return nil, a.wrapErr(err, state.Cursor)
		}
		startHistoryID = strconv.FormatUint(profile.HistoryId, 10)
	}

	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		// A cursor Gmail can't resume from is the same as an expired one.
		return nil, &CursorExpiredError{Cursor: state.Cursor}
	}

	var messageIDs []string
	seen := make(map[string]bool)
	newCursor := startHistoryID
	pageToken := ""

	for {
		call := srv.Users.History.List("me").
			StartHistoryId(start).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, a.wrapErr(err, state.Cursor)
		}

		if resp.HistoryId > 0 {
			newCursor = strconv.FormatUint(resp.HistoryId, 10)
		}
		for _, record := range resp.History {
			for _, added := range record.MessagesAdded {
				if added.Message != nil && !seen[added.Message.Id] {
					seen[added.Message.Id] = true
					messageIDs = append(messageIDs, added.Message.Id)
				}
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	messages := make([]RawMessage, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := srv.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			// A single unfetchable message must not sink the batch.
			log.Printf("[Gmail] unable to fetch message %s: %v", id, err)
			continue
		}
		messages = append(messages, convertGmailMessage(msg))
	}

	return &ChangeSet{Messages: messages, NewCursor: newCursor}, nil
}

// RegisterPushSubscription starts a watch publishing mailbox changes to the
// configured Pub/Sub topic. Any existing watch is stopped first — Gmail
// allows only one push client per user.
func (a *GmailAdapter) RegisterPushSubscription(ctx context.Context, accessToken string, target PushTarget) (string, error) {
	srv, err := a.service(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("unable to create Gmail service: %w", err)
	}

	_ = srv.Users.Stop("me").Context(ctx).Do()

	resp, err := srv.Users.Watch("me", &gmail.WatchRequest{
		TopicName: target.TopicName,
		LabelIds:  []string{"INBOX", "SENT"},
	}).Context(ctx).Do()
	if err != nil {
		return "", a.wrapErr(err, "")
	}

	log.Printf("[Gmail] watch registered, expiration: %d, historyId: %d", resp.Expiration, resp.HistoryId)
	return strconv.FormatInt(resp.Expiration, 10), nil
}

func (a *GmailAdapter) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(src)}, a.opts...)
	return gmail.NewService(ctx, opts...)
}

func (a *GmailAdapter) wrapErr(err error, cursor string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusGone:
			return &CursorExpiredError{Cursor: cursor}
		case http.StatusUnauthorized:
			return &AuthError{Err: err}
		}
		return &ProviderAPIError{Provider: string(crmdomain.ProviderGoogle), StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return &ProviderAPIError{Provider: string(crmdomain.ProviderGoogle), Body: err.Error()}
}

func convertGmailMessage(msg *gmail.Message) RawMessage {
	plain, html := extractGmailBody(msg.Payload)
	body := plain
	if body == "" && html != "" {
		body = mailtext.StripHTML(html)
	}

	return RawMessage{
		ID:             msg.Id,
		ConversationID: msg.ThreadId,
		From:           mailtext.ExtractEmail(getHeader(msg.Payload, "From")),
		To:             mailtext.ParseAddressList(getHeader(msg.Payload, "To")),
		Cc:             mailtext.ParseAddressList(getHeader(msg.Payload, "Cc")),
		Subject:        getHeader(msg.Payload, "Subject"),
		Body:           body,
		BodyHTML:       html,
		SentAt:         time.Unix(msg.InternalDate/1000, 0),
		Draft:          hasLabel(msg.LabelIds, "DRAFT"),
	}
}

func getHeader(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, header := range payload.Headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}

// extractGmailBody walks the MIME tree for the first text/plain and
// text/html parts. Full MIME handling is out of scope; everything else is
// ignored.
func extractGmailBody(payload *gmail.MessagePart) (plain, html string) {
	if payload == nil {
		return "", ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		data := decodeBase64URL(payload.Body.Data)
		if payload.MimeType == "text/html" {
			return "", data
		}
		return data, ""
	}

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				switch part.MimeType {
				case "text/plain":
					if plain == "" {
						plain = decodeBase64URL(part.Body.Data)
					}
				case "text/html":
					if html == "" {
						html = decodeBase64URL(part.Body.Data)
					}
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)
	return plain, html
}

func decodeBase64URL(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

func hasLabel(labels []string, labelID string) bool {
	for _, label := range labels {
		if label == labelID {
			return true
		}
	}
	return false
}
