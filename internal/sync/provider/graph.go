package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	crmdomain "github.com/orangeleaf/crmsync/internal/crm/domain"
	"github.com/orangeleaf/crmsync/pkg/mailtext"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "openid profile email offline_access Mail.Read Mail.ReadWrite Mail.Send"

	// Graph subscriptions live at most three days and are renewed
	// out-of-band.
	graphSubscriptionTTL = 3 * 24 * time.Hour
)

// GraphAdapter syncs an Outlook mailbox through Microsoft Graph delta
// queries. The cursor is the opaque delta link returned by the last sync;
// with no cursor it backfills every message received since the integration's
// sync start date.
type GraphAdapter struct {
	clientID     string
	clientSecret string
	tokenURL     string
	baseURL      string
	client       *http.Client
}

// NewGraphAdapter creates a Graph adapter for the given Azure AD app.
// tenantID falls back to the multi-tenant "common" endpoint when empty.
func NewGraphAdapter(clientID, clientSecret, tenantID string) *GraphAdapter {
	if tenantID == "" {
		tenantID = "common"
	}
	return &GraphAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		baseURL:      graphBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *GraphAdapter) Kind() crmdomain.Provider { return crmdomain.ProviderMicrosoft }

func (a *GraphAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, &AuthError{Err: errors.New("no refresh token")}
	}

	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
		"scope":         {graphScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Err: fmt.Errorf("token refresh failed (status %d): %s", resp.StatusCode, body)}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, &AuthError{Err: fmt.Errorf("unable to decode token response: %w", err)}
	}
	if token.AccessToken == "" {
		return nil, &AuthError{Err: errors.New("token response missing access_token")}
	}

	return &Credentials{
		AccessToken: token.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID               string           `json:"id"`
	Subject          string           `json:"subject"`
	ConversationID   string           `json:"conversationId"`
	ReceivedDateTime time.Time        `json:"receivedDateTime"`
	IsDraft          bool             `json:"isDraft"`
	From             *graphRecipient  `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	CcRecipients     []graphRecipient `json:"ccRecipients"`
	Body             struct {
		Content     string `json:"content"`
		ContentType string `json:"contentType"`
	} `json:"body"`
}

type graphDeltaPage struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

func (a *GraphAdapter) FetchChanges(ctx context.Context, accessToken string, state SyncState) (*ChangeSet, error) {
	pageURL := state.Cursor
	if pageURL == "" {
		pageURL = a.initialDeltaURL(state.SyncFromDate)
	}

	var messages []RawMessage
	newCursor := state.Cursor

	for pageURL != "" {
		page, err := a.fetchDeltaPage(ctx, accessToken, pageURL, state.Cursor)
		if err != nil {
			return nil, err
		}

		for _, msg := range page.Value {
			messages = append(messages, convertGraphMessage(msg))
		}

		if page.NextLink != "" {
			pageURL = page.NextLink
			continue
		}
		if page.DeltaLink != "" {
			newCursor = page.DeltaLink
		}
		break
	}

	return &ChangeSet{Messages: messages, NewCursor: newCursor}, nil
}

func (a *GraphAdapter) fetchDeltaPage(ctx context.Context, accessToken, pageURL, cursor string) (*graphDeltaPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &ProviderAPIError{Provider: string(crmdomain.ProviderMicrosoft), Body: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &ProviderAPIError{Provider: string(crmdomain.ProviderMicrosoft), Body: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return nil, &CursorExpiredError{Cursor: cursor}
	case resp.StatusCode == http.StatusUnauthorized:
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{Err: fmt.Errorf("graph rejected access token: %s", body)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, &ProviderAPIError{Provider: string(crmdomain.ProviderMicrosoft), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var page graphDeltaPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &ProviderAPIError{Provider: string(crmdomain.ProviderMicrosoft), Body: fmt.Sprintf("unable to decode delta page: %v", err)}
	}
	return &page, nil
}

func (a *GraphAdapter) initialDeltaURL(since time.Time) string {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	query.Set("$select", "id,subject,from,toRecipients,ccRecipients,body,receivedDateTime,conversationId,isDraft")
	query.Set("$top", "50")
	return a.baseURL + "/me/messages/delta?" + query.Encode()
}

// RegisterPushSubscription creates a Graph change-notification subscription.
// ClientState carries the integration id so webhook notifications can map
// back to the mailbox that changed.
func (a *GraphAdapter) RegisterPushSubscription(ctx context.Context, accessToken string, target PushTarget) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"changeType":         "created,updated",
		"notificationUrl":    target.CallbackURL,
		"resource":           "me/messages",
		"expirationDateTime": time.Now().Add(graphSubscriptionTTL).UTC().Format(time.RFC3339),
		"clientState":        target.ClientState,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/subscriptions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &ProviderAPIError{Provider: string(crmdomain.ProviderMicrosoft), Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &ProviderAPIError{Provider: string(crmdomain.ProviderMicrosoft), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sub struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("unable to decode subscription response: %w", err)
	}
	return sub.ID, nil
}

func convertGraphMessage(msg graphMessage) RawMessage {
	var from string
	if msg.From != nil {
		from = mailtext.ExtractEmail(msg.From.EmailAddress.Address)
	}

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	body := msg.Body.Content
	html := ""
	if strings.EqualFold(msg.Body.ContentType, "html") {
		html = msg.Body.Content
		body = mailtext.StripHTML(html)
	}

	return RawMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		From:           from,
		To:             recipientAddresses(msg.ToRecipients),
		Cc:             recipientAddresses(msg.CcRecipients),
		Subject:        subject,
		Body:           body,
		BodyHTML:       html,
		SentAt:         msg.ReceivedDateTime,
		Draft:          msg.IsDraft,
	}
}

func recipientAddresses(recipients []graphRecipient) []string {
	var addrs []string
	for _, r := range recipients {
		if addr := mailtext.ExtractEmail(r.EmailAddress.Address); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
