package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraphAdapter(server *httptest.Server) *GraphAdapter {
	adapter := NewGraphAdapter("client-id", "client-secret", "common")
	adapter.tokenURL = server.URL + "/token"
	adapter.baseURL = server.URL
	adapter.client = server.Client()
	return adapter
}

func graphMessageJSON(id, conversationID, from, subject string) map[string]interface{} {
	return map[string]interface{}{
		"id":               id,
		"conversationId":   conversationID,
		"subject":          subject,
		"receivedDateTime": time.Now().UTC().Format(time.RFC3339),
		"from": map[string]interface{}{
			"emailAddress": map[string]string{"address": from},
		},
		"toRecipients": []map[string]interface{}{
			{"emailAddress": map[string]string{"address": "sales@acme.com"}},
		},
		"body": map[string]string{"contentType": "text", "content": "hello"},
	}
}

func TestGraphRefreshAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-1",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	creds, err := adapter.RefreshAccessToken(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), creds.ExpiresAt, time.Minute)
}

func TestGraphRefreshRejectionIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	_, err := adapter.RefreshAccessToken(context.Background(), "rt-1")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestGraphRefreshWithoutTokenIsAuthError(t *testing.T) {
	adapter := NewGraphAdapter("client-id", "client-secret", "")
	_, err := adapter.RefreshAccessToken(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestGraphFetchChangesFollowsPagination(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/me/messages/delta":
			// initial request carries the backfill filter
			assert.Contains(t, r.URL.Query().Get("$filter"), "receivedDateTime ge ")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value":           []interface{}{graphMessageJSON("m1", "c1", "alice@client.com", "First")},
				"@odata.nextLink": server.URL + "/me/messages/delta/page2",
			})
		case "/me/messages/delta/page2":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"value":            []interface{}{graphMessageJSON("m2", "c1", "alice@client.com", "Second")},
				"@odata.deltaLink": server.URL + "/me/messages/delta/final",
			})
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	changes, err := adapter.FetchChanges(context.Background(), "at-1", SyncState{
		SyncFromDate: time.Now().Add(-30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, changes.Messages, 2)
	assert.Equal(t, "m1", changes.Messages[0].ID)
	assert.Equal(t, "m2", changes.Messages[1].ID)
	assert.Equal(t, server.URL+"/me/messages/delta/final", changes.NewCursor)
}

func TestGraphFetchChangesResumesFromDeltaLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/messages/delta/stored", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"value": []interface{}{},
		})
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	cursor := server.URL + "/me/messages/delta/stored"
	changes, err := adapter.FetchChanges(context.Background(), "at-1", SyncState{Cursor: cursor})
	require.NoError(t, err)
	assert.Empty(t, changes.Messages)
	assert.Equal(t, cursor, changes.NewCursor, "cursor is kept when no new delta link is returned")
}

func TestGraphGoneMapsToCursorExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	cursor := server.URL + "/me/messages/delta/stale"
	_, err := adapter.FetchChanges(context.Background(), "at-1", SyncState{Cursor: cursor})
	require.Error(t, err)
	assert.True(t, IsCursorExpired(err))
}

func TestGraphUnauthorizedMapsToAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	_, err := adapter.FetchChanges(context.Background(), "expired", SyncState{SyncFromDate: time.Now()})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestGraphServerErrorMapsToProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "throttled")
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	_, err := adapter.FetchChanges(context.Background(), "at-1", SyncState{SyncFromDate: time.Now()})
	require.Error(t, err)
	var apiErr *ProviderAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "throttled")
}

func TestGraphRegisterPushSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/subscriptions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://crm.example.com/api/webhooks/email/microsoft", body["notificationUrl"])
		assert.Equal(t, "integration-1", body["clientState"])
		assert.Equal(t, "me/messages", body["resource"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "sub-99"})
	}))
	defer server.Close()

	adapter := newTestGraphAdapter(server)
	id, err := adapter.RegisterPushSubscription(context.Background(), "at-1", PushTarget{
		CallbackURL: "https://crm.example.com/api/webhooks/email/microsoft",
		ClientState: "integration-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-99", id)
}

func TestConvertGraphMessageStripsHTML(t *testing.T) {
	msg := graphMessage{
		ID:             "m1",
		ConversationID: "c1",
	}
	msg.Body.ContentType = "html"
	msg.Body.Content = "<p>Hello <b>world</b></p>"

	raw := convertGraphMessage(msg)
	assert.Equal(t, "Hello world", raw.Body)
	assert.Equal(t, "<p>Hello <b>world</b></p>", raw.BodyHTML)
	assert.Equal(t, "(no subject)", raw.Subject)
}
