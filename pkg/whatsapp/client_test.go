package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wacampaign/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, NewClient(server.URL, "test-key", 5*time.Second)
}

func TestSendTextSuccess(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]interface{}

	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-Api-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(SendMessageResponse{MessageID: "wamid.abc123", Status: "sent"})
	})

	resp, err := client.SendText(context.Background(), "919876543210", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.abc123", resp.MessageID)
	assert.Equal(t, "/api/sendText", gotPath)
	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, "919876543210", gotBody["phone"])
	assert.Equal(t, "hello", gotBody["text"])
}

func TestSendTemplatePayload(t *testing.T) {
	var gotBody map[string]interface{}

	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(SendMessageResponse{MessageID: "wamid.tpl"})
	})

	tpl := models.TemplatePayload{Name: "welcome", Language: "en", Params: map[string]string{"name": "Asha"}}
	resp, err := client.SendTemplate(context.Background(), "919876543210", tpl)
	require.NoError(t, err)
	assert.Equal(t, "wamid.tpl", resp.MessageID)
	assert.Equal(t, "welcome", gotBody["template"])
	assert.Equal(t, "en", gotBody["language"])
}

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		class      models.ErrorClass
	}{
		{"bad request is invalid recipient", http.StatusBadRequest, models.ErrClassInvalidRecipient},
		{"not found is invalid recipient", http.StatusNotFound, models.ErrClassInvalidRecipient},
		{"gone is invalid recipient", http.StatusGone, models.ErrClassInvalidRecipient},
		{"too many requests is rate limited", http.StatusTooManyRequests, models.ErrClassProviderRateLimited},
		{"server error is transient", http.StatusInternalServerError, models.ErrClassTransientNetwork},
		{"bad gateway is transient", http.StatusBadGateway, models.ErrClassTransientNetwork},
		{"unauthorized is rejected", http.StatusUnauthorized, models.ErrClassProviderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				json.NewEncoder(w).Encode(SendMessageResponse{Error: "provider said no"})
			})

			_, err := client.SendText(context.Background(), "919876543210", "hello")
			require.Error(t, err)

			sendErr, ok := err.(*SendError)
			require.True(t, ok, "expected *SendError, got %T", err)
			assert.Equal(t, tt.statusCode, sendErr.StatusCode)
			assert.Equal(t, tt.class, sendErr.Class)
			assert.Equal(t, "provider said no", sendErr.Detail)
		})
	}
}

func TestSendConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // force a connection error

	client := NewClient(server.URL, "", time.Second)
	_, err := client.SendText(context.Background(), "919876543210", "hello")
	require.Error(t, err)
	assert.Equal(t, models.ErrClassTransientNetwork, ClassOf(err))
}

func TestSenderDispatchesByPayloadType(t *testing.T) {
	var gotPaths []string
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		json.NewEncoder(w).Encode(SendMessageResponse{MessageID: "wamid.x"})
	})
	sender := NewSender(client)

	payloads := []models.MessagePayload{
		models.NewTextPayload("hi"),
		models.NewTemplatePayload("welcome", "en", nil),
		models.NewMediaPayload("image", "https://example.com/a.jpg", "look"),
	}
	for _, p := range payloads {
		id, err := sender.Send(context.Background(), "919876543210", p)
		require.NoError(t, err)
		assert.Equal(t, "wamid.x", id)
	}
	assert.Equal(t, []string{"/api/sendText", "/api/sendTemplate", "/api/sendMedia"}, gotPaths)
}

func TestSenderRejectsUnknownPayloadType(t *testing.T) {
	sender := NewSender(nil)

	_, err := sender.Send(context.Background(), "919876543210", models.MessagePayload{Type: "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, models.ErrClassProviderRejected, ClassOf(err))
}

func TestClassOfDefaultsToTransient(t *testing.T) {
	assert.Equal(t, models.ErrClassTransientNetwork, ClassOf(context.DeadlineExceeded))
}
