package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeams_NoWebhook(t *testing.T) {
	err := NewTeams("", nil).Notify(t.Context(), Message{Event: EventCIComment, Title: "MR 42"})
	assert.NoError(t, err)
}

func TestTeams_EventFiltering(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	teams := NewTeams(srv.URL, []string{"rebuild_failed"})

	err := teams.Notify(t.Context(), Message{Event: EventCIComment, Title: "MR 42"})
	assert.NoError(t, err)
	assert.False(t, called, "webhook should not be called for filtered event")

	err = teams.Notify(t.Context(), Message{Event: EventRebuildFailed, Title: "MR 42"})
	assert.NoError(t, err)
	assert.True(t, called, "webhook should be called for an allowed event")
}

func TestTeams_SendsRequest(t *testing.T) {
	var receivedBody []byte
	var receivedContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedContentType = r.Header.Get("Content-Type")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		receivedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewTeams(srv.URL, nil).Notify(t.Context(), Message{
		Event:   EventCIComment,
		Title:   "MR 42",
		Body:    "app-merge-request #1234",
		URL:     "https://gitlab.example.com/g/p/-/merge_requests/42",
		MRTitle: "Add retry to uploader",
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", receivedContentType)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(receivedBody, &envelope))
	assert.Equal(t, "message", envelope["type"])

	attachments, ok := envelope["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)

	attachment := attachments[0].(map[string]any)
	assert.Equal(t, "application/vnd.microsoft.card.adaptive", attachment["contentType"])

	content := attachment["content"].(map[string]any)
	assert.Equal(t, "AdaptiveCard", content["type"])
	assert.Equal(t, "1.4", content["version"])
}

func TestBuildAdaptiveCard_CIComment(t *testing.T) {
	card := buildAdaptiveCard(Message{
		Event:   EventCIComment,
		Title:   "MR 42",
		Body:    "app-merge-request #1234",
		URL:     "https://example.com/mr/42",
		MRTitle: "Add retry",
	})

	attachments := card["attachments"].([]map[string]any)
	require.Len(t, attachments, 1)
	content := attachments[0]["content"].(map[string]any)

	body := content["body"].([]map[string]any)
	require.NotEmpty(t, body)
	assert.Equal(t, "🤖 CI Comment: MR 42", body[0]["text"])

	factSet := body[1]
	assert.Equal(t, "FactSet", factSet["type"])
	facts := factSet["facts"].([]map[string]any)
	assert.Len(t, facts, 2)

	actions := content["actions"].([]map[string]any)
	require.Len(t, actions, 1)
	assert.Equal(t, "Action.OpenUrl", actions[0]["type"])
	assert.Equal(t, "https://example.com/mr/42", actions[0]["url"])
}

func TestBuildAdaptiveCard_RebuildFailed(t *testing.T) {
	card := buildAdaptiveCard(Message{
		Event: EventRebuildFailed,
		Title: "MR 42",
		Error: "403 Forbidden",
	})

	attachments := card["attachments"].([]map[string]any)
	content := attachments[0]["content"].(map[string]any)
	body := content["body"].([]map[string]any)

	assert.Equal(t, "❌ Rebuild Failed: MR 42", body[0]["text"])

	hasError := false
	for _, block := range body {
		if text, ok := block["text"].(string); ok && text == "⚠️ 403 Forbidden" {
			hasError = true
			assert.Equal(t, "Attention", block["color"])
		}
	}
	assert.True(t, hasError, "card should include error text block")

	_, hasActions := content["actions"]
	assert.False(t, hasActions, "actions should not be present when URL is empty")
}

func TestTeams_WebhookErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream connect error"))
	}))
	defer srv.Close()

	err := NewTeams(srv.URL, nil).Notify(t.Context(), Message{Event: EventCIComment, Title: "MR 42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream connect error")
}

func TestTeams_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewTeams(srv.URL, nil).Notify(ctx, Message{Event: EventCIComment, Title: "MR 42"})
	assert.Error(t, err)
}
