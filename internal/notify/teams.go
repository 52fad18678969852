package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"
)

// Teams posts adaptive cards to a Microsoft Teams (Power Automate) webhook.
type Teams struct {
	webhookURL string
	events     []string
	client     *http.Client
}

// NewTeams returns a Teams notifier. An empty events list allows every event.
func NewTeams(webhookURL string, events []string) *Teams {
	return &Teams{
		webhookURL: webhookURL,
		events:     events,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Notify sends msg to the webhook.
// Returns nil immediately if no webhook is configured or if the event is filtered out.
func (t *Teams) Notify(ctx context.Context, msg Message) error {
	if t.webhookURL == "" {
		return nil
	}

	if len(t.events) > 0 && !slices.Contains(t.events, string(msg.Event)) {
		slog.Debug("notification event filtered out", "event", string(msg.Event))
		return nil
	}

	body, err := json.Marshal(buildAdaptiveCard(msg))
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("sending notification", "event", string(msg.Event), "title", msg.Title)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// buildAdaptiveCard constructs an Adaptive Card wrapped in the Power Automate envelope.
func buildAdaptiveCard(msg Message) map[string]any {
	headerText := string(msg.Event)
	switch msg.Event {
	case EventCIComment:
		headerText = "🤖 CI Comment"
	case EventRebuildTriggered:
		headerText = "🔁 Rebuild Triggered"
	case EventRebuildFailed:
		headerText = "❌ Rebuild Failed"
	}
	if msg.Title != "" {
		headerText += ": " + msg.Title
	}

	facts := []map[string]any{}
	if msg.MRTitle != "" {
		facts = append(facts, map[string]any{"title": "Merge Request", "value": msg.MRTitle})
	}
	if msg.Body != "" {
		facts = append(facts, map[string]any{"title": "Summary", "value": msg.Body})
	}

	cardBody := []map[string]any{
		{
			"type":   "TextBlock",
			"size":   "Medium",
			"weight": "Bolder",
			"text":   headerText,
		},
	}

	if len(facts) > 0 {
		cardBody = append(cardBody, map[string]any{
			"type":  "FactSet",
			"facts": facts,
		})
	}

	if msg.Error != "" {
		cardBody = append(cardBody, map[string]any{
			"type":   "TextBlock",
			"text":   fmt.Sprintf("⚠️ %s", msg.Error),
			"color":  "Attention",
			"wrap":   true,
			"weight": "Bolder",
		})
	}

	card := map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body":    cardBody,
	}
	if msg.URL != "" {
		card["actions"] = []map[string]any{
			{
				"type":  "Action.OpenUrl",
				"title": "Open",
				"url":   msg.URL,
			},
		}
	}

	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content":     card,
			},
		},
	}
}
