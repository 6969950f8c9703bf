// Package notify delivers fire-and-forget events to external sinks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adscope/adscope/pkg/models"
)

// SlackNotifier posts events to a Slack incoming webhook. It is never on the
// critical path: callers ignore the error beyond logging it.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) Notify(ctx context.Context, event models.NotificationEvent) error {
	text := fmt.Sprintf("[%s] job %s: %s", event.Kind, event.JobID, event.Message)
	if event.ReportURL != "" {
		text += "\n" + event.ReportURL
	}

	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NopNotifier drops every event. Used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, models.NotificationEvent) error { return nil }

// LoggedNotify sends the event and logs a warning on failure. Convenience
// wrapper for fire-and-forget call sites.
func LoggedNotify(ctx context.Context, n models.Notifier, logger *slog.Logger, event models.NotificationEvent) {
	if err := n.Notify(ctx, event); err != nil {
		logger.Warn("notification delivery failed", "kind", event.Kind, "job_id", event.JobID, "error", err)
	}
}

var (
	_ models.Notifier = (*SlackNotifier)(nil)
	_ models.Notifier = NopNotifier{}
)
