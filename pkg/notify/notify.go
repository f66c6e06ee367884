package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hostvault/sitebak/pkg/config"
)

// Severity of a notification event.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one notification. Payload carries structured details (counts,
// sizes, tenant names).
type Event struct {
	ID       string                 `json:"id"`
	Time     time.Time              `json:"time"`
	Severity Severity               `json:"severity"`
	Title    string                 `json:"title"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

func NewEvent(severity Severity, title string, payload map[string]interface{}) Event {
	return Event{
		ID:       uuid.New().String(),
		Time:     time.Now().UTC(),
		Severity: severity,
		Title:    title,
		Payload:  payload,
	}
}

// Notifier delivers events best effort. Implementations never block the
// pipeline beyond their own timeout and never surface delivery failures.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Noop discards every event. Used when no webhook is configured.
type Noop struct{}

func (Noop) Notify(context.Context, Event) {}

// Webhook posts events to a configured URL as Discord, Slack or plain JSON
// payloads, with bounded retries.
type Webhook struct {
	cfg    config.NotifyConfig
	client *http.Client
}

// New returns the notifier for cfg, a Noop when no webhook URL is set.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return Noop{}
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.TimeoutDuration},
	}
}

func (w *Webhook) Notify(ctx context.Context, event Event) {
	body, err := w.render(event)
	if err != nil {
		log.Warn().Msgf("can't render notification: %v", err)
		return
	}
	r := retrier.New(retrier.ConstantBackoff(w.cfg.Retries, time.Second), nil)
	err = r.RunCtx(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		log.Warn().Str("title", event.Title).Msgf("can't deliver notification: %v", err)
	}
}

func (w *Webhook) render(event Event) ([]byte, error) {
	switch w.cfg.Format {
	case "discord":
		return json.Marshal(map[string]interface{}{
			"embeds": []map[string]interface{}{{
				"title":       event.Title,
				"description": renderText(event),
				"color":       discordColor(event.Severity),
				"timestamp":   event.Time.Format(time.RFC3339),
				"footer":      map[string]string{"text": "sitebak " + event.ID},
			}},
		})
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s*\n%s", event.Title, renderText(event)),
		})
	default:
		return json.Marshal(event)
	}
}

func renderText(event Event) string {
	var b bytes.Buffer
	for k, v := range event.Payload {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}

func discordColor(s Severity) int {
	switch s {
	case SeveritySuccess:
		return 0x2ecc71
	case SeverityWarning:
		return 0xf1c40f
	default:
		return 0xe74c3c
	}
}
