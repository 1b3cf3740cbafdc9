package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event for delivery to external indexers.
type Envelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      map[string]string `json:"data"`
}

// Publisher logs every event and, when a webhook URL is configured, delivers
// it from a background worker so the engine never waits on the network.
type Publisher struct {
	source     string
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	queue      chan Envelope
}

// NewPublisher creates a publisher. An empty webhookURL disables delivery.
func NewPublisher(source, webhookURL string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		source:     source,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
		queue:      make(chan Envelope, 1024),
	}
}

func (p *Publisher) Emit(e Event) {
	env := Envelope{
		EventID:   "evt_" + uuid.NewString(),
		EventType: e.Type,
		Timestamp: time.Now().UTC(),
		Source:    p.source,
		Data:      e.Attributes,
	}
	p.logger.Info("event_published",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"source", env.Source,
	)
	if p.webhookURL == "" {
		return
	}
	select {
	case p.queue <- env:
	default:
		p.logger.Warn("event_dropped", "event_id", env.EventID, "event_type", env.EventType)
	}
}

// Run delivers queued events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			if err := p.send(ctx, env); err != nil {
				p.logger.WarnContext(ctx, "webhook_failed",
					"url", p.webhookURL,
					"event_type", env.EventType,
					"error", err,
				)
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", env.EventID)
	req.Header.Set("X-Event-Type", env.EventType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
