// Package pagerduty delivers operation-failure notifications through the
// PagerDuty Events API v2.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ryuqq/fileflow/internal/observability/notify"
)

// APIEndpoint is where Events API v2 payloads are posted.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

const (
	defaultTimeout = 5 * time.Second
	defaultOrigin  = "fileflow"
	retryBaseDelay = 200 * time.Millisecond
)

// Config holds the PagerDuty sink settings.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers operation failures as PagerDuty events.
type Client struct {
	routingKey string
	source     string
	component  string
	retryLimit int
	client     *http.Client
}

// event is the Events API v2 trigger envelope.
type event struct {
	RoutingKey string       `json:"routing_key"`
	Action     string       `json:"event_action"`
	DedupKey   string       `json:"dedup_key"`
	Payload    eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary   string         `json:"summary"`
	Severity  string         `json:"severity"`
	Source    string         `json:"source"`
	Component string         `json:"component"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"custom_details"`
}

// NewClient constructs a PagerDuty events client from config. Callers must
// provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		routingKey: key,
		source:     orDefault(cfg.Source, defaultOrigin),
		component:  orDefault(cfg.Component, defaultOrigin),
		retryLimit: max(cfg.RetryLimit, 0),
		client:     hc,
	}, nil
}

// SendOperationFailure submits a trigger event, retrying transient failures
// with a linear backoff up to the configured retry limit.
func (c *Client) SendOperationFailure(ctx context.Context, payload notify.OperationFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryLimit; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*retryBaseDelay); err != nil {
				return err
			}
		}
		if lastErr = c.post(ctx, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) buildEvent(payload notify.OperationFailurePayload) event {
	occurredAt := payload.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	details := map[string]any{
		"operation_id": payload.OperationID,
		"kind":         payload.Kind,
		"status":       payload.Status,
		"attempts":     payload.Attempts,
		"reason":       payload.Reason,
		"error":        payload.Error,
		"error_class":  payload.ErrorClass,
	}
	// Metadata augments the details but never shadows the reserved keys.
	for k, v := range payload.Metadata {
		if _, reserved := details[k]; !reserved {
			details[k] = v
		}
	}

	return event{
		RoutingKey: c.routingKey,
		Action:     "trigger",
		DedupKey:   strings.Trim(payload.Kind+":"+payload.OperationID, ":"),
		Payload: eventPayload{
			Summary: fmt.Sprintf("Operation %s (%s) failed",
				orDefault(payload.OperationID, "unknown"),
				orDefault(payload.Kind, "unknown")),
			Severity:  orDefault(strings.ToLower(payload.Severity), notify.SeverityCritical),
			Source:    c.source,
			Component: c.component,
			Timestamp: occurredAt.Format(time.RFC3339),
			Details:   details,
		},
	}
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, APIEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, drainErr := io.Copy(io.Discard, resp.Body)
		return errors.Join(drainErr, resp.Body.Close())
	}

	respBody, readErr := io.ReadAll(resp.Body)
	if err := errors.Join(readErr, resp.Body.Close()); err != nil {
		return fmt.Errorf("read pagerduty error response: %w", err)
	}
	return fmt.Errorf("pagerduty api %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
