// Package slack delivers operation-failure notifications to a Slack incoming
// webhook as a single formatted text message.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ryuqq/fileflow/internal/observability/notify"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultUsername = "fileflow"
	retryBaseDelay  = 200 * time.Millisecond
)

// Config holds the Slack webhook sink settings.
type Config struct {
	WebhookURL         string
	Channel            string
	Username           string
	Timeout            time.Duration
	RetryLimit         int
	Client             *http.Client
	OperationURLPrefix string
}

// Client delivers operation failure notifications to a Slack webhook.
type Client struct {
	webhookURL         string
	channel            string
	username           string
	retryLimit         int
	operationURLPrefix string
	client             *http.Client
}

// message is the incoming-webhook payload shape.
type message struct {
	Text     string `json:"text"`
	Username string `json:"username"`
	Channel  string `json:"channel,omitempty"`
}

// NewClient builds a Slack webhook client. The webhook URL is required.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = defaultUsername
	}

	return &Client{
		webhookURL:         webhookURL,
		channel:            strings.TrimSpace(cfg.Channel),
		username:           username,
		retryLimit:         max(cfg.RetryLimit, 0),
		operationURLPrefix: strings.TrimSpace(cfg.OperationURLPrefix),
		client:             hc,
	}, nil
}

// SendOperationFailure posts a formatted message, retrying transient failures
// with a linear backoff up to the configured retry limit.
func (c *Client) SendOperationFailure(ctx context.Context, payload notify.OperationFailurePayload) error {
	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
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

func (c *Client) formatMessage(payload notify.OperationFailurePayload) message {
	occurredAt := payload.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	var lines []string
	lines = append(lines, headerLine(payload))

	attempts := ""
	if payload.Attempts > 0 {
		attempts = strconv.Itoa(payload.Attempts)
	}
	severity := payload.Severity
	if strings.TrimSpace(severity) == "" {
		severity = notify.SeverityCritical
	}
	lines = appendBullet(lines, "Severity", severity)
	lines = appendBullet(lines, "Operation", c.formatOperationValue(payload.OperationID))
	lines = appendBullet(lines, "Status", payload.Status)
	lines = appendBullet(lines, "Attempts", attempts)
	lines = appendBullet(lines, "Reason", payload.Reason)
	lines = appendBullet(lines, "Error class", payload.ErrorClass)
	lines = appendBullet(lines, "Error", payload.Error)
	lines = append(lines, metadataLines(payload.Metadata)...)
	lines = append(lines, "• Timestamp: "+occurredAt.UTC().Format(time.RFC3339))

	return message{
		Text:     strings.Join(lines, "\n"),
		Username: c.username,
		Channel:  c.channel,
	}
}

func headerLine(payload notify.OperationFailurePayload) string {
	var b strings.Builder
	b.WriteString("*Operation failure alert*")
	if payload.OperationID != "" {
		fmt.Fprintf(&b, " `%s`", payload.OperationID)
	}
	if payload.Kind != "" {
		fmt.Fprintf(&b, " (%s)", payload.Kind)
	}
	return b.String()
}

func appendBullet(lines []string, label, value string) []string {
	if strings.TrimSpace(value) == "" {
		return lines
	}
	return append(lines, "• "+label+": "+value)
}

func metadataLines(metadata map[string]string) []string {
	if len(metadata) == 0 {
		return nil
	}
	lines := make([]string, 0, len(metadata)+1)
	lines = append(lines, "• Metadata:")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		lines = append(lines, "    • "+k+": "+metadata[k])
	}
	return lines
}

// formatOperationValue renders the operation reference, as a Slack link when
// a console URL prefix is configured and parses as an absolute URL.
func (c *Client) formatOperationValue(operationID string) string {
	rawID := strings.TrimSpace(operationID)
	id := escapeText(rawID)
	if id == "" {
		return ""
	}
	if link := c.operationLink(rawID); link != "" {
		return fmt.Sprintf("<%s|%s>", link, id)
	}
	return id
}

func (c *Client) operationLink(operationID string) string {
	if c.operationURLPrefix == "" {
		return ""
	}
	u, err := url.Parse(c.operationURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	link, err := url.JoinPath(u.String(), operationID)
	if err != nil {
		return ""
	}
	return link
}

var markupEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(value string) string {
	return markupEscaper.Replace(value)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, drainErr := io.Copy(io.Discard, resp.Body)
		return errors.Join(drainErr, resp.Body.Close())
	}

	respBody, readErr := io.ReadAll(resp.Body)
	if err := errors.Join(readErr, resp.Body.Close()); err != nil {
		return fmt.Errorf("read slack error response: %w", err)
	}
	return fmt.Errorf("slack webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
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
