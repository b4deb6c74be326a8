package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DownloadTaskPayload is the kind-specific body of an external download task:
// fetch SourceURL and store it under StorageKey, then hit the callback.
type DownloadTaskPayload struct {
	TenantID    string `json:"tenant_id"`
	SourceURL   string `json:"source_url"`
	Bucket      string `json:"bucket"`
	StorageKey  string `json:"storage_key"`
	Purpose     string `json:"purpose,omitempty"`
	Source      string `json:"source,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Validate checks required payload fields and URL shape.
func (p *DownloadTaskPayload) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(p.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.TrimSpace(p.StorageKey) == "" {
		return errors.New("storage key is required")
	}
	if err := validateHTTPURL(p.SourceURL, "source url"); err != nil {
		return err
	}
	if p.CallbackURL != "" {
		if err := validateHTTPURL(p.CallbackURL, "callback url"); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(raw, label string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", label)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be a valid http(s) URL", label)
	}
	return nil
}

// NewDownloadTask creates a queued external-download Operation.
func NewDownloadTask(payload DownloadTaskPayload, idempotencyKey *string, now time.Time) (*Operation, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal download payload: %w", err)
	}

	return NewOperation(&CreateOperationRequest{
		Kind:           KindExternalDownload,
		IdempotencyKey: idempotencyKey,
		Payload:        raw,
	}, now)
}

// DownloadPayload decodes the operation payload as a download task body.
func DownloadPayload(op *Operation) (*DownloadTaskPayload, error) {
	if op == nil || op.Kind != KindExternalDownload {
		return nil, errors.New("operation is not an external download")
	}
	var payload DownloadTaskPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal download payload: %w", err)
	}
	return &payload, nil
}
