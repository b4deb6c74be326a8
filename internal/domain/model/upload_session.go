package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UploadSessionPayload is the kind-specific body of an upload session
// operation. Multipart fields are zero-valued for single uploads.
type UploadSessionPayload struct {
	TenantID    string `json:"tenant_id"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
	StorageKey  string `json:"storage_key"`

	// Multipart bookkeeping.
	UploadID       string          `json:"upload_id,omitempty"`
	TotalParts     int             `json:"total_parts,omitempty"`
	UploadedParts  []CompletedPart `json:"uploaded_parts,omitempty"`
	ChecksumSHA256 string          `json:"checksum_sha256,omitempty"`
}

// CompletedPart records one successfully uploaded multipart chunk.
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// Validate checks required payload fields for both session kinds.
func (p *UploadSessionPayload) Validate(kind OperationKind) error {
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(p.FileName) == "" {
		return errors.New("file name is required")
	}
	if p.FileSize <= 0 {
		return errors.New("file size must be positive")
	}
	if strings.TrimSpace(p.StorageKey) == "" {
		return errors.New("storage key is required")
	}
	if kind == KindMultipartUploadSession && p.TotalParts <= 0 {
		return errors.New("multipart session requires total parts")
	}
	return nil
}

// NewUploadSession creates an upload-session Operation. The deadline drives
// both the Redis TTL mirror and the reconciliation sweep.
func NewUploadSession(payload UploadSessionPayload, idempotencyKey *string, deadline time.Time, now time.Time) (*Operation, error) {
	kind := KindUploadSession
	if payload.TotalParts > 0 {
		kind = KindMultipartUploadSession
	}
	if err := payload.Validate(kind); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal session payload: %w", err)
	}

	return NewOperation(&CreateOperationRequest{
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
		Payload:        raw,
		Deadline:       &deadline,
	}, now)
}

// SessionPayload decodes the operation payload as an upload session body.
func SessionPayload(op *Operation) (*UploadSessionPayload, error) {
	if op == nil || !op.Kind.SessionKind() {
		return nil, errors.New("operation is not an upload session")
	}
	var payload UploadSessionPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal session payload: %w", err)
	}
	return &payload, nil
}

// RegisterPart records a completed multipart chunk on the session. Parts can
// arrive in any order; registering the same part number twice replaces the
// earlier ETag (the storage backend keeps the last write anyway).
func RegisterPart(op *Operation, part CompletedPart, now time.Time) error {
	if op.Kind != KindMultipartUploadSession {
		return errors.New("operation is not a multipart session")
	}
	if op.Status.Terminal() {
		return &InvalidTransitionError{Op: "register part", From: op.Status}
	}
	if part.PartNumber <= 0 {
		return errors.New("part number must be positive")
	}
	if strings.TrimSpace(part.ETag) == "" {
		return errors.New("part etag is required")
	}

	payload, err := SessionPayload(op)
	if err != nil {
		return err
	}
	if part.PartNumber > payload.TotalParts {
		return fmt.Errorf("part number %d exceeds total parts %d", part.PartNumber, payload.TotalParts)
	}

	replaced := false
	for i := range payload.UploadedParts {
		if payload.UploadedParts[i].PartNumber == part.PartNumber {
			payload.UploadedParts[i] = part
			replaced = true
			break
		}
	}
	if !replaced {
		payload.UploadedParts = append(payload.UploadedParts, part)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal session payload: %w", err)
	}
	op.Payload = raw
	op.UpdatedAt = now.UTC()
	op.raise(EventPartUploaded, now)
	return nil
}

// PartsComplete reports whether every expected part has been registered.
func PartsComplete(op *Operation) (bool, error) {
	payload, err := SessionPayload(op)
	if err != nil {
		return false, err
	}
	return payload.TotalParts > 0 && len(payload.UploadedParts) >= payload.TotalParts, nil
}
