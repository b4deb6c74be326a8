package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransformFormat is the output format of an image transform.
type TransformFormat string

const (
	// TransformFormatJPEG outputs JPEG.
	TransformFormatJPEG TransformFormat = "jpeg"
	// TransformFormatPNG outputs PNG.
	TransformFormatPNG TransformFormat = "png"
	// TransformFormatWebP outputs WebP.
	TransformFormatWebP TransformFormat = "webp"
	// TransformFormatAVIF outputs AVIF.
	TransformFormatAVIF TransformFormat = "avif"
)

// Valid returns true for a supported output format.
func (f TransformFormat) Valid() bool {
	return f == TransformFormatJPEG || f == TransformFormatPNG ||
		f == TransformFormatWebP || f == TransformFormatAVIF
}

const maxTransformDimension = 8192

// TransformRequestPayload is the kind-specific body of an image transform.
// The actual resizing/codec work happens in an out-of-scope worker; this
// payload only has to be valid and self-describing.
type TransformRequestPayload struct {
	TenantID   string          `json:"tenant_id"`
	AssetID    string          `json:"asset_id"`
	SourceKey  string          `json:"source_key"`
	TargetKey  string          `json:"target_key"`
	Format     TransformFormat `json:"format"`
	Width      int             `json:"width,omitempty"`
	Height     int             `json:"height,omitempty"`
	Quality    int             `json:"quality,omitempty"`
	Preserve   bool            `json:"preserve_metadata,omitempty"`
	Thumbnails []int           `json:"thumbnail_widths,omitempty"`
}

// Validate checks dimensions, quality and format.
func (p *TransformRequestPayload) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(p.AssetID) == "" {
		return errors.New("asset id is required")
	}
	if strings.TrimSpace(p.SourceKey) == "" {
		return errors.New("source key is required")
	}
	if strings.TrimSpace(p.TargetKey) == "" {
		return errors.New("target key is required")
	}
	if !p.Format.Valid() {
		return fmt.Errorf("unsupported transform format: %q", p.Format)
	}
	if p.Width < 0 || p.Width > maxTransformDimension {
		return fmt.Errorf("width must be between 0 and %d", maxTransformDimension)
	}
	if p.Height < 0 || p.Height > maxTransformDimension {
		return fmt.Errorf("height must be between 0 and %d", maxTransformDimension)
	}
	if p.Width == 0 && p.Height == 0 && len(p.Thumbnails) == 0 {
		return errors.New("at least one target dimension is required")
	}
	if p.Quality < 0 || p.Quality > 100 {
		return errors.New("quality must be between 0 and 100")
	}
	for _, w := range p.Thumbnails {
		if w <= 0 || w > maxTransformDimension {
			return fmt.Errorf("thumbnail width %d out of range", w)
		}
	}
	return nil
}

// NewTransformRequest creates a queued transform Operation.
func NewTransformRequest(payload TransformRequestPayload, idempotencyKey *string, now time.Time) (*Operation, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}

	return NewOperation(&CreateOperationRequest{
		Kind:           KindTransformRequest,
		IdempotencyKey: idempotencyKey,
		Payload:        raw,
	}, now)
}

// TransformPayload decodes the operation payload as a transform body.
func TransformPayload(op *Operation) (*TransformRequestPayload, error) {
	if op == nil || op.Kind != KindTransformRequest {
		return nil, errors.New("operation is not a transform request")
	}
	var payload TransformRequestPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	return &payload, nil
}
