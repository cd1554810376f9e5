// Package provider implements clients for the remote generative model.
//
// This package contains:
//   - Model interface: one generateContent-style request/response exchange
//   - Gemini: REST implementation against the Generative Language API
//   - APIError / SafetyError: typed remote failures
//   - Stats: per-provider success/failure bookkeeping
package provider

import (
	"context"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
)

// Part is one piece of a user turn: either text or an inline image.
type Part struct {
	Text  string
	Image *domain.Image
}

// TextPart returns a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart returns an inline image part.
func ImagePart(img domain.Image) Part { return Part{Image: &img} }

// Request is a single generation request.
type Request struct {
	// SystemInstruction is sent as the model's system prompt when set.
	SystemInstruction string

	Parts []Part

	// Schema constrains the output to JSON matching the schema. Nil means
	// free text.
	Schema *Schema

	// Temperature overrides the model default when non-nil.
	Temperature *float64
}

// Response is the text produced by the model.
type Response struct {
	Text         string
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// Model performs exactly one remote attempt per call. Retrying and spacing
// are the caller's job.
type Model interface {
	// Name returns the model identifier (e.g., "gemini-2.5-flash")
	Name() string

	// Generate sends one request
	Generate(ctx context.Context, req Request) (Response, error)

	// Stats returns request bookkeeping
	Stats() Stats
}

// Schema is the subset of the OpenAPI schema object accepted as
// responseSchema.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	MinItems    int                `json:"minItems,omitempty"`
	MaxItems    int                `json:"maxItems,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Stats represents the request history of a provider.
type Stats struct {
	Requests      int           `json:"requests"`
	Failures      int           `json:"failures"`
	ErrorRate     float64       `json:"error_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	LastSuccessAt time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt time.Time     `json:"last_failure_at,omitempty"`
}
