// Package generation turns images into question batches and asks the model
// for explanations and advice. Every remote call goes through the request
// lane.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/rpc/lane"
	"github.com/vietddude/snapquiz/internal/infra/rpc/provider"
)

// Operation names, used for lane logging and metrics.
const (
	OpQuestionBatch       = "question_batch"
	OpDetailedExplanation = "detailed_explanation"
	OpAdvice              = "advice"
)

var (
	// ErrMalformedResponse means the batch response could not be turned into
	// questions. It is never retried.
	ErrMalformedResponse = errors.New("malformed question batch")

	ErrNoImages      = errors.New("at least one image is required")
	ErrTooManyImages = fmt.Errorf("at most %d images are allowed", domain.MaxImages)

	errEmptyText = errors.New("model returned no text")
)

// BatchRequest describes one question batch.
type BatchRequest struct {
	Images  []domain.Image
	Mode    domain.Mode
	Persona domain.Persona

	// Avoid lists question texts the player has already seen. It is a hint
	// in the prompt only; duplicates are not filtered.
	Avoid []string

	// Progress, if set, receives human readable status updates.
	Progress func(msg string)
}

// Generator implements the generation protocol on top of a Model and the
// request lane.
type Generator struct {
	model provider.Model
	lane  lane.Submitter
	newID func() string
	log   *slog.Logger
}

// NewGenerator creates a new generator.
func NewGenerator(model provider.Model, submitter lane.Submitter) *Generator {
	return &Generator{
		model: model,
		lane:  submitter,
		newID: uuid.NewString,
		log:   slog.Default().With("component", "generation"),
	}
}

// GenerateQuestionBatch asks for exactly TotalQuestions questions about the
// images. Parsing happens after the lane settles, so a malformed response
// costs one dispatch and is reported as ErrMalformedResponse.
func (g *Generator) GenerateQuestionBatch(ctx context.Context, req BatchRequest) ([]domain.Question, error) {
	if len(req.Images) == 0 {
		return nil, ErrNoImages
	}
	if len(req.Images) > domain.MaxImages {
		return nil, ErrTooManyImages
	}

	progress := req.Progress
	if progress == nil {
		progress = func(string) {}
	}
	progress(ProgressPreparing)

	parts := make([]provider.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, provider.ImagePart(img))
	}
	parts = append(parts, provider.TextPart(batchPrompt(req.Mode, req.Persona, req.Avoid)))

	preq := provider.Request{Parts: parts, Schema: batchSchema}

	resp, err := lane.Do(ctx, g.lane, OpQuestionBatch, func(ctx context.Context) (provider.Response, error) {
		progress(ProgressWriting)
		return g.model.Generate(ctx, preq)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate question batch: %w", err)
	}

	items, err := parseBatch(resp.Text)
	if err != nil {
		g.log.Warn("Discarding malformed question batch", "error", err, "bytes", len(resp.Text))
		return nil, err
	}

	questions, err := normalize(items, g.newID)
	if err != nil {
		return nil, err
	}
	if len(items) != domain.TotalQuestions {
		g.log.Debug("Adjusted question batch size", "received", len(items), "returned", len(questions))
	}
	return questions, nil
}

// GenerateDetailedExplanation asks for a longer explanation of q. Callers
// fall back to FallbackExplanation on error.
func (g *Generator) GenerateDetailedExplanation(ctx context.Context, q domain.Question, persona domain.Persona) (string, error) {
	preq := provider.Request{Parts: []provider.Part{provider.TextPart(explanationPrompt(q, persona))}}
	return g.freeText(ctx, OpDetailedExplanation, preq)
}

// GenerateAdvice asks for a short motivating message about the results.
// Callers fall back to FallbackAdvice on error.
func (g *Generator) GenerateAdvice(ctx context.Context, questions []domain.Question, results []domain.AnswerResult) (string, error) {
	preq := provider.Request{Parts: []provider.Part{provider.TextPart(advicePrompt(results))}}
	return g.freeText(ctx, OpAdvice, preq)
}

func (g *Generator) freeText(ctx context.Context, op string, preq provider.Request) (string, error) {
	resp, err := lane.Do(ctx, g.lane, op, func(ctx context.Context) (provider.Response, error) {
		return g.model.Generate(ctx, preq)
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", op, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("failed to generate %s: %w", op, errEmptyText)
	}
	return text, nil
}
