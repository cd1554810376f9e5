package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// GeminiConfig holds Gemini REST client settings.
type GeminiConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Gemini implements Model over the generateContent REST endpoint.
type Gemini struct {
	cfg        GeminiConfig
	httpClient *http.Client
	stats      statsTracker
}

// NewGemini creates a new Gemini client.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gemini: invalid base url: %w", err)
	}

	return &Gemini{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (g *Gemini) Name() string { return g.cfg.Model }

func (g *Gemini) Stats() Stats { return g.stats.snapshot() }

// wire types for the generateContent endpoint

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema  `json:"responseSchema,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	SystemInstruction *wireContent      `json:"systemInstruction,omitempty"`
	Contents          []wireContent     `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func buildRequest(req Request) generateRequest {
	out := generateRequest{}
	if req.SystemInstruction != "" {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemInstruction}}}
	}

	parts := make([]wirePart, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.Image != nil {
			parts = append(parts, wirePart{InlineData: &inlineData{
				MIMEType: p.Image.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Image.Data),
			}})
			continue
		}
		if p.Text != "" {
			parts = append(parts, wirePart{Text: p.Text})
		}
	}
	out.Contents = []wireContent{{Role: "user", Parts: parts}}

	if req.Schema != nil || req.Temperature != nil {
		gc := &generationConfig{Temperature: req.Temperature}
		if req.Schema != nil {
			gc.ResponseMIMEType = "application/json"
			gc.ResponseSchema = req.Schema
		}
		out.GenerationConfig = gc
	}
	return out
}

// Generate makes a single generateContent call.
func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	resp, err := g.generate(ctx, req)
	if err != nil {
		g.stats.recordFailure()
		return Response{}, err
	}

	g.stats.recordSuccess(time.Since(start))
	return resp, nil
}

func (g *Gemini) generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Parts) == 0 {
		return Response{}, errors.New("gemini: request has no parts")
	}

	jsonData, err := json.Marshal(buildRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(g.cfg.BaseURL, "/"), url.PathEscape(g.cfg.Model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("gemini call: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, parseAPIError(httpResp.StatusCode, httpResp.Header, body)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return Response{}, &SafetyError{Reason: parsed.PromptFeedback.BlockReason, Prompt: true}
	}
	if len(parsed.Candidates) == 0 {
		return Response{}, errors.New("gemini: response has no candidates")
	}

	candidate := parsed.Candidates[0]
	if safetyFinishReasons[candidate.FinishReason] {
		return Response{}, &SafetyError{Reason: candidate.FinishReason}
	}

	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		sb.WriteString(p.Text)
	}

	return Response{
		Text:         sb.String(),
		FinishReason: candidate.FinishReason,
		PromptTokens: parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}
