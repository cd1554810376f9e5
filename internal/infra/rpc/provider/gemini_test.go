package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/snapquiz/internal/core/domain"
	"github.com/vietddude/snapquiz/internal/infra/rpc/routing"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := NewGemini(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}
	return g
}

func TestGemini_Generate(t *testing.T) {
	image := domain.Image{Name: "page.png", MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}

	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/test-model:generateContent" {
			t.Errorf("path = %s, want /v1beta/models/test-model:generateContent", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q, want test-key", got)
		}

		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be brief" {
			t.Errorf("system instruction = %+v, want be brief", body.SystemInstruction)
		}
		if len(body.Contents) != 1 || len(body.Contents[0].Parts) != 2 {
			t.Errorf("contents = %+v, want one turn with two parts", body.Contents)
			return
		}
		inline := body.Contents[0].Parts[0].InlineData
		if inline == nil || inline.MIMEType != "image/png" {
			t.Errorf("first part = %+v, want inline png", body.Contents[0].Parts[0])
			return
		}
		if inline.Data != base64.StdEncoding.EncodeToString(image.Data) {
			t.Errorf("inline data = %q, want base64 of image", inline.Data)
		}
		if body.GenerationConfig == nil || body.GenerationConfig.ResponseMIMEType != "application/json" {
			t.Errorf("generation config = %+v, want json response", body.GenerationConfig)
		}

		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "[{\"q\":"}, {"text": "1}]"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 5}
		}`))
	})

	resp, err := g.Generate(context.Background(), Request{
		SystemInstruction: "be brief",
		Parts:             []Part{ImagePart(image), TextPart("make questions")},
		Schema:            &Schema{Type: "ARRAY", Items: &Schema{Type: "OBJECT"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != `[{"q":1}]` {
		t.Errorf("Text = %q, want %q", resp.Text, `[{"q":1}]`)
	}
	if resp.PromptTokens != 12 || resp.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 12/5", resp.PromptTokens, resp.OutputTokens)
	}
	if stats := g.Stats(); stats.Requests != 1 || stats.Failures != 0 {
		t.Errorf("Stats() = %+v, want 1 request, 0 failures", stats)
	}
}

func TestGemini_RateLimitedError(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {
			"code": 429,
			"message": "You exceeded your current quota.",
			"status": "RESOURCE_EXHAUSTED",
			"details": [{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "37s"}]
		}}`))
	})

	_, err := g.Generate(context.Background(), Request{Parts: []Part{TextPart("hi")}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Code != codes.ResourceExhausted {
		t.Errorf("Code = %v, want ResourceExhausted", apiErr.Code)
	}
	if apiErr.RetryDelay != 37*time.Second {
		t.Errorf("RetryDelay = %v, want 37s", apiErr.RetryDelay)
	}
	if got := routing.RetryAfter(err); got != 37*time.Second {
		t.Errorf("routing.RetryAfter() = %v, want 37s", got)
	}
	if got := status.Code(err); got != codes.ResourceExhausted {
		t.Errorf("status.Code() = %v, want ResourceExhausted", got)
	}
	if got := routing.Classify(err); got != routing.RateLimited {
		t.Errorf("Classify() = %v, want %v", got, routing.RateLimited)
	}
	if stats := g.Stats(); stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
}

func TestGemini_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		body     string
		wantCode codes.Code
		want     routing.Category
	}{
		{
			name:     "plain text 503",
			status:   http.StatusServiceUnavailable,
			body:     "upstream connect error",
			wantCode: codes.Unavailable,
			want:     routing.ServerTransient,
		},
		{
			name:     "json 500",
			status:   http.StatusInternalServerError,
			body:     `{"error":{"code":500,"message":"An internal error has occurred.","status":"INTERNAL"}}`,
			wantCode: codes.Internal,
			want:     routing.ServerTransient,
		},
		{
			name:     "429 with retry-after header",
			status:   http.StatusTooManyRequests,
			header:   map[string]string{"Retry-After": "5"},
			body:     "slow down",
			wantCode: codes.ResourceExhausted,
			want:     routing.RateLimited,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":400,"message":"Invalid JSON payload.","status":"INVALID_ARGUMENT"}}`,
			wantCode: codes.InvalidArgument,
			want:     routing.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.Generate(context.Background(), Request{Parts: []Part{TextPart("hi")}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := status.Code(err); got != tt.wantCode {
				t.Errorf("status.Code() = %v, want %v", got, tt.wantCode)
			}
			if got := routing.Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGemini_SafetyBlocks(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantPrompt bool
		wantReason string
	}{
		{
			name:       "prompt feedback",
			body:       `{"promptFeedback": {"blockReason": "PROHIBITED_CONTENT"}}`,
			wantPrompt: true,
			wantReason: "PROHIBITED_CONTENT",
		},
		{
			name:       "candidate finish reason",
			body:       `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`,
			wantReason: "SAFETY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.Generate(context.Background(), Request{Parts: []Part{TextPart("hi")}})

			var safetyErr *SafetyError
			if !errors.As(err, &safetyErr) {
				t.Fatalf("error = %v, want *SafetyError", err)
			}
			if safetyErr.Prompt != tt.wantPrompt || safetyErr.Reason != tt.wantReason {
				t.Errorf("SafetyError = %+v, want prompt=%v reason=%s", safetyErr, tt.wantPrompt, tt.wantReason)
			}
			if got := routing.Classify(err); got != routing.SafetyBlocked {
				t.Errorf("Classify() = %v, want %v", got, routing.SafetyBlocked)
			}
		})
	}
}

func TestNewGemini_RequiresAPIKey(t *testing.T) {
	if _, err := NewGemini(GeminiConfig{}); err == nil {
		t.Error("expected error without api key")
	}
}
