package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		expect Category
	}{
		// rate limiting
		{errors.New("429 Too Many Requests"), RateLimited},
		{errors.New("You exceeded your current quota, please check your plan"), RateLimited},
		{errors.New("RESOURCE_EXHAUSTED: generate requests per minute"), RateLimited},
		{errors.New("project rate limit exceeded"), RateLimited},
		{status.Error(codes.ResourceExhausted, "slow down"), RateLimited},

		// safety
		{errors.New("response blocked by safety filters: SAFETY"), SafetyBlocked},
		{errors.New("prompt blocked: PROHIBITED_CONTENT"), SafetyBlocked},
		{errors.New("candidate rejected for HARM_CATEGORY_DANGEROUS_CONTENT"), SafetyBlocked},

		// transient
		{errors.New("503 Service Unavailable"), ServerTransient},
		{errors.New("The model is overloaded. Please try again later."), ServerTransient},
		{errors.New("502 Bad Gateway"), ServerTransient},
		{errors.New("TypeError: Failed to fetch"), ServerTransient},
		{errors.New("read tcp 10.0.0.1:443: connection reset by peer"), ServerTransient},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), ServerTransient},
		{status.Error(codes.Unavailable, "try later"), ServerTransient},

		// unknown
		{errors.New("something odd happened"), Unknown},
		{errors.New(""), Unknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.expect {
			t.Errorf("Classify(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

func TestClassify_SafetyWinsOverOtherPatterns(t *testing.T) {
	err := errors.New("429 quota exceeded while content was blocked by safety settings (503)")
	if got := Classify(err); got != SafetyBlocked {
		t.Errorf("Classify() = %v, want %v", got, SafetyBlocked)
	}
}

func TestClassify_NestedJSONMessage(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect Category
	}{
		{
			name:   "nested object",
			err:    errors.New(`gemini: {"error":{"code":400,"message":"Resource exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`),
			expect: RateLimited,
		},
		{
			name:   "nested string",
			err:    errors.New(`request failed {"error":"Service overloaded"}`),
			expect: ServerTransient,
		},
		{
			name:   "not json",
			err:    errors.New("weird {payload"),
			expect: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expect {
				t.Errorf("Classify(%q) = %v, want %v", tt.err, got, tt.expect)
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got != Unknown {
		t.Errorf("Classify(nil) = %v, want %v", got, Unknown)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ServerTransient) || !Retryable(Unknown) {
		t.Error("transient and unknown failures must be retryable")
	}
	if Retryable(RateLimited) || Retryable(SafetyBlocked) {
		t.Error("rate limited and safety blocked failures must not be retried")
	}
}

type hintedError struct{ d time.Duration }

func (e hintedError) Error() string { return "429 quota" }
func (e hintedError) RetryAfter() time.Duration { return e.d }

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"no hint", errors.New("429 quota"), 0},
		{"hint", hintedError{d: 30 * time.Second}, 30 * time.Second},
		{"wrapped hint", fmt.Errorf("call: %w", hintedError{d: 5 * time.Second}), 5 * time.Second},
		{"negative hint", hintedError{d: -time.Second}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryAfter(tt.err); got != tt.want {
				t.Errorf("RetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultRetryConfig

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := Backoff(i, cfg); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}

	cfg.MaxDelay = 5 * time.Second
	if got := Backoff(5, cfg); got != 5*time.Second {
		t.Errorf("Backoff capped = %v, want 5s", got)
	}
}
