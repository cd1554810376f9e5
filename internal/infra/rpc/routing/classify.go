// Package routing decides what happens to a failed remote call: how it is
// classified and how long to back off before trying again.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Category is the failure class of a remote call error.
type Category int

const (
	Unknown Category = iota
	RateLimited
	SafetyBlocked
	ServerTransient
)

func (c Category) String() string {
	switch c {
	case RateLimited:
		return "rate_limited"
	case SafetyBlocked:
		return "safety_blocked"
	case ServerTransient:
		return "server_transient"
	}
	return "unknown"
}

// Retryable reports whether a failure of this category may be retried.
func Retryable(c Category) bool {
	return c == ServerTransient || c == Unknown
}

// RetryAfter returns the wait suggested by the server for err, or zero. Errors
// opt in by implementing RetryAfter() time.Duration.
func RetryAfter(err error) time.Duration {
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(err, &hinted) {
		return max(hinted.RetryAfter(), 0)
	}
	return 0
}

var (
	safetyPatterns = []string{
		"safety",
		"content policy",
		"content_policy",
		"prohibited",
		"harm_category",
		"blocklist",
		"blocked by",
		"blockreason",
	}

	rateLimitPatterns = []string{
		"429",
		"quota",
		"rate limit",
		"rate_limit",
		"ratelimit",
		"resource_exhausted",
		"resource exhausted",
		"resourceexhausted",
		"too many requests",
		"limit exceeded",
	}

	transientPatterns = []string{
		"500",
		"502",
		"503",
		"504",
		"internal error",
		"internal server error",
		"overload",
		"unavailable",
		"bad gateway",
		"gateway",
		"deadline exceeded",
		"deadline_exceeded",
		"timeout",
		"timed out",
		"failed to fetch",
		"network",
		"connection reset",
		"connection refused",
		"eof",
	}
)

// Classify determines the failure category of err.
//
// Order matters: a safety rejection always wins, then rate limiting, then
// transient server trouble. Anything else is Unknown.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	return ClassifyText(describe(err))
}

// ClassifyText classifies a plain error message.
func ClassifyText(msg string) Category {
	s := strings.ToLower(msg)
	if s == "" {
		return Unknown
	}

	if containsAny(s, safetyPatterns) {
		return SafetyBlocked
	}
	if containsAny(s, rateLimitPatterns) {
		return RateLimited
	}
	if containsAny(s, transientPatterns) {
		return ServerTransient
	}
	return Unknown
}

// describe flattens everything known about err into one string: its message,
// a gRPC status code name if it carries one, and the message of any JSON error
// body embedded in the text.
func describe(err error) string {
	var sb strings.Builder
	msg := err.Error()
	sb.WriteString(msg)

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		sb.WriteString(" ")
		sb.WriteString(codeText(st.Code()))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		sb.WriteString(" deadline exceeded")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		sb.WriteString(" timeout")
	}

	if nested := nestedMessage(msg); nested != "" {
		sb.WriteString(" ")
		sb.WriteString(nested)
	}
	return sb.String()
}

func codeText(c codes.Code) string {
	switch c {
	case codes.ResourceExhausted:
		return "resource_exhausted"
	case codes.Unavailable, codes.Internal, codes.Aborted:
		return "unavailable"
	case codes.DeadlineExceeded:
		return "deadline_exceeded"
	}
	return strings.ToLower(c.String())
}

// nestedMessage extracts error.message and error.status from a JSON object
// found in s, e.g. `gemini: {"error":{"message":"...","status":"..."}}`.
func nestedMessage(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}

	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &body); err != nil || len(body.Error) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(body.Error, &plain); err == nil {
		return plain
	}

	var obj struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body.Error, &obj); err != nil {
		return ""
	}
	return strings.TrimSpace(obj.Message + " " + obj.Status)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
