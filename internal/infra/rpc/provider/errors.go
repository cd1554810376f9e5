package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// APIError is a non-2xx response from the remote service.
type APIError struct {
	HTTPStatus int
	Code       codes.Code
	Status     string // canonical status name, e.g. RESOURCE_EXHAUSTED
	Message    string

	// RetryDelay is the server's suggested wait, from a RetryInfo detail or
	// the Retry-After header. Zero when absent.
	RetryDelay time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gemini: http %d", e.HTTPStatus)
	if e.Status != "" {
		msg += " " + e.Status
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// RetryAfter reports the server's suggested wait.
func (e *APIError) RetryAfter() time.Duration { return e.RetryDelay }

// GRPCStatus lets status.FromError and status.Code inspect the error.
func (e *APIError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// SafetyError reports a prompt or response blocked by the service's safety
// filters.
type SafetyError struct {
	Reason string
	// Prompt is true when the input was blocked, false when the candidate was.
	Prompt bool
}

func (e *SafetyError) Error() string {
	if e.Prompt {
		return fmt.Sprintf("gemini: prompt blocked by safety filters (reason: %s)", e.Reason)
	}
	return fmt.Sprintf("gemini: response blocked by safety filters (reason: %s)", e.Reason)
}

// safetyFinishReasons are candidate finish reasons that mean the output was
// withheld by a content filter.
var safetyFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

var httpStatusCodes = map[int]codes.Code{
	http.StatusBadRequest:          codes.InvalidArgument,
	http.StatusUnauthorized:        codes.Unauthenticated,
	http.StatusForbidden:           codes.PermissionDenied,
	http.StatusNotFound:            codes.NotFound,
	http.StatusConflict:            codes.Aborted,
	http.StatusTooManyRequests:     codes.ResourceExhausted,
	http.StatusInternalServerError: codes.Internal,
	http.StatusNotImplemented:      codes.Unimplemented,
	http.StatusBadGateway:          codes.Unavailable,
	http.StatusServiceUnavailable:  codes.Unavailable,
	http.StatusGatewayTimeout:      codes.DeadlineExceeded,
}

// parseAPIError decodes an error body of the form
// {"error":{"code":429,"message":"...","status":"RESOURCE_EXHAUSTED","details":[...]}}.
func parseAPIError(httpStatus int, header http.Header, body []byte) *APIError {
	apiErr := &APIError{
		HTTPStatus: httpStatus,
		Code:       codeForHTTP(httpStatus),
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		apiErr.Message = strings.TrimSpace(string(body))
		apiErr.RetryDelay = retryAfter(header)
		return apiErr
	}

	var plain struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	_ = json.Unmarshal(envelope.Error, &plain)
	apiErr.Message = plain.Message
	apiErr.Status = plain.Status

	if plain.Status != "" {
		var c codes.Code
		if err := c.UnmarshalJSON([]byte(strconv.Quote(plain.Status))); err == nil {
			apiErr.Code = c
		}
	}

	st := &spb.Status{}
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(envelope.Error, st); err == nil {
		if apiErr.Message == "" {
			apiErr.Message = st.GetMessage()
		}
		for _, d := range st.GetDetails() {
			if !d.MessageIs(&errdetails.RetryInfo{}) {
				continue
			}
			info := &errdetails.RetryInfo{}
			if err := d.UnmarshalTo(info); err == nil && info.GetRetryDelay() != nil {
				apiErr.RetryDelay = info.GetRetryDelay().AsDuration()
			}
		}
	}

	if apiErr.RetryDelay == 0 {
		apiErr.RetryDelay = retryAfter(header)
	}
	return apiErr
}

func codeForHTTP(httpStatus int) codes.Code {
	if c, ok := httpStatusCodes[httpStatus]; ok {
		return c
	}
	if httpStatus >= 500 {
		return codes.Unavailable
	}
	return codes.Unknown
}

func retryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
