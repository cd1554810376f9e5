package generation

import (
	"errors"
	"fmt"

	"github.com/vietddude/snapquiz/internal/infra/rpc/lane"
	"github.com/vietddude/snapquiz/internal/infra/rpc/routing"
)

// User-facing copy for failed batch generation.
const (
	MessageSafetyBlocked = "The content was rejected. Please try different images."
	MessageGeneric       = "Could not create questions. Please try again."
)

// RateLimitedMessage is shown while the remote service is cooling down.
func RateLimitedMessage(remainingSeconds int) string {
	if remainingSeconds <= 0 {
		return "The AI needs a short break. Please try again in a moment."
	}
	return fmt.Sprintf("The AI needs a short break. Please try again in %d seconds.", remainingSeconds)
}

// UserMessage maps a batch generation error to the text shown to the player.
// remainingSeconds is the current cooldown from the health monitor.
func UserMessage(err error, remainingSeconds int) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMalformedResponse) {
		return MessageGeneric
	}
	if errors.Is(err, ErrNoImages) || errors.Is(err, ErrTooManyImages) {
		return err.Error()
	}

	switch lane.CategoryOf(err) {
	case routing.RateLimited:
		return RateLimitedMessage(remainingSeconds)
	case routing.SafetyBlocked:
		return MessageSafetyBlocked
	}
	return MessageGeneric
}
