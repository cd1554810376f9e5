package session

import (
	"errors"
	"fmt"

	"github.com/vietddude/snapquiz/internal/core/domain"
)

var (
	// ErrSuperseded is returned when the session was aborted or restarted
	// while a remote call was in flight; its result was discarded.
	ErrSuperseded = errors.New("session: result superseded")

	ErrInvalidOption   = fmt.Errorf("option must be between 0 and %d", domain.OptionCount-1)
	ErrInvalidQuestion = errors.New("question index out of range or not answered yet")
	ErrNotAnswered     = errors.New("current question has not been answered")
)

// TransitionError reports an operation that is not allowed in the current
// stage.
type TransitionError struct {
	Op    string
	Stage domain.Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while in %s stage", e.Op, e.Stage)
}
