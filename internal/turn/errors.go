package turn

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyUtterance is returned for blank input; callers drop such
	// utterances before they reach the processor.
	ErrEmptyUtterance = errors.New("turn: empty utterance")

	// ErrInvalidPhase is returned when an utterance arrives in Welcome or
	// Complete.
	ErrInvalidPhase = errors.New("turn: utterance not accepted in this phase")

	// ErrExternalService matches every *ExternalServiceError.
	ErrExternalService = errors.New("turn: external service failed")
)

// ExternalServiceError reports a failed or unparseable detection or
// collection call. The session state is left as it was apart from the
// appended user message.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("turn: %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}
