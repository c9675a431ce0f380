package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrBusy              = errors.New("analysis in progress")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrSessionReset      = errors.New("session reset during analysis")

	errIncompleteForm = errors.New("name, age and gender are required")
	errNoFile         = errors.New("an ECG file is required")
	errUnsupportedECG = errors.New("unsupported file: expected a .csv waveform or an image")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

func invalid(reason error) error {
	return ValidationError{reason: reason}
}

func transitionError(action string, state State) error {
	if state == Analyzing {
		return ErrBusy
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, state)
}
