package models

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	ErrInvalidStatusTransition = errors.New("invalid run status transition")
	ErrEnvironmentSetup        = errors.New("environment setup failed")
	ErrActionTimeout           = errors.New("action timed out")
	ErrActionFailed            = errors.New("action failed")
	ErrAssertionFailed         = errors.New("assertion failed")
	ErrUnexpectedFault         = errors.New("unexpected fault")

	// ErrTimeout is returned by browser engines for any operation that
	// exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)

// SetupError reports a failure while acquiring session resources
type SetupError struct {
	Resource string
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEnvironmentSetup, e.Resource, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func (e *SetupError) Is(target error) bool { return target == ErrEnvironmentSetup }

// ActionError reports a failed critical action step
type ActionError struct {
	Index int
	Step  ActionStep
	Err   error
}

func (e *ActionError) Error() string {
	kind := ErrActionFailed
	if e.Timeout() {
		kind = ErrActionTimeout
	}
	return fmt.Sprintf("%s: step %d (%s): %v", kind, e.Index+1, e.Step.Describe(), e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool {
	switch target {
	case ErrActionTimeout:
		return e.Timeout()
	case ErrActionFailed:
		return !e.Timeout()
	}
	return false
}

// Timeout reports whether the step failed because it exceeded its timeout
func (e *ActionError) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// AssertionError aggregates every failed assertion of a run
type AssertionError struct {
	Failures []AssertionResult
}

func (e *AssertionError) Error() string {
	lines := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		lines = append(lines, f.Summary())
	}
	return fmt.Sprintf("%s: %d failed: %s", ErrAssertionFailed, len(e.Failures), strings.Join(lines, "; "))
}

func (e *AssertionError) Is(target error) bool { return target == ErrAssertionFailed }

// FaultError wraps anything unexpected raised while a phase was running,
// including recovered panics
type FaultError struct {
	Phase string
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s during %s: %v", ErrUnexpectedFault, e.Phase, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func (e *FaultError) Is(target error) bool { return target == ErrUnexpectedFault }

// ErrorKind names the taxonomy bucket of err for reports and storage
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEnvironmentSetup):
		return "EnvironmentSetupError"
	case errors.Is(err, ErrActionTimeout):
		return "ActionTimeoutError"
	case errors.Is(err, ErrActionFailed):
		return "ActionError"
	case errors.Is(err, ErrAssertionFailed):
		return "AssertionFailure"
	default:
		return "UnexpectedFault"
	}
}
