package models

import (
	"errors"
	"fmt"
	"time"
)

// ActionKind identifies a user-intent action
type ActionKind string

// Action kinds
const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionFill       ActionKind = "fill"
	ActionPress      ActionKind = "press"
	ActionWait       ActionKind = "wait"
	ActionWaitFor    ActionKind = "wait_for"
	ActionWaitURL    ActionKind = "wait_url"
	ActionWaitLoad   ActionKind = "wait_load"
	ActionWaitFrames ActionKind = "wait_frames"
	ActionEvaluate   ActionKind = "evaluate"
	ActionScreenshot ActionKind = "screenshot"
)

// LoadState is a page readiness signal
type LoadState string

// Load states, weakest first
const (
	LoadStateCommit           LoadState = "commit"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
	LoadStateNetworkIdle      LoadState = "networkidle"
)

// ElementState is the condition a wait_for step waits on
type ElementState string

// Element states
const (
	ElementVisible  ElementState = "visible"
	ElementHidden   ElementState = "hidden"
	ElementAttached ElementState = "attached"
	ElementDetached ElementState = "detached"
)

var (
	ErrUnknownAction  = errors.New("unknown action kind")
	ErrMissingTarget  = errors.New("action target is required")
	ErrMissingURL     = errors.New("action url is required")
	ErrInvalidTimeout = errors.New("timeout must not be negative")
)

// ActionStep is one scripted user-intent action. Steps are consumed in order.
type ActionStep struct {
	Kind      ActionKind
	Target    string // selector, key name or url pattern depending on kind
	Value     string
	URL       string
	WaitUntil LoadState
	State     ElementState
	Duration  time.Duration
	Timeout   time.Duration
	Required  bool
}

// Validate checks the step is executable
func (s ActionStep) Validate() error {
	if s.Timeout < 0 || s.Duration < 0 {
		return ErrInvalidTimeout
	}
	switch s.Kind {
	case ActionNavigate:
		if s.URL == "" {
			return ErrMissingURL
		}
	case ActionClick, ActionFill, ActionWaitFor, ActionWaitURL, ActionEvaluate:
		if s.Target == "" {
			return fmt.Errorf("%w for %s", ErrMissingTarget, s.Kind)
		}
	case ActionPress:
		if s.Value == "" {
			return fmt.Errorf("%w: press needs a key", ErrMissingTarget)
		}
	case ActionWait, ActionWaitLoad, ActionWaitFrames, ActionScreenshot:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, s.Kind)
	}
	return nil
}

// Describe returns a short human readable label
func (s ActionStep) Describe() string {
	switch s.Kind {
	case ActionNavigate:
		return fmt.Sprintf("navigate %s", s.URL)
	case ActionFill:
		return fmt.Sprintf("fill %s", s.Target)
	case ActionPress:
		if s.Target != "" {
			return fmt.Sprintf("press %s on %s", s.Value, s.Target)
		}
		return fmt.Sprintf("press %s", s.Value)
	case ActionWait:
		return fmt.Sprintf("wait %s", s.Duration)
	case ActionWaitLoad:
		return fmt.Sprintf("wait for load state %s", s.WaitUntil)
	case ActionWaitFrames:
		return "wait for frames"
	case ActionScreenshot:
		return fmt.Sprintf("screenshot %s", s.Value)
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Target)
	}
}

// StepStatus is the result of executing one step
type StepStatus string

// Step statuses
const (
	StepOK        StepStatus = "ok"
	StepTolerated StepStatus = "tolerated"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records how one step went
type StepResult struct {
	Index    int
	Action   string
	Status   StepStatus
	Duration time.Duration
	Error    string
}
