package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of one scenario run
type RunStatus string

// Run statuses
const (
	RunStatusInit              RunStatus = "init"
	RunStatusSessionAcquired   RunStatus = "session_acquired"
	RunStatusActionsRunning    RunStatus = "actions_running"
	RunStatusAssertionsRunning RunStatus = "assertions_running"
	RunStatusPassed            RunStatus = "passed"
	RunStatusFailed            RunStatus = "failed"
	RunStatusTeardown          RunStatus = "teardown"
	RunStatusDone              RunStatus = "done"
)

// Outcome is the final verdict of a run. It survives teardown.
type Outcome string

// Outcomes
const (
	OutcomeUnknown Outcome = ""
	OutcomePassed  Outcome = "PASSED"
	OutcomeFailed  Outcome = "FAILED"
)

// Run tracks a single scenario execution through
// INIT -> SESSION_ACQUIRED -> ACTIONS_RUNNING -> ASSERTIONS_RUNNING -> {PASSED, FAILED} -> TEARDOWN -> DONE.
// TEARDOWN is reachable from every non-terminal state.
type Run struct {
	ID        string
	Scenario  string
	Attempt   int
	Status    RunStatus
	StartedAt time.Time
	UpdatedAt time.Time

	outcome Outcome
	reason  error
	history []RunStatus
}

// NewRun creates a run in the INIT state
func NewRun(scenario string, attempt int) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.New().String(),
		Scenario:  scenario,
		Attempt:   attempt,
		Status:    RunStatusInit,
		StartedAt: now,
		UpdatedAt: now,
		history:   []RunStatus{RunStatusInit},
	}
}

func (r *Run) transition(from []RunStatus, to RunStatus) error {
	for _, s := range from {
		if r.Status == s {
			r.Status = to
			r.UpdatedAt = time.Now()
			r.history = append(r.history, to)
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move run from %s to %s", ErrInvalidStatusTransition, r.Status, to)
}

// AcquireSession records that the browser session is open
func (r *Run) AcquireSession() error {
	return r.transition([]RunStatus{RunStatusInit}, RunStatusSessionAcquired)
}

// StartActions enters the action phase
func (r *Run) StartActions() error {
	return r.transition([]RunStatus{RunStatusSessionAcquired}, RunStatusActionsRunning)
}

// StartAssertions enters the assertion phase. It is also legal straight
// after session acquisition for scenarios without actions.
func (r *Run) StartAssertions() error {
	return r.transition([]RunStatus{RunStatusSessionAcquired, RunStatusActionsRunning}, RunStatusAssertionsRunning)
}

// Pass marks the run as passed
func (r *Run) Pass() error {
	if err := r.transition([]RunStatus{RunStatusAssertionsRunning}, RunStatusPassed); err != nil {
		return err
	}
	r.outcome = OutcomePassed
	return nil
}

// Fail marks the run as failed with the given reason. Failing is legal from
// every state before teardown begins.
func (r *Run) Fail(reason error) error {
	err := r.transition([]RunStatus{
		RunStatusInit,
		RunStatusSessionAcquired,
		RunStatusActionsRunning,
		RunStatusAssertionsRunning,
	}, RunStatusFailed)
	if err != nil {
		return err
	}
	r.outcome = OutcomeFailed
	r.reason = reason
	return nil
}

// BeginTeardown enters the teardown state. A run that never reached a
// verdict is failed implicitly.
func (r *Run) BeginTeardown() error {
	if r.Status == RunStatusTeardown {
		return nil
	}
	if r.Status == RunStatusDone {
		return fmt.Errorf("%w: run is already done", ErrInvalidStatusTransition)
	}
	if r.outcome == OutcomeUnknown {
		r.outcome = OutcomeFailed
		if r.reason == nil {
			r.reason = fmt.Errorf("%w: run aborted in state %s", ErrUnexpectedFault, r.Status)
		}
	}
	r.Status = RunStatusTeardown
	r.UpdatedAt = time.Now()
	r.history = append(r.history, RunStatusTeardown)
	return nil
}

// Finish moves the run to the terminal DONE state
func (r *Run) Finish() error {
	return r.transition([]RunStatus{RunStatusTeardown}, RunStatusDone)
}

// Outcome returns the verdict of the run
func (r *Run) Outcome() Outcome {
	return r.outcome
}

// Reason returns the error that failed the run, if any
func (r *Run) Reason() error {
	return r.reason
}

// History returns every state the run has visited
func (r *Run) History() []RunStatus {
	out := make([]RunStatus, len(r.history))
	copy(out, r.history)
	return out
}

// IsDone returns true once the run reached its terminal state
func (r *Run) IsDone() bool {
	return r.Status == RunStatusDone
}
