package models

import "time"

// RunResult is everything reported about one scenario after its final attempt
type RunResult struct {
	RunID      string
	Scenario   string
	Profile    string
	Source     string
	Outcome    Outcome
	Attempts   int
	StartedAt  time.Time
	Duration   time.Duration
	Steps      []StepResult
	Assertions []AssertionResult
	Error      string
	ErrorKind  string
	Screenshot string
	Video      string
	Tolerated  int
}

// Label names the scenario together with its profile when it has one
func (r RunResult) Label() string {
	if r.Profile == "" {
		return r.Scenario
	}
	return r.Scenario + " [" + r.Profile + "]"
}

// Passed returns true if the scenario passed
func (r RunResult) Passed() bool {
	return r.Outcome == OutcomePassed
}

// FailedAssertions returns only the failing assertion results
func (r RunResult) FailedAssertions() []AssertionResult {
	var out []AssertionResult
	for _, a := range r.Assertions {
		if !a.Passed {
			out = append(out, a)
		}
	}
	return out
}

// Report is the outcome of a whole suite invocation
type Report struct {
	ID         string
	BaseURL    string
	Engine     string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []RunResult
}

// Passed returns true when every scenario passed
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}
	return len(r.Results) > 0
}

// Counts returns the number of passed and failed scenarios
func (r Report) Counts() (passed, failed int) {
	for _, res := range r.Results {
		if res.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// Status returns PASSED or FAILED for the whole suite
func (r Report) Status() Outcome {
	if r.Passed() {
		return OutcomePassed
	}
	return OutcomeFailed
}

// RunSummary is the stored, list-friendly view of a run
type RunSummary struct {
	RunID     string        `json:"runId"`
	Scenario  string        `json:"scenario"`
	Profile   string        `json:"profile,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Attempts  int           `json:"attempts"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Summary returns the list view of the result
func (r RunResult) Summary() RunSummary {
	return RunSummary{
		RunID:     r.RunID,
		Scenario:  r.Scenario,
		Profile:   r.Profile,
		Outcome:   r.Outcome,
		Attempts:  r.Attempts,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		ErrorKind: r.ErrorKind,
		Error:     r.Error,
	}
}
