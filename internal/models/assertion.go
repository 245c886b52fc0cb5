package models

import (
	"errors"
	"fmt"
)

// AssertionKind identifies which page property an assertion reads
type AssertionKind string

// Assertion kinds
const (
	AssertTitleEquals    AssertionKind = "title_equals"
	AssertTitleContains  AssertionKind = "title_contains"
	AssertURLMatches     AssertionKind = "url_matches"
	AssertVisible        AssertionKind = "visible"
	AssertHidden         AssertionKind = "hidden"
	AssertTextEquals     AssertionKind = "text_equals"
	AssertTextContains   AssertionKind = "text_contains"
	AssertNotPresent     AssertionKind = "not_present"
	AssertTextAbsent     AssertionKind = "text_absent"
	AssertCount          AssertionKind = "count"
	AssertResponseStatus AssertionKind = "response_status"
	AssertResponseMIME   AssertionKind = "response_mime"
	AssertFetchStatus    AssertionKind = "fetch_status"
	AssertManifestIcons  AssertionKind = "manifest_icons"
	AssertStorageValue   AssertionKind = "storage_value"
	AssertComputedStyle  AssertionKind = "computed_style"
	AssertEvaluate       AssertionKind = "evaluate"
	AssertDocumentHas    AssertionKind = "document_has"
	AssertImgAlt         AssertionKind = "img_alt"
	AssertNoConsoleError AssertionKind = "no_console_errors"
)

// Severity of a failed assertion
type Severity string

// Severities
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Presence is the outcome of a negative check. Only PresenceAbsent satisfies
// a "must not exist" assertion.
type Presence string

// Presence outcomes
const (
	PresenceUnknown     Presence = ""
	PresenceAbsent      Presence = "absent"
	PresencePresent     Presence = "present"
	PresenceEmpty       Presence = "present_empty"
	PresenceQueryFailed Presence = "query_failed"
)

var ErrUnknownAssertion = errors.New("unknown assertion kind")

// Assertion is a check on the current page state
type Assertion struct {
	Kind        AssertionKind
	Description string
	Selector    string
	Expected    string
	Property    string
	Key         string
	URL         string
	Script      string
	Min         *int
	Max         *int
	Severity    Severity
}

// Validate checks the assertion carries what its kind needs
func (a Assertion) Validate() error {
	need := func(field, v string) error {
		if v == "" {
			return fmt.Errorf("%s assertion needs %s", a.Kind, field)
		}
		return nil
	}
	switch a.Kind {
	case AssertTitleEquals, AssertTitleContains, AssertURLMatches, AssertResponseMIME:
		return need("expected", a.Expected)
	case AssertVisible, AssertHidden, AssertNotPresent, AssertDocumentHas:
		return need("selector", a.Selector)
	case AssertTextEquals, AssertTextContains:
		return need("selector", a.Selector)
	case AssertTextAbsent:
		return need("expected", a.Expected)
	case AssertCount:
		if err := need("selector", a.Selector); err != nil {
			return err
		}
		if a.Min == nil && a.Max == nil {
			return fmt.Errorf("count assertion needs min or max")
		}
	case AssertResponseStatus:
		return need("expected", a.Expected)
	case AssertFetchStatus, AssertManifestIcons:
		return need("url", a.URL)
	case AssertStorageValue:
		return need("key", a.Key)
	case AssertComputedStyle:
		if err := need("selector", a.Selector); err != nil {
			return err
		}
		return need("property", a.Property)
	case AssertEvaluate:
		return need("script", a.Script)
	case AssertImgAlt, AssertNoConsoleError:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAssertion, a.Kind)
	}
	return nil
}

// Label returns the description or a generated one
func (a Assertion) Label() string {
	if a.Description != "" {
		return a.Description
	}
	switch {
	case a.Selector != "":
		return fmt.Sprintf("%s %s", a.Kind, a.Selector)
	case a.URL != "":
		return fmt.Sprintf("%s %s", a.Kind, a.URL)
	case a.Key != "":
		return fmt.Sprintf("%s %s", a.Kind, a.Key)
	default:
		return fmt.Sprintf("%s %q", a.Kind, a.Expected)
	}
}

// AssertionResult is the pass/fail record of one assertion
type AssertionResult struct {
	Description string        `json:"description"`
	Kind        AssertionKind `json:"kind"`
	Passed      bool          `json:"passed"`
	Presence    Presence      `json:"presence,omitempty"`
	Expected    string        `json:"expected,omitempty"`
	Actual      string        `json:"actual,omitempty"`
	Diff        string        `json:"diff,omitempty"`
	Message     string        `json:"message,omitempty"`
	Severity    Severity      `json:"severity,omitempty"`
}

// Summary renders a one-line description of the result
func (r AssertionResult) Summary() string {
	if r.Passed {
		return fmt.Sprintf("%s: ok", r.Description)
	}
	if r.Message != "" {
		return fmt.Sprintf("%s: %s", r.Description, r.Message)
	}
	return fmt.Sprintf("%s: expected %q, got %q", r.Description, r.Expected, r.Actual)
}

// Blocking reports whether a failed result should fail the run
func (r AssertionResult) Blocking() bool {
	return !r.Passed && r.Severity != SeverityWarning
}
