// Package assertions evaluates checks against the page a scenario left
// behind. Every check produces a result; the policy decides whether the stage
// stops at the first blocking failure or collects them all.
package assertions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
)

// Resolver turns scenario URLs and values into concrete ones
type Resolver interface {
	ResolveURL(raw string) (string, error)
	Expand(s string) string
}

// Options configure an Evaluator
type Options struct {
	Policy  string
	Timeout time.Duration
}

// Evaluator runs assertions
type Evaluator struct {
	opts     Options
	resolver Resolver
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator. The policy defaults to collect-all.
func NewEvaluator(opts Options, resolver Resolver, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyCollectAll
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Evaluator{opts: opts, resolver: resolver, logger: logger.Named("assertions")}
}

// Evaluate runs checks in order against the session. policy overrides the
// configured policy when set. The returned error is a *models.AssertionError
// listing the blocking failures, or nil when there are none.
func (e *Evaluator) Evaluate(ctx context.Context, session *browser.Session, checks []models.Assertion, policy string) ([]models.AssertionResult, error) {
	if policy == "" {
		policy = e.opts.Policy
	}
	results := make([]models.AssertionResult, 0, len(checks))
	var failures []models.AssertionResult

	for _, a := range checks {
		if err := ctx.Err(); err != nil {
			return results, &models.FaultError{Phase: "assertions", Err: err}
		}
		res := e.evaluate(ctx, session, a)
		results = append(results, res)

		logger := e.logger.With(zap.String("assertion", res.Description), zap.String("kind", string(a.Kind)))
		switch {
		case res.Passed:
			logger.Debug("assertion passed")
		case !res.Blocking():
			logger.Warn("assertion warning", zap.String("message", res.Message))
		default:
			logger.Info("assertion failed", zap.String("message", res.Message), zap.String("presence", string(res.Presence)))
			failures = append(failures, res)
			if policy == config.PolicyFailFast {
				return results, &models.AssertionError{Failures: failures}
			}
		}
	}

	if len(failures) > 0 {
		return results, &models.AssertionError{Failures: failures}
	}
	return results, nil
}

func (e *Evaluator) evaluate(ctx context.Context, session *browser.Session, a models.Assertion) models.AssertionResult {
	res := models.AssertionResult{
		Description: a.Label(),
		Kind:        a.Kind,
		Expected:    e.resolver.Expand(a.Expected),
		Severity:    a.Severity,
	}
	if res.Severity == "" {
		res.Severity = models.SeverityError
	}
	check, ok := registry[a.Kind]
	if !ok {
		res.Message = fmt.Sprintf("%v: %q", models.ErrUnknownAssertion, a.Kind)
		return res
	}
	check(ctx, e, session, a, &res)
	return res
}
