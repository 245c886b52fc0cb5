// Package actions executes scripted user-intent steps against a browser
// session. Steps run strictly in order and each one is bounded by its own
// timeout.
package actions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/models"
)

// Options configure an Executor
type Options struct {
	BaseURL           string
	Vars              map[string]string
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	ArtifactsDir      string
}

// Executor runs action steps
type Executor struct {
	opts   Options
	base   *url.URL
	logger *zap.Logger
}

// NewExecutor creates an executor. BaseURL must be absolute when steps use
// relative URLs.
func NewExecutor(opts Options, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 10 * time.Second
	}
	e := &Executor{opts: opts, logger: logger.Named("actions")}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		e.base = base
	}
	return e, nil
}

// Run executes steps in order. A failing critical step stops the sequence and
// is returned as a *models.ActionError; the remaining steps are reported as
// skipped. Failures of non-critical steps are logged and tolerated.
func (e *Executor) Run(ctx context.Context, session *browser.Session, steps []models.ActionStep) ([]models.StepResult, error) {
	results := make([]models.StepResult, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			results = appendSkipped(results, steps, i)
			return results, &models.FaultError{Phase: "actions", Err: err}
		}

		res, err := e.runStep(ctx, session, i, step)
		results = append(results, res)
		if err == nil {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			results = appendSkipped(results, steps, i+1)
			return results, &models.FaultError{Phase: "actions", Err: cerr}
		}
		if !step.Required {
			e.logger.Warn("non-critical step failed, continuing",
				zap.Int("step", i+1),
				zap.String("action", step.Describe()),
				zap.Error(err))
			continue
		}
		e.logger.Error("critical step failed",
			zap.Int("step", i+1),
			zap.String("action", step.Describe()),
			zap.Error(err))
		results = appendSkipped(results, steps, i+1)
		return results, &models.ActionError{Index: i, Step: step, Err: err}
	}
	return results, nil
}

func appendSkipped(results []models.StepResult, steps []models.ActionStep, from int) []models.StepResult {
	for j := from; j < len(steps); j++ {
		results = append(results, models.StepResult{
			Index:  j,
			Action: steps[j].Describe(),
			Status: models.StepSkipped,
		})
	}
	return results
}

func (e *Executor) runStep(ctx context.Context, session *browser.Session, index int, step models.ActionStep) (models.StepResult, error) {
	res := models.StepResult{Index: index, Action: step.Describe()}
	timeout := e.timeoutFor(session, step)

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := e.execute(stepCtx, session, step, timeout)
	res.Duration = time.Since(start)

	if err == nil && res.Duration > timeout {
		err = fmt.Errorf("%w: %s took %s, limit %s", models.ErrTimeout, step.Kind, res.Duration.Round(time.Millisecond), timeout)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
		err = fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}

	switch {
	case err == nil:
		res.Status = models.StepOK
		e.logger.Debug("step done", zap.Int("step", index+1), zap.String("action", res.Action), zap.Duration("duration", res.Duration))
	case step.Required:
		res.Status = models.StepFailed
		res.Error = err.Error()
	default:
		res.Status = models.StepTolerated
		res.Error = err.Error()
	}
	return res, err
}

// timeoutFor returns the ceiling for a step. Fixed waits get the default
// timeout on top of their duration; frame waits get one timeout per frame.
func (e *Executor) timeoutFor(session *browser.Session, step models.ActionStep) time.Duration {
	if step.Kind == models.ActionWaitFrames {
		per := step.Timeout
		if per <= 0 {
			per = e.opts.DefaultTimeout
		}
		frames := len(session.Page().Frames())
		if frames < 1 {
			frames = 1
		}
		return per * time.Duration(frames)
	}
	if step.Timeout > 0 {
		return step.Timeout
	}
	switch step.Kind {
	case models.ActionNavigate, models.ActionWaitURL, models.ActionWaitLoad:
		return e.opts.NavigationTimeout
	case models.ActionWait:
		return step.Duration + e.opts.DefaultTimeout
	default:
		return e.opts.DefaultTimeout
	}
}

func (e *Executor) execute(ctx context.Context, session *browser.Session, step models.ActionStep, timeout time.Duration) error {
	page := session.Page()
	switch step.Kind {
	case models.ActionNavigate:
		target, err := e.ResolveURL(step.URL)
		if err != nil {
			return err
		}
		resp, err := page.Goto(ctx, target, browser.GotoOptions{WaitUntil: step.WaitUntil, Timeout: timeout})
		if err != nil {
			return err
		}
		session.SetLastResponse(resp)
		return nil

	case models.ActionClick:
		return page.Click(ctx, e.Expand(step.Target), timeout)

	case models.ActionFill:
		return page.Fill(ctx, e.Expand(step.Target), e.Expand(step.Value), timeout)

	case models.ActionPress:
		return page.Press(ctx, e.Expand(step.Target), step.Value, timeout)

	case models.ActionWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step.Duration):
			return nil
		}

	case models.ActionWaitFor:
		state := step.State
		if state == "" {
			state = models.ElementVisible
		}
		return page.WaitFor(ctx, e.Expand(step.Target), state, timeout)

	case models.ActionWaitURL:
		return page.WaitForURL(ctx, e.Expand(step.Target), timeout)

	case models.ActionWaitLoad:
		return page.WaitForLoadState(ctx, loadStateOr(step.WaitUntil, models.LoadStateDOMContentLoaded), timeout)

	case models.ActionWaitFrames:
		return e.waitFrames(ctx, page, step)

	case models.ActionEvaluate:
		_, err := page.Evaluate(ctx, e.Expand(step.Target), timeout)
		return err

	case models.ActionScreenshot:
		name := step.Value
		if name == "" {
			name = fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano())
		}
		dir := e.opts.ArtifactsDir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create artifacts dir: %w", err)
		}
		return page.Screenshot(ctx, filepath.Join(dir, name))

	default:
		return fmt.Errorf("%w: %q", models.ErrUnknownAction, step.Kind)
	}
}

// waitFrames waits for every sub-frame known right now. A frame that never
// settles is logged and skipped.
func (e *Executor) waitFrames(ctx context.Context, page browser.Page, step models.ActionStep) error {
	per := step.Timeout
	if per <= 0 {
		per = e.opts.DefaultTimeout
	}
	state := loadStateOr(step.WaitUntil, models.LoadStateDOMContentLoaded)
	for _, frame := range page.Frames() {
		if err := frame.WaitForLoadState(ctx, state, per); err != nil {
			if ctx.Err() != nil {
				return err
			}
			e.logger.Debug("frame did not settle", zap.String("frame", frame.URL()), zap.Error(err))
		}
	}
	return nil
}

func loadStateOr(state, fallback models.LoadState) models.LoadState {
	if state == "" {
		return fallback
	}
	return state
}

// Expand substitutes ${NAME} with configured variables, then the environment
func (e *Executor) Expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := e.opts.Vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
}

// ResolveURL expands variables in raw and resolves it against the base URL
func (e *Executor) ResolveURL(raw string) (string, error) {
	expanded := e.Expand(raw)
	ref, err := url.Parse(expanded)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", expanded, err)
	}
	if ref.IsAbs() || e.base == nil {
		return expanded, nil
	}
	return e.base.ResolveReference(ref).String(), nil
}
