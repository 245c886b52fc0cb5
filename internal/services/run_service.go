package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
	"github.com/Vayra-9/uiprobe/internal/scenario"
)

const screenshotTimeout = 5 * time.Second

// SessionProvider hands out isolated browser sessions
type SessionProvider interface {
	AcquireWith(ctx context.Context, opts browser.SessionOptions) (*browser.Session, error)
}

// ActionRunner executes the action phase of a scenario
type ActionRunner interface {
	Run(ctx context.Context, session *browser.Session, steps []models.ActionStep) ([]models.StepResult, error)
}

// AssertionRunner executes the assertion phase of a scenario
type AssertionRunner interface {
	Evaluate(ctx context.Context, session *browser.Session, checks []models.Assertion, policy string) ([]models.AssertionResult, error)
}

// ResultStore persists finished runs
type ResultStore interface {
	SaveResult(ctx context.Context, result *models.RunResult) error
}

// RunService executes scenarios
type RunService interface {
	Run(ctx context.Context, sc *scenario.Scenario) models.RunResult
	RunSuite(ctx context.Context, scenarios []*scenario.Scenario) models.Report
}

// Options configure a RunService
type Options struct {
	// Retries is the number of extra attempts for a failed scenario
	Retries             int
	Workers             int
	AssertAfterAbort    bool
	ScreenshotOnFailure bool
	ArtifactsDir        string
	BaseURL             string
	Engine              string

	// Video is config.VideoOff, config.VideoOn or config.VideoRetainOnFailure
	Video string
}

// RunServiceImpl implements RunService
type RunServiceImpl struct {
	sessions SessionProvider
	actions  ActionRunner
	checks   AssertionRunner
	store    ResultStore
	opts     Options
	logger   *zap.Logger
}

// NewRunService creates a new run service. store may be nil.
func NewRunService(sessions SessionProvider, actions ActionRunner, checks AssertionRunner, store ResultStore, opts Options, logger *zap.Logger) RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &RunServiceImpl{
		sessions: sessions,
		actions:  actions,
		checks:   checks,
		store:    store,
		opts:     opts,
		logger:   logger.Named("runner"),
	}
}

// Run executes sc until it passes or its attempts are used up. Environment
// setup failures are not retried. The result of the last attempt is returned
// and stored.
func (s *RunServiceImpl) Run(ctx context.Context, sc *scenario.Scenario) models.RunResult {
	var (
		res    models.RunResult
		reason error
	)
	attempts := s.opts.Retries + 1
	for n := 1; n <= attempts; n++ {
		res, reason = s.attempt(ctx, sc, n)
		res.Attempts = n
		if res.Passed() || errors.Is(reason, models.ErrEnvironmentSetup) || ctx.Err() != nil {
			break
		}
		if n < attempts {
			s.logger.Info("retrying scenario",
				zap.String("scenario", sc.Name),
				zap.Int("attempt", n+1),
				zap.String("error_kind", res.ErrorKind))
		}
	}

	if s.store != nil {
		if err := s.store.SaveResult(context.WithoutCancel(ctx), &res); err != nil {
			s.logger.Error("failed to save run result", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
	return res
}

// attempt drives one run through its state machine. The session is released
// on every path, including panics in either phase.
func (s *RunServiceImpl) attempt(ctx context.Context, sc *scenario.Scenario, n int) (res models.RunResult, reason error) {
	run := models.NewRun(sc.Label(), n)
	logger := s.logger.With(
		zap.String("run_id", run.ID),
		zap.String("scenario", sc.Name),
		zap.Int("attempt", n))
	if sc.Profile.Name != "" {
		logger = logger.With(zap.String("profile", sc.Profile.Name))
	}
	res = models.RunResult{
		RunID:     run.ID,
		Scenario:  sc.Name,
		Profile:   sc.Profile.Name,
		Source:    sc.Source,
		StartedAt: run.StartedAt,
	}

	session, err := s.sessions.AcquireWith(ctx, browser.SessionOptions{
		Profile:  sc.Profile,
		VideoDir: s.videoDir(),
	})
	if err != nil {
		logger.Error("could not acquire session", zap.Error(err))
		_ = run.Fail(err)
		s.finish(ctx, run, nil, &res, logger)
		return res, run.Reason()
	}
	logger = logger.With(zap.String("session_id", session.ID))

	phase := "session"
	defer func() {
		if p := recover(); p != nil {
			fault := &models.FaultError{Phase: phase, Err: fmt.Errorf("panic: %v", p)}
			logger.Error("recovered from panic", zap.String("phase", phase), zap.Any("panic", p))
			_ = run.Fail(fault)
		}
		s.finish(ctx, run, session, &res, logger)
		reason = run.Reason()
	}()

	if err := run.AcquireSession(); err != nil {
		_ = run.Fail(&models.FaultError{Phase: phase, Err: err})
		return res, nil
	}

	phase = "actions"
	if err := run.StartActions(); err != nil {
		_ = run.Fail(&models.FaultError{Phase: phase, Err: err})
		return res, nil
	}
	steps, err := s.actions.Run(ctx, session, sc.Steps)
	res.Steps = steps
	if err != nil {
		_ = run.Fail(err)
		if !s.opts.AssertAfterAbort {
			logger.Info("action phase aborted, skipping assertions", zap.Error(err))
			return res, nil
		}
		logger.Info("action phase aborted, asserting on partial state", zap.Error(err))
		phase = "assertions"
		res.Assertions, _ = s.checks.Evaluate(ctx, session, sc.Assertions, sc.Policy)
		return res, nil
	}

	phase = "assertions"
	if err := run.StartAssertions(); err != nil {
		_ = run.Fail(&models.FaultError{Phase: phase, Err: err})
		return res, nil
	}
	checks, err := s.checks.Evaluate(ctx, session, sc.Assertions, sc.Policy)
	res.Assertions = checks
	if err != nil {
		_ = run.Fail(err)
		return res, nil
	}
	if err := run.Pass(); err != nil {
		_ = run.Fail(&models.FaultError{Phase: phase, Err: err})
	}
	return res, nil
}

// finish captures failure evidence, tears the session down and fills in the
// verdict. Teardown errors are appended to the run error and never replace it.
func (s *RunServiceImpl) finish(ctx context.Context, run *models.Run, session *browser.Session, res *models.RunResult, logger *zap.Logger) {
	if session != nil && run.Outcome() != models.OutcomePassed && s.opts.ScreenshotOnFailure {
		res.Screenshot = s.screenshot(ctx, session, run, logger)
	}

	if err := run.BeginTeardown(); err != nil {
		logger.Error("could not begin teardown", zap.Error(err))
	}
	var teardownErr error
	if session != nil {
		if teardownErr = session.Close(); teardownErr != nil {
			logger.Warn("teardown reported errors", zap.Error(teardownErr))
		}
	}
	if err := run.Finish(); err != nil {
		logger.Error("could not finish run", zap.Error(err))
	}

	res.Outcome = run.Outcome()
	if session != nil {
		res.Video = s.video(session, res.Outcome, logger)
	}
	res.Duration = time.Since(run.StartedAt)
	for _, st := range res.Steps {
		if st.Status == models.StepTolerated {
			res.Tolerated++
		}
	}
	reason := run.Reason()
	res.ErrorKind = models.ErrorKind(reason)
	if teardownErr != nil {
		reason = errors.Join(reason, fmt.Errorf("teardown: %w", teardownErr))
	}
	if reason != nil {
		res.Error = reason.Error()
	}

	logger.Info("run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.String("error_kind", res.ErrorKind),
		zap.Duration("duration", res.Duration))
}

// screenshot saves the page for a failed run. It never panics and runs even
// when ctx is already cancelled.
func (s *RunServiceImpl) screenshot(ctx context.Context, session *browser.Session, run *models.Run, logger *zap.Logger) (path string) {
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("screenshot panicked", zap.Any("panic", p))
			path = ""
		}
	}()

	dir := s.opts.ArtifactsDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("could not create artifacts dir", zap.Error(err))
		return ""
	}
	path = filepath.Join(dir, fmt.Sprintf("%s-%s.png", fileSafe(run.Scenario), run.ID[:8]))

	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()
	if err := session.Page().Screenshot(shotCtx, path); err != nil {
		logger.Warn("could not capture failure screenshot", zap.Error(err))
		return ""
	}
	return path
}

func (s *RunServiceImpl) videoDir() string {
	switch s.opts.Video {
	case "", config.VideoOff:
		return ""
	}
	dir := s.opts.ArtifactsDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "videos")
}

// video returns the recording of a closed session when it is to be kept,
// and deletes it otherwise
func (s *RunServiceImpl) video(session *browser.Session, outcome models.Outcome, logger *zap.Logger) string {
	path := session.VideoPath()
	if path == "" {
		return ""
	}
	if s.opts.Video == config.VideoOn || outcome != models.OutcomePassed {
		return path
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not delete video of passed run", zap.String("path", path), zap.Error(err))
	}
	return ""
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
}

// RunSuite runs every scenario, at most Workers at a time. Each scenario gets
// its own session. Results keep the input order.
func (s *RunServiceImpl) RunSuite(ctx context.Context, scenarios []*scenario.Scenario) models.Report {
	report := models.Report{
		ID:        uuid.New().String(),
		BaseURL:   s.opts.BaseURL,
		Engine:    s.opts.Engine,
		StartedAt: time.Now(),
	}
	s.logger.Info("running suite",
		zap.String("report_id", report.ID),
		zap.Int("scenarios", len(scenarios)),
		zap.Int("workers", s.opts.Workers))

	results := make([]models.RunResult, len(scenarios))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, sc := range scenarios {
		g.Go(func() error {
			results[i] = s.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	report.FinishedAt = time.Now()
	passed, failed := report.Counts()
	s.logger.Info("suite finished",
		zap.String("status", string(report.Status())),
		zap.Int("passed", passed),
		zap.Int("failed", failed))
	return report
}
