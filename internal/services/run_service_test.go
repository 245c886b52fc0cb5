package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Vayra-9/uiprobe/internal/actions"
	"github.com/Vayra-9/uiprobe/internal/assertions"
	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/browser/browsertest"
	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
	"github.com/Vayra-9/uiprobe/internal/scenario"
)

const baseURL = "http://app.test"

// MockResultStore is a mock implementation of ResultStore for testing
type MockResultStore struct {
	SaveResultFunc func(context.Context, *models.RunResult) error

	mu    sync.Mutex
	saved []models.RunResult
}

func (m *MockResultStore) SaveResult(ctx context.Context, result *models.RunResult) error {
	m.mu.Lock()
	m.saved = append(m.saved, *result)
	m.mu.Unlock()
	if m.SaveResultFunc != nil {
		return m.SaveResultFunc(ctx, result)
	}
	return nil
}

func (m *MockResultStore) Saved() []models.RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RunResult(nil), m.saved...)
}

// MockAssertionRunner is a mock implementation of AssertionRunner for testing
type MockAssertionRunner struct {
	EvaluateFunc func(context.Context, *browser.Session, []models.Assertion, string) ([]models.AssertionResult, error)
	calls        int
}

func (m *MockAssertionRunner) Evaluate(ctx context.Context, session *browser.Session, checks []models.Assertion, policy string) ([]models.AssertionResult, error) {
	m.calls++
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, session, checks, policy)
	}
	return nil, nil
}

func testSite() *browsertest.Site {
	return browsertest.NewSite(map[string]*browsertest.Document{
		"/": {
			Title: "VAYRA",
			Elements: map[string]browsertest.Element{
				"header img":    {Visible: true},
				"text=Sign in":  {Text: "Sign in", Visible: true, Href: "/login"},
				"[data-theme]":  {Visible: true},
				".hero h1":      {Text: "Plan your trips", Visible: true},
				"nav a":         {Visible: true, Count: 4},
				".toast:empty":  {Visible: false},
				"footer .links": {Visible: true},
			},
		},
		"/login": {
			Title: "Sign in",
			Elements: map[string]browsertest.Element{
				"input[type=email]":    {Visible: true},
				"input[type=password]": {Visible: true},
				"button[type=submit]":  {Visible: true, Href: "/dashboard"},
			},
		},
		"/dashboard": {
			Title: "Dashboard",
			Elements: map[string]browsertest.Element{
				"nav a": {Visible: true, Count: 3},
			},
		},
	})
}

func signInScenario() *scenario.Scenario {
	minLinks := 3
	steps := scenario.OpenSteps("/login")
	steps = append(steps,
		models.ActionStep{Kind: models.ActionFill, Target: "input[type=email]", Value: "qa@vayra.test", Required: true},
		models.ActionStep{Kind: models.ActionFill, Target: "input[type=password]", Value: "secret", Required: true},
		models.ActionStep{Kind: models.ActionClick, Target: "button[type=submit]", Timeout: 100 * time.Millisecond, Required: true},
		models.ActionStep{Kind: models.ActionWaitURL, Target: "**/dashboard", Required: true},
	)
	return &scenario.Scenario{
		Name:  "sign in",
		Steps: steps,
		Assertions: []models.Assertion{
			{Kind: models.AssertURLMatches, Expected: "**/dashboard"},
			{Kind: models.AssertTitleEquals, Expected: "Dashboard"},
			{Kind: models.AssertNotPresent, Selector: ".error-banner"},
			{Kind: models.AssertCount, Selector: "nav a", Min: &minLinks},
		},
	}
}

func hangingScriptScenario() *scenario.Scenario {
	return &scenario.Scenario{
		Name: "hanging script",
		Steps: []models.ActionStep{
			{Kind: models.ActionNavigate, URL: "/", Required: true},
			{Kind: models.ActionEvaluate, Target: "new Promise(() => {})", Timeout: 50 * time.Millisecond, Required: true},
			{Kind: models.ActionClick, Target: "text=Sign in", Required: true},
		},
		Assertions: []models.Assertion{
			{Kind: models.AssertTitleContains, Expected: "VAYRA"},
		},
	}
}

func landingScenario(name string) *scenario.Scenario {
	return &scenario.Scenario{
		Name:  name,
		Steps: scenario.OpenSteps("/"),
		Assertions: []models.Assertion{
			{Kind: models.AssertTitleContains, Expected: "VAYRA"},
			{Kind: models.AssertVisible, Selector: "header img"},
		},
	}
}

type harness struct {
	engine  *browsertest.Engine
	manager *browser.Manager
	store   *MockResultStore
	service RunService
}

func newHarness(t *testing.T, engine *browsertest.Engine, opts Options) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	manager := browser.NewManager(engine,
		config.BrowserConfig{WindowWidth: 1280, WindowHeight: 720, DefaultTimeout: 500 * time.Millisecond},
		config.TargetConfig{BaseURL: baseURL},
		logger,
	)
	executor, err := actions.NewExecutor(actions.Options{
		BaseURL:           baseURL,
		DefaultTimeout:    500 * time.Millisecond,
		NavigationTimeout: time.Second,
		ArtifactsDir:      t.TempDir(),
	}, logger)
	require.NoError(t, err)
	evaluator := assertions.NewEvaluator(assertions.Options{Timeout: 200 * time.Millisecond}, executor, logger)

	if opts.ArtifactsDir == "" {
		opts.ArtifactsDir = t.TempDir()
	}
	store := &MockResultStore{}
	return &harness{
		engine:  engine,
		manager: manager,
		store:   store,
		service: NewRunService(manager, executor, evaluator, store, opts, logger),
	}
}

func TestRunService_Run(t *testing.T) {
	tests := []struct {
		name          string
		scenario      *scenario.Scenario
		configure     func(e *browsertest.Engine)
		wantOutcome   models.Outcome
		wantKind      string
		wantErr       string
		wantChecks    int
		wantCreated   int
		wantLastStep  models.StepStatus
		wantPresences []models.Presence
	}{
		{
			name:         "sign in passes",
			scenario:     signInScenario(),
			wantOutcome:  models.OutcomePassed,
			wantChecks:   4,
			wantCreated:  1,
			wantLastStep: models.StepOK,
		},
		{
			name:     "critical submit times out",
			scenario: signInScenario(),
			configure: func(e *browsertest.Engine) {
				e.Latency = map[string]time.Duration{"click button[type=submit]": 300 * time.Millisecond}
			},
			wantOutcome:  models.OutcomeFailed,
			wantKind:     "ActionTimeoutError",
			wantErr:      "step 6",
			wantChecks:   0,
			wantCreated:  1,
			wantLastStep: models.StepSkipped,
		},
		{
			name:     "script step hangs past its timeout",
			scenario: hangingScriptScenario(),
			configure: func(e *browsertest.Engine) {
				e.Block = "evaluate"
			},
			wantOutcome:  models.OutcomeFailed,
			wantKind:     "ActionTimeoutError",
			wantErr:      "step 2",
			wantChecks:   0,
			wantCreated:  1,
			wantLastStep: models.StepSkipped,
		},
		{
			name:     "negative check cannot query the page",
			scenario: signInScenario(),
			configure: func(e *browsertest.Engine) {
				e.Errors = map[string]error{"count .error-banner": errors.New("execution context was destroyed")}
			},
			wantOutcome:   models.OutcomeFailed,
			wantKind:      "AssertionFailure",
			wantErr:       "1 failed",
			wantChecks:    4,
			wantCreated:   1,
			wantLastStep:  models.StepOK,
			wantPresences: []models.Presence{"", "", models.PresenceQueryFailed, ""},
		},
		{
			name:     "browser fails to launch",
			scenario: signInScenario(),
			configure: func(e *browsertest.Engine) {
				e.FailOn = "browser"
			},
			wantOutcome: models.OutcomeFailed,
			wantKind:    "EnvironmentSetupError",
			wantErr:     "fake browser unavailable",
			wantCreated: 0,
		},
		{
			name:     "panic during actions",
			scenario: signInScenario(),
			configure: func(e *browsertest.Engine) {
				e.PanicOn = "fill input[type=password]"
			},
			wantOutcome: models.OutcomeFailed,
			wantKind:    "UnexpectedFault",
			wantErr:     "during actions",
			wantCreated: 1,
		},
		{
			name:     "panic during assertions",
			scenario: signInScenario(),
			configure: func(e *browsertest.Engine) {
				e.PanicOn = "title"
			},
			wantOutcome:  models.OutcomeFailed,
			wantKind:     "UnexpectedFault",
			wantErr:      "during assertions",
			wantCreated:  1,
			wantLastStep: models.StepOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			engine := browsertest.NewEngine(testSite())
			if tt.configure != nil {
				tt.configure(engine)
			}
			h := newHarness(t, engine, Options{ScreenshotOnFailure: true})

			// WHEN
			res := h.service.Run(context.Background(), tt.scenario)

			// THEN
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			if tt.wantErr != "" {
				assert.Contains(t, res.Error, tt.wantErr)
			} else {
				assert.Empty(t, res.Error)
			}
			assert.Len(t, res.Assertions, tt.wantChecks)
			if tt.wantLastStep != "" {
				require.NotEmpty(t, res.Steps)
				assert.Equal(t, tt.wantLastStep, res.Steps[len(res.Steps)-1].Status)
			}
			for i, p := range tt.wantPresences {
				assert.Equal(t, p, res.Assertions[i].Presence, "assertion %d", i)
			}

			assert.Equal(t, 0, engine.Open(), "every handle released")
			assert.Equal(t, 0, h.manager.Open(), "no session left registered")
			assert.Equal(t, tt.wantCreated, engine.Created("page"))
			assert.Len(t, h.store.Saved(), 1)
		})
	}
}

func TestRunService_ScreenshotOnFailure(t *testing.T) {
	// GIVEN
	engine := browsertest.NewEngine(testSite())
	sc := landingScenario("landing")
	sc.Assertions = append(sc.Assertions, models.Assertion{Kind: models.AssertTitleEquals, Expected: "Something else"})
	h := newHarness(t, engine, Options{ScreenshotOnFailure: true})

	// WHEN
	res := h.service.Run(context.Background(), sc)

	// THEN
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	require.NotEmpty(t, res.Screenshot)
	_, err := os.Stat(res.Screenshot)
	assert.NoError(t, err)
	assert.Contains(t, res.Screenshot, "landing-")

	calls := engine.Calls()
	assert.Equal(t, "screenshot", calls[len(calls)-1], "screenshot is taken before teardown")
}

func TestRunService_Video(t *testing.T) {
	failing := func() *scenario.Scenario {
		sc := landingScenario("landing")
		sc.Assertions = append(sc.Assertions, models.Assertion{Kind: models.AssertTitleEquals, Expected: "Something else"})
		return sc
	}
	tests := []struct {
		name      string
		mode      string
		scenario  *scenario.Scenario
		wantVideo bool
		wantFiles int
	}{
		{name: "off records nothing", mode: config.VideoOff, scenario: failing()},
		{name: "retained on failure", mode: config.VideoRetainOnFailure, scenario: failing(), wantVideo: true, wantFiles: 1},
		{name: "deleted on pass", mode: config.VideoRetainOnFailure, scenario: landingScenario("landing")},
		{name: "always kept when on", mode: config.VideoOn, scenario: landingScenario("landing"), wantVideo: true, wantFiles: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			engine := browsertest.NewEngine(testSite())
			dir := t.TempDir()
			h := newHarness(t, engine, Options{Video: tt.mode, ArtifactsDir: dir})

			// WHEN
			res := h.service.Run(context.Background(), tt.scenario)

			// THEN
			if tt.wantVideo {
				require.NotEmpty(t, res.Video)
				assert.FileExists(t, res.Video)
				assert.Equal(t, filepath.Join(dir, "videos"), filepath.Dir(res.Video))
			} else {
				assert.Empty(t, res.Video)
			}
			files, err := filepath.Glob(filepath.Join(dir, "videos", "*.webm"))
			require.NoError(t, err)
			assert.Len(t, files, tt.wantFiles)
			assert.Equal(t, 0, engine.Open())
		})
	}
}

func TestRunService_Profiles(t *testing.T) {
	// GIVEN a scenario bound to the mobile profile
	engine := browsertest.NewEngine(testSite())
	h := newHarness(t, engine, Options{ScreenshotOnFailure: true})
	sc := landingScenario("landing")
	sc.Assertions = append(sc.Assertions, models.Assertion{Kind: models.AssertTitleEquals, Expected: "Something else"})
	sc.Profile = config.BuiltinProfiles()[config.ProfileMobile]

	// WHEN
	res := h.service.Run(context.Background(), sc)

	// THEN
	assert.Equal(t, config.ProfileMobile, res.Profile)
	assert.Equal(t, "landing [mobile]", res.Label())
	assert.Contains(t, filepath.Base(res.Screenshot), "landing--mobile-")
	contexts := engine.Contexts()
	require.Len(t, contexts, 1)
	assert.True(t, contexts[0].IsMobile)
	assert.Equal(t, 390, contexts[0].ViewportWidth)
	assert.Equal(t, 3.0, contexts[0].DeviceScaleFactor)
}

func TestRunService_NoScreenshotWhenPassed(t *testing.T) {
	engine := browsertest.NewEngine(testSite())
	h := newHarness(t, engine, Options{ScreenshotOnFailure: true})

	res := h.service.Run(context.Background(), landingScenario("landing"))

	assert.True(t, res.Passed())
	assert.Empty(t, res.Screenshot)
	assert.NotContains(t, engine.Calls(), "screenshot")
}

func TestRunService_TeardownErrorDoesNotHideVerdict(t *testing.T) {
	tests := []struct {
		name        string
		scenario    *scenario.Scenario
		wantOutcome models.Outcome
		wantKind    string
	}{
		{
			name:        "passed run keeps its verdict",
			scenario:    landingScenario("landing"),
			wantOutcome: models.OutcomePassed,
		},
		{
			name: "failed run keeps its reason",
			scenario: &scenario.Scenario{
				Name:       "broken",
				Steps:      scenario.OpenSteps("/"),
				Assertions: []models.Assertion{{Kind: models.AssertTitleEquals, Expected: "Nope"}},
			},
			wantOutcome: models.OutcomeFailed,
			wantKind:    "AssertionFailure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			engine := browsertest.NewEngine(testSite())
			engine.CloseErrors = map[string]error{"browser": errors.New("browser already crashed")}
			h := newHarness(t, engine, Options{})

			// WHEN
			res := h.service.Run(context.Background(), tt.scenario)

			// THEN
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Contains(t, res.Error, "teardown: close browser: browser already crashed")
			assert.Equal(t, 0, engine.Open())
		})
	}
}

func TestRunService_AssertAfterAbort(t *testing.T) {
	// GIVEN
	engine := browsertest.NewEngine(testSite())
	engine.Latency = map[string]time.Duration{"click button[type=submit]": 300 * time.Millisecond}
	h := newHarness(t, engine, Options{AssertAfterAbort: true})

	// WHEN
	res := h.service.Run(context.Background(), signInScenario())

	// THEN
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, "ActionTimeoutError", res.ErrorKind, "the action failure stays the reason")
	require.Len(t, res.Assertions, 4, "assertions ran on the partial state")
	assert.False(t, res.Assertions[0].Passed, "still on the login page")
	assert.Equal(t, 0, engine.Open())
}

func TestRunService_SkipsAssertionsAfterAbort(t *testing.T) {
	// GIVEN
	engine := browsertest.NewEngine(testSite())
	engine.Latency = map[string]time.Duration{"click button[type=submit]": 300 * time.Millisecond}
	logger := zaptest.NewLogger(t)
	manager := browser.NewManager(engine, config.BrowserConfig{}, config.TargetConfig{BaseURL: baseURL}, logger)
	executor, err := actions.NewExecutor(actions.Options{BaseURL: baseURL}, logger)
	require.NoError(t, err)
	checks := &MockAssertionRunner{}
	service := NewRunService(manager, executor, checks, nil, Options{}, logger)

	// WHEN
	res := service.Run(context.Background(), signInScenario())

	// THEN
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, checks.calls)
	assert.Equal(t, 0, engine.Open())
}

func TestRunService_Retries(t *testing.T) {
	failing := &scenario.Scenario{
		Name:       "flaky",
		Steps:      scenario.OpenSteps("/"),
		Assertions: []models.Assertion{{Kind: models.AssertTitleEquals, Expected: "Nope"}},
	}
	tests := []struct {
		name         string
		scenario     *scenario.Scenario
		failOn       string
		wantAttempts int
	}{
		{name: "failed run is retried", scenario: failing, wantAttempts: 3},
		{name: "passed run is not retried", scenario: landingScenario("landing"), wantAttempts: 1},
		{name: "setup failure is not retried", scenario: landingScenario("landing"), failOn: "context", wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			engine := browsertest.NewEngine(testSite())
			engine.FailOn = tt.failOn
			h := newHarness(t, engine, Options{Retries: 2})

			// WHEN
			res := h.service.Run(context.Background(), tt.scenario)

			// THEN
			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantAttempts, engine.Created("driver"), "every attempt gets a fresh session")
			assert.Equal(t, 0, engine.Open())
			assert.Len(t, h.store.Saved(), 1, "only the final attempt is stored")
		})
	}
}

func TestRunService_StoreErrorDoesNotFailRun(t *testing.T) {
	engine := browsertest.NewEngine(testSite())
	h := newHarness(t, engine, Options{})
	h.store.SaveResultFunc = func(context.Context, *models.RunResult) error {
		return errors.New("database error")
	}

	res := h.service.Run(context.Background(), landingScenario("landing"))

	assert.True(t, res.Passed())
	assert.Len(t, h.store.Saved(), 1)
}

func TestRunService_CancelledContext(t *testing.T) {
	// GIVEN
	engine := browsertest.NewEngine(testSite())
	h := newHarness(t, engine, Options{Retries: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN
	res := h.service.Run(ctx, landingScenario("landing"))

	// THEN
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Attempts, "a cancelled run is not retried")
	assert.Equal(t, 0, engine.Open())
}

func TestRunService_RunSuite(t *testing.T) {
	// GIVEN
	engine := browsertest.NewEngine(testSite())
	engine.Latency = map[string]time.Duration{"title": 20 * time.Millisecond}
	h := newHarness(t, engine, Options{Workers: 2, BaseURL: baseURL, Engine: "fake"})
	scenarios := []*scenario.Scenario{
		landingScenario("one"),
		signInScenario(),
		landingScenario("three"),
		{
			Name:       "four",
			Steps:      scenario.OpenSteps("/"),
			Assertions: []models.Assertion{{Kind: models.AssertTitleEquals, Expected: "Nope"}},
		},
	}

	// WHEN
	report := h.service.RunSuite(context.Background(), scenarios)

	// THEN
	require.Len(t, report.Results, 4)
	for i, sc := range scenarios {
		assert.Equal(t, sc.Name, report.Results[i].Scenario, "results keep input order")
	}
	passed, failed := report.Counts()
	assert.Equal(t, 3, passed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, models.OutcomeFailed, report.Status())
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, baseURL, report.BaseURL)
	assert.Equal(t, "fake", report.Engine)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	assert.Equal(t, 4, engine.Created("page"), "one session per scenario")
	assert.Equal(t, 0, engine.Open())
	assert.Equal(t, 0, engine.DoubleCloses())
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "sign-in-with-email", fileSafe("sign in/with email"))
	assert.Equal(t, "pwa_manifest-1", fileSafe("pwa_manifest-1"))
}
