package assertions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Vayra-9/uiprobe/internal/actions"
	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/browser/browsertest"
	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
)

const baseURL = "http://app.test"

const landingHTML = `<html><head><title>VAYRA</title>
<link rel="manifest" href="/manifest.webmanifest"></head>
<body><header><img src="/logo.svg" alt="VAYRA logo"></header>
<main><img src="/hero.png"><img src="/divider.png" alt=""></main></body></html>`

func landingSite() *browsertest.Site {
	return browsertest.NewSite(map[string]*browsertest.Document{
		"/": {
			Title: "VAYRA",
			Body:  landingHTML,
			Elements: map[string]browsertest.Element{
				"header img":       {Visible: true},
				"h1":               {Text: "  Plan your trips  ", Visible: true},
				".currency-option": {Visible: true, Count: 3},
				".toast:empty":     {Visible: false},
			},
		},
		"/manifest.webmanifest": {
			ContentType: "application/manifest+json",
			Body: `{"name":"VAYRA","icons":[
				{"src":"/icons/192.png","sizes":"192x192","type":"image/png"},
				{"src":"/icons/512.png","sizes":"512x512","type":"image/png","purpose":"any maskable"}]}`,
		},
		"/broken.webmanifest": {
			ContentType: "application/manifest+json",
			Body:        `{"name":"VAYRA","icons":[{"src":"/icons/missing.png","sizes":"192x192"}]}`,
		},
		"/icons/192.png": {ContentType: "image/png", Body: "png"},
		"/icons/512.png": {ContentType: "image/png", Body: "png"},
	})
}

type fixture struct {
	engine    *browsertest.Engine
	session   *browser.Session
	evaluator *Evaluator
}

func newFixture(t *testing.T, engine *browsertest.Engine, policy string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	manager := browser.NewManager(engine,
		config.BrowserConfig{WindowWidth: 1280, WindowHeight: 720, DefaultTimeout: time.Second, NavigationTimeout: time.Second},
		config.TargetConfig{BaseURL: baseURL},
		logger,
	)
	session, err := manager.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	executor, err := actions.NewExecutor(actions.Options{BaseURL: baseURL}, logger)
	require.NoError(t, err)
	_, err = executor.Run(context.Background(), session, []models.ActionStep{
		{Kind: models.ActionNavigate, URL: "/", Required: true},
	})
	require.NoError(t, err)

	return &fixture{
		engine:    engine,
		session:   session,
		evaluator: NewEvaluator(Options{Policy: policy, Timeout: 100 * time.Millisecond}, executor, logger),
	}
}

func (f *fixture) run(t *testing.T, checks ...models.Assertion) ([]models.AssertionResult, error) {
	t.Helper()
	return f.evaluator.Evaluate(context.Background(), f.session, checks, "")
}

func intPtr(n int) *int { return &n }

func TestEvaluate_CollectAllReportsEveryFailure(t *testing.T) {
	// GIVEN
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)
	checks := []models.Assertion{
		{Kind: models.AssertTitleContains, Expected: "VAYRA"},
		{Kind: models.AssertTitleEquals, Expected: "Vayra Travel"},
		{Kind: models.AssertVisible, Selector: "header img"},
		{Kind: models.AssertVisible, Selector: ".sign-out"},
		{Kind: models.AssertCount, Selector: ".currency-option", Min: intPtr(5)},
	}

	// WHEN
	results, err := f.run(t, checks...)

	// THEN
	require.Len(t, results, 5, "every assertion is evaluated")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAssertionFailed)
	var assertionErr *models.AssertionError
	require.ErrorAs(t, err, &assertionErr)
	assert.Len(t, assertionErr.Failures, 3)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed)
	assert.False(t, results[3].Passed)
	assert.False(t, results[4].Passed)
	assert.Equal(t, "3", results[4].Actual)
	assert.Equal(t, ">= 5", results[4].Expected)
}

func TestEvaluate_FailFastStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyFailFast)

	results, err := f.run(t,
		models.Assertion{Kind: models.AssertTitleContains, Expected: "VAYRA"},
		models.Assertion{Kind: models.AssertVisible, Selector: ".sign-out"},
		models.Assertion{Kind: models.AssertVisible, Selector: "header img"},
	)

	require.Error(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
}

func TestEvaluate_PolicyOverride(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)

	results, err := f.evaluator.Evaluate(context.Background(), f.session, []models.Assertion{
		{Kind: models.AssertVisible, Selector: ".missing-a"},
		{Kind: models.AssertVisible, Selector: ".missing-b"},
	}, config.PolicyFailFast)

	require.Error(t, err)
	assert.Len(t, results, 1)
}

func TestEvaluate_WarningsDoNotBlock(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)

	results, err := f.run(t, models.Assertion{
		Kind:     models.AssertImgAlt,
		Severity: models.SeverityWarning,
	})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.False(t, results[0].Blocking())
	assert.Contains(t, results[0].Message, "/hero.png")
	assert.NotContains(t, results[0].Message, "/divider.png", "empty alt marks a decorative image")
}

func TestNotPresent_IsThreeValued(t *testing.T) {
	tests := []struct {
		name     string
		elements map[string]browsertest.Element
		errs     map[string]error
		passed   bool
		presence models.Presence
	}{
		{
			name:     "absent",
			passed:   true,
			presence: models.PresenceAbsent,
		},
		{
			name:     "present",
			elements: map[string]browsertest.Element{"text=Welcome back": {Text: "Welcome back, Ana", Visible: true}},
			presence: models.PresencePresent,
		},
		{
			name:     "present but empty",
			elements: map[string]browsertest.Element{"text=Welcome back": {Text: "   ", Visible: true}},
			presence: models.PresenceEmpty,
		},
		{
			name:     "query failed",
			errs:     map[string]error{"count text=Welcome back": errors.New("execution context was destroyed")},
			presence: models.PresenceQueryFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			site := browsertest.NewSite(map[string]*browsertest.Document{
				"/": {Title: "VAYRA", Elements: tt.elements},
			})
			engine := browsertest.NewEngine(site)
			engine.Errors = tt.errs
			f := newFixture(t, engine, config.PolicyCollectAll)

			// WHEN
			results, err := f.run(t, models.Assertion{Kind: models.AssertNotPresent, Selector: "text=Welcome back"})

			// THEN
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed)
			assert.Equal(t, tt.presence, results[0].Presence)
			if tt.passed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrAssertionFailed)
			}
		})
	}
}

func TestTextAbsent(t *testing.T) {
	site := browsertest.NewSite(map[string]*browsertest.Document{
		"/": {Title: "VAYRA", Elements: map[string]browsertest.Element{
			"header":       {Text: "VAYRA  Sign in", Visible: true},
			"text=Sign in": {Text: "Sign in", Visible: true},
		}},
	})
	f := newFixture(t, browsertest.NewEngine(site), config.PolicyCollectAll)

	results, _ := f.run(t,
		models.Assertion{Kind: models.AssertTextAbsent, Expected: "Sign in"},
		models.Assertion{Kind: models.AssertTextAbsent, Expected: "Sign out"},
		models.Assertion{Kind: models.AssertTextAbsent, Selector: "header", Expected: "Sign out"},
		models.Assertion{Kind: models.AssertTextAbsent, Selector: "header", Expected: "Sign in"},
	)

	require.Len(t, results, 4)
	assert.False(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.True(t, results[2].Passed)
	assert.False(t, results[3].Passed)
	assert.Equal(t, models.PresencePresent, results[3].Presence)
}

func TestTextEquals_ReportsDiff(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)

	results, err := f.run(t,
		models.Assertion{Kind: models.AssertTextEquals, Selector: "h1", Expected: "Plan your trip"},
		models.Assertion{Kind: models.AssertTextContains, Selector: "h1", Expected: "your trips"},
	)

	require.Error(t, err)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "Plan your trips", results[0].Actual)
	assert.Contains(t, results[0].Diff, "-Plan your trip\n")
	assert.Contains(t, results[0].Diff, "+Plan your trips\n")
	assert.True(t, results[1].Passed)
}

func TestResponseChecks(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)

	results, err := f.run(t,
		models.Assertion{Kind: models.AssertResponseStatus, Expected: "200"},
		models.Assertion{Kind: models.AssertResponseMIME, Expected: "text/html"},
		models.Assertion{Kind: models.AssertResponseMIME, URL: "/manifest.webmanifest", Expected: "application/manifest+json"},
		models.Assertion{Kind: models.AssertFetchStatus, URL: "/icons/192.png"},
		models.Assertion{Kind: models.AssertFetchStatus, URL: "/does-not-exist", Expected: "404"},
	)

	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Passed, r.Summary())
	}
}

func TestResponseStatus_WithoutNavigation(t *testing.T) {
	engine := browsertest.NewEngine(landingSite())
	f := newFixture(t, engine, config.PolicyCollectAll)
	f.session.SetLastResponse(nil)

	results, err := f.run(t, models.Assertion{Kind: models.AssertResponseStatus, Expected: "2xx"})

	require.Error(t, err)
	assert.Contains(t, results[0].Message, "no navigation response")
}

func TestManifestIcons(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)

	results, _ := f.run(t,
		models.Assertion{Kind: models.AssertManifestIcons, URL: "/manifest.webmanifest", Expected: "maskable", Property: "192x192, 512x512"},
		models.Assertion{Kind: models.AssertManifestIcons, URL: "/broken.webmanifest"},
		models.Assertion{Kind: models.AssertManifestIcons, URL: "/manifest.webmanifest", Property: "1024x1024"},
		models.Assertion{Kind: models.AssertManifestIcons, URL: "/missing.webmanifest"},
	)

	require.Len(t, results, 4)
	assert.True(t, results[0].Passed, results[0].Message)
	assert.Equal(t, "2 icon(s)", results[0].Actual)
	assert.False(t, results[1].Passed)
	assert.Contains(t, results[1].Message, "/icons/missing.png answered 404")
	assert.False(t, results[2].Passed)
	assert.Contains(t, results[2].Message, "no 1024x1024 icon")
	assert.False(t, results[3].Passed)
	assert.Contains(t, results[3].Message, "answered 404")
}

func TestScriptChecks(t *testing.T) {
	engine := browsertest.NewEngine(landingSite())
	engine.Eval = func(expression string) (any, error) {
		switch {
		case strings.Contains(expression, `localStorage.getItem("vayra-theme")`):
			return "dark", nil
		case strings.Contains(expression, `localStorage.getItem("vayra-currency")`):
			return nil, nil
		case strings.Contains(expression, "getComputedStyle"):
			return " rgb(15, 23, 42) ", nil
		case strings.Contains(expression, "matchMedia"):
			return true, nil
		case strings.Contains(expression, "serviceWorker"):
			return false, nil
		}
		return nil, errors.New("unexpected script")
	}
	f := newFixture(t, engine, config.PolicyCollectAll)

	results, _ := f.run(t,
		models.Assertion{Kind: models.AssertStorageValue, Key: "vayra-theme", Expected: "dark"},
		models.Assertion{Kind: models.AssertStorageValue, Key: "vayra-currency"},
		models.Assertion{Kind: models.AssertComputedStyle, Selector: "body", Property: "background-color", Expected: "rgb(15, 23, 42)"},
		models.Assertion{Kind: models.AssertEvaluate, Script: "window.matchMedia('(display-mode: standalone)') !== null"},
		models.Assertion{Kind: models.AssertEvaluate, Script: "'serviceWorker' in navigator"},
	)

	require.Len(t, results, 5)
	assert.True(t, results[0].Passed, results[0].Message)
	assert.False(t, results[1].Passed)
	assert.Contains(t, results[1].Message, "has no vayra-currency")
	assert.True(t, results[2].Passed, results[2].Message)
	assert.True(t, results[3].Passed)
	assert.False(t, results[4].Passed)
}

func TestComputedStyle_EngineSelectors(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		wantJS   string
	}{
		{"css", ".hero h1", `querySelectorAll(".hero h1")`},
		{"text", "text=Sign in", "document.evaluate("},
		{"xpath prefix", "xpath=//main/h1", `document.evaluate("//main/h1"`},
		{"bare xpath", "//main/h1", `document.evaluate("//main/h1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a page that only resolves the selector the way the engine does
			engine := browsertest.NewEngine(landingSite())
			engine.Eval = func(expression string) (any, error) {
				if strings.Contains(expression, tt.wantJS) && strings.Contains(expression, "getComputedStyle") {
					return "rgb(37, 99, 235)", nil
				}
				return nil, nil
			}
			f := newFixture(t, engine, config.PolicyCollectAll)

			// WHEN
			results, err := f.run(t, models.Assertion{
				Kind:     models.AssertComputedStyle,
				Selector: tt.selector,
				Property: "color",
				Expected: "rgb(37, 99, 235)",
			})

			// THEN
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.True(t, results[0].Passed, results[0].Message)
		})
	}
}

func TestScriptCheck_HangingScriptFails(t *testing.T) {
	// GIVEN a page whose script never settles
	engine := browsertest.NewEngine(landingSite())
	f := newFixture(t, engine, config.PolicyCollectAll)
	engine.Block = "evaluate"

	// WHEN
	start := time.Now()
	results, err := f.run(t,
		models.Assertion{Kind: models.AssertEvaluate, Script: "new Promise(() => {})"},
		models.Assertion{Kind: models.AssertTitleContains, Expected: "VAYRA"},
	)

	// THEN
	assert.Less(t, time.Since(start), time.Second)
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "script failed")
	assert.True(t, results[1].Passed, "later checks still run")
}

func TestDocumentHas(t *testing.T) {
	f := newFixture(t, browsertest.NewEngine(landingSite()), config.PolicyCollectAll)

	results, _ := f.run(t,
		models.Assertion{Kind: models.AssertDocumentHas, Selector: `link[rel="manifest"]`, Property: "href", Expected: "manifest"},
		models.Assertion{Kind: models.AssertDocumentHas, Selector: "header img", Property: "alt", Expected: "VAYRA"},
		models.Assertion{Kind: models.AssertDocumentHas, Selector: `meta[name="theme-color"]`},
	)

	assert.True(t, results[0].Passed, results[0].Message)
	assert.True(t, results[1].Passed, results[1].Message)
	assert.False(t, results[2].Passed)
}

func TestNoConsoleErrors(t *testing.T) {
	engine := browsertest.NewEngine(landingSite())
	engine.ConsoleErrors = []string{"TypeError: x is undefined"}
	engine.FailedRequests = []string{"GET http://app.test/api/rates: net::ERR_CONNECTION_REFUSED"}
	f := newFixture(t, engine, config.PolicyCollectAll)

	results, err := f.run(t, models.Assertion{Kind: models.AssertNoConsoleError})

	require.Error(t, err)
	assert.Contains(t, results[0].Message, "TypeError")
	assert.Contains(t, results[0].Message, "ERR_CONNECTION_REFUSED")
}

func TestMatchStatus(t *testing.T) {
	tests := []struct {
		expected string
		status   int
		want     bool
		wantErr  bool
	}{
		{expected: "200", status: 200, want: true},
		{expected: "200", status: 201},
		{expected: "2xx", status: 204, want: true},
		{expected: "2XX", status: 302},
		{expected: "200, 304", status: 304, want: true},
		{expected: "abc", status: 200, wantErr: true},
	}

	for _, tt := range tests {
		got, err := matchStatus(tt.expected, tt.status)
		if tt.wantErr {
			assert.Error(t, err, tt.expected)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %d", tt.expected, tt.status)
	}
}
