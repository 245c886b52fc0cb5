package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// PlaywrightEngine drives Chromium through the Playwright driver
type PlaywrightEngine struct {
	logger *zap.Logger
}

// NewPlaywrightEngine creates a Playwright engine
func NewPlaywrightEngine(logger *zap.Logger) *PlaywrightEngine {
	return &PlaywrightEngine{logger: logger}
}

// Name implements Engine
func (e *PlaywrightEngine) Name() string { return "playwright" }

// Start implements Engine
func (e *PlaywrightEngine) Start(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}
	return &pwDriver{pw: pw, logger: e.logger}, nil
}

// InstallPlaywright downloads the driver and the Chromium build it needs
func InstallPlaywright() error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

type pwDriver struct {
	pw     *playwright.Playwright
	logger *zap.Logger
}

func (d *pwDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	}
	if opts.NoSandbox {
		launch.ChromiumSandbox = playwright.Bool(false)
	}
	if opts.Timeout > 0 {
		launch.Timeout = milliseconds(opts.Timeout)
	}
	b, err := d.pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	return &pwBrowser{browser: b, logger: d.logger}, nil
}

func (d *pwDriver) Stop() error {
	return d.pw.Stop()
}

type pwBrowser struct {
	browser playwright.Browser
	logger  *zap.Logger
}

func (b *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(opts.IgnoreTLSErrors),
	}
	if opts.BaseURL != "" {
		options.BaseURL = playwright.String(opts.BaseURL)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		options.Viewport = &playwright.Size{Width: opts.ViewportWidth, Height: opts.ViewportHeight}
	}
	if len(opts.ExtraHeaders) > 0 {
		options.ExtraHttpHeaders = opts.ExtraHeaders
	}
	applyProfile(&options, opts)
	bc, err := b.browser.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("could not create context: %w", err)
	}
	if opts.DefaultTimeout > 0 {
		bc.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))
	}
	if opts.NavigationTimeout > 0 {
		bc.SetDefaultNavigationTimeout(float64(opts.NavigationTimeout.Milliseconds()))
	}
	return &pwContext{context: bc, logger: b.logger}, nil
}

// applyProfile maps device emulation and video recording onto playwright's
// context options
func applyProfile(options *playwright.BrowserNewContextOptions, opts ContextOptions) {
	if opts.DeviceScaleFactor > 0 {
		options.DeviceScaleFactor = playwright.Float(opts.DeviceScaleFactor)
	}
	if opts.IsMobile {
		options.IsMobile = playwright.Bool(true)
	}
	if opts.HasTouch {
		options.HasTouch = playwright.Bool(true)
	}
	if opts.UserAgent != "" {
		options.UserAgent = playwright.String(opts.UserAgent)
	}
	switch opts.ReducedMotion {
	case "reduce":
		options.ReducedMotion = playwright.ReducedMotionReduce
	case "no-preference":
		options.ReducedMotion = playwright.ReducedMotionNoPreference
	}
	switch opts.ColorScheme {
	case "light":
		options.ColorScheme = playwright.ColorSchemeLight
	case "dark":
		options.ColorScheme = playwright.ColorSchemeDark
	case "no-preference":
		options.ColorScheme = playwright.ColorSchemeNoPreference
	}
	if opts.VideoDir != "" {
		options.RecordVideo = &playwright.RecordVideo{Dir: opts.VideoDir}
		if options.Viewport != nil {
			options.RecordVideo.Size = &playwright.Size{Width: options.Viewport.Width, Height: options.Viewport.Height}
		}
	}
}

func (b *pwBrowser) Close() error {
	return ignoreClosed(b.browser.Close())
}

type pwContext struct {
	context playwright.BrowserContext
	logger  *zap.Logger
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := c.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("could not create page: %w", err)
	}
	p := &pwPage{page: page}
	if video := page.Video(); video != nil {
		if path, err := video.Path(); err == nil {
			p.video = path
		} else {
			c.logger.Debug("video path unavailable", zap.Error(err))
		}
	}
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		if msg.Type() == "error" {
			p.recordConsole(msg.Text())
		}
	})
	page.OnPageError(func(err error) {
		p.recordConsole(err.Error())
	})
	page.OnRequestFailed(func(req playwright.Request) {
		entry := fmt.Sprintf("%s %s", req.Method(), req.URL())
		if ferr := req.Failure(); ferr != nil {
			entry += ": " + ferr.Error()
		}
		p.recordFailedRequest(entry)
	})
	return p, nil
}

func (c *pwContext) Close() error {
	return ignoreClosed(c.context.Close())
}

type pwPage struct {
	page  playwright.Page
	video string

	mu    sync.Mutex
	diags Diagnostics
}

// VideoPath implements VideoRecorder
func (p *pwPage) VideoPath() string { return p.video }

func (p *pwPage) recordConsole(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diags.ConsoleErrors = append(p.diags.ConsoleErrors, text)
}

func (p *pwPage) recordFailedRequest(entry string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diags.FailedRequests = append(p.diags.FailedRequests, entry)
}

func (p *pwPage) Diagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Diagnostics{
		ConsoleErrors:  append([]string(nil), p.diags.ConsoleErrors...),
		FailedRequests: append([]string(nil), p.diags.FailedRequests...),
	}
}

func (p *pwPage) Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error) {
	if err := contextError("goto", ctx); err != nil {
		return nil, err
	}
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(opts.WaitUntil),
		Timeout:   milliseconds(opts.Timeout),
	})
	if err != nil {
		return nil, mapPlaywrightError("goto "+url, err)
	}
	if resp == nil {
		return nil, nil
	}
	return NewResponse(resp.URL(), resp.Status(), resp.Headers(), resp.Body), nil
}

func (p *pwPage) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	if err := contextError("wait for load state", ctx); err != nil {
		return err
	}
	ls := loadState(state)
	if ls == nil {
		return nil
	}
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   ls,
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("wait for load state", err)
}

func (p *pwPage) Frames() []Frame {
	var frames []Frame
	main := p.page.MainFrame()
	for _, f := range p.page.Frames() {
		if f == main {
			continue
		}
		frames = append(frames, pwFrame{frame: f})
	}
	return frames
}

func (p *pwPage) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	if err := contextError("wait for url", ctx); err != nil {
		return err
	}
	var target interface{} = pattern
	if expr, ok := strings.CutPrefix(pattern, "re:"); ok {
		target = func(url string) bool {
			matched, _ := MatchURL("re:"+expr, url)
			return matched
		}
	}
	err := p.page.WaitForURL(target, playwright.PageWaitForURLOptions{
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("wait for url "+pattern, err)
}

func (p *pwPage) WaitFor(ctx context.Context, selector string, state models.ElementState, timeout time.Duration) error {
	if err := contextError("wait for", ctx); err != nil {
		return err
	}
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   selectorState(state),
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("wait for "+selector, err)
}

func (p *pwPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := contextError("click", ctx); err != nil {
		return err
	}
	err := p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("click "+selector, err)
}

func (p *pwPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := contextError("fill", ctx); err != nil {
		return err
	}
	err := p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("fill "+selector, err)
}

func (p *pwPage) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	if err := contextError("press", ctx); err != nil {
		return err
	}
	if selector == "" {
		// the keyboard API takes no timeout
		return boundedErr(ctx, "press "+key, timeout, func() error {
			return mapPlaywrightError("press "+key, p.page.Keyboard().Press(key))
		})
	}
	err := p.page.Locator(selector).First().Press(key, playwright.LocatorPressOptions{
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("press "+key, err)
}

func (p *pwPage) Evaluate(ctx context.Context, expression string, timeout time.Duration) (any, error) {
	if err := contextError("evaluate", ctx); err != nil {
		return nil, err
	}
	// page.Evaluate has no timeout of its own and waits for returned promises
	return bounded(ctx, "evaluate", timeout, func() (any, error) {
		result, err := p.page.Evaluate(expression)
		if err != nil {
			return nil, mapPlaywrightError("evaluate", err)
		}
		return result, nil
	})
}

func (p *pwPage) Count(ctx context.Context, selector string) (int, error) {
	if err := contextError("count", ctx); err != nil {
		return 0, err
	}
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, mapPlaywrightError("count "+selector, err)
	}
	return n, nil
}

func (p *pwPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := contextError("is visible", ctx); err != nil {
		return false, err
	}
	visible, err := p.page.Locator(selector).First().IsVisible()
	if err != nil {
		return false, mapPlaywrightError("is visible "+selector, err)
	}
	return visible, nil
}

func (p *pwPage) TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if err := contextError("text content", ctx); err != nil {
		return "", err
	}
	text, err := p.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: milliseconds(timeout),
	})
	if err != nil {
		return "", mapPlaywrightError("text content "+selector, err)
	}
	return text, nil
}

func (p *pwPage) Title(ctx context.Context) (string, error) {
	if err := contextError("title", ctx); err != nil {
		return "", err
	}
	title, err := p.page.Title()
	return title, mapPlaywrightError("title", err)
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Content(ctx context.Context) (string, error) {
	if err := contextError("content", ctx); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	return html, mapPlaywrightError("content", err)
}

func (p *pwPage) Fetch(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	if err := contextError("fetch", ctx); err != nil {
		return nil, err
	}
	resp, err := p.page.Request().Get(url, playwright.APIRequestContextGetOptions{
		Timeout: milliseconds(timeout),
	})
	if err != nil {
		return nil, mapPlaywrightError("fetch "+url, err)
	}
	body, berr := resp.Body()
	return NewResponse(resp.URL(), resp.Status(), resp.Headers(), func() ([]byte, error) {
		return body, berr
	}), nil
}

func (p *pwPage) Screenshot(ctx context.Context, path string) error {
	if err := contextError("screenshot", ctx); err != nil {
		return err
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return mapPlaywrightError("screenshot", err)
}

func (p *pwPage) Close() error {
	return ignoreClosed(p.page.Close())
}

type pwFrame struct {
	frame playwright.Frame
}

func (f pwFrame) URL() string { return f.frame.URL() }

func (f pwFrame) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	if err := contextError("frame load state", ctx); err != nil {
		return err
	}
	ls := loadState(state)
	if ls == nil {
		return nil
	}
	err := f.frame.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{
		State:   ls,
		Timeout: milliseconds(timeout),
	})
	return mapPlaywrightError("frame load state", err)
}

func milliseconds(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func waitUntilState(state models.LoadState) *playwright.WaitUntilState {
	switch state {
	case models.LoadStateCommit:
		return playwright.WaitUntilStateCommit
	case models.LoadStateDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case models.LoadStateNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateLoad
	}
}

// loadState returns nil for commit, which has already happened once a page
// has a document
func loadState(state models.LoadState) *playwright.LoadState {
	switch state {
	case models.LoadStateCommit:
		return nil
	case models.LoadStateLoad:
		return playwright.LoadStateLoad
	case models.LoadStateNetworkIdle:
		return playwright.LoadStateNetworkidle
	default:
		return playwright.LoadStateDomcontentloaded
	}
}

func selectorState(state models.ElementState) *playwright.WaitForSelectorState {
	switch state {
	case models.ElementHidden:
		return playwright.WaitForSelectorStateHidden
	case models.ElementAttached:
		return playwright.WaitForSelectorStateAttached
	case models.ElementDetached:
		return playwright.WaitForSelectorStateDetached
	default:
		return playwright.WaitForSelectorStateVisible
	}
}

func mapPlaywrightError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return timeoutError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ignoreClosed treats closing an already closed target as success
func ignoreClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTargetClosed) {
		return nil
	}
	return err
}
