package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/models"
)

const pollInterval = 100 * time.Millisecond

// ChromedpEngine drives a local Chrome over the DevTools protocol without the
// Playwright driver
type ChromedpEngine struct {
	logger *zap.Logger
}

// NewChromedpEngine creates a chromedp engine
func NewChromedpEngine(logger *zap.Logger) *ChromedpEngine {
	return &ChromedpEngine{logger: logger}
}

// Name implements Engine
func (e *ChromedpEngine) Name() string { return "chromedp" }

// Start implements Engine. chromedp has no separate driver process, so the
// driver only carries the logger.
func (e *ChromedpEngine) Start(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &cdpDriver{logger: e.logger}, nil
}

type cdpDriver struct {
	logger *zap.Logger
}

func (d *cdpDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	for _, arg := range opts.Args {
		name, value := splitFlag(arg)
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
		chromedp.WithErrorf(d.logger.Sugar().Debugf),
	)
	if err := startTarget(ctx, browserCtx, opts.Timeout); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	return &cdpBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		logger:      d.logger,
	}, nil
}

func (d *cdpDriver) Stop() error { return nil }

type cdpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

func (b *cdpBrowser) NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	p := &cdpPage{
		ctx:               tabCtx,
		defaultTimeout:    opts.DefaultTimeout,
		navigationTimeout: opts.NavigationTimeout,
		requests:          make(map[network.RequestID]string),
	}
	p.listen()

	setup := []chromedp.Action{network.Enable(), runtime.Enable()}
	if len(opts.ExtraHeaders) > 0 {
		headers := network.Headers{}
		for k, v := range opts.ExtraHeaders {
			headers[k] = v
		}
		setup = append(setup, network.SetExtraHTTPHeaders(headers))
	}
	setup = append(setup, emulationActions(opts)...)
	if opts.VideoDir != "" {
		b.logger.Debug("video recording is not supported by the chromedp engine")
	}
	if opts.IgnoreTLSErrors {
		setup = append(setup, security.SetIgnoreCertificateErrors(true))
	}
	if err := startTarget(ctx, tabCtx, opts.NavigationTimeout, setup...); err != nil {
		cancel()
		return nil, fmt.Errorf("could not create context: %w", err)
	}
	return &cdpContext{page: p, cancel: cancel}, nil
}

// emulationActions maps device emulation onto DevTools emulation commands
func emulationActions(opts ContextOptions) []chromedp.Action {
	var actions []chromedp.Action
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		scale := opts.DeviceScaleFactor
		if scale <= 0 {
			scale = 1
		}
		metrics := emulation.SetDeviceMetricsOverride(int64(opts.ViewportWidth), int64(opts.ViewportHeight), scale, opts.IsMobile)
		if opts.IsMobile {
			metrics = metrics.WithScreenOrientation(&emulation.ScreenOrientation{
				Type:  emulation.OrientationTypePortraitPrimary,
				Angle: 0,
			})
		}
		actions = append(actions, metrics)
	}
	if opts.HasTouch {
		actions = append(actions, emulation.SetTouchEmulationEnabled(true))
	}
	if opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	var features []*emulation.MediaFeature
	if opts.ReducedMotion != "" {
		features = append(features, &emulation.MediaFeature{Name: "prefers-reduced-motion", Value: opts.ReducedMotion})
	}
	if opts.ColorScheme != "" {
		features = append(features, &emulation.MediaFeature{Name: "prefers-color-scheme", Value: opts.ColorScheme})
	}
	if len(features) > 0 {
		actions = append(actions, emulation.SetEmulatedMedia().WithFeatures(features))
	}
	return actions
}

func (b *cdpBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type cdpContext struct {
	mu     sync.Mutex
	page   *cdpPage
	handed bool
	cancel context.CancelFunc
}

// NewPage returns the tab created with the context. Each context holds a
// single page.
func (c *cdpContext) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handed {
		return nil, errors.New("chromedp contexts hold a single page")
	}
	c.handed = true
	return c.page, nil
}

func (c *cdpContext) Close() error {
	c.cancel()
	return nil
}

type cdpPage struct {
	ctx               context.Context
	defaultTimeout    time.Duration
	navigationTimeout time.Duration

	mu       sync.Mutex
	diags    Diagnostics
	requests map[network.RequestID]string
	closed   bool
}

func (p *cdpPage) listen() {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			parts := make([]string, 0, len(e.Args))
			for _, arg := range e.Args {
				if arg.Description != "" {
					parts = append(parts, arg.Description)
				} else {
					parts = append(parts, strings.Trim(string(arg.Value), `"`))
				}
			}
			p.record(func(d *Diagnostics) { d.ConsoleErrors = append(d.ConsoleErrors, strings.Join(parts, " ")) })
		case *runtime.EventExceptionThrown:
			text := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				text = e.ExceptionDetails.Exception.Description
			}
			p.record(func(d *Diagnostics) { d.ConsoleErrors = append(d.ConsoleErrors, text) })
		case *network.EventRequestWillBeSent:
			p.mu.Lock()
			p.requests[e.RequestID] = e.Request.Method + " " + e.Request.URL
			p.mu.Unlock()
		case *network.EventLoadingFailed:
			p.mu.Lock()
			entry := p.requests[e.RequestID]
			if entry == "" {
				entry = string(e.RequestID)
			}
			p.diags.FailedRequests = append(p.diags.FailedRequests, entry+": "+e.ErrorText)
			p.mu.Unlock()
		}
	})
}

func (p *cdpPage) record(fn func(d *Diagnostics)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.diags)
}

func (p *cdpPage) Diagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Diagnostics{
		ConsoleErrors:  append([]string(nil), p.diags.ConsoleErrors...),
		FailedRequests: append([]string(nil), p.diags.FailedRequests...),
	}
}

// opContext derives a context on the tab that ends at timeout or when ctx ends
func (p *cdpPage) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *cdpPage) run(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return mapChromedpError(op, runCtx, err)
	}
	return nil
}

// eval evaluates expression in the page and decodes its JSON value into out.
// Function expressions are called and promises awaited.
func (p *cdpPage) eval(ctx context.Context, op string, timeout time.Duration, expression string, out any) error {
	wrapped := fmt.Sprintf(`(async () => {
  let __v = (%s);
  if (typeof __v === "function") __v = __v();
  __v = await __v;
  return JSON.stringify({v: __v === undefined ? null : __v});
})()`, expression)
	var raw string
	err := p.run(ctx, op, timeout, chromedp.Evaluate(wrapped, &raw, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
	if err != nil {
		return err
	}
	var envelope struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.V, out)
}

func (p *cdpPage) poll(ctx context.Context, op string, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return timeoutError(op, fmt.Errorf("condition not met within %s", timeout))
		}
		select {
		case <-ctx.Done():
			return contextError(op, ctx)
		case <-time.After(pollInterval):
		}
	}
}

func (p *cdpPage) Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.navigationTimeout
	}
	runCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()
	// chromedp.Navigate always waits for the load event, which satisfies every
	// weaker load state too
	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, mapChromedpError("goto "+url, runCtx, err)
	}
	if opts.WaitUntil == models.LoadStateNetworkIdle {
		if err := p.WaitForLoadState(ctx, models.LoadStateNetworkIdle, timeout); err != nil {
			return nil, err
		}
	}
	if resp == nil {
		return nil, nil
	}
	headers := make(map[string]string, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = fmt.Sprint(v)
	}
	docURL := resp.URL
	return NewResponse(docURL, int(resp.Status), headers, func() ([]byte, error) {
		r, err := p.Fetch(context.Background(), docURL, p.navigationTimeout)
		if err != nil {
			return nil, err
		}
		return r.Body()
	}), nil
}

func (p *cdpPage) readyState(ctx context.Context) (string, error) {
	var state string
	err := p.eval(ctx, "ready state", p.defaultTimeout, "document.readyState", &state)
	return state, err
}

func (p *cdpPage) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	if state == models.LoadStateCommit {
		return nil
	}
	err := p.poll(ctx, "wait for load state", timeout, func(ctx context.Context) (bool, error) {
		rs, err := p.readyState(ctx)
		if err != nil {
			return false, err
		}
		if state == models.LoadStateDOMContentLoaded {
			return rs == "interactive" || rs == "complete", nil
		}
		return rs == "complete", nil
	})
	if err != nil || state != models.LoadStateNetworkIdle {
		return err
	}
	// no in-flight tracking over CDP; settle for a quiet period after load
	select {
	case <-ctx.Done():
		return contextError("wait for load state", ctx)
	case <-time.After(500 * time.Millisecond):
		return nil
	}
}

func (p *cdpPage) Frames() []Frame {
	runCtx, cancel := p.opContext(context.Background(), p.defaultTimeout)
	defer cancel()
	var tree *cdppage.FrameTree
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = cdppage.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil || tree == nil {
		return nil
	}
	var frames []Frame
	var walk func(t *cdppage.FrameTree)
	walk = func(t *cdppage.FrameTree) {
		for _, child := range t.ChildFrames {
			frames = append(frames, cdpFrame{url: child.Frame.URL, page: p})
			walk(child)
		}
	}
	walk(tree)
	return frames
}

func (p *cdpPage) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	return p.poll(ctx, "wait for url "+pattern, timeout, func(ctx context.Context) (bool, error) {
		return MatchURL(pattern, p.URL())
	})
}

func (p *cdpPage) WaitFor(ctx context.Context, selector string, state models.ElementState, timeout time.Duration) error {
	return p.poll(ctx, "wait for "+selector, timeout, func(ctx context.Context) (bool, error) {
		switch state {
		case models.ElementHidden:
			visible, err := p.IsVisible(ctx, selector)
			return !visible, err
		case models.ElementAttached:
			n, err := p.Count(ctx, selector)
			return n > 0, err
		case models.ElementDetached:
			n, err := p.Count(ctx, selector)
			return n == 0, err
		default:
			return p.IsVisible(ctx, selector)
		}
	})
}

func (p *cdpPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	sel, by := queryOption(selector)
	return p.run(ctx, "click "+selector, timeout, chromedp.Click(sel, by))
}

func (p *cdpPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	sel, by := queryOption(selector)
	return p.run(ctx, "fill "+selector, timeout,
		chromedp.WaitVisible(sel, by),
		chromedp.SetValue(sel, "", by),
		chromedp.SendKeys(sel, value, by),
	)
}

func (p *cdpPage) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	if selector == "" {
		return p.run(ctx, "press "+key, timeout, chromedp.KeyEvent(keyName(key)))
	}
	sel, by := queryOption(selector)
	return p.run(ctx, "press "+key, timeout, chromedp.Focus(sel, by), chromedp.KeyEvent(keyName(key)))
}

func (p *cdpPage) Evaluate(ctx context.Context, expression string, timeout time.Duration) (any, error) {
	var out any
	if err := p.eval(ctx, "evaluate", timeout, expression, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *cdpPage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.eval(ctx, "count "+selector, p.defaultTimeout, fmt.Sprintf("(%s).length", QueryAllJS(selector)), &n)
	return n, err
}

func (p *cdpPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`(() => {
  const el = (%s)[0];
  if (!el) return false;
  const style = getComputedStyle(el);
  if (style.visibility === "hidden" || style.display === "none") return false;
  const rect = el.getBoundingClientRect();
  return rect.width > 0 && rect.height > 0;
})()`, QueryAllJS(selector))
	var visible bool
	err := p.eval(ctx, "is visible "+selector, p.defaultTimeout, expr, &visible)
	return visible, err
}

func (p *cdpPage) TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if err := p.WaitFor(ctx, selector, models.ElementAttached, timeout); err != nil {
		return "", err
	}
	var text *string
	expr := fmt.Sprintf(`(() => { const el = (%s)[0]; return el ? el.textContent : null; })()`, QueryAllJS(selector))
	if err := p.eval(ctx, "text content "+selector, timeout, expr, &text); err != nil {
		return "", err
	}
	if text == nil {
		return "", nil
	}
	return *text, nil
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, "title", p.defaultTimeout, chromedp.Title(&title))
	return title, err
}

func (p *cdpPage) URL() string {
	var location string
	if err := p.run(context.Background(), "location", 2*time.Second, chromedp.Location(&location)); err != nil {
		return ""
	}
	return location
}

func (p *cdpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, "content", p.defaultTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *cdpPage) Fetch(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = p.navigationTimeout
	}
	expr := fmt.Sprintf(`(async () => {
  const r = await fetch(%s, {credentials: "include", signal: AbortSignal.timeout(%d)});
  const headers = {};
  r.headers.forEach((v, k) => { headers[k] = v; });
  return {status: r.status, url: r.url, headers, body: await r.text()};
})()`, jsString(url), timeout.Milliseconds())
	var result struct {
		Status  int               `json:"status"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := p.eval(ctx, "fetch "+url, timeout, expr, &result); err != nil {
		return nil, err
	}
	body := []byte(result.Body)
	return NewResponse(result.URL, result.Status, result.Headers, func() ([]byte, error) {
		return body, nil
	}), nil
}

func (p *cdpPage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, "screenshot", p.navigationTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func (p *cdpPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := chromedp.Cancel(p.ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// cdpFrame waits on the top-level document. A document only reaches a load
// state after its sub-frames have.
type cdpFrame struct {
	url  string
	page *cdpPage
}

func (f cdpFrame) URL() string { return f.url }

func (f cdpFrame) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	return f.page.WaitForLoadState(ctx, state, timeout)
}

// startTarget runs actions as the first Run on targetCtx, which allocates the
// browser or tab. The first Run must not use a timeout context because its
// cancellation would tear the target down, so the deadline is enforced here.
func startTarget(ctx, targetCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(targetCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return contextError("start target", ctx)
	case <-time.After(timeout):
		return timeoutError("start target", fmt.Errorf("not ready after %s", timeout))
	}
}

func mapChromedpError(op string, runCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return timeoutError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func queryOption(selector string) (string, chromedp.QueryOption) {
	kind, body := parseSelector(selector)
	switch kind {
	case selectorXPath:
		return body, chromedp.BySearch
	case selectorText:
		return textXPath(body), chromedp.BySearch
	default:
		return body, chromedp.ByQuery
	}
}

func keyName(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Escape":
		return kb.Escape
	case "Backspace":
		return kb.Backspace
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowUp":
		return kb.ArrowUp
	default:
		return key
	}
}

// splitFlag turns "--name=value" into a chromedp flag
func splitFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	name, value, ok := strings.Cut(arg, "=")
	if !ok {
		return name, true
	}
	return name, value
}
