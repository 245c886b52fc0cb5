// Package browsertest provides an in-memory browser engine for tests. It
// serves a fixed Site, counts every handle it hands out and can inject
// latency, errors and panics per operation.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Vayra-9/uiprobe/internal/browser"
	"github.com/Vayra-9/uiprobe/internal/models"
)

// ErrTargetClosed is returned by operations on a closed page
var ErrTargetClosed = errors.New("target closed")

// Element is a fake DOM element
type Element struct {
	Text    string
	Visible bool
	// Count is the number of matches; zero means one
	Count int
	// Href navigates the page to this path when the element is clicked
	Href string
}

// Document is a fake page served at a path
type Document struct {
	Title       string
	Status      int
	ContentType string
	Body        string
	Elements    map[string]Element
	Frames      []string
}

// Site maps paths to documents
type Site struct {
	Documents map[string]*Document
}

// NewSite creates a site from path/document pairs
func NewSite(docs map[string]*Document) *Site {
	return &Site{Documents: docs}
}

func (s *Site) lookup(raw string) (*Document, string) {
	u, err := url.Parse(raw)
	path := raw
	if err == nil {
		path = u.Path
		if path == "" {
			path = "/"
		}
	}
	if s != nil {
		if doc, ok := s.Documents[path]; ok {
			return doc, path
		}
	}
	return &Document{Title: "Not Found", Status: 404, ContentType: "text/html", Body: "<h1>404</h1>"}, path
}

// Engine is a fake browser.Engine
type Engine struct {
	Site *Site

	// Latency delays operations by key, for example "click #submit" or "click"
	Latency map[string]time.Duration
	// Errors fails operations by key
	Errors map[string]error
	// IgnoreTimeouts lets delayed operations ignore both their timeout and
	// context, like an engine that does not enforce deadlines
	IgnoreTimeouts bool
	// PanicOn panics inside the operation with this key
	PanicOn string
	// Block makes the operation with this key (or operation name) hang,
	// ignoring its timeout and context, until the page is closed
	Block string
	// FailOn fails acquisition of "driver", "browser", "context" or "page"
	FailOn string
	// CloseErrors fails releasing a resource kind
	CloseErrors map[string]error
	// Eval answers Evaluate calls
	Eval func(expression string) (any, error)

	ConsoleErrors  []string
	FailedRequests []string

	mu          sync.Mutex
	open        map[string]int
	created     map[string]int
	doubleClose int
	calls       []string
	contexts    []browser.ContextOptions
}

// NewEngine creates a fake engine serving site
func NewEngine(site *Site) *Engine {
	return &Engine{
		Site:    site,
		open:    make(map[string]int),
		created: make(map[string]int),
	}
}

// Name implements browser.Engine
func (e *Engine) Name() string { return "fake" }

// Start implements browser.Engine
func (e *Engine) Start(ctx context.Context) (browser.Driver, error) {
	if err := e.acquire("driver"); err != nil {
		return nil, err
	}
	return &driver{handle: handle{engine: e, kind: "driver"}}, nil
}

// Open returns the number of handles not yet released
func (e *Engine) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, n := range e.open {
		total += n
	}
	return total
}

// OpenOf returns the number of open handles of one kind
func (e *Engine) OpenOf(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open[kind]
}

// Created returns how many handles of kind were ever created
func (e *Engine) Created(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created[kind]
}

// DoubleCloses returns how many times an already released handle was closed
func (e *Engine) DoubleCloses() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doubleClose
}

// Calls returns the page operations performed, in order
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Contexts returns the options of every context opened so far
func (e *Engine) Contexts() []browser.ContextOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]browser.ContextOptions(nil), e.contexts...)
}

func (e *Engine) acquire(kind string) error {
	if e.FailOn == kind {
		return fmt.Errorf("fake %s unavailable", kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == nil {
		e.open = make(map[string]int)
		e.created = make(map[string]int)
	}
	e.open[kind]++
	e.created[kind]++
	return nil
}

func (e *Engine) latency(key string) time.Duration {
	if d, ok := e.Latency[key]; ok {
		return d
	}
	op, _, _ := strings.Cut(key, " ")
	return e.Latency[op]
}

func (e *Engine) blocks(key string) bool {
	if e.Block == "" {
		return false
	}
	op, _, _ := strings.Cut(key, " ")
	return e.Block == key || e.Block == op
}

func (e *Engine) injected(key string) error {
	if err, ok := e.Errors[key]; ok {
		return err
	}
	op, _, _ := strings.Cut(key, " ")
	return e.Errors[op]
}

type handle struct {
	engine *Engine
	kind   string
	once   sync.Once
}

func (h *handle) release() error {
	released := false
	h.once.Do(func() {
		released = true
		h.engine.mu.Lock()
		h.engine.open[h.kind]--
		h.engine.mu.Unlock()
	})
	if !released {
		h.engine.mu.Lock()
		h.engine.doubleClose++
		h.engine.mu.Unlock()
		return nil
	}
	return h.engine.CloseErrors[h.kind]
}

type driver struct{ handle }

func (d *driver) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := d.engine.acquire("browser"); err != nil {
		return nil, err
	}
	return &fakeBrowser{handle: handle{engine: d.engine, kind: "browser"}}, nil
}

func (d *driver) Stop() error { return d.release() }

type fakeBrowser struct{ handle }

func (b *fakeBrowser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.BrowserContext, error) {
	if err := b.engine.acquire("context"); err != nil {
		return nil, err
	}
	b.engine.mu.Lock()
	b.engine.contexts = append(b.engine.contexts, opts)
	b.engine.mu.Unlock()
	return &fakeContext{handle: handle{engine: b.engine, kind: "context"}, opts: opts}, nil
}

func (b *fakeBrowser) Close() error { return b.release() }

type fakeContext struct {
	handle
	opts browser.ContextOptions
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.Page, error) {
	if err := c.engine.acquire("page"); err != nil {
		return nil, err
	}
	p := &Page{
		handle: handle{engine: c.engine, kind: "page"},
		opts:   c.opts,
		values: map[string]string{},
		done:   make(chan struct{}),
	}
	if dir := c.opts.VideoDir; dir != "" {
		c.engine.mu.Lock()
		n := c.engine.created["page"]
		c.engine.mu.Unlock()
		p.video = filepath.Join(dir, fmt.Sprintf("page-%d-%d.webm", n, time.Now().UnixNano()))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = p.release()
			return nil, err
		}
		if err := os.WriteFile(p.video, []byte("fake video"), 0o644); err != nil {
			_ = p.release()
			return nil, err
		}
	}
	return p, nil
}

func (c *fakeContext) Close() error { return c.release() }

// Page is a fake browser.Page
type Page struct {
	handle
	opts browser.ContextOptions

	mu     sync.Mutex
	url    string
	doc    *Document
	values map[string]string
	closed bool
	done   chan struct{}
	video  string
}

// VideoPath implements browser.VideoRecorder
func (p *Page) VideoPath() string { return p.video }

func (p *Page) do(ctx context.Context, key string, timeout time.Duration) error {
	e := p.engine
	e.mu.Lock()
	e.calls = append(e.calls, key)
	e.mu.Unlock()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", key, ErrTargetClosed)
	}
	if e.PanicOn != "" && e.PanicOn == key {
		panic(fmt.Sprintf("fake panic in %s", key))
	}
	if e.blocks(key) {
		<-p.done
		return fmt.Errorf("%s: %w", key, ErrTargetClosed)
	}
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}
	if delay := e.latency(key); delay > 0 {
		if e.IgnoreTimeouts {
			time.Sleep(delay)
			return e.injected(key)
		}
		if timeout > 0 && delay > timeout {
			if err := sleep(ctx, key, timeout); err != nil {
				return err
			}
			return timedOut(key, timeout)
		}
		if err := sleep(ctx, key, delay); err != nil {
			return err
		}
	}
	return e.injected(key)
}

func sleep(ctx context.Context, key string, d time.Duration) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w: %v", key, models.ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func timedOut(key string, d time.Duration) error {
	return fmt.Errorf("%s: %w: exceeded %s", key, models.ErrTimeout, d)
}

func (p *Page) current() (*Document, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return &Document{}, p.url
	}
	return p.doc, p.url
}

func (p *Page) element(selector string) (Element, bool) {
	doc, _ := p.current()
	el, ok := doc.Elements[selector]
	return el, ok
}

func (p *Page) navigate(raw string) *browser.Response {
	target := raw
	if base, err := url.Parse(p.opts.BaseURL); err == nil && p.opts.BaseURL != "" {
		if ref, err := url.Parse(raw); err == nil {
			target = base.ResolveReference(ref).String()
		}
	}
	doc, _ := p.engine.Site.lookup(target)
	p.mu.Lock()
	p.doc = doc
	p.url = target
	p.mu.Unlock()
	return response(target, doc)
}

func response(target string, doc *Document) *browser.Response {
	status := doc.Status
	if status == 0 {
		status = 200
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	body := []byte(renderBody(doc))
	return browser.NewResponse(target, status, map[string]string{"Content-Type": contentType}, func() ([]byte, error) {
		return body, nil
	})
}

func renderBody(doc *Document) string {
	if doc.Body != "" && !strings.HasPrefix(strings.TrimSpace(doc.Body), "<") {
		return doc.Body
	}
	if strings.Contains(doc.Body, "<html") {
		return doc.Body
	}
	return fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>", html.EscapeString(doc.Title), doc.Body)
}

// Goto implements browser.Page
func (p *Page) Goto(ctx context.Context, raw string, opts browser.GotoOptions) (*browser.Response, error) {
	_, path := p.engine.Site.lookup(raw)
	if err := p.do(ctx, "goto "+path, opts.Timeout); err != nil {
		return nil, err
	}
	return p.navigate(raw), nil
}

// WaitForLoadState implements browser.Page
func (p *Page) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	return p.do(ctx, "load "+string(state), timeout)
}

// Frames implements browser.Page
func (p *Page) Frames() []browser.Frame {
	doc, _ := p.current()
	frames := make([]browser.Frame, 0, len(doc.Frames))
	for _, u := range doc.Frames {
		frames = append(frames, frame{url: u, page: p})
	}
	return frames
}

// WaitForURL implements browser.Page
func (p *Page) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	if err := p.do(ctx, "wait_url "+pattern, timeout); err != nil {
		return err
	}
	_, current := p.current()
	ok, err := browser.MatchURL(pattern, current)
	if err != nil {
		return err
	}
	if !ok {
		return timedOut("wait_url "+pattern, timeout)
	}
	return nil
}

// WaitFor implements browser.Page
func (p *Page) WaitFor(ctx context.Context, selector string, state models.ElementState, timeout time.Duration) error {
	key := "wait_for " + selector
	if err := p.do(ctx, key, timeout); err != nil {
		return err
	}
	el, ok := p.element(selector)
	var met bool
	switch state {
	case models.ElementHidden:
		met = !ok || !el.Visible
	case models.ElementAttached:
		met = ok
	case models.ElementDetached:
		met = !ok
	default:
		met = ok && el.Visible
	}
	if !met {
		return timedOut(key, timeout)
	}
	return nil
}

// Click implements browser.Page
func (p *Page) Click(ctx context.Context, selector string, timeout time.Duration) error {
	key := "click " + selector
	if err := p.do(ctx, key, timeout); err != nil {
		return err
	}
	el, ok := p.element(selector)
	if !ok || !el.Visible {
		return timedOut(key, timeout)
	}
	if el.Href != "" {
		p.navigate(el.Href)
	}
	return nil
}

// Fill implements browser.Page
func (p *Page) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	key := "fill " + selector
	if err := p.do(ctx, key, timeout); err != nil {
		return err
	}
	if _, ok := p.element(selector); !ok {
		return timedOut(key, timeout)
	}
	p.mu.Lock()
	p.values[selector] = value
	p.mu.Unlock()
	return nil
}

// Value returns what was last filled into selector
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

// Press implements browser.Page
func (p *Page) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	return p.do(ctx, "press "+key, timeout)
}

// Evaluate implements browser.Page
func (p *Page) Evaluate(ctx context.Context, expression string, timeout time.Duration) (any, error) {
	if err := p.do(ctx, "evaluate", timeout); err != nil {
		return nil, err
	}
	if p.engine.Eval == nil {
		return nil, nil
	}
	return p.engine.Eval(expression)
}

// Count implements browser.Page
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := p.do(ctx, "count "+selector, 0); err != nil {
		return 0, err
	}
	el, ok := p.element(selector)
	if !ok {
		return 0, nil
	}
	if el.Count == 0 {
		return 1, nil
	}
	return el.Count, nil
}

// IsVisible implements browser.Page
func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := p.do(ctx, "visible "+selector, 0); err != nil {
		return false, err
	}
	el, ok := p.element(selector)
	return ok && el.Visible, nil
}

// TextContent implements browser.Page
func (p *Page) TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	key := "text " + selector
	if err := p.do(ctx, key, timeout); err != nil {
		return "", err
	}
	el, ok := p.element(selector)
	if !ok {
		return "", timedOut(key, timeout)
	}
	return el.Text, nil
}

// Title implements browser.Page
func (p *Page) Title(ctx context.Context) (string, error) {
	if err := p.do(ctx, "title", 0); err != nil {
		return "", err
	}
	doc, _ := p.current()
	return doc.Title, nil
}

// URL implements browser.Page
func (p *Page) URL() string {
	_, u := p.current()
	return u
}

// Content implements browser.Page
func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.do(ctx, "content", 0); err != nil {
		return "", err
	}
	doc, _ := p.current()
	return renderBody(doc), nil
}

// Fetch implements browser.Page
func (p *Page) Fetch(ctx context.Context, raw string, timeout time.Duration) (*browser.Response, error) {
	doc, path := p.engine.Site.lookup(raw)
	if err := p.do(ctx, "fetch "+path, timeout); err != nil {
		return nil, err
	}
	return response(raw, doc), nil
}

// Screenshot implements browser.Page
func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := p.do(ctx, "screenshot", 0); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fake-png"), 0o644)
}

// Diagnostics implements browser.Page
func (p *Page) Diagnostics() browser.Diagnostics {
	return browser.Diagnostics{
		ConsoleErrors:  append([]string(nil), p.engine.ConsoleErrors...),
		FailedRequests: append([]string(nil), p.engine.FailedRequests...),
	}
}

// Close implements browser.Page
func (p *Page) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
	return p.release()
}

type frame struct {
	url  string
	page *Page
}

func (f frame) URL() string { return f.url }

func (f frame) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	return f.page.do(ctx, "frame "+f.url, timeout)
}
