// Package browser owns browser automation resources. An Engine starts a
// Driver, which launches a Browser, which opens an isolated BrowserContext
// holding a single Page. Sessions bundle the four and release them in reverse
// order exactly once.
package browser

import (
	"context"
	"time"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// LaunchOptions configure the browser process
type LaunchOptions struct {
	Headless  bool
	Args      []string
	NoSandbox bool
	Timeout   time.Duration
}

// ContextOptions configure an isolated browsing context
type ContextOptions struct {
	BaseURL           string
	ViewportWidth     int
	ViewportHeight    int
	ExtraHeaders      map[string]string
	IgnoreTLSErrors   bool
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration

	// Device emulation; zero values keep the engine defaults
	DeviceScaleFactor float64
	IsMobile          bool
	HasTouch          bool
	UserAgent         string
	ReducedMotion     string
	ColorScheme       string

	// VideoDir, when set, records the page into this directory
	VideoDir string
}

// VideoRecorder is implemented by pages that record a video of themselves.
// The file is complete once the page's context is closed.
type VideoRecorder interface {
	VideoPath() string
}

// GotoOptions control a navigation
type GotoOptions struct {
	WaitUntil models.LoadState
	Timeout   time.Duration
}

// Engine starts automation drivers
type Engine interface {
	Name() string
	Start(ctx context.Context) (Driver, error)
}

// Driver is a running automation driver able to launch browsers
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	Stop() error
}

// Browser is a launched browser process
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated set of cookies, storage and pages
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Frame is a sub-frame of a page
type Frame interface {
	URL() string
	WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error
}

// Page is a single tab. Selectors are resolved on every call, never cached.
// Operations that exceed their timeout return an error wrapping
// models.ErrTimeout.
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error)
	WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error
	Frames() []Frame
	WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, state models.ElementState, timeout time.Duration) error

	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Press(ctx context.Context, selector, key string, timeout time.Duration) error
	Evaluate(ctx context.Context, expression string, timeout time.Duration) (any, error)

	Count(ctx context.Context, selector string) (int, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error)
	Title(ctx context.Context) (string, error)
	URL() string
	Content(ctx context.Context) (string, error)

	Fetch(ctx context.Context, url string, timeout time.Duration) (*Response, error)
	Screenshot(ctx context.Context, path string) error
	Diagnostics() Diagnostics
	Close() error
}

// Diagnostics are page events collected since the page was opened
type Diagnostics struct {
	ConsoleErrors  []string
	FailedRequests []string
}

// Empty reports whether nothing was collected
func (d Diagnostics) Empty() bool {
	return len(d.ConsoleErrors) == 0 && len(d.FailedRequests) == 0
}
