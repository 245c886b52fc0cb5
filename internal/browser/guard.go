package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/Vayra-9/uiprobe/internal/models"
)

// guardGrace lets an engine report its own timeout before the guard gives up
const guardGrace = 250 * time.Millisecond

type outcome[T any] struct {
	value T
	err   error
	panic any
}

// bounded runs fn on its own goroutine and returns when fn does, when ctx
// ends, or when timeout plus a short grace has elapsed. An abandoned call
// keeps running until the engine gives up, at the latest when the page is
// closed. A panic in fn is raised again on the caller's goroutine.
func bounded[T any](ctx context.Context, op string, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if err := contextError(op, ctx); err != nil {
		return zero, err
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[T]{panic: p}
			}
		}()
		v, err := fn()
		done <- outcome[T]{value: v, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout + guardGrace)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-done:
		if out.panic != nil {
			panic(out.panic)
		}
		return out.value, out.err
	case <-ctx.Done():
		return zero, contextError(op, ctx)
	case <-expired:
		return zero, fmt.Errorf("%s: %w: no answer within %s", op, models.ErrTimeout, timeout)
	}
}

func boundedErr(ctx context.Context, op string, timeout time.Duration, fn func() error) error {
	_, err := bounded(ctx, op, timeout, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// guardedPage bounds every call of the wrapped page by its timeout, or by
// fallback for calls that take none, so a stuck engine call can never hold
// a run past its deadline
type guardedPage struct {
	page     Page
	fallback time.Duration
}

// Guard wraps page so that no call outlives its timeout. Calls without a
// timeout argument are bounded by fallback.
func Guard(page Page, fallback time.Duration) Page {
	if _, ok := page.(*guardedPage); ok {
		return page
	}
	return &guardedPage{page: page, fallback: fallback}
}

// Unwrap returns the engine page behind a guard
func Unwrap(page Page) Page {
	if g, ok := page.(*guardedPage); ok {
		return g.page
	}
	return page
}

func (g *guardedPage) limit(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return g.fallback
}

func (g *guardedPage) Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error) {
	return bounded(ctx, "goto "+url, g.limit(opts.Timeout), func() (*Response, error) {
		return g.page.Goto(ctx, url, opts)
	})
}

func (g *guardedPage) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	return boundedErr(ctx, "wait for load state", g.limit(timeout), func() error {
		return g.page.WaitForLoadState(ctx, state, timeout)
	})
}

func (g *guardedPage) Frames() []Frame {
	frames := g.page.Frames()
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[i] = guardedFrame{frame: f, fallback: g.fallback}
	}
	return out
}

func (g *guardedPage) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	return boundedErr(ctx, "wait for url "+pattern, g.limit(timeout), func() error {
		return g.page.WaitForURL(ctx, pattern, timeout)
	})
}

func (g *guardedPage) WaitFor(ctx context.Context, selector string, state models.ElementState, timeout time.Duration) error {
	return boundedErr(ctx, "wait for "+selector, g.limit(timeout), func() error {
		return g.page.WaitFor(ctx, selector, state, timeout)
	})
}

func (g *guardedPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return boundedErr(ctx, "click "+selector, g.limit(timeout), func() error {
		return g.page.Click(ctx, selector, timeout)
	})
}

func (g *guardedPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return boundedErr(ctx, "fill "+selector, g.limit(timeout), func() error {
		return g.page.Fill(ctx, selector, value, timeout)
	})
}

func (g *guardedPage) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	return boundedErr(ctx, "press "+key, g.limit(timeout), func() error {
		return g.page.Press(ctx, selector, key, timeout)
	})
}

func (g *guardedPage) Evaluate(ctx context.Context, expression string, timeout time.Duration) (any, error) {
	return bounded(ctx, "evaluate", g.limit(timeout), func() (any, error) {
		return g.page.Evaluate(ctx, expression, timeout)
	})
}

func (g *guardedPage) Count(ctx context.Context, selector string) (int, error) {
	return bounded(ctx, "count "+selector, g.fallback, func() (int, error) {
		return g.page.Count(ctx, selector)
	})
}

func (g *guardedPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	return bounded(ctx, "is visible "+selector, g.fallback, func() (bool, error) {
		return g.page.IsVisible(ctx, selector)
	})
}

func (g *guardedPage) TextContent(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	return bounded(ctx, "text content "+selector, g.limit(timeout), func() (string, error) {
		return g.page.TextContent(ctx, selector, timeout)
	})
}

func (g *guardedPage) Title(ctx context.Context) (string, error) {
	return bounded(ctx, "title", g.fallback, func() (string, error) {
		return g.page.Title(ctx)
	})
}

func (g *guardedPage) URL() string {
	return g.page.URL()
}

func (g *guardedPage) Content(ctx context.Context) (string, error) {
	return bounded(ctx, "content", g.fallback, func() (string, error) {
		return g.page.Content(ctx)
	})
}

func (g *guardedPage) Fetch(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	return bounded(ctx, "fetch "+url, g.limit(timeout), func() (*Response, error) {
		return g.page.Fetch(ctx, url, timeout)
	})
}

func (g *guardedPage) Screenshot(ctx context.Context, path string) error {
	return boundedErr(ctx, "screenshot", g.fallback, func() error {
		return g.page.Screenshot(ctx, path)
	})
}

func (g *guardedPage) Diagnostics() Diagnostics {
	return g.page.Diagnostics()
}

func (g *guardedPage) Close() error {
	return g.page.Close()
}

type guardedFrame struct {
	frame    Frame
	fallback time.Duration
}

func (f guardedFrame) URL() string { return f.frame.URL() }

func (f guardedFrame) WaitForLoadState(ctx context.Context, state models.LoadState, timeout time.Duration) error {
	limit := timeout
	if limit <= 0 {
		limit = f.fallback
	}
	return boundedErr(ctx, "frame load state", limit, func() error {
		return f.frame.WaitForLoadState(ctx, state, timeout)
	})
}
