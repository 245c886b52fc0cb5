package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vayra-9/uiprobe/internal/config"
	"github.com/Vayra-9/uiprobe/internal/models"
)

// Session is one scenario's exclusive set of browser resources
type Session struct {
	ID      string
	BaseURL string

	driver  Driver
	browser Browser
	context BrowserContext
	page    Page

	manager *Manager
	logger  *zap.Logger

	mu           sync.Mutex
	lastResponse *Response
	profile      string
	video        string

	closeOnce sync.Once
	closeErr  error
}

// Page returns the session's page
func (s *Session) Page() Page {
	return s.page
}

// Profile returns the name of the context profile the session emulates
func (s *Session) Profile() string {
	return s.profile
}

// VideoPath returns the file the page is being recorded to, or "" when
// nothing is recorded. The file is complete once the session is closed.
func (s *Session) VideoPath() string {
	return s.video
}

// SetLastResponse records the response of the most recent navigation
func (s *Session) SetLastResponse(resp *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResponse = resp
}

// LastResponse returns the most recent navigation response, or nil
func (s *Session) LastResponse() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// Close releases page, context, browser and driver in that order. Every
// release is attempted even if an earlier one fails. Calling Close again is a
// no-op returning the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close page: %w", err))
			}
		}
		if s.context != nil {
			if err := s.context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.driver != nil {
			if err := s.driver.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop driver: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
		if s.manager != nil {
			s.manager.forget(s.ID)
		}
		if s.closeErr != nil {
			s.logger.Warn("session teardown incomplete", zap.Error(s.closeErr))
		} else {
			s.logger.Debug("session released")
		}
	})
	return s.closeErr
}

// Manager acquires sessions from an engine and tracks the ones still open
type Manager struct {
	engine  Engine
	browser config.BrowserConfig
	target  config.TargetConfig
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager
func NewManager(engine Engine, browserCfg config.BrowserConfig, targetCfg config.TargetConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:   engine,
		browser:  browserCfg,
		target:   targetCfg,
		logger:   logger.Named("browser"),
		sessions: make(map[string]*Session),
	}
}

// Engine returns the name of the engine sessions run on
func (m *Manager) Engine() string {
	return m.engine.Name()
}

// SessionOptions tune the context of one session
type SessionOptions struct {
	Profile  config.ProfileConfig
	// VideoDir, when set, records the session's page into this directory
	VideoDir string
}

// Acquire opens a session with the browser's window size and no device
// emulation
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	return m.AcquireWith(ctx, SessionOptions{})
}

// AcquireWith starts a driver, launches a browser and opens a context with one
// page, emulating opts.Profile. If any step fails, whatever was already
// acquired is released in reverse order and a *models.SetupError is returned.
func (m *Manager) AcquireWith(ctx context.Context, opts SessionOptions) (*Session, error) {
	id := uuid.New().String()
	s := &Session{
		ID:      id,
		BaseURL: m.target.BaseURL,
		profile: opts.Profile.Name,
		logger:  m.logger.With(zap.String("session_id", id)),
	}
	if s.profile != "" {
		s.logger = s.logger.With(zap.String("profile", s.profile))
	}

	launchTimeout := m.browser.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = 30 * time.Second
	}
	setupCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	fail := func(resource string, err error) (*Session, error) {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		m.logger.Error("session setup failed", zap.String("resource", resource), zap.Error(err))
		return nil, &models.SetupError{Resource: resource, Err: err}
	}

	driver, err := m.engine.Start(setupCtx)
	if err != nil {
		return fail("driver", err)
	}
	s.driver = driver

	b, err := driver.Launch(setupCtx, LaunchOptions{
		Headless:  m.browser.Headless,
		Args:      m.browser.LaunchArgs(),
		NoSandbox: m.browser.NoSandbox,
		Timeout:   launchTimeout,
	})
	if err != nil {
		return fail("browser", err)
	}
	s.browser = b

	bc, err := b.NewContext(setupCtx, m.contextOptions(opts))
	if err != nil {
		return fail("context", err)
	}
	s.context = bc

	page, err := bc.NewPage(setupCtx)
	if err != nil {
		return fail("page", err)
	}
	if rec, ok := page.(VideoRecorder); ok {
		s.video = rec.VideoPath()
	}
	fallback := m.browser.DefaultTimeout
	if fallback <= 0 {
		fallback = 5 * time.Second
	}
	s.page = Guard(page, fallback)

	s.manager = m
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.logger.Info("session acquired", zap.String("engine", m.engine.Name()))
	return s, nil
}

func (m *Manager) contextOptions(opts SessionOptions) ContextOptions {
	p := opts.Profile
	co := ContextOptions{
		BaseURL:           m.target.BaseURL,
		ViewportWidth:     m.browser.WindowWidth,
		ViewportHeight:    m.browser.WindowHeight,
		ExtraHeaders:      m.target.ExtraHeaders,
		IgnoreTLSErrors:   m.browser.IgnoreTLSErrors,
		DefaultTimeout:    m.browser.DefaultTimeout,
		NavigationTimeout: m.browser.NavigationTimeout,
		DeviceScaleFactor: p.DeviceScaleFactor,
		IsMobile:          p.IsMobile,
		HasTouch:          p.HasTouch,
		UserAgent:         p.UserAgent,
		ReducedMotion:     p.ReducedMotion,
		ColorScheme:       p.ColorScheme,
		VideoDir:          opts.VideoDir,
	}
	if p.ViewportWidth > 0 && p.ViewportHeight > 0 {
		co.ViewportWidth = p.ViewportWidth
		co.ViewportHeight = p.ViewportHeight
	}
	return co
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Open returns the number of sessions acquired but not yet closed
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session still open
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range open {
		m.logger.Warn("closing leaked session", zap.String("session_id", s.ID))
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
