package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

const (
	launchTimeout  = 30 * time.Second
	disposeTimeout = 5 * time.Second
)

// Manager owns one browser process and hands out isolated sessions. Every
// session lives in its own browser context, so cookies and storage never
// leak between sessions.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// createMu serializes browser context creation.
	createMu sync.Mutex
	slots    chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager launches the browser and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}
	m := &Manager{
		logger:   observability.Component(logger, observability.ComponentBrowser),
		cfg:      cfg,
		slots:    make(chan struct{}, maxSessions),
		sessions: make(map[string]*Session),
	}

	// The browser outlives the launching request.
	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(Detach(ctx), m.buildAllocatorOptions()...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx)

	startCtx, cancel := CombineContext(m.browserCtx, ctx)
	defer cancel()
	startCtx, cancelTimeout := context.WithTimeout(startCtx, launchTimeout)
	defer cancelTimeout()

	if err := chromedp.Run(startCtx); err != nil {
		m.browserCancel()
		m.allocCancel()
		return nil, fmt.Errorf("%w: browser failed to start: %v", ErrSessionUnavailable, err)
	}
	m.logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless), zap.Int("max_sessions", maxSessions))
	return m, nil
}

func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1366, 900),
	)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if m.cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", m.cfg.Locale))
	}
	for _, arg := range m.cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// NewSession creates a fresh, cookie-clean session. It blocks while the
// configured number of sessions is open.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s, err := m.createSession(ctx)
	if err != nil {
		<-m.slots
		return nil, err
	}
	return s, nil
}

func (m *Manager) createSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: manager is shut down", ErrSessionUnavailable)
	}
	m.mu.Unlock()
	if err := m.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("%w: browser process gone: %v", ErrSessionUnavailable, err)
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	exec := m.browserExecutor()
	opCtx, cancel := CombineContext(exec, ctx)
	defer cancel()

	bcID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(opCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: create browser context: %v", ErrSessionUnavailable, err)
	}
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(bcID).Do(opCtx)
	if err != nil {
		m.disposeBrowserContext(bcID)
		return nil, fmt.Errorf("%w: create target: %v", ErrSessionUnavailable, err)
	}

	sessionCtx, sessionCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(targetID))
	id := uuid.New().String()
	s := &Session{
		id:               id,
		ctx:              sessionCtx,
		cancel:           sessionCancel,
		browserContextID: bcID,
		logger:           observability.Component(m.logger, observability.ComponentSession).With(zap.String("session_id", id)),
		release:          m.release,
	}
	s.observer = NewObserver(s.logger)

	if err := m.setupSession(ctx, s); err != nil {
		sessionCancel()
		m.disposeBrowserContext(bcID)
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()
	s.logger.Debug("Session created.", zap.String("browser_context", string(bcID)))
	return s, nil
}

func (m *Manager) setupSession(ctx context.Context, s *Session) error {
	setupCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(setupCtx); err != nil {
		return fmt.Errorf("attach target: %w", err)
	}
	if err := s.observer.Attach(s.ctx); err != nil {
		return fmt.Errorf("enable observer: %w", err)
	}
	var tasks chromedp.Tasks
	if m.cfg.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(m.cfg.Locale, "-", "_")))
		if m.cfg.UserAgent != "" {
			tasks = append(tasks, emulation.SetUserAgentOverride(m.cfg.UserAgent).WithAcceptLanguage(m.cfg.Locale))
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	if err := chromedp.Run(setupCtx, tasks); err != nil {
		// Emulation is cosmetic; the session stays usable.
		s.logger.Debug("Could not apply locale emulation.", zap.Error(err))
	}
	return nil
}

// browserExecutor returns a context that sends commands to the browser
// target rather than a page.
func (m *Manager) browserExecutor() context.Context {
	c := chromedp.FromContext(m.browserCtx)
	return cdp.WithExecutor(m.browserCtx, c.Browser)
}

func (m *Manager) disposeBrowserContext(id cdp.BrowserContextID) {
	if m.browserCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.browserExecutor(), disposeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(ctx); err != nil {
		m.logger.Debug("Failed to dispose browser context.", zap.String("browser_context", string(id)), zap.Error(err))
	}
}

// release is called exactly once per session by Session.Close.
func (m *Manager) release(s *Session) {
	m.disposeBrowserContext(s.browserContextID)
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	<-m.slots
	m.wg.Done()
}

// ActiveSessions returns the number of open sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes open sessions and terminates the browser. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser.", zap.Int("open_sessions", len(open)))
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			m.logger.Debug("Session close during shutdown failed.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	m.browserCancel()
	m.allocCancel()
	return nil
}
