package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Session is one isolated browser context with a single page.
type Session struct {
	id               string
	ctx              context.Context
	cancel           context.CancelFunc
	browserContextID cdp.BrowserContextID
	logger           *zap.Logger
	observer         *Observer
	release          func(*Session)

	mu     sync.Mutex
	closed bool
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Context returns the chromedp context of the session's page.
func (s *Session) Context() context.Context { return s.ctx }

// Observer returns the network and console recorder of the page.
func (s *Session) Observer() *Observer { return s.observer }

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger { return s.logger }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Run executes actions on the page, bounded by ctx. Errors are classified
// with ClassifyError.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return ClassifyError(chromedp.Run(runCtx, actions...), s.ctx)
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// Evaluate runs a JavaScript expression, awaiting promises, and decodes the
// result into out.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	return s.Run(ctx, chromedp.Evaluate(expr, out, awaitPromise))
}

// Navigate loads url and waits for the load event, at most timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.observer.Reset()
	return s.withNavigationTimeout(ctx, timeout, url, chromedp.Navigate(url))
}

// Reload reloads the current page, at most timeout.
func (s *Session) Reload(ctx context.Context, timeout time.Duration) error {
	s.observer.Reset()
	return s.withNavigationTimeout(ctx, timeout, "reload", chromedp.Reload())
}

func (s *Session) withNavigationTimeout(ctx context.Context, timeout time.Duration, what string, action chromedp.Action) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.Run(navCtx, action)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s did not load within %s", ErrNavigationTimeout, what, timeout)
	}
	return err
}

// Settle waits for the network to be quiet, giving up silently after limit.
func (s *Session) Settle(ctx context.Context, quiet, limit time.Duration) error {
	idleCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	err := s.observer.WaitNetworkIdle(idleCtx, quiet)
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("Network did not become idle; continuing.", zap.Int("inflight", s.observer.Inflight()))
		return nil
	}
	return err
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the page and disposes of its browser context. It is
// idempotent and safe after the browser died.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.ctx.Err() == nil {
		closeCtx, cancel := CombineContext(Detach(s.ctx), ctx)
		if err := chromedp.Cancel(closeCtx); err != nil {
			s.logger.Debug("Graceful page close failed.", zap.Error(err))
		}
		cancel()
	}
	s.cancel()
	if s.release != nil {
		s.release(s)
	}
	s.logger.Debug("Session closed.")
	return nil
}
