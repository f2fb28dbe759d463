package consent

import (
	"context"
	"time"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
)

// SessionSource hands out isolated browser sessions. *browser.Manager
// satisfies it.
type SessionSource interface {
	NewSession(ctx context.Context) (*browser.Session, error)
}

var _ SessionSource = (*browser.Manager)(nil)

// SessionOpener opens every experiment arm in a new browser context.
type SessionOpener struct {
	Sessions    SessionSource
	Load        browser.LoadOptions
	IdleTimeout time.Duration
}

// Open implements Opener.
func (o SessionOpener) Open(ctx context.Context) (Page, error) {
	s, err := o.Sessions.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionPage{Driver: NewDriver(s), session: s, load: o.Load, idle: o.IdleTimeout}, nil
}

type sessionPage struct {
	Driver
	session *browser.Session
	load    browser.LoadOptions
	idle    time.Duration
}

func (p *sessionPage) Load(ctx context.Context, url string) error {
	if err := p.session.Navigate(ctx, url, p.load.NavigationTimeout); err != nil {
		return err
	}
	return p.session.WaitForTracking(ctx, p.load)
}

func (p *sessionPage) Reload(ctx context.Context) error {
	if err := p.session.Reload(ctx, p.load.NavigationTimeout); err != nil {
		return err
	}
	return p.session.WaitForTracking(ctx, p.load)
}

func (p *sessionPage) Settle(ctx context.Context) error {
	return p.session.Settle(ctx, p.load.NetworkIdleQuiet, p.idle)
}

func (p *sessionPage) Cookies(ctx context.Context) (schemas.CookieSet, error) {
	return p.session.Cookies(ctx)
}

func (p *sessionPage) Close(ctx context.Context) error {
	return p.session.Close(ctx)
}
