package browser

import (
	"context"
	"math"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/cookies"
)

const documentCookieJS = `({url: location.href, cookie: document.cookie || ''})`

// Cookies reads the cookie jar through all three channels and merges them by
// identity: the protocol jar of the browser context (includes HttpOnly), the
// page-scoped cookie API and document.cookie.
func (s *Session) Cookies(ctx context.Context) (schemas.CookieSet, error) {
	var doc struct {
		URL    string `json:"url"`
		Cookie string `json:"cookie"`
	}
	if err := s.Evaluate(ctx, documentCookieJS, &doc); err != nil {
		return nil, err
	}
	return s.collectCookies(ctx, doc.Cookie, doc.URL)
}

func (s *Session) collectCookies(ctx context.Context, documentCookie, pageURL string) (schemas.CookieSet, error) {
	var jar, page []*network.Cookie
	err := s.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		jar, err = storage.GetCookies().WithBrowserContextID(s.browserContextID).Do(c)
		if err != nil {
			s.logger.Debug("Protocol cookie jar unavailable.", zap.Error(err))
			jar = nil
		}
		page, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return cookies.Merge(
		convertCookies(jar, "protocol"),
		convertCookies(page, "page"),
		cookies.FromDocumentCookie(documentCookie, cookies.HostOf(pageURL)),
	), nil
}

func convertCookies(in []*network.Cookie, source string) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  cookieExpiry(c),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
			Source:   source,
		})
	}
	return out
}

// cookieExpiry converts the protocol's epoch seconds; session cookies get the
// zero time.
func cookieExpiry(c *network.Cookie) time.Time {
	if c.Session || c.Expires <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(c.Expires)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
