package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
	"github.com/xkilldash9x/consentscope/internal/consent"
)

// BrowserCrawler performs the main crawl in a session of its own, so the
// observation is the state a first-time visitor sees.
type BrowserCrawler struct {
	Sessions consent.SessionSource
	Load     browser.LoadOptions
	Logger   *zap.Logger
}

// Crawl implements Crawler.
func (c BrowserCrawler) Crawl(ctx context.Context, url string) (*schemas.CrawlResult, error) {
	s, err := c.Sessions.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), 5*time.Second)
		defer cancel()
		if err := s.Close(closeCtx); err != nil && c.Logger != nil {
			c.Logger.Debug("Closing crawl session failed.", zap.Error(err))
		}
	}()
	return s.Load(ctx, url, c.Load)
}
