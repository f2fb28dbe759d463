package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/config"
)

const (
	tcDataTimeout = 1500 * time.Millisecond
	probeTimeout  = 10 * time.Second
)

// LoadOptions controls how long the observer waits for a page to settle.
type LoadOptions struct {
	NavigationTimeout    time.Duration
	NetworkIdleQuiet     time.Duration
	GracePeriod          time.Duration
	TrackingPollTimeout  time.Duration
	TrackingPollInterval time.Duration
	CaptureDocumentBody  bool
	// FrameDepth bounds the shadow-root and iframe walk.
	FrameDepth int
	// Globals are the window globals whose presence is probed.
	Globals []string
}

// LoadOptionsFromConfig builds LoadOptions from the crawl section.
func LoadOptionsFromConfig(c config.CrawlConfig, frameDepth int, globals []string) LoadOptions {
	return LoadOptions{
		NavigationTimeout:    c.NavigationTimeout,
		NetworkIdleQuiet:     c.NetworkIdleQuiet,
		GracePeriod:          c.GracePeriod,
		TrackingPollTimeout:  c.TrackingPollTimeout,
		TrackingPollInterval: c.TrackingPollInterval,
		CaptureDocumentBody:  c.CaptureDocumentBody,
		FrameDepth:           frameDepth,
		Globals:              globals,
	}
}

// Load navigates to url, waits for the page to settle and returns the
// observed state. A page that never loads yields ErrNavigationTimeout; a page
// destroyed mid-load yields ErrSessionClosed.
func (s *Session) Load(ctx context.Context, url string, opts LoadOptions) (*schemas.CrawlResult, error) {
	loadedAt := time.Now()
	if err := s.Navigate(ctx, url, opts.NavigationTimeout); err != nil {
		return nil, err
	}
	if err := s.WaitForTracking(ctx, opts); err != nil {
		return nil, err
	}
	c, err := s.Capture(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	c.LoadedAt = loadedAt
	return c, nil
}

// WaitForTracking lets asynchronously injected tags initialize: network idle,
// a fixed grace period, then polling until the watched globals stop changing.
func (s *Session) WaitForTracking(ctx context.Context, opts LoadOptions) error {
	if err := s.Settle(ctx, opts.NetworkIdleQuiet, opts.NavigationTimeout); err != nil {
		return err
	}
	if err := Sleep(ctx, opts.GracePeriod); err != nil {
		return err
	}
	_, err := s.pollGlobals(ctx, opts)
	return err
}

func (s *Session) pollGlobals(ctx context.Context, opts LoadOptions) (globalsProbe, error) {
	script := buildGlobalsProbe(opts.Globals)
	deadline := time.Now().Add(opts.TrackingPollTimeout)
	interval := opts.TrackingPollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	var prev map[string]bool
	var last globalsProbe
	polls := 0
	for {
		var cur globalsProbe
		if err := s.Evaluate(ctx, script, &cur); err != nil {
			return last, err
		}
		polls++
		last = cur
		if trackingSettled(prev, cur.Present) || !time.Now().Before(deadline) {
			s.logger.Debug("Tracking globals polled.", zap.Int("polls", polls), zap.Int("present", presentCount(cur.Present)))
			return last, nil
		}
		prev = cur.Present
		if err := Sleep(ctx, interval); err != nil {
			return last, err
		}
	}
}

// Capture records the current page state without navigating.
func (s *Session) Capture(ctx context.Context, requestedURL string, opts LoadOptions) (*schemas.CrawlResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var doc documentProbe
	if err := s.Evaluate(probeCtx, buildDocumentProbe(opts.FrameDepth), &doc); err != nil {
		return nil, fmt.Errorf("capture document: %w", err)
	}
	var globals globalsProbe
	if err := s.Evaluate(probeCtx, buildGlobalsProbe(opts.Globals), &globals); err != nil {
		return nil, fmt.Errorf("probe globals: %w", err)
	}
	var tc tcDataProbe
	if err := s.Evaluate(probeCtx, buildTCDataProbe(int(tcDataTimeout/time.Millisecond)), &tc); err != nil {
		// A misbehaving CMP API must not fail the crawl.
		s.logger.Debug("TCF data probe failed.", zap.Error(err))
	}
	set, err := s.collectCookies(probeCtx, doc.DocumentCookie, doc.URL)
	if err != nil {
		return nil, fmt.Errorf("collect cookies: %w", err)
	}

	capture := s.observer.Snapshot()
	c := &schemas.CrawlResult{
		URL:              requestedURL,
		FinalURL:         doc.URL,
		LoadedAt:         time.Now(),
		HTML:             doc.HTML,
		Fragments:        doc.Fragments,
		DocumentHeaders:  capture.DocumentHeaders,
		Scripts:          doc.Scripts,
		Requests:         capture.Requests,
		Cookies:          set,
		SetCookieHeaders: capture.SetCookies,
		Console:          capture.Console,
		Globals: schemas.TrackingGlobals{
			Present:   globals.Present,
			DataLayer: globals.DataLayer,
			TCData:    tc.toTCData(),
		},
	}
	if c.Globals.Present == nil {
		c.Globals.Present = map[string]bool{}
	}
	if opts.CaptureDocumentBody && capture.DocumentID != "" {
		c.InitialHTML = s.documentBody(probeCtx, capture.DocumentID)
	}
	return c, nil
}

// documentBody returns the raw response of the top-level document. Chrome
// evicts bodies under memory pressure, so a miss is not an error.
func (s *Session) documentBody(ctx context.Context, id network.RequestID) string {
	var body []byte
	err := s.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(c)
		return err
	}))
	if err != nil {
		s.logger.Debug("Document body unavailable.", zap.Error(err))
		return ""
	}
	return string(body)
}
