package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// maxConsoleEntries caps console capture on chatty pages.
const maxConsoleEntries = 500

// Observer records the network traffic, Set-Cookie headers and console output
// of one page. It is attached to a session for its whole lifetime and reset at
// the start of every navigation.
type Observer struct {
	logger *zap.Logger

	mu         sync.RWMutex
	requests   []schemas.NetworkRequest
	index      map[network.RequestID]int
	inflight   map[network.RequestID]bool
	setCookies []schemas.SetCookieHeader
	console    []schemas.ConsoleMessage
	documentID network.RequestID
	docHeaders map[string]string
}

// NewObserver returns an empty observer.
func NewObserver(logger *zap.Logger) *Observer {
	o := &Observer{logger: observability.Component(logger, observability.ComponentObserver)}
	o.Reset()
	return o
}

// Attach subscribes to the CDP events of the target in sessionCtx and enables
// the domains the observer depends on.
func (o *Observer) Attach(sessionCtx context.Context) error {
	chromedp.ListenTarget(sessionCtx, o.handle)
	return chromedp.Run(sessionCtx,
		network.Enable(),
		runtime.Enable(),
		log.Enable(),
	)
}

// Reset drops everything recorded so far.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = nil
	o.index = make(map[network.RequestID]int)
	o.inflight = make(map[network.RequestID]bool)
	o.setCookies = nil
	o.console = nil
	o.documentID = ""
	o.docHeaders = nil
}

func (o *Observer) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		o.onRequest(e)
	case *network.EventResponseReceived:
		o.onResponse(e)
	case *network.EventResponseReceivedExtraInfo:
		o.onResponseExtra(e)
	case *network.EventLoadingFinished:
		o.finish(e.RequestID, false)
	case *network.EventLoadingFailed:
		o.finish(e.RequestID, true)
	case *runtime.EventConsoleAPICalled:
		o.onConsoleAPI(e)
	case *log.EventEntryAdded:
		ts := time.Now()
		if e.Entry.Timestamp != nil {
			ts = e.Entry.Timestamp.Time()
		}
		o.addConsole(string(e.Entry.Level), e.Entry.Text, ts)
	}
}

func (o *Observer) onRequest(ev *network.EventRequestWillBeSent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ts := time.Now()
	if ev.WallTime != nil {
		ts = ev.WallTime.Time()
	}
	req := schemas.NetworkRequest{
		URL:          ev.Request.URL,
		Method:       ev.Request.Method,
		ResourceType: ev.Type.String(),
		Timestamp:    ts,
	}
	// Redirects reuse the request ID; each hop is a distinct request.
	o.index[ev.RequestID] = len(o.requests)
	o.requests = append(o.requests, req)
	o.inflight[ev.RequestID] = true

	if ev.Type == network.ResourceTypeDocument && (o.documentID == "" || o.documentID == ev.RequestID) {
		o.documentID = ev.RequestID
	}
}

func (o *Observer) onResponse(ev *network.EventResponseReceived) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i, ok := o.index[ev.RequestID]
	if !ok || ev.Response == nil {
		return
	}
	o.requests[i].Status = int(ev.Response.Status)
	o.requests[i].ResponseHeaders = flattenHeaders(ev.Response.Headers)
	if ev.RequestID == o.documentID {
		o.docHeaders = o.requests[i].ResponseHeaders
	}
}

// onResponseExtra sees the raw headers, including Set-Cookie for HttpOnly
// cookies that page scripts can never read.
func (o *Observer) onResponseExtra(ev *network.EventResponseReceivedExtraInfo) {
	raw, ok := headerValue(ev.Headers, "set-cookie")
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	reqURL := ""
	if i, ok := o.index[ev.RequestID]; ok {
		reqURL = o.requests[i].URL
	}
	// Multiple Set-Cookie headers arrive newline-joined.
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			o.setCookies = append(o.setCookies, schemas.SetCookieHeader{URL: reqURL, Value: line})
		}
	}
}

func (o *Observer) finish(id network.RequestID, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
	if failed {
		if i, ok := o.index[id]; ok {
			o.requests[i].Failed = true
		}
	}
}

func (o *Observer) onConsoleAPI(ev *runtime.EventConsoleAPICalled) {
	var parts []string
	for _, arg := range ev.Args {
		switch {
		case arg.Value != nil:
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	ts := time.Now()
	if ev.Timestamp != nil {
		ts = ev.Timestamp.Time()
	}
	o.addConsole(ev.Type.String(), strings.Join(parts, " "), ts)
}

func (o *Observer) addConsole(level, text string, ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.console) >= maxConsoleEntries {
		return
	}
	o.console = append(o.console, schemas.ConsoleMessage{Level: level, Text: text, Timestamp: ts})
}

// Inflight returns the number of requests still waiting for completion.
func (o *Observer) Inflight() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.inflight)
}

// WaitNetworkIdle blocks until no request has been in flight for quiet.
func (o *Observer) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		if o.Inflight() > 0 {
			idleSince = time.Time{}
		} else if idleSince.IsZero() {
			idleSince = time.Now()
		} else if time.Since(idleSince) >= quiet {
			o.logger.Debug("Network is idle.", zap.Duration("quiet", quiet))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Capture is a copy of what the observer recorded.
type Capture struct {
	Requests        []schemas.NetworkRequest
	SetCookies      []schemas.SetCookieHeader
	Console         []schemas.ConsoleMessage
	DocumentID      network.RequestID
	DocumentHeaders map[string]string
}

// Snapshot copies the current recording.
func (o *Observer) Snapshot() Capture {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Capture{
		Requests:        append([]schemas.NetworkRequest(nil), o.requests...),
		SetCookies:      append([]schemas.SetCookieHeader(nil), o.setCookies...),
		Console:         append([]schemas.ConsoleMessage(nil), o.console...),
		DocumentID:      o.documentID,
		DocumentHeaders: o.docHeaders,
	}
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[strings.ToLower(k)] = s
		}
	}
	return out
}

func headerValue(h network.Headers, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}
