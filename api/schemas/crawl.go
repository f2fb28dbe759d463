package schemas

import (
	"strings"
	"time"
)

// -- Crawl Schemas --

// NetworkRequest is one request observed while a page was loading.
type NetworkRequest struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	ResourceType    string            `json:"resourceType"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          int               `json:"status,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Failed          bool              `json:"failed,omitempty"`
}

// SetCookieHeader is a raw Set-Cookie header captured from a response.
type SetCookieHeader struct {
	URL   string `json:"url"`
	Value string `json:"value"`
}

// ScriptSource describes one script element present in the rendered document.
type ScriptSource struct {
	Src    string `json:"src,omitempty"`
	Type   string `json:"type,omitempty"`
	Inline string `json:"inline,omitempty"`
}

// ConsoleMessage is a single console or log entry emitted by the page.
type ConsoleMessage struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TCData is the subset of a __tcfapi getTCData response kept for analysis.
type TCData struct {
	TCString    string `json:"tcString"`
	GDPRApplies *bool  `json:"gdprApplies,omitempty"`
	CMPID       int    `json:"cmpId,omitempty"`
	EventStatus string `json:"eventStatus,omitempty"`
}

// TrackingGlobals is a probe of tracking-relevant objects on window.
type TrackingGlobals struct {
	// Present maps a global name (e.g. "fbq", "__tcfapi") to whether it was defined.
	Present map[string]bool `json:"present"`
	// DataLayer holds the JSON-safe content of window.dataLayer.
	DataLayer []map[string]any `json:"dataLayer,omitempty"`
	TCData    *TCData          `json:"tcData,omitempty"`
}

// Has reports whether the named global was observed.
func (g TrackingGlobals) Has(name string) bool {
	return g.Present[name]
}

// Any reports whether at least one of the named globals was observed.
func (g TrackingGlobals) Any(names ...string) bool {
	for _, n := range names {
		if g.Present[n] {
			return true
		}
	}
	return false
}

// CrawlResult is the immutable snapshot of one page load.
type CrawlResult struct {
	URL      string    `json:"url"`
	FinalURL string    `json:"finalUrl"`
	LoadedAt time.Time `json:"loadedAt"`

	HTML string `json:"html"`
	// Fragments are the serialized contents of open shadow roots and same-origin
	// iframes, which never appear in the document's outer HTML.
	Fragments []string `json:"fragments,omitempty"`
	// InitialHTML is the body of the top-level document response, before any scripts ran.
	InitialHTML string `json:"initialHtml,omitempty"`
	// DocumentHeaders are the response headers of the top-level document.
	DocumentHeaders map[string]string `json:"documentHeaders,omitempty"`

	Scripts          []ScriptSource    `json:"scripts"`
	Requests         []NetworkRequest  `json:"requests"`
	Cookies          []Cookie          `json:"cookies"`
	SetCookieHeaders []SetCookieHeader `json:"setCookieHeaders,omitempty"`
	Globals          TrackingGlobals   `json:"globals"`
	Console          []ConsoleMessage  `json:"console,omitempty"`
}

// SiteURL returns the final URL when known, otherwise the requested URL.
func (c *CrawlResult) SiteURL() string {
	if c.FinalURL != "" {
		return c.FinalURL
	}
	return c.URL
}

// Header looks up a document response header case-insensitively.
func (c *CrawlResult) Header(name string) string {
	for k, v := range c.DocumentHeaders {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
