package schemas

import (
	"strings"
	"time"
)

// -- Cookie Schemas --

// Cookie is a raw cookie as reported by one of the collection channels.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	// Expires is zero for session cookies.
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"httpOnly"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"sameSite,omitempty"`
	// Source names the channel that reported the cookie: "protocol", "page", "document".
	Source string `json:"source,omitempty"`
}

// CookieKey is the (name, domain, path) identity used to compare snapshots.
type CookieKey struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Key returns the normalized identity of the cookie.
func (c Cookie) Key() CookieKey {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return CookieKey{
		Name:   c.Name,
		Domain: strings.TrimPrefix(strings.ToLower(c.Domain), "."),
		Path:   path,
	}
}

// IsSession reports whether the cookie has no explicit expiry.
func (c Cookie) IsSession() bool {
	return c.Expires.IsZero()
}

// CookieSet is an unordered snapshot of cookies taken at one point in time.
type CookieSet []Cookie

// Contains reports whether a cookie with the given identity is in the set.
func (s CookieSet) Contains(k CookieKey) bool {
	for _, c := range s {
		if c.Key() == k {
			return true
		}
	}
	return false
}

// CookieCategory is the semantic purpose of a cookie.
type CookieCategory string

const (
	CategoryNecessary  CookieCategory = "necessary"
	CategoryFunctional CookieCategory = "functional"
	CategoryAnalytics  CookieCategory = "analytics"
	CategoryMarketing  CookieCategory = "marketing"
	CategoryUnknown    CookieCategory = "unknown"
)

// IsTracking reports whether the category requires prior consent.
func (c CookieCategory) IsTracking() bool {
	return c == CategoryAnalytics || c == CategoryMarketing
}

// AnalyzedCookie is a raw cookie plus derived attributes.
type AnalyzedCookie struct {
	Cookie
	Category         CookieCategory `json:"category"`
	Service          string         `json:"service,omitempty"`
	LifetimeDays     int            `json:"lifetimeDays"`
	IsLongLived      bool           `json:"isLongLived"`
	IsThirdParty     bool           `json:"isThirdParty"`
	IsSession        bool           `json:"isSession"`
	SetBeforeConsent bool           `json:"setBeforeConsent"`
}

// CookieSummary aggregates analyzed cookies.
type CookieSummary struct {
	Total        int                    `json:"total"`
	ByCategory   map[CookieCategory]int `json:"byCategory"`
	ThirdParty   int                    `json:"thirdParty"`
	LongLived    int                    `json:"longLived"`
	PreConsent   []string               `json:"preConsentTracking,omitempty"`
	UnknownNames []string               `json:"unknown,omitempty"`
}
