package cookies

import (
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// LongLivedDays is the lifetime above which a cookie is flagged as long-lived.
const LongLivedDays = 400

// RegistrableDomain returns the eTLD+1 of a host. IP addresses, localhost and
// bare public suffixes are returned unchanged.
func RegistrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), ".")
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// HostOf extracts the lowercased hostname from a URL string.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsThirdParty reports whether cookieDomain belongs to a different site than siteHost.
func IsThirdParty(cookieDomain, siteHost string) bool {
	if cookieDomain == "" || siteHost == "" {
		return false
	}
	return RegistrableDomain(cookieDomain) != RegistrableDomain(siteHost)
}

// Options tune a single Analyze call.
type Options struct {
	// SiteURL is the page the cookies were collected from.
	SiteURL string
	// ObservedAt anchors lifetime computation.
	ObservedAt time.Time
	// PreConsent, when non-nil, marks cookies present before any consent interaction.
	PreConsent schemas.CookieSet
}

// Analyze derives per-cookie attributes. The input slice is never modified.
func Analyze(raw []schemas.Cookie, opts Options) []schemas.AnalyzedCookie {
	siteHost := HostOf(opts.SiteURL)
	observed := opts.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}

	var pre map[schemas.CookieKey]bool
	if opts.PreConsent != nil {
		pre = make(map[schemas.CookieKey]bool, len(opts.PreConsent))
		for _, c := range opts.PreConsent {
			pre[c.Key()] = true
		}
	}

	out := make([]schemas.AnalyzedCookie, 0, len(raw))
	for _, c := range raw {
		category, service := Categorize(c.Name, c.Domain)
		a := schemas.AnalyzedCookie{
			Cookie:       c,
			Category:     category,
			Service:      service,
			IsSession:    c.IsSession(),
			IsThirdParty: IsThirdParty(c.Domain, siteHost),
		}
		if !a.IsSession {
			a.LifetimeDays = lifetimeDays(c.Expires, observed)
			a.IsLongLived = a.LifetimeDays > LongLivedDays
		}
		if pre == nil {
			a.SetBeforeConsent = true
		} else {
			a.SetBeforeConsent = pre[c.Key()]
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return categoryOrder[out[i].Category] < categoryOrder[out[j].Category]
		}
		return out[i].Name < out[j].Name
	})
	return out
}

var categoryOrder = map[schemas.CookieCategory]int{
	schemas.CategoryMarketing:  0,
	schemas.CategoryAnalytics:  1,
	schemas.CategoryUnknown:    2,
	schemas.CategoryFunctional: 3,
	schemas.CategoryNecessary:  4,
}

func lifetimeDays(expires, observed time.Time) int {
	d := expires.Sub(observed).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(math.Round(d))
}

// Summarize aggregates analyzed cookies.
func Summarize(analyzed []schemas.AnalyzedCookie) schemas.CookieSummary {
	s := schemas.CookieSummary{
		Total:      len(analyzed),
		ByCategory: map[schemas.CookieCategory]int{},
	}
	for _, c := range analyzed {
		s.ByCategory[c.Category]++
		if c.IsThirdParty {
			s.ThirdParty++
		}
		if c.IsLongLived {
			s.LongLived++
		}
		if c.SetBeforeConsent && c.Category.IsTracking() {
			s.PreConsent = append(s.PreConsent, c.Name)
		}
		if c.Category == schemas.CategoryUnknown {
			s.UnknownNames = append(s.UnknownNames, c.Name)
		}
	}
	return s
}

// CountTracking returns the number of analytics and marketing cookies in a raw set.
func CountTracking(set []schemas.Cookie) int {
	n := 0
	for _, c := range set {
		if cat, _ := Categorize(c.Name, c.Domain); cat.IsTracking() {
			n++
		}
	}
	return n
}
