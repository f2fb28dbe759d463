// Package signals extracts tracking, consent and technology signals from a crawled page.
package signals

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Source is the part of a crawl a Pattern is matched against.
type Source int

const (
	// SourceHTML matches the rendered document plus shadow/iframe fragments.
	SourceHTML Source = iota
	// SourceInitialHTML matches the raw top-level document body.
	SourceInitialHTML
	// SourceScriptURL matches script src attributes and script requests.
	SourceScriptURL
	// SourceInline matches inline script bodies.
	SourceInline
	// SourceRequest matches every captured request URL.
	SourceRequest
	// SourceGlobal checks a probed window global by name.
	SourceGlobal
	// SourceCookie matches cookie names.
	SourceCookie
	// SourceSetCookie matches raw Set-Cookie header values.
	SourceSetCookie
	// SourceHeader matches response header names and values as "name: value".
	SourceHeader
)

var sourceNames = map[Source]string{
	SourceHTML:        "html",
	SourceInitialHTML: "initial_html",
	SourceScriptURL:   "script",
	SourceInline:      "inline",
	SourceRequest:     "network",
	SourceGlobal:      "global",
	SourceCookie:      "cookie",
	SourceSetCookie:   "set_cookie",
	SourceHeader:      "header",
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return "unknown"
}

// Pattern is one declarative detection rule.
type Pattern struct {
	Source Source
	Expr   *regexp.Regexp
	Global string
}

// Rule groups the patterns that all indicate the same signal.
type Rule struct {
	ID       string
	Patterns []Pattern
}

// Match is one hit of a pattern.
type Match struct {
	Rule     string
	Source   Source
	Evidence string
	// Groups holds the capture groups of a regexp hit, without the full match.
	Groups []string
}

// HTML returns a pattern matched against the rendered markup.
func HTML(expr string) Pattern {
	return Pattern{Source: SourceHTML, Expr: regexp.MustCompile(expr)}
}

// InitialHTML returns a pattern matched against the unrendered document body.
func InitialHTML(expr string) Pattern {
	return Pattern{Source: SourceInitialHTML, Expr: regexp.MustCompile(expr)}
}

// ScriptURL returns a pattern matched against script URLs.
func ScriptURL(expr string) Pattern {
	return Pattern{Source: SourceScriptURL, Expr: regexp.MustCompile(expr)}
}

// Inline returns a pattern matched against inline script bodies.
func Inline(expr string) Pattern {
	return Pattern{Source: SourceInline, Expr: regexp.MustCompile(expr)}
}

// Request returns a pattern matched against request URLs.
func Request(expr string) Pattern {
	return Pattern{Source: SourceRequest, Expr: regexp.MustCompile(expr)}
}

// Global returns a pattern satisfied when the named window global exists.
func Global(name string) Pattern {
	return Pattern{Source: SourceGlobal, Global: name}
}

// CookieName returns a pattern matched against cookie names.
func CookieName(expr string) Pattern {
	return Pattern{Source: SourceCookie, Expr: regexp.MustCompile(expr)}
}

// SetCookie returns a pattern matched against raw Set-Cookie headers.
func SetCookie(expr string) Pattern {
	return Pattern{Source: SourceSetCookie, Expr: regexp.MustCompile(expr)}
}

// Header returns a pattern matched against "name: value" response header lines.
func Header(expr string) Pattern {
	return Pattern{Source: SourceHeader, Expr: regexp.MustCompile(expr)}
}

const maxEvidence = 160

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxEvidence {
		return s
	}
	cut := maxEvidence
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Find returns up to limit hits of p in the crawl. A limit <= 0 means unbounded.
func (p Pattern) Find(c *schemas.CrawlResult, limit int) []Match {
	var out []Match
	full := func() bool { return limit > 0 && len(out) >= limit }

	if p.Source == SourceGlobal {
		if c.Globals.Has(p.Global) {
			out = append(out, Match{Source: p.Source, Evidence: "window." + p.Global})
		}
		return out
	}
	if p.Expr == nil {
		return nil
	}

	scan := func(text string) {
		if text == "" || full() {
			return
		}
		n := -1
		if limit > 0 {
			n = limit - len(out)
		}
		for _, sm := range p.Expr.FindAllStringSubmatch(text, n) {
			out = append(out, Match{Source: p.Source, Evidence: clip(sm[0]), Groups: sm[1:]})
		}
	}

	switch p.Source {
	case SourceHTML:
		scan(c.HTML)
		for _, f := range c.Fragments {
			scan(f)
		}
	case SourceInitialHTML:
		scan(c.InitialHTML)
	case SourceScriptURL:
		seen := map[string]bool{}
		for _, s := range c.Scripts {
			if s.Src != "" && !seen[s.Src] {
				seen[s.Src] = true
				scan(s.Src)
			}
		}
		for _, r := range c.Requests {
			if strings.EqualFold(r.ResourceType, "script") && !seen[r.URL] {
				seen[r.URL] = true
				scan(r.URL)
			}
		}
	case SourceInline:
		for _, s := range c.Scripts {
			scan(s.Inline)
		}
	case SourceRequest:
		for _, r := range c.Requests {
			scan(r.URL)
		}
	case SourceCookie:
		for _, ck := range c.Cookies {
			scan(ck.Name)
		}
	case SourceSetCookie:
		for _, h := range c.SetCookieHeaders {
			scan(h.Value)
		}
	case SourceHeader:
		for k, v := range c.DocumentHeaders {
			scan(strings.ToLower(k) + ": " + v)
		}
		for _, r := range c.Requests {
			for k, v := range r.ResponseHeaders {
				scan(strings.ToLower(k) + ": " + v)
			}
		}
	}
	return out
}

// MatchRule evaluates every pattern of a rule, returning at most limit hits per pattern.
func MatchRule(c *schemas.CrawlResult, rule Rule, limit int) []Match {
	var out []Match
	for _, p := range rule.Patterns {
		for _, m := range p.Find(c, limit) {
			m.Rule = rule.ID
			out = append(out, m)
		}
	}
	return out
}

// Evaluate runs a rule table against a crawl. Rules without hits are absent from the result.
func Evaluate(c *schemas.CrawlResult, rules []Rule, limit int) map[string][]Match {
	out := make(map[string][]Match)
	for _, rule := range rules {
		if hits := MatchRule(c, rule, limit); len(hits) > 0 {
			out[rule.ID] = hits
		}
	}
	return out
}

// FirstRule returns the ID of the first rule in table order with a hit.
func FirstRule(c *schemas.CrawlResult, rules []Rule) (string, []Match, bool) {
	for _, rule := range rules {
		if hits := MatchRule(c, rule, 1); len(hits) > 0 {
			return rule.ID, hits, true
		}
	}
	return "", nil, false
}

// Sources lists the distinct sources of a set of matches in first-seen order.
func Sources(matches []Match) []string {
	var out []string
	seen := map[Source]bool{}
	for _, m := range matches {
		if !seen[m.Source] {
			seen[m.Source] = true
			out = append(out, m.Source.String())
		}
	}
	return out
}
