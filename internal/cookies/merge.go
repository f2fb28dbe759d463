package cookies

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// channelRank orders collection channels by how much they know about a cookie.
var channelRank = map[string]int{
	"protocol": 0,
	"page":     1,
	"document": 2,
}

func rank(source string) int {
	if r, ok := channelRank[source]; ok {
		return r
	}
	return len(channelRank)
}

// Merge unions cookie snapshots from several channels by (name, domain, path).
// When two channels report the same identity the richer channel wins. A cookie
// parsed from document.cookie carries no domain of its own and is dropped when
// a richer channel already reports the same name for a domain covering it.
func Merge(sets ...[]schemas.Cookie) schemas.CookieSet {
	byKey := map[schemas.CookieKey]schemas.Cookie{}
	var order []schemas.CookieKey
	var docOnly []schemas.Cookie

	for _, set := range sets {
		for _, c := range set {
			if c.Source == "document" {
				docOnly = append(docOnly, c)
				continue
			}
			k := c.Key()
			prev, ok := byKey[k]
			if !ok {
				order = append(order, k)
				byKey[k] = c
				continue
			}
			if rank(c.Source) < rank(prev.Source) {
				byKey[k] = c
			}
		}
	}

	for _, c := range docOnly {
		covered := false
		for k := range byKey {
			if k.Name == c.Name && hostCovered(c.Domain, k.Domain) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		k := c.Key()
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
			byKey[k] = c
		}
	}

	out := make(schemas.CookieSet, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := out[i].Key(), out[j].Key()
		if ki.Domain != kj.Domain {
			return ki.Domain < kj.Domain
		}
		if ki.Name != kj.Name {
			return ki.Name < kj.Name
		}
		return ki.Path < kj.Path
	})
	return out
}

func hostCovered(host, cookieDomain string) bool {
	host = strings.ToLower(host)
	cookieDomain = strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	return host == cookieDomain || strings.HasSuffix(host, "."+cookieDomain)
}

// FromDocumentCookie parses a document.cookie string. Attributes are not
// visible through that API, so every entry is attributed to host with path "/".
func FromDocumentCookie(raw, host string) []schemas.Cookie {
	var out []schemas.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, schemas.Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: strings.ToLower(host),
			Path:   "/",
			Source: "document",
		})
	}
	return out
}
