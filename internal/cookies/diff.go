package cookies

import (
	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Diff is the identity-level difference between two snapshots.
type Diff struct {
	Added         []schemas.CookieKey
	Removed       []schemas.CookieKey
	AddedCookies  []schemas.Cookie
	AddedCategory map[schemas.CookieCategory]int
}

// Compare reports which cookies of after are new relative to before, and which vanished.
func Compare(before, after schemas.CookieSet) Diff {
	d := Diff{AddedCategory: map[schemas.CookieCategory]int{}}
	inBefore := make(map[schemas.CookieKey]bool, len(before))
	for _, c := range before {
		inBefore[c.Key()] = true
	}
	inAfter := make(map[schemas.CookieKey]bool, len(after))
	for _, c := range after {
		k := c.Key()
		inAfter[k] = true
		if inBefore[k] {
			continue
		}
		d.Added = append(d.Added, k)
		d.AddedCookies = append(d.AddedCookies, c)
		cat, _ := Categorize(c.Name, c.Domain)
		d.AddedCategory[cat]++
	}
	for _, c := range before {
		if k := c.Key(); !inAfter[k] {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}

// AddedTracking reports whether the diff introduced analytics or marketing cookies.
func (d Diff) AddedTracking() bool {
	return d.AddedCategory[schemas.CategoryAnalytics] > 0 || d.AddedCategory[schemas.CategoryMarketing] > 0
}

// Union returns after extended by every cookie of before it lacks, so that the
// result is a superset of before.
func Union(before, after schemas.CookieSet) schemas.CookieSet {
	out := append(schemas.CookieSet(nil), after...)
	have := make(map[schemas.CookieKey]bool, len(after))
	for _, c := range after {
		have[c.Key()] = true
	}
	for _, c := range before {
		if !have[c.Key()] {
			out = append(out, c)
			have[c.Key()] = true
		}
	}
	return out
}
