package cookies

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name, domain string
		category     schemas.CookieCategory
		service      string
	}{
		{"_ga", ".example.de", schemas.CategoryAnalytics, "Google Analytics"},
		{"_ga_ABC123XYZ", ".example.de", schemas.CategoryAnalytics, "Google Analytics"},
		{"_gid", "example.de", schemas.CategoryAnalytics, "Google Analytics"},
		{"_fbp", ".example.de", schemas.CategoryMarketing, "Meta Pixel"},
		{"_gcl_au", ".example.de", schemas.CategoryMarketing, "Google Ads"},
		{"IDE", ".doubleclick.net", schemas.CategoryMarketing, "Google DoubleClick"},
		{"IDE", ".example.de", schemas.CategoryUnknown, ""},
		{"fr", ".facebook.com", schemas.CategoryMarketing, "Meta"},
		{"PHPSESSID", "shop.example.de", schemas.CategoryNecessary, ""},
		{"CookieConsent", "example.de", schemas.CategoryNecessary, "Cookiebot"},
		{"euconsent-v2", ".example.de", schemas.CategoryNecessary, "IAB TCF"},
		{"_hjSessionUser_12345", ".example.de", schemas.CategoryAnalytics, "Hotjar"},
		{"lang", "example.de", schemas.CategoryFunctional, ""},
		{"whatever", ".adnxs.com", schemas.CategoryMarketing, "Xandr"},
		{"mystery", "example.de", schemas.CategoryUnknown, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name+"@"+tc.domain, func(t *testing.T) {
			cat, svc := Categorize(tc.name, tc.domain)
			assert.Equal(t, tc.category, cat)
			assert.Equal(t, tc.service, svc)
		})
	}
}

func TestCategorizeIsDeterministic(t *testing.T) {
	inputs := [][2]string{{"_ga", "x.de"}, {"MUID", ".bing.com"}, {"MUID", ".clarity.ms"}, {"foo", "bar.com"}}
	for _, in := range inputs {
		c1, s1 := Categorize(in[0], in[1])
		c2, s2 := Categorize(in[0], in[1])
		assert.Equal(t, c1, c2)
		assert.Equal(t, s1, s2)
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.co.uk", RegistrableDomain("www.shop.example.co.uk"))
	assert.Equal(t, "example.de", RegistrableDomain(".Example.de"))
	assert.Equal(t, "localhost", RegistrableDomain("localhost"))
	assert.Equal(t, "127.0.0.1", RegistrableDomain("127.0.0.1"))
	assert.Equal(t, "example.de", RegistrableDomain("example.de:8443"))
}

func TestAnalyze(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := []schemas.Cookie{
		{Name: "_ga", Domain: ".shop.de", Path: "/", Expires: now.Add(400 * 24 * time.Hour)},
		{Name: "IDE", Domain: ".doubleclick.net", Path: "/", Expires: now.Add(500 * 24 * time.Hour)},
		{Name: "PHPSESSID", Domain: "www.shop.de", Path: "/"},
	}
	original := append([]schemas.Cookie(nil), raw...)

	analyzed := Analyze(raw, Options{
		SiteURL:    "https://www.shop.de/produkte",
		ObservedAt: now,
		PreConsent: schemas.CookieSet{raw[2]},
	})
	require.Len(t, analyzed, 3)
	assert.Empty(t, cmp.Diff(original, raw), "input must not be mutated")

	byName := map[string]schemas.AnalyzedCookie{}
	for _, a := range analyzed {
		byName[a.Name] = a
	}

	ga := byName["_ga"]
	assert.Equal(t, 400, ga.LifetimeDays)
	assert.False(t, ga.IsLongLived, "exactly 400 days is not long-lived")
	assert.False(t, ga.IsThirdParty)
	assert.False(t, ga.SetBeforeConsent)

	ide := byName["IDE"]
	assert.True(t, ide.IsLongLived)
	assert.True(t, ide.IsThirdParty)
	assert.Equal(t, schemas.CategoryMarketing, ide.Category)

	sess := byName["PHPSESSID"]
	assert.True(t, sess.IsSession)
	assert.Zero(t, sess.LifetimeDays)
	assert.True(t, sess.SetBeforeConsent)

	// Marketing sorts first.
	assert.Equal(t, "IDE", analyzed[0].Name)
}

func TestAnalyzeWithoutPreConsentMarksAll(t *testing.T) {
	analyzed := Analyze([]schemas.Cookie{{Name: "_fbp", Domain: ".a.de"}}, Options{SiteURL: "https://a.de"})
	require.Len(t, analyzed, 1)
	assert.True(t, analyzed[0].SetBeforeConsent)

	sum := Summarize(analyzed)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.ByCategory[schemas.CategoryMarketing])
	assert.Equal(t, []string{"_fbp"}, sum.PreConsent)
}

func TestMerge(t *testing.T) {
	protocol := []schemas.Cookie{
		{Name: "sid", Domain: ".shop.de", Path: "/", HTTPOnly: true, Source: "protocol"},
	}
	page := []schemas.Cookie{
		{Name: "sid", Domain: "shop.de", Path: "/", Source: "page"},
		{Name: "_ga", Domain: ".shop.de", Path: "/", Source: "page"},
	}
	doc := FromDocumentCookie("_ga=GA1.2.3; late=1", "www.shop.de")

	merged := Merge(protocol, page, doc)
	names := map[string]schemas.Cookie{}
	for _, c := range merged {
		names[c.Name] = c
	}
	assert.Len(t, merged, 3)
	assert.True(t, names["sid"].HTTPOnly, "protocol channel wins on identity clash")
	assert.Equal(t, "page", names["_ga"].Source, "document entry covered by a richer channel is dropped")
	assert.Equal(t, "document", names["late"].Source)
	assert.Equal(t, "www.shop.de", names["late"].Domain)
}

func TestFromDocumentCookie(t *testing.T) {
	got := FromDocumentCookie(" a=1; b = two=2 ;; =x; c", "Example.de")
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "two=2", got[1].Value)
	assert.Equal(t, "c", got[2].Name)
	assert.Equal(t, "example.de", got[2].Domain)
}

func TestCompareAndUnion(t *testing.T) {
	before := schemas.CookieSet{
		{Name: "CookieConsent", Domain: "shop.de", Path: "/"},
		{Name: "sid", Domain: "shop.de", Path: "/"},
	}
	after := schemas.CookieSet{
		{Name: "CookieConsent", Domain: ".shop.de", Path: "/"},
		{Name: "_ga", Domain: ".shop.de", Path: "/"},
		{Name: "_fbp", Domain: ".shop.de", Path: "/"},
	}

	d := Compare(before, after)
	assert.Len(t, d.Added, 2)
	assert.Equal(t, []schemas.CookieKey{{Name: "sid", Domain: "shop.de", Path: "/"}}, d.Removed)
	assert.True(t, d.AddedTracking())
	assert.Equal(t, 1, d.AddedCategory[schemas.CategoryAnalytics])
	assert.Equal(t, 1, d.AddedCategory[schemas.CategoryMarketing])

	u := Union(before, after)
	for _, c := range before {
		assert.True(t, u.Contains(c.Key()), "union must contain %s", c.Name)
	}
	assert.Len(t, u, 4)
	assert.Len(t, after, 3, "union must not modify its input")
}

func TestCountTracking(t *testing.T) {
	assert.Equal(t, 2, CountTracking([]schemas.Cookie{
		{Name: "_ga", Domain: "a.de"},
		{Name: "_fbp", Domain: "a.de"},
		{Name: "PHPSESSID", Domain: "a.de"},
	}))
}
