package lexicon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  Alle   AKZEPTIEREN ": "alle akzeptieren",
		"Accept all ›":         "accept all",
		"Schließen":            "schliessen",
		"Cookie-Einstellungen": "cookie-einstellungen",
		"✓ OK!":                "ok",
		"":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		label  string
		action schemas.ConsentAction
		exact  bool
	}{
		{"Alle akzeptieren", schemas.ActionAccept, true},
		{"Accept All Cookies", schemas.ActionAccept, true},
		{"Nur notwendige Cookies akzeptieren", schemas.ActionReject, false},
		{"Alle ablehnen", schemas.ActionReject, true},
		{"Einstellungen speichern", schemas.ActionSave, true},
		{"Auswahl akzeptieren", schemas.ActionSave, true},
		{"Cookie-Einstellungen", schemas.ActionSettings, true},
		{"Manage options", schemas.ActionSettings, true},
		{"Continue without accepting", schemas.ActionReject, true},
		{"Nicht akzeptieren", schemas.ActionReject, true},
		{"Cookies nicht zulassen", schemas.ActionReject, true},
		{"Nicht erlauben", schemas.ActionReject, true},
		{"Don't accept", schemas.ActionReject, true},
		{"Don’t allow", schemas.ActionReject, true},
		{"Do not allow", schemas.ActionReject, true},
		{"Do not accept", schemas.ActionReject, true},
	}
	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			m, ok := Classify(tc.label)
			assert.True(t, ok)
			assert.Equal(t, tc.action, m.Action)
			assert.Equal(t, tc.exact, m.Exact)
		})
	}
}

func TestClassifyRejectsProse(t *testing.T) {
	long := "Wir verwenden Cookies, um Ihnen das beste Erlebnis zu bieten. " + strings.Repeat("Mehr Text ", 10) + "akzeptieren"
	_, ok := Classify(long)
	assert.False(t, ok)

	_, ok = Classify("Newsletter abonnieren")
	assert.False(t, ok)
}

func TestMatchActionPrefersLongestPhrase(t *testing.T) {
	m, ok := MatchAction("Ja, alle Cookies akzeptieren", schemas.ActionAccept)
	assert.True(t, ok)
	assert.False(t, m.Exact)
	assert.Equal(t, "alle cookies akzeptieren", m.Phrase)
}

func TestIs(t *testing.T) {
	_, ok := Is("Alle ablehnen", schemas.ActionAccept)
	assert.False(t, ok)
	_, ok = Is("Alle ablehnen", schemas.ActionReject)
	assert.True(t, ok)
}

func TestIsNonEssential(t *testing.T) {
	assert.True(t, IsNonEssential("Marketing"))
	assert.True(t, IsNonEssential("Statistik-Cookies"))
	assert.True(t, IsNonEssential("Personalisierung"))
	assert.False(t, IsNonEssential("Notwendige Cookies"))
	assert.False(t, IsNonEssential("Strictly necessary"))
	assert.False(t, IsNonEssential(""))
}

func TestPhrasesAreNormalizedAndUnique(t *testing.T) {
	for _, action := range precedence {
		seen := map[string]bool{}
		for _, p := range Phrases(action) {
			assert.Equal(t, Normalize(p), p)
			assert.False(t, seen[p], "duplicate phrase %q", p)
			seen[p] = true
		}
	}
}

func TestNegatedAcceptNeverMatchesAccept(t *testing.T) {
	for _, label := range []string{
		"Nicht akzeptieren", "Cookies nicht zulassen", "Nicht erlauben", "Don't accept",
		"Keine Cookies akzeptieren", "Tracking nicht erlauben",
	} {
		_, ok := MatchAction(label, schemas.ActionAccept)
		assert.False(t, ok, "label %q", label)
	}

	m, ok := MatchAction("Cookies zulassen", schemas.ActionAccept)
	assert.True(t, ok)
	assert.Equal(t, "zulassen", m.Phrase)
}
