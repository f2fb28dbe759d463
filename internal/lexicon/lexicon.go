// Package lexicon holds the bilingual (German/English) consent vocabulary shared
// by the consent engine and the banner extractor.
package lexicon

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// MaxLabelLength is the longest label still treated as a control caption.
// Longer text is prose and never matches.
const MaxLabelLength = 80

var folder = cases.Fold()

// Normalize canonicalizes a label for matching: NFKC, case folded, decorative
// symbols removed and whitespace collapsed.
func Normalize(s string) string {
	s = folder.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case r == '-' || r == '\'':
			b.WriteRune(r)
			space = false
		case r == '\u2019':
			b.WriteRune('\'')
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// precedence decides between actions when a label matches several vocabularies.
// "Nur notwendige akzeptieren" is a reject, "Einstellungen speichern" is a save.
var precedence = []schemas.ConsentAction{
	schemas.ActionReject,
	schemas.ActionSave,
	schemas.ActionAccept,
	schemas.ActionSettings,
}

var rawPhrases = map[schemas.ConsentAction][]string{
	schemas.ActionAccept: {
		"alle akzeptieren", "alle cookies akzeptieren", "akzeptieren", "alles akzeptieren",
		"alle zulassen", "alle cookies zulassen", "alle erlauben", "zulassen", "erlauben",
		"zustimmen", "allen zustimmen", "alle annehmen", "annehmen", "einverstanden",
		"ich stimme zu", "ok", "verstanden", "akzeptieren und schließen", "zustimmen und weiter",
		"accept all", "accept all cookies", "accept", "accept cookies", "allow all",
		"allow all cookies", "allow cookies", "agree", "i agree", "agree and close",
		"i accept", "got it", "yes i agree", "accept and close", "accept & close",
	},
	schemas.ActionReject: {
		"alle ablehnen", "ablehnen", "alles ablehnen", "nur notwendige", "nur notwendige cookies",
		"nur essenzielle", "nur essenzielle cookies", "nur essentielle cookies",
		"nur erforderliche", "nur erforderliche cookies", "nur technisch notwendige",
		"notwendige cookies verwenden", "weiter ohne einwilligung", "weiter ohne zustimmung",
		"verweigern", "nicht zustimmen", "nicht einverstanden",
		"reject all", "reject", "reject cookies", "decline", "decline all", "deny", "deny all",
		"refuse", "refuse all", "necessary only", "only necessary", "only necessary cookies",
		"essential only", "only essential", "use necessary cookies only",
		"continue without accepting", "do not accept", "disagree",
		"nicht akzeptieren", "nicht zulassen", "nicht erlauben", "cookies nicht zulassen",
		"don't accept", "don't allow", "do not allow", "don't agree",
	},
	schemas.ActionSettings: {
		"einstellungen", "cookie-einstellungen", "cookie einstellungen", "anpassen",
		"individuelle einstellungen", "mehr optionen", "optionen", "details", "details anzeigen",
		"datenschutzeinstellungen", "verwalten", "präferenzen",
		"settings", "cookie settings", "preferences", "cookie preferences", "customize",
		"customise", "manage", "manage options", "manage cookies", "manage preferences",
		"more options", "show details", "privacy settings",
	},
	schemas.ActionSave: {
		"auswahl speichern", "speichern", "einstellungen speichern", "auswahl bestätigen",
		"auswahl akzeptieren", "auswahl erlauben", "auswahl zulassen", "bestätigen",
		"speichern und schließen", "save", "save settings", "save preferences",
		"save my choices", "confirm choices", "confirm my choices", "confirm selection",
		"accept selected", "allow selection", "save and exit", "save & exit",
	},
}

var phrases = func() map[schemas.ConsentAction][]string {
	out := make(map[schemas.ConsentAction][]string, len(rawPhrases))
	for action, list := range rawPhrases {
		seen := map[string]bool{}
		for _, p := range list {
			n := Normalize(p)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out[action] = append(out[action], n)
		}
	}
	return out
}()

// Match describes how a label matched a vocabulary.
type Match struct {
	Action schemas.ConsentAction
	Phrase string
	// Exact is true when the whole label equals the phrase.
	Exact bool
}

// Phrases returns the normalized vocabulary for an action.
func Phrases(action schemas.ConsentAction) []string {
	return append([]string(nil), phrases[action]...)
}

// MatchAction checks a label against a single action's vocabulary, preferring
// an exact match and then the longest contained phrase.
func MatchAction(label string, action schemas.ConsentAction) (Match, bool) {
	n := Normalize(label)
	if n == "" || len([]rune(n)) > MaxLabelLength {
		return Match{}, false
	}
	padded := " " + n + " "
	best := Match{}
	found := false
	for _, p := range phrases[action] {
		if n == p {
			return Match{Action: action, Phrase: p, Exact: true}, true
		}
		i := strings.Index(padded, " "+p+" ")
		if i < 0 || len(p) <= len(best.Phrase) {
			continue
		}
		if negatable[action] && negated(padded[:i]) {
			continue
		}
		best = Match{Action: action, Phrase: p}
		found = true
	}
	return best, found
}

// negatable lists the actions whose phrases flip meaning behind a negation.
var negatable = map[schemas.ConsentAction]bool{
	schemas.ActionAccept: true,
	schemas.ActionSave:   true,
}

var negations = map[string]bool{
	"nicht": true, "kein": true, "keine": true, "keinen": true,
	"not": true, "don't": true, "dont": true, "never": true, "no": true,
}

// negated reports whether one of the two words before a phrase negates it.
func negated(prefix string) bool {
	words := strings.Fields(prefix)
	for i := len(words) - 1; i >= 0 && i >= len(words)-2; i-- {
		if negations[words[i]] {
			return true
		}
	}
	return false
}

// Classify returns the action a label most plausibly triggers.
func Classify(label string) (Match, bool) {
	for _, action := range precedence {
		if m, ok := MatchAction(label, action); ok {
			return m, true
		}
	}
	return Match{}, false
}

// Is reports whether label classifies as exactly the given action.
func Is(label string, action schemas.ConsentAction) (Match, bool) {
	m, ok := Classify(label)
	if !ok || m.Action != action {
		return Match{}, false
	}
	return m, true
}

// BannerKeywords are phrases whose co-occurrence indicates a consent banner.
var BannerKeywords = []string{
	"wir verwenden cookies", "diese website verwendet cookies", "diese webseite verwendet cookies",
	"cookie-einstellungen", "cookie einstellungen", "cookies akzeptieren", "alle akzeptieren",
	"alle ablehnen", "einwilligung", "datenschutzeinstellungen", "nur notwendige",
	"datenschutzerklärung", "ihre privatsphäre", "zustimmung",
	"we use cookies", "this website uses cookies", "this site uses cookies", "cookie settings",
	"cookie preferences", "accept all", "reject all", "manage cookies", "cookie policy",
	"your privacy", "privacy settings", "necessary cookies", "consent preferences",
}

// NonEssentialKeywords mark toggles that should be switched off in a settings drawer.
var NonEssentialKeywords = []string{
	"marketing", "analytics", "analyse", "statistik", "statistics", "statistiken",
	"advertising", "werbung", "personalization", "personalisation", "personalisierung",
	"tracking", "targeting", "social media", "externe medien", "performance", "leistung",
	"präferenzen", "preferences", "komfort", "funktional", "functional",
}

// IsNonEssential reports whether a toggle label names a non-essential purpose.
func IsNonEssential(label string) bool {
	n := Normalize(label)
	if n == "" {
		return false
	}
	for _, essential := range []string{"notwendig", "necessary", "essenziell", "essential", "erforderlich", "required", "strictly"} {
		if strings.Contains(n, essential) {
			return false
		}
	}
	for _, k := range NonEssentialKeywords {
		if strings.Contains(n, Normalize(k)) {
			return true
		}
	}
	return false
}
