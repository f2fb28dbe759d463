package consent

import (
	"sort"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/lexicon"
)

// Ranked is a candidate that matches an action, with the reason it matched.
type Ranked struct {
	Candidate
	Phrase string
	Exact  bool
}

// tier orders element kinds: native buttons first, then links and ARIA
// buttons, then anything else that merely listens for clicks.
func tier(c Candidate) int {
	switch {
	case c.Tag == "button":
		return 0
	case c.Tag == "input" && (c.Type == "button" || c.Type == "submit"):
		return 0
	case c.Tag == "a" || c.Role == "button" || c.Role == "link":
		return 1
	default:
		return 2
	}
}

// matchCandidate decides whether a clickable candidate triggers action, either
// through a known CMP selector or through its label.
func matchCandidate(c Candidate, action schemas.ConsentAction) (Ranked, bool) {
	if c.Toggle || !c.Visible {
		return Ranked{}, false
	}
	if c.SelectorAction == string(action) {
		// A label that clearly says something else wins over the selector;
		// some CMPs reuse one class for both primary buttons.
		if m, ok := lexicon.Classify(c.Label); ok && m.Action != action {
			return Ranked{}, false
		}
		return Ranked{Candidate: c, Exact: true}, true
	}
	if m, ok := lexicon.Is(c.Label, action); ok {
		return Ranked{Candidate: c, Phrase: m.Phrase, Exact: m.Exact}, true
	}
	return Ranked{}, false
}

// Rank returns the visible candidates that trigger action, best first: by
// element tier, then by rendered area, then exact label matches, then
// document order.
func Rank(cands []Candidate, action schemas.ConsentAction) []Ranked {
	var out []Ranked
	for _, c := range cands {
		if r, ok := matchCandidate(c, action); ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ta, tb := tier(a.Candidate), tier(b.Candidate); ta != tb {
			return ta < tb
		}
		if a.Area() != b.Area() {
			return a.Area() > b.Area()
		}
		if a.Exact != b.Exact {
			return a.Exact
		}
		return a.Index < b.Index
	})
	return out
}

// NonEssentialToggles returns the visible switches whose label names a
// non-essential purpose and whose state differs from want.
func NonEssentialToggles(cands []Candidate, want bool) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if !c.Toggle || c.Checked == want {
			continue
		}
		if lexicon.IsNonEssential(c.Label) {
			out = append(out, c)
		}
	}
	return out
}
