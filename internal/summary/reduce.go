package summary

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// ErrPayloadTooLarge is returned when even the most reduced payload exceeds the budget.
var ErrPayloadTooLarge = errors.New("analysis payload exceeds size budget")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Payload is the size-reduced view of an analysis sent to the model. HTML,
// request lists and raw cookie snapshots never leave the process.
type Payload struct {
	URL       string                     `json:"url"`
	Mode      schemas.AnalysisMode       `json:"mode"`
	Score     schemas.ScoreBreakdown     `json:"score"`
	Issues    []schemas.Issue            `json:"issues"`
	GDPR      []check                    `json:"gdpr"`
	DMA       []dmaDigest                `json:"dma,omitempty"`
	Banner    schemas.CookieBannerSignal `json:"cookieBanner"`
	Consent   consentDigest              `json:"consentSignals"`
	Tags      []tagDigest                `json:"trackingTags"`
	Domains   []string                   `json:"thirdPartyDomains,omitempty"`
	Summary   schemas.CookieSummary      `json:"cookieSummary"`
	Cookies   []cookieDigest             `json:"cookies"`
	Test      *experimentDigest          `json:"consentTest,omitempty"`
	Omitted   int                        `json:"omittedCookies,omitempty"`
	Shortened bool                       `json:"shortened,omitempty"`
}

type check struct {
	Title         string              `json:"title"`
	Status        schemas.CheckStatus `json:"status"`
	Justification string              `json:"justification,omitempty"`
}

type dmaDigest struct {
	Gatekeeper string  `json:"gatekeeper"`
	Checks     []check `json:"checks"`
}

type consentDigest struct {
	ConsentMode string `json:"consentMode,omitempty"`
	UpdateWired bool   `json:"consentModeUpdateWired"`
	TCF         bool   `json:"tcf"`
	ValidTC     bool   `json:"tcStringValid"`
	ServerSide  bool   `json:"serverSideTracking"`
}

type tagDigest struct {
	Name        string `json:"name"`
	Company     string `json:"company"`
	Gatekeeper  string `json:"gatekeeper,omitempty"`
	FiredOnLoad bool   `json:"firedOnLoad"`
}

type cookieDigest struct {
	Name          string                 `json:"name"`
	Domain        string                 `json:"domain"`
	Category      schemas.CookieCategory `json:"category"`
	LifetimeDays  int                    `json:"lifetimeDays"`
	ThirdParty    bool                   `json:"thirdParty"`
	BeforeConsent bool                   `json:"beforeConsent"`
}

type experimentDigest struct {
	Completed      bool     `json:"completed"`
	AcceptFound    bool     `json:"acceptFound"`
	AcceptMethod   string   `json:"acceptMethod"`
	RejectFound    bool     `json:"rejectFound"`
	RejectMethod   string   `json:"rejectMethod"`
	RejectCounted  string   `json:"rejectCountedAs"`
	NewAfterAccept []string `json:"newAfterAccept,omitempty"`
	NewAfterReject []string `json:"newAfterReject,omitempty"`
}

// Reduce builds the Payload for res and shrinks it until its JSON encoding
// fits into maxBytes: cookies are halved first, then third-party domains,
// then free-text fields are shortened.
func Reduce(res *schemas.AnalysisResult, maxBytes int) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("cannot summarize a nil analysis")
	}
	p := digest(res)

	for {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		if maxBytes <= 0 || len(b) <= maxBytes {
			return b, nil
		}
		if !p.shrink() {
			return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(b), maxBytes)
		}
	}
}

// shrink applies one reduction step and reports whether anything changed.
func (p *Payload) shrink() bool {
	switch {
	case len(p.Cookies) > 0:
		keep := len(p.Cookies) / 2
		p.Omitted += len(p.Cookies) - keep
		p.Cookies = p.Cookies[:keep]
	case len(p.Domains) > 0:
		p.Domains = p.Domains[:len(p.Domains)/2]
	case !p.Shortened:
		p.Shortened = true
		for i := range p.Issues {
			p.Issues[i].Description = clip(p.Issues[i].Description, 160)
			p.Issues[i].Recommendation = clip(p.Issues[i].Recommendation, 120)
		}
		for i := range p.GDPR {
			p.GDPR[i].Justification = ""
		}
		for i := range p.DMA {
			for j := range p.DMA[i].Checks {
				p.DMA[i].Checks[j].Justification = ""
			}
		}
		p.Banner.ButtonLabels = nil
		p.Banner.Keywords = nil
	case p.Test != nil && (len(p.Test.NewAfterAccept) > 0 || len(p.Test.NewAfterReject) > 0):
		p.Test.NewAfterAccept = nil
		p.Test.NewAfterReject = nil
	default:
		return false
	}
	return true
}

func digest(res *schemas.AnalysisResult) *Payload {
	sig := res.Signals
	p := &Payload{
		URL:     res.URL,
		Mode:    res.Mode,
		Score:   res.Score,
		Issues:  append([]schemas.Issue(nil), res.Issues...),
		Banner:  sig.CookieBanner,
		Summary: res.CookieSummary,
		Consent: consentDigest{
			UpdateWired: sig.ConsentMode.UpdateWired,
			TCF:         sig.TCF.Detected,
			ValidTC:     sig.TCF.ValidString,
			ServerSide:  sig.TrackingTags.ServerSideDetected,
		},
	}
	if sig.ConsentMode.Detected {
		p.Consent.ConsentMode = sig.ConsentMode.Version
	}
	for _, c := range res.GDPR.Checks {
		p.GDPR = append(p.GDPR, check{Title: c.Title, Status: c.Status, Justification: c.Justification})
	}
	for _, g := range res.DMA.Gatekeepers {
		d := dmaDigest{Gatekeeper: g.Gatekeeper}
		for _, c := range g.Checks {
			d.Checks = append(d.Checks, check{Title: c.Title, Status: c.Status, Justification: c.Justification})
		}
		p.DMA = append(p.DMA, d)
	}
	for _, t := range sig.TrackingTags.Tags {
		p.Tags = append(p.Tags, tagDigest{Name: t.Name, Company: t.Company, Gatekeeper: t.Gatekeeper, FiredOnLoad: t.FiredOnLoad})
	}
	for _, d := range sig.ThirdPartyDomains.Domains {
		p.Domains = append(p.Domains, d.Domain)
	}
	// Cookies set before consent matter most, so they go first and survive halving.
	var late []cookieDigest
	for _, c := range res.Cookies {
		cd := cookieDigest{
			Name:          c.Name,
			Domain:        c.Domain,
			Category:      c.Category,
			LifetimeDays:  c.LifetimeDays,
			ThirdParty:    c.IsThirdParty,
			BeforeConsent: c.SetBeforeConsent,
		}
		if c.SetBeforeConsent && c.Category != schemas.CategoryNecessary {
			p.Cookies = append(p.Cookies, cd)
		} else {
			late = append(late, cd)
		}
	}
	p.Cookies = append(p.Cookies, late...)

	if exp := res.ConsentExperiment; exp != nil {
		p.Test = &experimentDigest{
			Completed:      exp.Completed,
			AcceptFound:    exp.Accept.Outcome.Found,
			AcceptMethod:   string(exp.Accept.Outcome.Method),
			RejectFound:    exp.Reject.Outcome.Found,
			RejectMethod:   string(exp.Reject.Outcome.Method),
			RejectCounted:  string(exp.Reject.EffectiveAction),
			NewAfterAccept: cookieNames(exp.Accept.NewCookies),
			NewAfterReject: cookieNames(exp.Reject.NewCookies),
		}
	}
	return p
}

func cookieNames(keys []schemas.CookieKey) []string {
	var out []string
	for _, k := range keys {
		out = append(out, k.Name+"@"+k.Domain)
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
