package signals

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/lexicon"
)

// MinBannerKeywords is how many distinct banner phrases must co-occur for a
// keyword-only detection.
const MinBannerKeywords = 3

// cmpFingerprints identifies consent management platforms, in priority order.
var cmpFingerprints = []Rule{
	{ID: "Cookiebot", Patterns: []Pattern{ScriptURL(`consent\.cookiebot\.(com|eu)`), HTML(`id=["']CybotCookiebotDialog`), Global("Cookiebot")}},
	{ID: "OneTrust", Patterns: []Pattern{ScriptURL(`cdn\.cookielaw\.org|optanon\.blob\.core\.windows\.net|otSDKStub\.js`), HTML(`id=["']onetrust-(banner-sdk|consent-sdk)`), Global("OneTrust")}},
	{ID: "Usercentrics", Patterns: []Pattern{ScriptURL(`(app|web\.cmp)\.usercentrics\.eu`), HTML(`id=["']usercentrics-(root|cmp)`), Global("UC_UI"), Global("__ucCmp")}},
	{ID: "Didomi", Patterns: []Pattern{ScriptURL(`sdk\.privacy-center\.org`), HTML(`id=["']didomi-(host|notice)`), Global("Didomi")}},
	{ID: "consentmanager", Patterns: []Pattern{ScriptURL(`(delivery|cdn)\.consentmanager\.(net|de)`), HTML(`id=["']cmpbox`)}},
	{ID: "Borlabs Cookie", Patterns: []Pattern{ScriptURL(`borlabs-cookie`), HTML(`id=["']BorlabsCookieBox|brlbs-cmpnt`), Global("BorlabsCookie")}},
	{ID: "Complianz", Patterns: []Pattern{ScriptURL(`complianz-gdpr`), HTML(`cmplz-cookiebanner`)}},
	{ID: "CookieYes", Patterns: []Pattern{ScriptURL(`cdn-cookieyes\.com`), HTML(`cky-consent-container`)}},
	{ID: "Klaro", Patterns: []Pattern{ScriptURL(`klaro(\.min)?\.js|cdn\.kiprotect\.com`), HTML(`id=["']klaro["']`), Global("klaro")}},
	{ID: "Quantcast Choice", Patterns: []Pattern{ScriptURL(`cmp\.quantcast\.com|quantcast\.mgr\.consensu\.org`), HTML(`qc-cmp2-(container|ui)`)}},
	{ID: "TrustArc", Patterns: []Pattern{ScriptURL(`consent\.trustarc\.com`), HTML(`id=["']truste-consent-track`), Global("truste")}},
	{ID: "Sourcepoint", Patterns: []Pattern{ScriptURL(`cdn\.privacy-mgmt\.com|sourcepoint\.mgr\.consensu\.org`), HTML(`id=["']sp_message_container`), Global("_sp_")}},
	{ID: "iubenda", Patterns: []Pattern{ScriptURL(`c[sd]n?\.iubenda\.com`), HTML(`id=["']iubenda-cs-banner`), Global("_iub")}},
	{ID: "Osano", Patterns: []Pattern{ScriptURL(`cmp\.osano\.com`), HTML(`osano-cm-window`), Global("Osano")}},
	{ID: "Termly", Patterns: []Pattern{ScriptURL(`app\.termly\.io`), HTML(`termly-code-snippet-support`)}},
	{ID: "CookieFirst", Patterns: []Pattern{ScriptURL(`consent\.cookiefirst\.com`), HTML(`cookiefirst-root`), Global("CookieFirst")}},
	{ID: "Cookie Script", Patterns: []Pattern{ScriptURL(`cdn\.cookie-script\.com`), HTML(`id=["']cookiescript_injected`)}},
	{ID: "Real Cookie Banner", Patterns: []Pattern{ScriptURL(`real-cookie-banner`), HTML(`real-cookie-banner`)}},
	{ID: "Axeptio", Patterns: []Pattern{ScriptURL(`static\.axept\.io`), HTML(`id=["']axeptio_overlay`), Global("axeptioSDK")}},
	{ID: "CookieConsent", Patterns: []Pattern{ScriptURL(`cookieconsent(\.umd)?(\.min)?\.js`), HTML(`id=["']cc-?-?main["']`), Global("CookieConsent")}},
	{ID: "CookieHub", Patterns: []Pattern{ScriptURL(`cookiehub\.(net|eu)`), HTML(`ch2-container`)}},
	{ID: "Shopify Privacy", Patterns: []Pattern{ScriptURL(`consent-tracking-api|shopify-privacy-banner`), HTML(`id=["']shopify-pc__banner`)}},
	{ID: "Truendo", Patterns: []Pattern{ScriptURL(`cdn\.priv\.center|truendo`), HTML(`id=["']truendo_container`)}},
}

// CMPNames lists every fingerprinted CMP in priority order.
func CMPNames() []string {
	out := make([]string, 0, len(cmpFingerprints))
	for _, r := range cmpFingerprints {
		out = append(out, r.ID)
	}
	return out
}

var (
	positionedRe = regexp.MustCompile(`(?i)position\s*:\s*(?:fixed|absolute)[^{}"]{0,200}?z-index\s*:\s*(\d+)|z-index\s*:\s*(\d+)[^{}"]{0,200}?position\s*:\s*(?:fixed|absolute)`)
	scrollLockRe = regexp.MustCompile(`(?i)(^|\s)(no-?scroll|overflow-hidden|modal-open|scroll-?lock(ed)?|cmp-locked|didomi-popup-open|ot-overflow-hidden|uc-overflow-hidden|cky-modal-open|cookie-?consent-?open|cmplz-blocked|borlabs-position-fix|disable-scroll)(\s|$)`)
	overflowRe   = regexp.MustCompile(`(?i)overflow\s*:\s*hidden`)
	backdropRe   = regexp.MustCompile(`(?i)(class|id)=["'][^"']*(overlay|backdrop|dimmer|modal|cookiewall|cookie-wall|consent-wall)[^"']*["']`)
)

const minOverlayZIndex = 1000

// bannerControls are the interactive elements whose labels are classified.
const bannerControls = `button, a, [role="button"], input[type="button"], input[type="submit"]`

// BannerExtractor detects consent banners.
type BannerExtractor struct{}

// Extract implements the CookieBanner signal.
func (BannerExtractor) Extract(c *schemas.CrawlResult) (schemas.CookieBannerSignal, error) {
	var sig schemas.CookieBannerSignal
	if err := validate(c); err != nil {
		return sig, err
	}

	if cmp, _, ok := FirstRule(c, cmpFingerprints); ok {
		sig.Detected = true
		sig.CMP = cmp
		sig.DetectionMethod = "fingerprint"
	}

	docs := parseDocuments(c)
	text := visibleText(docs)
	sig.Keywords = bannerKeywords(text)
	if !sig.Detected && len(sig.Keywords) >= MinBannerKeywords {
		sig.Detected = true
		sig.DetectionMethod = "keywords"
	}

	labels := map[string]bool{}
	for _, doc := range docs {
		doc.Find(bannerControls).Each(func(_ int, s *goquery.Selection) {
			label := controlLabel(s)
			m, ok := lexicon.Classify(label)
			if !ok {
				return
			}
			switch m.Action {
			case schemas.ActionAccept:
				sig.HasAcceptButton = true
			case schemas.ActionReject:
				sig.HasRejectButton = true
			case schemas.ActionSettings, schemas.ActionSave:
				sig.HasSettingsButton = true
			}
			labels[strings.TrimSpace(label)] = true
		})
	}
	for l := range labels {
		sig.ButtonLabels = append(sig.ButtonLabels, l)
	}
	sort.Strings(sig.ButtonLabels)

	sig.PositionedOverlay = hasPositionedOverlay(c.HTML)
	sig.ScrollLock = hasScrollLock(docs)
	if sig.Detected {
		sig.BlocksInteraction = sig.ScrollLock || (sig.PositionedOverlay && backdropRe.MatchString(c.HTML))
	}
	return sig, nil
}

// parseDocuments parses the rendered HTML and every fragment. Unparseable
// fragments are skipped.
func parseDocuments(c *schemas.CrawlResult) []*goquery.Document {
	var docs []*goquery.Document
	for _, src := range append([]string{c.HTML}, c.Fragments...) {
		if strings.TrimSpace(src) == "" {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

func visibleText(docs []*goquery.Document) string {
	var b strings.Builder
	for _, doc := range docs {
		sel := doc.Selection.Clone()
		sel.Find("script, style, noscript, template").Remove()
		b.WriteString(sel.Text())
		b.WriteByte(' ')
	}
	return lexicon.Normalize(b.String())
}

func bannerKeywords(normalizedText string) []string {
	padded := " " + normalizedText + " "
	var out []string
	seen := map[string]bool{}
	for _, k := range lexicon.BannerKeywords {
		n := lexicon.Normalize(k)
		if seen[n] {
			continue
		}
		if strings.Contains(padded, " "+n+" ") {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func controlLabel(s *goquery.Selection) string {
	if t := strings.TrimSpace(s.Text()); t != "" {
		return t
	}
	for _, attr := range []string{"value", "aria-label", "title"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func hasPositionedOverlay(html string) bool {
	for _, m := range positionedRe.FindAllStringSubmatch(html, -1) {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if z, err := strconv.Atoi(g); err == nil && z >= minOverlayZIndex {
				return true
			}
		}
	}
	return false
}

func hasScrollLock(docs []*goquery.Document) bool {
	if len(docs) == 0 {
		return false
	}
	doc := docs[0]
	for _, sel := range []string{"html", "body"} {
		node := doc.Find(sel).First()
		if scrollLockRe.MatchString(node.AttrOr("class", "")) {
			return true
		}
		if overflowRe.MatchString(node.AttrOr("style", "")) {
			return true
		}
	}
	return false
}
