package signals

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Consent Mode patterns are anchored on the call shape or on a storage key
// directly followed by a granted/denied literal; prose mentioning "consent"
// never matches.
var (
	consentCallRe  = regexp.MustCompile(`(?:gtag\s*\(|\[|push\s*\(\s*\[?)\s*['"]consent['"]\s*,\s*['"](default|update)['"]\s*,\s*\{([^{}]*)\}`)
	consentParamRe = regexp.MustCompile(`['"]?\b(ad_storage|analytics_storage|ad_user_data|ad_personalization|functionality_storage|personalization_storage|security_storage)\b['"]?\s*:\s*['"](granted|denied)['"]`)
	gcsRe          = regexp.MustCompile(`[?&]gcs=(G1[0-9-]{2})`)
	gcdRe          = regexp.MustCompile(`[?&]gcd=([0-9A-Za-z.~_-]+)`)
	googleHitRe    = regexp.MustCompile(`(?i)(google-analytics\.com|analytics\.google\.com|googletagmanager\.com|doubleclick\.net|googleadservices\.com|google\.[a-z.]+/(pagead|ccm))`)

	// wiringContextRe recognizes an update call placed inside a CMP callback or event handler.
	wiringContextRe = regexp.MustCompile(`(?i)(addEventListener|CookiebotOnAccept|CookiebotOnConsentReady|CookiebotOnDecline|OptanonWrapper|OneTrustGroupsUpdated|OnetrustActiveGroups|UC_UI_|ucEvent|didomiOnReady|didomiEventListeners|__tcfapi|cmpEvent|consent_update|onConsent|onAccept|onChange)`)
	// cmpIntegrationRe recognizes CMPs configured to issue Consent Mode updates themselves.
	cmpIntegrationRe = regexp.MustCompile(`(?i)(data-consentmode(-defaults)?=|googleConsentMode|google_consent_mode|gcmEnabled|consentModeV2|"gcm"\s*:\s*\{|uc-gcm|ketch-gcm)`)
)

const wiringWindow = 400

var v2Params = map[string]bool{"ad_user_data": true, "ad_personalization": true}

// ConsentModeExtractor detects Google Consent Mode.
type ConsentModeExtractor struct{}

// Extract implements the GoogleConsentMode signal.
func (ConsentModeExtractor) Extract(c *schemas.CrawlResult) (schemas.ConsentModeSignal, error) {
	var sig schemas.ConsentModeSignal
	if err := validate(c); err != nil {
		return sig, err
	}

	params := map[string]bool{}
	v2 := false
	updateInContext := false

	addPayload := func(kind string, body map[string]string) {
		var target *map[string]string
		if kind == "default" {
			sig.HasDefault = true
			target = &sig.DefaultPayload
		} else {
			sig.HasUpdate = true
			target = &sig.UpdatePayload
		}
		if *target == nil {
			*target = map[string]string{}
		}
		for k, v := range body {
			(*target)[k] = v
			params[k] = true
		}
	}

	texts := append([]string{c.HTML}, c.Fragments...)
	for _, s := range c.Scripts {
		if s.Inline != "" && !strings.Contains(c.HTML, s.Inline) {
			texts = append(texts, s.Inline)
		}
	}

	for _, text := range texts {
		for _, loc := range consentCallRe.FindAllStringSubmatchIndex(text, -1) {
			kind := text[loc[2]:loc[3]]
			body := parseConsentPayload(text[loc[4]:loc[5]])
			addPayload(kind, body)
			sig.Evidence = append(sig.Evidence, clip(text[loc[0]:loc[1]]))
			if kind == "update" {
				start := loc[0] - wiringWindow
				if start < 0 {
					start = 0
				}
				if wiringContextRe.MatchString(text[start:loc[0]]) {
					updateInContext = true
				}
			}
		}
		for _, m := range consentParamRe.FindAllStringSubmatch(text, -1) {
			params[m[1]] = true
		}
	}

	for _, entry := range c.Globals.DataLayer {
		kind, body, ok := dataLayerConsent(entry)
		if !ok {
			continue
		}
		addPayload(kind, body)
		sig.Evidence = append(sig.Evidence, fmt.Sprintf("dataLayer consent %s", kind))
		if kind == "update" {
			// An update that already ran during the load was triggered by page code.
			updateInContext = true
		}
	}

	for _, r := range c.Requests {
		if !googleHitRe.MatchString(r.URL) {
			continue
		}
		if m := gcsRe.FindStringSubmatch(r.URL); m != nil {
			sig.Detected = true
			sig.Evidence = appendUnique(sig.Evidence, "gcs="+m[1])
		}
		if m := gcdRe.FindStringSubmatch(r.URL); m != nil {
			sig.Detected = true
			v2 = true
			sig.Evidence = appendUnique(sig.Evidence, "gcd parameter")
		}
	}

	integration := cmpIntegrationRe.MatchString(c.HTML)
	if integration {
		sig.Evidence = append(sig.Evidence, "cmp consent mode integration")
		if sig.HasDefault {
			sig.HasUpdate = true
		}
	}

	if sig.HasDefault || sig.HasUpdate || len(params) > 0 {
		sig.Detected = true
	}
	if !sig.Detected {
		return schemas.ConsentModeSignal{}, nil
	}

	for p := range params {
		sig.Parameters = append(sig.Parameters, p)
		if v2Params[p] {
			v2 = true
		}
	}
	sort.Strings(sig.Parameters)
	if v2 {
		sig.Version = "v2"
	} else {
		sig.Version = "v1"
	}
	sig.UpdateWired = sig.HasUpdate && (updateInContext || integration)
	return sig, nil
}

// parseConsentPayload extracts key: 'granted'|'denied' pairs from an object literal body.
func parseConsentPayload(body string) map[string]string {
	out := map[string]string{}
	for _, m := range consentParamRe.FindAllStringSubmatch(body, -1) {
		out[m[1]] = m[2]
	}
	return out
}

// dataLayerConsent recognizes the Arguments-object shape gtag pushes:
// {"0": "consent", "1": "default", "2": {...}}.
func dataLayerConsent(entry map[string]any) (string, map[string]string, bool) {
	if entry["0"] != "consent" {
		return "", nil, false
	}
	kind, _ := entry["1"].(string)
	if kind != "default" && kind != "update" {
		return "", nil, false
	}
	body := map[string]string{}
	if payload, ok := entry["2"].(map[string]any); ok {
		for k, v := range payload {
			if s, ok := v.(string); ok && (s == "granted" || s == "denied") {
				body[k] = s
			}
		}
	}
	return kind, body, true
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
