package signals

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/cookies"
)

type domainInfo struct {
	Category     string
	Company      string
	Jurisdiction string
}

// knownDomains maps registrable domains to their operator. Jurisdiction is the
// ISO country of the operating entity's headquarters.
var knownDomains = map[string]domainInfo{
	// Google
	"google-analytics.com":  {"analytics", "Google", "US"},
	"googletagmanager.com":  {"tag_manager", "Google", "US"},
	"googleadservices.com":  {"advertising", "Google", "US"},
	"doubleclick.net":       {"advertising", "Google", "US"},
	"googlesyndication.com": {"advertising", "Google", "US"},
	"google.com":            {"advertising", "Google", "US"},
	"gstatic.com":           {"cdn", "Google", "US"},
	"googleapis.com":        {"cdn", "Google", "US"},
	"youtube.com":           {"video", "Google", "US"},
	"youtube-nocookie.com":  {"video", "Google", "US"},
	"ytimg.com":             {"video", "Google", "US"},
	"googleoptimize.com":    {"analytics", "Google", "US"},
	"recaptcha.net":         {"security", "Google", "US"},
	"googletagservices.com": {"advertising", "Google", "US"},
	"googlevideo.com":       {"video", "Google", "US"},
	// Meta
	"facebook.com":  {"advertising", "Meta", "US"},
	"facebook.net":  {"advertising", "Meta", "US"},
	"instagram.com": {"social", "Meta", "US"},
	"fbcdn.net":     {"cdn", "Meta", "US"},
	"whatsapp.com":  {"social", "Meta", "US"},
	// Microsoft
	"bing.com":      {"advertising", "Microsoft", "US"},
	"clarity.ms":    {"analytics", "Microsoft", "US"},
	"linkedin.com":  {"advertising", "Microsoft (LinkedIn)", "US"},
	"licdn.com":     {"advertising", "Microsoft (LinkedIn)", "US"},
	"msn.com":       {"advertising", "Microsoft", "US"},
	"azureedge.net": {"cdn", "Microsoft", "US"},
	// ByteDance
	"tiktok.com":      {"advertising", "ByteDance", "CN"},
	"tiktokcdn.com":   {"cdn", "ByteDance", "CN"},
	"byteoversea.com": {"advertising", "ByteDance", "CN"},
	"ibytedtos.com":   {"cdn", "ByteDance", "CN"},
	// Other advertising
	"pinterest.com":       {"advertising", "Pinterest", "US"},
	"pinimg.com":          {"advertising", "Pinterest", "US"},
	"snapchat.com":        {"advertising", "Snap", "US"},
	"sc-static.net":       {"advertising", "Snap", "US"},
	"twitter.com":         {"advertising", "X Corp", "US"},
	"ads-twitter.com":     {"advertising", "X Corp", "US"},
	"x.com":               {"advertising", "X Corp", "US"},
	"t.co":                {"advertising", "X Corp", "US"},
	"criteo.com":          {"advertising", "Criteo", "FR"},
	"criteo.net":          {"advertising", "Criteo", "FR"},
	"taboola.com":         {"advertising", "Taboola", "US"},
	"outbrain.com":        {"advertising", "Outbrain", "US"},
	"reddit.com":          {"advertising", "Reddit", "US"},
	"redditstatic.com":    {"advertising", "Reddit", "US"},
	"amazon-adsystem.com": {"advertising", "Amazon", "US"},
	"adnxs.com":           {"advertising", "Microsoft (Xandr)", "US"},
	"rubiconproject.com":  {"advertising", "Magnite", "US"},
	"pubmatic.com":        {"advertising", "PubMatic", "US"},
	"adform.net":          {"advertising", "Adform", "DK"},
	"awin1.com":           {"advertising", "Awin", "DE"},
	"yandex.ru":           {"analytics", "Yandex", "RU"},
	"yandex.com":          {"analytics", "Yandex", "RU"},
	"mc.yandex.ru":        {"analytics", "Yandex", "RU"},
	"vk.com":              {"social", "VK", "RU"},
	"baidu.com":           {"analytics", "Baidu", "CN"},
	"alicdn.com":          {"cdn", "Alibaba", "CN"},
	// Analytics
	"hotjar.com":        {"analytics", "Hotjar", "MT"},
	"hotjar.io":         {"analytics", "Hotjar", "MT"},
	"matomo.cloud":      {"analytics", "InnoCraft", "NZ"},
	"etracker.com":      {"analytics", "etracker", "DE"},
	"mouseflow.com":     {"analytics", "Mouseflow", "DK"},
	"segment.com":       {"analytics", "Twilio", "US"},
	"segment.io":        {"analytics", "Twilio", "US"},
	"mixpanel.com":      {"analytics", "Mixpanel", "US"},
	"amplitude.com":     {"analytics", "Amplitude", "US"},
	"contentsquare.net": {"analytics", "Contentsquare", "FR"},
	"newrelic.com":      {"monitoring", "New Relic", "US"},
	"nr-data.net":       {"monitoring", "New Relic", "US"},
	"sentry.io":         {"monitoring", "Sentry", "US"},
	// Consent management
	"cookiebot.com":      {"consent", "Usercentrics", "DE"},
	"cookiebot.eu":       {"consent", "Usercentrics", "DE"},
	"usercentrics.eu":    {"consent", "Usercentrics", "DE"},
	"cookielaw.org":      {"consent", "OneTrust", "US"},
	"onetrust.com":       {"consent", "OneTrust", "US"},
	"privacy-center.org": {"consent", "Didomi", "FR"},
	"consentmanager.net": {"consent", "consentmanager", "DE"},
	"cookie-script.com":  {"consent", "Cookie Script", "LT"},
	"cookieyes.com":      {"consent", "CookieYes", "GB"},
	"iubenda.com":        {"consent", "iubenda", "IT"},
	"trustarc.com":       {"consent", "TrustArc", "US"},
	"privacy-mgmt.com":   {"consent", "Sourcepoint", "US"},
	// CDN and infrastructure
	"cloudflare.com":       {"cdn", "Cloudflare", "US"},
	"cdnjs.cloudflare.com": {"cdn", "Cloudflare", "US"},
	"jsdelivr.net":         {"cdn", "jsDelivr", "PL"},
	"unpkg.com":            {"cdn", "unpkg", "US"},
	"akamaihd.net":         {"cdn", "Akamai", "US"},
	"cloudfront.net":       {"cdn", "Amazon", "US"},
	"fastly.net":           {"cdn", "Fastly", "US"},
	"bootstrapcdn.com":     {"cdn", "jsDelivr", "US"},
	"fonts.net":            {"fonts", "Monotype", "US"},
	"typekit.net":          {"fonts", "Adobe", "US"},
	"bunny.net":            {"cdn", "BunnyWay", "SI"},
	// Commerce, support, media
	"shopify.com":      {"ecommerce", "Shopify", "CA"},
	"shopifycdn.com":   {"cdn", "Shopify", "CA"},
	"stripe.com":       {"payment", "Stripe", "US"},
	"paypal.com":       {"payment", "PayPal", "US"},
	"klarna.com":       {"payment", "Klarna", "SE"},
	"vimeo.com":        {"video", "Vimeo", "US"},
	"vimeocdn.com":     {"video", "Vimeo", "US"},
	"hubspot.com":      {"marketing", "HubSpot", "US"},
	"hs-scripts.com":   {"marketing", "HubSpot", "US"},
	"intercom.io":      {"support", "Intercom", "US"},
	"zendesk.com":      {"support", "Zendesk", "US"},
	"trustpilot.com":   {"reviews", "Trustpilot", "DK"},
	"trustedshops.com": {"reviews", "Trusted Shops", "DE"},
	"adobedtm.com":     {"tag_manager", "Adobe", "US"},
	"tiqcdn.com":       {"tag_manager", "Tealium", "US"},
	"stape.io":         {"tag_manager", "Stape", "EE"},
}

// HighRiskJurisdictions lack an adequacy decision and allow broad state access.
var HighRiskJurisdictions = map[string]bool{"CN": true, "RU": true, "BY": true, "IR": true, "KP": true}

var eeaJurisdictions = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true, "DK": true,
	"EE": true, "FI": true, "FR": true, "DE": true, "GR": true, "HU": true, "IE": true,
	"IT": true, "LV": true, "LT": true, "LU": true, "MT": true, "NL": true, "PL": true,
	"PT": true, "RO": true, "SK": true, "SI": true, "ES": true, "SE": true,
	"IS": true, "LI": true, "NO": true,
}

const minStemLength = 5

// ambiguousStems are dictionary words that would misattribute unrelated domains.
var ambiguousStems = map[string]bool{
	"fonts": true, "segment": true, "stripe": true, "amplitude": true,
	"intercom": true, "sentry": true, "stape": true, "bunny": true, "unpkg": true,
}

// stems are the fallback keys for partial matching, sorted longest first so
// the most specific operator wins.
var stems = func() []string {
	seen := map[string]bool{}
	var out []string
	for d := range knownDomains {
		stem, _, _ := strings.Cut(d, ".")
		if len(stem) >= minStemLength && !ambiguousStems[stem] && !seen[stem] {
			seen[stem] = true
			out = append(out, stem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

var stemOwners = func() map[string]domainInfo {
	keys := make([]string, 0, len(knownDomains))
	for d := range knownDomains {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	out := map[string]domainInfo{}
	for _, d := range keys {
		stem, _, _ := strings.Cut(d, ".")
		if _, ok := out[stem]; !ok {
			out[stem] = knownDomains[d]
		}
	}
	return out
}()

// LookupDomain classifies a host: exact registrable domain, then host suffix,
// then a stem contained in the registrable domain.
func LookupDomain(host string) (domainInfo, bool) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	reg := cookies.RegistrableDomain(host)
	if info, ok := knownDomains[reg]; ok {
		return info, true
	}
	for h := host; h != ""; {
		if info, ok := knownDomains[h]; ok {
			return info, true
		}
		_, rest, found := strings.Cut(h, ".")
		if !found {
			break
		}
		h = rest
	}
	for _, stem := range stems {
		if strings.Contains(reg, stem) {
			return stemOwners[stem], true
		}
	}
	return domainInfo{}, false
}

// ThirdPartyExtractor aggregates non-first-party request targets.
type ThirdPartyExtractor struct{}

// Extract implements the ThirdPartyDomains signal.
func (ThirdPartyExtractor) Extract(c *schemas.CrawlResult) (schemas.ThirdPartyDomainsSignal, error) {
	var sig schemas.ThirdPartyDomainsSignal
	if err := validate(c); err != nil {
		return sig, err
	}
	site := cookies.RegistrableDomain(cookies.HostOf(c.SiteURL()))

	byDomain := map[string]*schemas.ThirdPartyDomain{}
	for _, r := range c.Requests {
		host := cookies.HostOf(r.URL)
		if host == "" {
			continue
		}
		reg := cookies.RegistrableDomain(host)
		if reg == "" || reg == site {
			continue
		}
		d, ok := byDomain[reg]
		if !ok {
			d = &schemas.ThirdPartyDomain{Domain: reg, Category: "unknown", Company: "unknown", Jurisdiction: "unknown"}
			if info, known := LookupDomain(host); known {
				d.Known = true
				d.Category = info.Category
				d.Company = info.Company
				d.Jurisdiction = info.Jurisdiction
				d.HighRisk = HighRiskJurisdictions[info.Jurisdiction]
				d.NonEU = !eeaJurisdictions[info.Jurisdiction]
			}
			byDomain[reg] = d
		}
		d.Requests++
		sig.TotalRequests++
	}

	for _, d := range byDomain {
		sig.Domains = append(sig.Domains, *d)
	}
	sort.Slice(sig.Domains, func(i, j int) bool {
		if sig.Domains[i].Requests != sig.Domains[j].Requests {
			return sig.Domains[i].Requests > sig.Domains[j].Requests
		}
		return sig.Domains[i].Domain < sig.Domains[j].Domain
	})
	for _, d := range sig.Domains {
		switch {
		case !d.Known:
			sig.Unknown = append(sig.Unknown, d.Domain)
		case d.HighRisk:
			sig.HighRisk = append(sig.HighRisk, d.Domain)
			sig.NonEU = append(sig.NonEU, d.Domain)
		case d.NonEU:
			sig.NonEU = append(sig.NonEU, d.Domain)
		}
	}
	return sig, nil
}
