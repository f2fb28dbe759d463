package signals

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/cookies"
)

// Gatekeeper names used by the DMA checklist.
const (
	GatekeeperGoogle    = "Google"
	GatekeeperMeta      = "Meta"
	GatekeeperMicrosoft = "Microsoft"
	GatekeeperByteDance = "ByteDance"
)

// platform describes how one ad/analytics vendor is recognized.
type platform struct {
	ID         string
	Name       string
	Company    string
	Category   string
	Gatekeeper string
	Major      bool

	// Load patterns match the tag's loader in markup or script URLs.
	Load []Pattern
	// Network patterns match beacons the tag sends.
	Network []Pattern
	Globals []string
	// IDExpr extracts account identifiers; the first non-empty group wins.
	IDExpr  *regexp.Regexp
	Consent []Pattern
}

var platforms = []platform{
	{
		ID: "google_analytics", Name: "Google Analytics", Company: "Google", Category: "analytics", Gatekeeper: GatekeeperGoogle, Major: true,
		Load: []Pattern{
			ScriptURL(`googletagmanager\.com/gtag/js\?id=G-|google-analytics\.com/(analytics|ga)\.js`),
			HTML(`gtag\(\s*['"]config['"]\s*,\s*['"](G-|UA-)`),
		},
		Network: []Pattern{Request(`google-analytics\.com/(g/|j/|r/)?collect|analytics\.google\.com/g/collect`)},
		Globals: []string{"ga", "gaGlobal"},
		IDExpr:  regexp.MustCompile(`\b(G-[A-Z0-9]{6,12}|UA-\d{4,10}-\d{1,4})\b`),
		Consent: []Pattern{
			Request(`(google-analytics\.com|analytics\.google\.com)/.*[?&]gc[sd]=`),
			HTML(`gtag\(\s*['"]consent['"]`),
		},
	},
	{
		ID: "google_ads", Name: "Google Ads", Company: "Google", Category: "advertising", Gatekeeper: GatekeeperGoogle, Major: true,
		Load: []Pattern{
			ScriptURL(`googletagmanager\.com/gtag/js\?id=AW-|googleadservices\.com/pagead/conversion(_async)?\.js`),
			HTML(`gtag\(\s*['"]config['"]\s*,\s*['"]AW-`),
		},
		Network: []Pattern{Request(`googleadservices\.com/pagead/conversion|google\.[a-z.]+/pagead/(1p-)?(conversion|user-list)|googleads\.g\.doubleclick\.net/pagead/viewthroughconversion`)},
		IDExpr:  regexp.MustCompile(`\b(AW-\d{6,12})\b`),
		Consent: []Pattern{
			Request(`(googleadservices\.com|google\.[a-z.]+|googleads\.g\.doubleclick\.net)/pagead/.*[?&]gc[sd]=`),
			HTML(`gtag\(\s*['"]consent['"]`),
		},
	},
	{
		ID: "google_doubleclick", Name: "Google Marketing Platform (DoubleClick)", Company: "Google", Category: "advertising", Gatekeeper: GatekeeperGoogle, Major: true,
		Load: []Pattern{
			ScriptURL(`securepubads\.g\.doubleclick\.net|pagead2\.googlesyndication\.com|fls\.doubleclick\.net`),
		},
		Network: []Pattern{Request(`(ad|stats|cm|fls)\.(g\.)?doubleclick\.net|securepubads\.g\.doubleclick\.net/gampad|googlesyndication\.com/pagead`)},
		Globals: []string{"googletag", "adsbygoogle"},
		IDExpr:  regexp.MustCompile(`\b(DC-\d{6,12})\b`),
		Consent: []Pattern{Request(`doubleclick\.net/.*[?&](gdpr_consent|gc[sd]|npa)=`)},
	},
	{
		ID: "meta_pixel", Name: "Meta Pixel", Company: "Meta", Category: "advertising", Gatekeeper: GatekeeperMeta, Major: true,
		Load: []Pattern{
			ScriptURL(`connect\.facebook\.net/[A-Za-z_]+/fbevents\.js`),
			HTML(`fbq\(\s*['"]init['"]`),
		},
		Network: []Pattern{Request(`facebook\.com/tr/?\?`)},
		Globals: []string{"fbq", "_fbq"},
		IDExpr:  regexp.MustCompile(`fbq\(\s*['"]init['"]\s*,\s*['"](\d{10,20})|facebook\.com/tr/?\?id=(\d{10,20})`),
		Consent: []Pattern{HTML(`fbq\(\s*['"](consent|dataProcessingOptions)['"]`)},
	},
	{
		ID: "tiktok_pixel", Name: "TikTok Pixel", Company: "ByteDance", Category: "advertising", Gatekeeper: GatekeeperByteDance, Major: true,
		Load: []Pattern{
			ScriptURL(`analytics\.tiktok\.com/i18n/pixel`),
			HTML(`ttq\.load\(`),
		},
		Network: []Pattern{Request(`analytics\.tiktok\.com/api/v\d/(pixel|track)`)},
		Globals: []string{"ttq"},
		IDExpr:  regexp.MustCompile(`ttq\.load\(\s*['"]([A-Z0-9]{15,25})|sdkid=([A-Z0-9]{15,25})`),
		Consent: []Pattern{HTML(`ttq\.(holdConsent|grantConsent|revokeConsent)`)},
	},
	{
		ID: "microsoft_ads", Name: "Microsoft Advertising (UET)", Company: "Microsoft", Category: "advertising", Gatekeeper: GatekeeperMicrosoft, Major: true,
		Load:    []Pattern{ScriptURL(`bat\.bing\.com/bat\.js`)},
		Network: []Pattern{Request(`bat\.bing\.com/action`)},
		Globals: []string{"uetq", "UET"},
		IDExpr:  regexp.MustCompile(`\bti\s*:\s*['"]?(\d{5,10})|bat\.bing\.com/action/0\?ti=(\d{5,10})`),
		Consent: []Pattern{
			HTML(`uetq\s*(=\s*window\.uetq\s*\|\|\s*\[\]\s*;?\s*window\.uetq)?\.push\(\s*['"]consent['"]`),
			Request(`bat\.bing\.com/action/.*[?&]asc=`),
		},
	},
	{
		ID: "linkedin_insight", Name: "LinkedIn Insight Tag", Company: "Microsoft (LinkedIn)", Category: "advertising", Gatekeeper: GatekeeperMicrosoft, Major: true,
		Load:    []Pattern{ScriptURL(`snap\.licdn\.com/li\.lms-analytics/insight`)},
		Network: []Pattern{Request(`px\.ads\.linkedin\.com|dc\.ads\.linkedin\.com`)},
		Globals: []string{"_linkedin_partner_id", "lintrk"},
		IDExpr:  regexp.MustCompile(`_linkedin_partner_id\s*=\s*['"]?(\d{4,10})|[?&]pid=(\d{4,10})`),
	},
	{
		ID: "pinterest_tag", Name: "Pinterest Tag", Company: "Pinterest", Category: "advertising", Major: true,
		Load:    []Pattern{ScriptURL(`s\.pinimg\.com/ct/core\.js`)},
		Network: []Pattern{Request(`ct\.pinterest\.com/(v3|user)`)},
		Globals: []string{"pintrk"},
		IDExpr:  regexp.MustCompile(`pintrk\(\s*['"]load['"]\s*,\s*['"](\d{10,16})`),
	},
	{
		ID: "snapchat_pixel", Name: "Snap Pixel", Company: "Snap", Category: "advertising", Major: true,
		Load:    []Pattern{ScriptURL(`sc-static\.net/scevent\.min\.js`)},
		Network: []Pattern{Request(`tr\.snapchat\.com`)},
		Globals: []string{"snaptr"},
		IDExpr:  regexp.MustCompile(`snaptr\(\s*['"]init['"]\s*,\s*['"]([0-9a-f-]{36})`),
	},
	{
		ID: "twitter_pixel", Name: "X (Twitter) Pixel", Company: "X Corp", Category: "advertising", Major: true,
		Load:    []Pattern{ScriptURL(`static\.ads-twitter\.com/uwt\.js`)},
		Network: []Pattern{Request(`analytics\.twitter\.com|t\.co/i/adsct|ads-api\.(twitter|x)\.com`)},
		Globals: []string{"twq"},
		IDExpr:  regexp.MustCompile(`twq\(\s*['"](?:init|config)['"]\s*,\s*['"]([a-z0-9]{5,8})`),
	},
	{
		ID: "criteo", Name: "Criteo", Company: "Criteo", Category: "advertising", Major: true,
		Load:    []Pattern{ScriptURL(`static\.criteo\.net/js/ld/(publishertag|ld)|dynamic\.criteo\.com/js/ld/ld\.js`)},
		Network: []Pattern{Request(`(sslwidget|gum|dis|bidder)\.criteo\.(com|net)`)},
		Globals: []string{"criteo_q", "Criteo"},
	},
	{
		ID: "microsoft_clarity", Name: "Microsoft Clarity", Company: "Microsoft", Category: "analytics", Gatekeeper: GatekeeperMicrosoft,
		Load:    []Pattern{ScriptURL(`clarity\.ms/tag/`)},
		Network: []Pattern{Request(`[a-z]\.clarity\.ms/collect`)},
		Globals: []string{"clarity"},
		IDExpr:  regexp.MustCompile(`clarity\.ms/tag/([a-z0-9]{8,12})`),
		Consent: []Pattern{HTML(`clarity\(\s*['"]consent(v2)?['"]`)},
	},
	{
		ID: "hotjar", Name: "Hotjar", Company: "Hotjar (Contentsquare)", Category: "analytics",
		Load:    []Pattern{ScriptURL(`static\.hotjar\.com/c/hotjar-`)},
		Network: []Pattern{Request(`(in|vc|vars|content)\.hotjar\.(com|io)`)},
		Globals: []string{"hj", "_hjSettings"},
		IDExpr:  regexp.MustCompile(`hotjar-(\d{5,9})\.js|hjid\s*:\s*(\d{5,9})`),
	},
	{
		ID: "matomo", Name: "Matomo", Company: "InnoCraft", Category: "analytics",
		Load:    []Pattern{ScriptURL(`/(matomo|piwik)\.js`)},
		Network: []Pattern{Request(`/(matomo|piwik)\.php`)},
		Globals: []string{"_paq", "Matomo", "Piwik"},
		IDExpr:  regexp.MustCompile(`setSiteId['"]\s*,\s*['"]?(\d+)`),
		Consent: []Pattern{HTML(`_paq\.push\(\s*\[\s*['"](requireConsent|requireCookieConsent|setConsentGiven|rememberConsentGiven|setCookieConsentGiven)`)},
	},
	{
		ID: "taboola", Name: "Taboola", Company: "Taboola", Category: "advertising",
		Load:    []Pattern{ScriptURL(`cdn\.taboola\.com/libtrc`)},
		Network: []Pattern{Request(`trc(-events)?\.taboola\.com`)},
		Globals: []string{"_tfa"},
	},
	{
		ID: "outbrain", Name: "Outbrain", Company: "Outbrain", Category: "advertising",
		Load:    []Pattern{ScriptURL(`amplify\.outbrain\.com/cp/obtp\.js|widgets\.outbrain\.com`)},
		Network: []Pattern{Request(`tr\.outbrain\.com`)},
		Globals: []string{"obApi"},
	},
	{
		ID: "reddit_pixel", Name: "Reddit Pixel", Company: "Reddit", Category: "advertising",
		Load:    []Pattern{ScriptURL(`redditstatic\.com/ads/pixel\.js`)},
		Network: []Pattern{Request(`alb\.reddit\.com/rp\.gif|pixel-config\.reddit\.com`)},
		Globals: []string{"rdt"},
		IDExpr:  regexp.MustCompile(`rdt\(\s*['"]init['"]\s*,\s*['"]([a-z0-9_]{6,})`),
	},
}

// tagManagers are containers that inject other tags; they are not tracking by themselves.
var tagManagers = []Rule{
	{ID: "Google Tag Manager", Patterns: []Pattern{ScriptURL(`googletagmanager\.com/gtm\.js`), HTML(`\bGTM-[A-Z0-9]{4,8}\b`), Global("google_tag_manager")}},
	{ID: "Tealium iQ", Patterns: []Pattern{ScriptURL(`tags\.tiqcdn\.com/utag`), Global("utag")}},
	{ID: "Adobe Experience Platform Tags", Patterns: []Pattern{ScriptURL(`assets\.adobedtm\.com`), Global("_satellite")}},
	{ID: "Matomo Tag Manager", Patterns: []Pattern{ScriptURL(`/container_[A-Za-z0-9]{6,}\.js`), Global("MatomoTagManager")}},
	{ID: "Commanders Act", Patterns: []Pattern{ScriptURL(`cdn\.tagcommander\.com`), Global("tC")}},
}

// Platform IDs, exported for the compliance checks that address individual vendors.
const (
	PlatformGoogleAnalytics = "google_analytics"
	PlatformGoogleAds       = "google_ads"
	PlatformDoubleClick     = "google_doubleclick"
	PlatformMetaPixel       = "meta_pixel"
	PlatformTikTok          = "tiktok_pixel"
	PlatformMicrosoftAds    = "microsoft_ads"
	PlatformLinkedIn        = "linkedin_insight"
	PlatformClarity         = "microsoft_clarity"
)

// WatchedGlobals lists every window global any extractor checks. The page
// probe must report presence for each of them.
func WatchedGlobals() []string {
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" {
			seen[name] = true
		}
	}
	for _, p := range platforms {
		for _, g := range p.Globals {
			add(g)
		}
	}
	for _, table := range [][]Rule{tagManagers, cmpFingerprints, {tcfAPIRule}} {
		for _, r := range table {
			for _, p := range r.Patterns {
				if p.Source == SourceGlobal {
					add(p.Global)
				}
			}
		}
	}
	add("gtag")
	add("dataLayer")
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Server-side tracking indicators.
var (
	firstPartyGoogleRe = regexp.MustCompile(`/(g/collect|gtag/js|gtm\.js|ns\.html)\b`)
	serverCookieRe     = regexp.MustCompile(`(?i)^\s*(FPID|FPLC|FPGCLAW|FPGCLDC|FPAU|_fplc)=`)
	trackingSubdomains = regexp.MustCompile(`^(sgtm|ss|sst|gtm|tagging|track|tracking|metrics|data|collect|analytics|tm|stape|server)\.`)
	capiGatewayRe      = regexp.MustCompile(`(?i)capig\.|conversions-api|/capi/|graph\.facebook\.com/v\d+\.\d+/\d+/events|business-api\.tiktok\.com/open_api/v\d\.\d/(pixel|event)/track`)
	sgtmConfigRe       = regexp.MustCompile(`(?i)['"]?(server_container_url|transport_url)['"]?\s*:\s*['"]https?://`)
	sgtmHeaderRe       = regexp.MustCompile(`(?i)^(x-gtm-server-preview|x-stape-[a-z-]+|server:\s*(stape|google tag manager))`)
	genericCollectRe   = regexp.MustCompile(`/(collect|track|event|events|pixel|beacon)(\?|/|$)`)
)

// TrackingExtractor builds the tracking-tag inventory.
type TrackingExtractor struct {
	// Technologies, when set, supplements the inventory with fingerprint names.
	Technologies TechnologyDetector
}

// Extract implements the TrackingTags signal.
func (e TrackingExtractor) Extract(c *schemas.CrawlResult) (schemas.TrackingTagsSignal, error) {
	var sig schemas.TrackingTagsSignal
	if err := validate(c); err != nil {
		return sig, err
	}

	for _, tm := range tagManagers {
		if len(MatchRule(c, tm, 1)) > 0 {
			sig.TagManagers = append(sig.TagManagers, tm.ID)
		}
	}

	for _, p := range platforms {
		tag, ok := detectPlatform(c, p, len(sig.TagManagers) > 0)
		if !ok {
			continue
		}
		sig.Tags = append(sig.Tags, tag)
		if tag.Major {
			sig.HasMajorClientSide = true
		} else {
			sig.HasSecondary = true
		}
	}

	sig.ServerSide = serverSideIndicators(c)
	sig.ServerSideDetected = len(sig.ServerSide) > 0

	if e.Technologies != nil {
		sig.Technologies = e.Technologies.Detect(c)
	}
	return sig, nil
}

func detectPlatform(c *schemas.CrawlResult, p platform, tagManagerPresent bool) (schemas.TrackingTag, bool) {
	var hits []Match
	loadHits := 0
	for _, pat := range p.Load {
		h := pat.Find(c, 1)
		loadHits += len(h)
		hits = append(hits, h...)
	}
	networkHits := 0
	for _, pat := range p.Network {
		h := pat.Find(c, 1)
		networkHits += len(h)
		hits = append(hits, h...)
	}
	for _, g := range p.Globals {
		hits = append(hits, Global(g).Find(c, 1)...)
	}
	if len(hits) == 0 {
		return schemas.TrackingTag{}, false
	}

	tag := schemas.TrackingTag{
		Platform:    p.ID,
		Name:        p.Name,
		Company:     p.Company,
		Category:    p.Category,
		Gatekeeper:  p.Gatekeeper,
		Major:       p.Major,
		DetectedVia: Sources(hits),
		FiredOnLoad: networkHits > 0,
		IDs:         extractIDs(c, p.IDExpr),
	}
	for _, pat := range p.Consent {
		if len(pat.Find(c, 1)) > 0 {
			tag.ConsentSignal = true
			break
		}
	}
	// Only judge injection when the raw document was captured; without it every
	// tag would look injected.
	if tagManagerPresent && c.InitialHTML != "" {
		tag.ViaTagManager = !loadedInline(c.InitialHTML, p.Load)
	}
	return tag, true
}

func loadedInline(initial string, load []Pattern) bool {
	for _, pat := range load {
		if pat.Expr != nil && pat.Expr.MatchString(initial) {
			return true
		}
	}
	return false
}

func extractIDs(c *schemas.CrawlResult, re *regexp.Regexp) []string {
	if re == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	collect := func(text string) {
		for _, m := range re.FindAllStringSubmatch(text, 20) {
			for _, g := range m[1:] {
				if g != "" && !seen[g] {
					seen[g] = true
					out = append(out, g)
					break
				}
			}
		}
	}
	collect(c.HTML)
	for _, s := range c.Scripts {
		collect(s.Src)
	}
	for _, r := range c.Requests {
		collect(r.URL)
	}
	sort.Strings(out)
	return out
}

func serverSideIndicators(c *schemas.CrawlResult) []schemas.ServerSideIndicator {
	var out []schemas.ServerSideIndicator
	seen := map[string]bool{}
	add := func(kind, evidence string, conf schemas.Confidence) {
		key := kind + "|" + evidence
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, schemas.ServerSideIndicator{Kind: kind, Evidence: clip(evidence), Confidence: conf})
	}

	siteHost := cookies.HostOf(c.SiteURL())
	site := cookies.RegistrableDomain(siteHost)

	for _, r := range c.Requests {
		u, err := url.Parse(r.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		firstParty := site != "" && cookies.RegistrableDomain(host) == site
		path := u.EscapedPath()
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}

		switch {
		case firstParty && firstPartyGoogleRe.MatchString(path):
			add("first_party_google_endpoint", r.URL, schemas.ConfidenceHigh)
		case firstParty && host != siteHost && trackingSubdomains.MatchString(host) && genericCollectRe.MatchString(path):
			add("tracking_subdomain", host, schemas.ConfidenceMedium)
		case capiGatewayRe.MatchString(r.URL):
			add("conversions_api", r.URL, schemas.ConfidenceMedium)
		case firstParty && genericCollectRe.MatchString(path) && !strings.EqualFold(r.ResourceType, "document"):
			add("first_party_collect", r.URL, schemas.ConfidenceLow)
		}

		for k, v := range r.ResponseHeaders {
			if sgtmHeaderRe.MatchString(strings.ToLower(k) + ": " + v) {
				add("tagging_server_header", strings.ToLower(k), schemas.ConfidenceLow)
			}
		}
	}

	for _, h := range c.SetCookieHeaders {
		if serverCookieRe.MatchString(h.Value) {
			name, _, _ := strings.Cut(h.Value, "=")
			add("server_set_cookie", strings.TrimSpace(name), schemas.ConfidenceHigh)
		}
	}
	if m := sgtmConfigRe.FindString(c.HTML); m != "" {
		add("server_container_config", m, schemas.ConfidenceMedium)
	}
	for k, v := range c.DocumentHeaders {
		if sgtmHeaderRe.MatchString(strings.ToLower(k) + ": " + v) {
			add("tagging_server_header", strings.ToLower(k), schemas.ConfidenceLow)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return confidenceRank(out[i].Confidence) < confidenceRank(out[j].Confidence)
	})
	return out
}

func confidenceRank(c schemas.Confidence) int {
	switch c {
	case schemas.ConfidenceHigh:
		return 0
	case schemas.ConfidenceMedium:
		return 1
	default:
		return 2
	}
}
