// Package cookies categorizes, analyzes and diffs cookie snapshots.
package cookies

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// rule maps a cookie name pattern (and optionally a domain suffix) to a category.
type rule struct {
	name     *regexp.Regexp
	domain   string
	category schemas.CookieCategory
	service  string
}

func r(expr string, category schemas.CookieCategory, service string) rule {
	return rule{name: regexp.MustCompile(expr), category: category, service: service}
}

func rd(expr, domain string, category schemas.CookieCategory, service string) rule {
	return rule{name: regexp.MustCompile(expr), domain: domain, category: category, service: service}
}

// nameRules is evaluated top to bottom; the first match wins.
var nameRules = []rule{
	// Consent state.
	r(`^CookieConsent$`, schemas.CategoryNecessary, "Cookiebot"),
	r(`^CookieConsentBulkSetting`, schemas.CategoryNecessary, "Cookiebot"),
	r(`^Optanon(Consent|AlertBoxClosed)$`, schemas.CategoryNecessary, "OneTrust"),
	r(`^(eu|eupub)consent(-v2)?$`, schemas.CategoryNecessary, "IAB TCF"),
	r(`^uc_(settings|user_interaction|gcm)`, schemas.CategoryNecessary, "Usercentrics"),
	r(`^didomi_token$`, schemas.CategoryNecessary, "Didomi"),
	r(`^borlabs-cookie$`, schemas.CategoryNecessary, "Borlabs Cookie"),
	r(`^cmplz_`, schemas.CategoryNecessary, "Complianz"),
	r(`^__cmpc`, schemas.CategoryNecessary, "consentmanager"),
	r(`^klaro$`, schemas.CategoryNecessary, "Klaro"),
	r(`^cookieyes-consent$`, schemas.CategoryNecessary, "CookieYes"),
	r(`^cc_cookie$`, schemas.CategoryNecessary, "CookieConsent"),
	r(`^real_cookie_banner`, schemas.CategoryNecessary, "Real Cookie Banner"),

	// Sessions, security, load balancing.
	r(`^(PHPSESSID|JSESSIONID|ASP\.NET_SessionId|ASPSESSIONID.*|CFID|CFTOKEN|sessionid|session|sid)$`, schemas.CategoryNecessary, ""),
	r(`^(csrftoken|XSRF-TOKEN|_csrf|csrf_token|__RequestVerificationToken)$`, schemas.CategoryNecessary, ""),
	r(`^(__cf_bm|cf_clearance|__cfruid|_cfuvid|__cflb)$`, schemas.CategoryNecessary, "Cloudflare"),
	r(`^(AWSALB|AWSALBCORS|AWSELB)$`, schemas.CategoryNecessary, "AWS"),
	r(`^_GRECAPTCHA$`, schemas.CategoryNecessary, "Google reCAPTCHA"),
	r(`^(wordpress_logged_in_|wordpress_sec_|wp_woocommerce_session_|woocommerce_cart_hash|woocommerce_items_in_cart)`, schemas.CategoryNecessary, "WordPress"),
	r(`^(_shopify_s|_shopify_y|cart|cart_sig|secure_customer_sig|_secure_session_id)$`, schemas.CategoryNecessary, "Shopify"),

	// Functional.
	r(`^(lang|language|locale|pll_language|i18n_redirected|currency|wp-settings-.*|wp-wpml_current_language)$`, schemas.CategoryFunctional, ""),

	// Analytics.
	r(`^_ga$`, schemas.CategoryAnalytics, "Google Analytics"),
	r(`^_ga_[A-Z0-9]+$`, schemas.CategoryAnalytics, "Google Analytics"),
	r(`^(_gid|_gat|_gat_.*|_dc_gtm_.*|AMP_TOKEN|__utm[abcvtz])$`, schemas.CategoryAnalytics, "Google Analytics"),
	r(`^(FPID|FPLC|FPAU)$`, schemas.CategoryAnalytics, "Google Analytics (server-side)"),
	r(`^_hj`, schemas.CategoryAnalytics, "Hotjar"),
	r(`^(_pk_id|_pk_ses|_pk_ref|_pk_cvar|_pk_hsr)`, schemas.CategoryAnalytics, "Matomo"),
	r(`^(MATOMO_SESSID|PIWIK_SESSID)$`, schemas.CategoryAnalytics, "Matomo"),
	r(`^(_clck|_clsk)$`, schemas.CategoryAnalytics, "Microsoft Clarity"),
	r(`^(ajs_user_id|ajs_anonymous_id|ajs_group_id)$`, schemas.CategoryAnalytics, "Segment"),
	r(`^(amplitude_id.*|AMP_.*)$`, schemas.CategoryAnalytics, "Amplitude"),
	r(`^mp_.*_mixpanel$`, schemas.CategoryAnalytics, "Mixpanel"),
	r(`^(_vwo_.*|_vis_opt_.*)$`, schemas.CategoryAnalytics, "VWO"),
	r(`^(s_cc|s_sq|s_vi|s_fid|AMCV_.*|AMCVS_.*)$`, schemas.CategoryAnalytics, "Adobe Analytics"),
	r(`^(et_coid|_et_.*)$`, schemas.CategoryAnalytics, "etracker"),

	// Marketing.
	r(`^(__Host-|__Secure-)?(YSC|VISITOR_INFO1_LIVE|VISITOR_PRIVACY_METADATA)$`, schemas.CategoryMarketing, "YouTube"),
	r(`^(_fbp|_fbc)$`, schemas.CategoryMarketing, "Meta Pixel"),
	r(`^(_gcl_au|_gcl_aw|_gcl_dc|_gcl_gb|_gcl_gs|_gcl_ag|FPGCLAW|FPGCLDC|FPGCLAG)$`, schemas.CategoryMarketing, "Google Ads"),
	r(`^(__gads|__gpi|__eoi)$`, schemas.CategoryMarketing, "Google AdSense"),
	r(`^(_uetsid|_uetvid|_uetmsclkid)$`, schemas.CategoryMarketing, "Microsoft Advertising"),
	r(`^(_ttp|_tt_enable_cookie|ttcsid.*)$`, schemas.CategoryMarketing, "TikTok Pixel"),
	r(`^(li_sugr|li_fat_id|_li_ss|li_giant|UserMatchHistory|AnalyticsSyncHistory|bcookie|lidc|li_gc)$`, schemas.CategoryMarketing, "LinkedIn"),
	r(`^(_pinterest_sess|_pin_unauth|_pinterest_ct_ua|_pinterest_ct_rt|_epik|_derived_epik)$`, schemas.CategoryMarketing, "Pinterest"),
	r(`^(_scid|_scid_r|_sctr|sc_at)$`, schemas.CategoryMarketing, "Snapchat"),
	r(`^(_rdt_uuid|_rdt_cid)$`, schemas.CategoryMarketing, "Reddit"),
	r(`^(cto_bundle|cto_bidid|cto_dna_bundle|criteo_write_test)$`, schemas.CategoryMarketing, "Criteo"),
	r(`^(t_gid|t_pt_gid|taboola_.*|_tfpvi)$`, schemas.CategoryMarketing, "Taboola"),
	r(`^(obuid|outbrain_cid_fetch)$`, schemas.CategoryMarketing, "Outbrain"),
	r(`^(muc_ads|personalization_id|guest_id|guest_id_ads|guest_id_marketing)$`, schemas.CategoryMarketing, "X (Twitter)"),
	r(`^(_awl|awin.*)$`, schemas.CategoryMarketing, "Awin"),

	// Provider-scoped names that are too generic to match on their own.
	rd(`^(IDE|DSID|test_cookie|RUL|ar_debug|FLC|FPAU)$`, "doubleclick.net", schemas.CategoryMarketing, "Google DoubleClick"),
	rd(`^(NID|AEC|1P_JAR|SOCS|__Secure-ENID|CONSENT)$`, "google.com", schemas.CategoryMarketing, "Google"),
	rd(`^(fr|datr|sb|xs|c_user)$`, "facebook.com", schemas.CategoryMarketing, "Meta"),
	rd(`^(MUID|MR|SRCHD|SRCHUID|_EDGE_S|_EDGE_V)$`, "bing.com", schemas.CategoryMarketing, "Microsoft Advertising"),
	rd(`^(MUID)$`, "clarity.ms", schemas.CategoryAnalytics, "Microsoft Clarity"),
	rd(`^(ttwid|tt_chain_token|tt_csrf_token|msToken)$`, "tiktok.com", schemas.CategoryMarketing, "TikTok"),
	rd(`^(uuid2|anj|icu)$`, "adnxs.com", schemas.CategoryMarketing, "Xandr"),
	rd(`^(uid|uids)$`, "criteo.com", schemas.CategoryMarketing, "Criteo"),
}

// domainRules categorize cookies of well-known tracker domains whose names are unknown.
var domainRules = []struct {
	suffix   string
	category schemas.CookieCategory
	service  string
}{
	{"doubleclick.net", schemas.CategoryMarketing, "Google DoubleClick"},
	{"google-analytics.com", schemas.CategoryAnalytics, "Google Analytics"},
	{"googleadservices.com", schemas.CategoryMarketing, "Google Ads"},
	{"facebook.com", schemas.CategoryMarketing, "Meta"},
	{"linkedin.com", schemas.CategoryMarketing, "LinkedIn"},
	{"ads.linkedin.com", schemas.CategoryMarketing, "LinkedIn"},
	{"bing.com", schemas.CategoryMarketing, "Microsoft Advertising"},
	{"tiktok.com", schemas.CategoryMarketing, "TikTok"},
	{"hotjar.com", schemas.CategoryAnalytics, "Hotjar"},
	{"clarity.ms", schemas.CategoryAnalytics, "Microsoft Clarity"},
	{"criteo.com", schemas.CategoryMarketing, "Criteo"},
	{"adnxs.com", schemas.CategoryMarketing, "Xandr"},
	{"pinterest.com", schemas.CategoryMarketing, "Pinterest"},
	{"snapchat.com", schemas.CategoryMarketing, "Snapchat"},
	{"twitter.com", schemas.CategoryMarketing, "X (Twitter)"},
	{"x.com", schemas.CategoryMarketing, "X (Twitter)"},
	{"taboola.com", schemas.CategoryMarketing, "Taboola"},
	{"outbrain.com", schemas.CategoryMarketing, "Outbrain"},
	{"youtube.com", schemas.CategoryMarketing, "YouTube"},
	{"rubiconproject.com", schemas.CategoryMarketing, "Magnite"},
	{"pubmatic.com", schemas.CategoryMarketing, "PubMatic"},
	{"casalemedia.com", schemas.CategoryMarketing, "Index Exchange"},
}

// Categorize derives a cookie's category and attributed service from its name and domain.
// It is a pure function: equal inputs always give equal outputs.
func Categorize(name, domain string) (schemas.CookieCategory, string) {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	for _, rl := range nameRules {
		if rl.domain != "" && !domainMatches(domain, rl.domain) {
			continue
		}
		if rl.name.MatchString(name) {
			return rl.category, rl.service
		}
	}
	for _, d := range domainRules {
		if domainMatches(domain, d.suffix) {
			return d.category, d.service
		}
	}
	return schemas.CategoryUnknown, ""
}

func domainMatches(domain, suffix string) bool {
	return domain == suffix || strings.HasSuffix(domain, "."+suffix)
}
