package consent

import (
	"github.com/xkilldash9x/consentscope/api/schemas"
)

// CMPSelectors are the known CSS selectors of one consent management platform.
// CMP names match the banner fingerprints of the signals package.
type CMPSelectors struct {
	CMP      string
	Accept   []string
	Reject   []string
	Settings []string
	Save     []string
}

var cmpSelectors = []CMPSelectors{
	{
		CMP:      "Cookiebot",
		Accept:   []string{"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll", "#CybotCookiebotDialogBodyButtonAccept"},
		Reject:   []string{"#CybotCookiebotDialogBodyButtonDecline"},
		Settings: []string{"#CybotCookiebotDialogBodyLevelButtonCustomize", "#CybotCookiebotDialogBodyButtonDetails"},
		Save:     []string{"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowallSelection"},
	},
	{
		CMP:      "OneTrust",
		Accept:   []string{"#onetrust-accept-btn-handler", "#accept-recommended-btn-handler"},
		Reject:   []string{"#onetrust-reject-all-handler", ".ot-pc-refuse-all-handler"},
		Settings: []string{"#onetrust-pc-btn-handler"},
		Save:     []string{".save-preference-btn-handler"},
	},
	{
		CMP:      "Usercentrics",
		Accept:   []string{`[data-testid="uc-accept-all-button"]`},
		Reject:   []string{`[data-testid="uc-deny-all-button"]`},
		Settings: []string{`[data-testid="uc-more-button"]`},
		Save:     []string{`[data-testid="uc-save-button"]`},
	},
	{
		CMP:      "Didomi",
		Accept:   []string{"#didomi-notice-agree-button"},
		Reject:   []string{"#didomi-notice-disagree-button", ".didomi-continue-without-agreeing"},
		Settings: []string{"#didomi-notice-learn-more-button"},
		Save:     []string{".didomi-consent-popup-actions .didomi-button-highlight"},
	},
	{
		CMP:      "consentmanager",
		Accept:   []string{"#cmpbntyestxt", ".cmpboxbtnyes"},
		Reject:   []string{"#cmpbntnotxt", ".cmpboxbtnno"},
		Settings: []string{".cmpboxbtncustom"},
		Save:     []string{".cmpboxbtnsave"},
	},
	{
		CMP:      "Borlabs Cookie",
		Accept:   []string{"a[data-cookie-accept-all]", ".brlbs-btn-accept-all"},
		Reject:   []string{"a[data-cookie-refuse]", ".brlbs-btn-accept-only-essential"},
		Settings: []string{"a[data-cookie-individual]", ".brlbs-btn-individual-settings"},
		Save:     []string{"a[data-cookie-accept]", ".brlbs-btn-save"},
	},
	{
		CMP:      "Complianz",
		Accept:   []string{".cmplz-btn.cmplz-accept"},
		Reject:   []string{".cmplz-btn.cmplz-deny"},
		Settings: []string{".cmplz-btn.cmplz-view-preferences"},
		Save:     []string{".cmplz-btn.cmplz-save-preferences"},
	},
	{
		CMP:      "CookieYes",
		Accept:   []string{".cky-btn-accept"},
		Reject:   []string{".cky-btn-reject"},
		Settings: []string{".cky-btn-customize"},
		Save:     []string{".cky-btn-preferences"},
	},
	{
		CMP:      "Klaro",
		Accept:   []string{".cm-btn-accept-all", ".cn-buttons .cm-btn-success"},
		Reject:   []string{".cm-btn-decline", ".cn-decline"},
		Settings: []string{".cn-learn-more"},
		Save:     []string{".cm-btn-accept"},
	},
	{
		CMP:      "Quantcast Choice",
		Accept:   []string{`.qc-cmp2-summary-buttons button[mode="primary"]`},
		Settings: []string{`.qc-cmp2-summary-buttons button[mode="secondary"]`},
		Save:     []string{`.qc-cmp2-footer button[mode="primary"]`},
	},
	{
		CMP:      "TrustArc",
		Accept:   []string{"#truste-consent-button"},
		Reject:   []string{"#truste-consent-required"},
		Settings: []string{"#truste-show-consent"},
	},
	{
		CMP:      "Sourcepoint",
		Accept:   []string{"button.sp_choice_type_11"},
		Reject:   []string{"button.sp_choice_type_13"},
		Settings: []string{"button.sp_choice_type_12"},
		Save:     []string{"button.sp_choice_type_SAVE_AND_EXIT"},
	},
	{
		CMP:      "iubenda",
		Accept:   []string{".iubenda-cs-accept-btn"},
		Reject:   []string{".iubenda-cs-reject-btn"},
		Settings: []string{".iubenda-cs-customize-btn"},
	},
	{
		CMP:      "Osano",
		Accept:   []string{".osano-cm-accept-all"},
		Reject:   []string{".osano-cm-denyAll", ".osano-cm-button--type_deny"},
		Settings: []string{".osano-cm-manage"},
		Save:     []string{".osano-cm-save"},
	},
	{
		CMP:    "Termly",
		Accept: []string{`[data-tid="banner-accept"]`},
		Reject: []string{`[data-tid="banner-decline"]`},
	},
	{
		CMP:      "CookieFirst",
		Accept:   []string{`[data-cookiefirst-action="accept"]`},
		Reject:   []string{`[data-cookiefirst-action="reject"]`},
		Settings: []string{`[data-cookiefirst-action="adjust"]`},
		Save:     []string{`[data-cookiefirst-action="save"]`},
	},
	{
		CMP:      "Cookie Script",
		Accept:   []string{"#cookiescript_accept"},
		Reject:   []string{"#cookiescript_reject"},
		Settings: []string{"#cookiescript_manage"},
		Save:     []string{"#cookiescript_save"},
	},
	{
		CMP:      "Axeptio",
		Accept:   []string{"#axeptio_btn_acceptAll"},
		Reject:   []string{"#axeptio_btn_dismiss"},
		Settings: []string{"#axeptio_btn_configure"},
	},
	{
		CMP:      "CookieConsent",
		Accept:   []string{`#cc-main [data-role="all"]`, ".cc-allow", ".cc-btn.cc-dismiss"},
		Reject:   []string{`#cc-main [data-role="necessary"]`, ".cc-deny"},
		Settings: []string{`[data-cc="show-preferencesModal"]`},
		Save:     []string{`#cc-main [data-role="save"]`},
	},
	{
		CMP:      "CookieHub",
		Accept:   []string{".ch2-allow-all-btn"},
		Reject:   []string{".ch2-deny-all-btn"},
		Settings: []string{".ch2-open-settings-btn"},
		Save:     []string{".ch2-save-settings-btn"},
	},
	{
		CMP:      "Shopify Privacy",
		Accept:   []string{"#shopify-pc__banner__btn-accept"},
		Reject:   []string{"#shopify-pc__banner__btn-decline"},
		Settings: []string{"#shopify-pc__banner__btn-manage-prefs"},
		Save:     []string{"#shopify-pc__prefs__header-save"},
	},
	{
		CMP:      "Google Funding Choices",
		Accept:   []string{".fc-cta-consent"},
		Reject:   []string{".fc-cta-do-not-consent"},
		Settings: []string{".fc-cta-manage-options"},
		Save:     []string{".fc-confirm-choices"},
	},
}

// selectorRef is one CSS selector handed to the in-page traversal.
type selectorRef struct {
	Selector string                `json:"sel"`
	CMP      string                `json:"cmp"`
	Action   schemas.ConsentAction `json:"action"`
}

func (c CMPSelectors) byAction() map[schemas.ConsentAction][]string {
	return map[schemas.ConsentAction][]string{
		schemas.ActionAccept:   c.Accept,
		schemas.ActionReject:   c.Reject,
		schemas.ActionSettings: c.Settings,
		schemas.ActionSave:     c.Save,
	}
}

// allSelectors flattens the table in CMP order.
func allSelectors() []selectorRef {
	var out []selectorRef
	for _, c := range cmpSelectors {
		for _, action := range []schemas.ConsentAction{schemas.ActionAccept, schemas.ActionReject, schemas.ActionSettings, schemas.ActionSave} {
			for _, sel := range c.byAction()[action] {
				out = append(out, selectorRef{Selector: sel, CMP: c.CMP, Action: action})
			}
		}
	}
	return out
}

// KnownCMPs lists the platforms that have selector coverage.
func KnownCMPs() []string {
	out := make([]string, 0, len(cmpSelectors))
	for _, c := range cmpSelectors {
		out = append(out, c.CMP)
	}
	return out
}
