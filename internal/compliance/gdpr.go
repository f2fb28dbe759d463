package compliance

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// gdprCheck evaluates one checklist item.
type gdprCheck struct {
	ID    string
	Title string
	Eval  func(in Input) (schemas.CheckStatus, string)
}

// gdprChecks is the fixed, ordered GDPR checklist.
var gdprChecks = []gdprCheck{
	{"banner_present", "Cookie-Banner vorhanden", checkBannerPresent},
	{"reject_option", "Ablehnen-Option auf erster Ebene", checkRejectOption},
	{"balanced_choice", "Gleichwertige Zustimmungs- und Ablehnungsoption", checkBalancedChoice},
	{"settings_option", "Granulare Einstellungsmöglichkeit", checkSettingsOption},
	{"no_tracking_before_consent", "Keine Tracking-Cookies vor Einwilligung", checkNoTrackingCookiesBeforeConsent},
	{"no_tracking_requests_before_consent", "Keine Tracking-Requests vor Einwilligung", checkNoTrackingRequestsBeforeConsent},
	{"reject_effective", "Ablehnung wird respektiert", checkRejectEffective},
	{"accept_works", "Zustimmung wird korrekt umgesetzt", checkAcceptWorks},
	{"consent_mode", "Google Consent Mode implementiert", checkConsentMode},
	{"consent_mode_v2", "Consent Mode v2 (ad_user_data, ad_personalization)", checkConsentModeV2},
	{"consent_mode_defaults_denied", "Consent-Mode-Standardwerte auf denied", checkConsentModeDefaults},
	{"consent_mode_update", "Consent-Mode-Update an Banner gekoppelt", checkConsentModeUpdate},
	{"tcf_valid", "Gültiger TCF-String", checkTCF},
	{"cookie_lifetime", "Angemessene Cookie-Laufzeiten", checkCookieLifetime},
	{"third_country_transfer", "Drittlandtransfers geprüft", checkThirdCountry},
	{"server_side_transparency", "Server-Side-Tracking transparent", checkServerSide},
}

// GDPRCheckIDs lists the checklist IDs in evaluation order.
func GDPRCheckIDs() []string {
	out := make([]string, len(gdprChecks))
	for i, c := range gdprChecks {
		out[i] = c.ID
	}
	return out
}

// EvaluateGDPR runs the checklist. Every check yields exactly one status.
func EvaluateGDPR(in Input) schemas.GDPRChecklist {
	var cl schemas.GDPRChecklist
	for _, c := range gdprChecks {
		status, why := c.Eval(in)
		cl.Checks = append(cl.Checks, schemas.ComplianceCheck{ID: c.ID, Title: c.Title, Status: status, Justification: why})
		switch status {
		case schemas.StatusPassed:
			cl.Passed++
		case schemas.StatusFailed:
			cl.Failed++
		case schemas.StatusWarning:
			cl.Warnings++
		default:
			cl.NotApplicable++
		}
	}
	cl.Total = len(cl.Checks)
	return cl
}

const (
	passed = schemas.StatusPassed
	failed = schemas.StatusFailed
	warn   = schemas.StatusWarning
	na     = schemas.StatusNotApplicable
)

func checkBannerPresent(in Input) (schemas.CheckStatus, string) {
	b := in.Signals.CookieBanner
	switch {
	case b.Detected && b.CMP != "":
		return passed, fmt.Sprintf("Consent-Banner von %s erkannt.", b.CMP)
	case b.Detected:
		return passed, "Consent-Banner anhand typischer Formulierungen erkannt."
	case HasTracking(in):
		return failed, "Es wird Tracking eingesetzt, aber kein Consent-Banner angezeigt."
	default:
		return na, "Kein Banner erkannt, aber auch kein einwilligungspflichtiges Tracking."
	}
}

func checkRejectOption(in Input) (schemas.CheckStatus, string) {
	b := in.Signals.CookieBanner
	if !b.Detected {
		return na, "Kein Banner vorhanden."
	}
	if b.HasRejectButton {
		return passed, "Eine Ablehnen-Schaltfläche ist direkt sichtbar."
	}
	if arm, ok := rejectArm(in); ok && arm.Outcome.Succeeded() {
		return warn, fmt.Sprintf("Ablehnen ist nur über %s erreichbar.", arm.Outcome.Method)
	}
	return failed, "Keine Ablehnen-Option auf der ersten Ebene gefunden."
}

func checkBalancedChoice(in Input) (schemas.CheckStatus, string) {
	b := in.Signals.CookieBanner
	switch {
	case !b.Detected:
		return na, "Kein Banner vorhanden."
	case b.HasAcceptButton && b.HasRejectButton:
		return passed, "Zustimmen und Ablehnen werden gleichrangig angeboten."
	case b.HasAcceptButton:
		return failed, "Zustimmen ist einfacher als Ablehnen."
	default:
		return warn, "Die Schaltflächen des Banners konnten nicht eindeutig zugeordnet werden."
	}
}

func checkSettingsOption(in Input) (schemas.CheckStatus, string) {
	b := in.Signals.CookieBanner
	switch {
	case !b.Detected:
		return na, "Kein Banner vorhanden."
	case b.HasSettingsButton:
		return passed, "Individuelle Einstellungen sind verfügbar."
	default:
		return warn, "Keine Möglichkeit zur granularen Auswahl gefunden."
	}
}

func checkNoTrackingCookiesBeforeConsent(in Input) (schemas.CheckStatus, string) {
	pre := preConsentTracking(in)
	if len(pre) == 0 {
		return passed, "Vor der Einwilligung wurden keine Analyse- oder Marketing-Cookies gesetzt."
	}
	return failed, fmt.Sprintf("%d Tracking-Cookies vor Einwilligung: %s.", len(pre), strings.Join(names(pre, 8), ", "))
}

func checkNoTrackingRequestsBeforeConsent(in Input) (schemas.CheckStatus, string) {
	tags := in.Signals.TrackingTags.Tags
	if len(tags) == 0 {
		return na, "Keine Tracking-Tags erkannt."
	}
	if pf := prefiring(in); len(pf) > 0 {
		return failed, fmt.Sprintf("Ohne Einwilligung gesendet: %s.", tagNames(pf))
	}
	var signalled []schemas.TrackingTag
	for _, t := range tags {
		if t.FiredOnLoad {
			signalled = append(signalled, t)
		}
	}
	if len(signalled) > 0 {
		return warn, fmt.Sprintf("Requests vor Einwilligung mit Consent-Signal (z. B. cookielose Pings): %s.", tagNames(signalled))
	}
	return passed, "Vor der Einwilligung wurden keine Tracking-Requests gesendet."
}

func checkRejectEffective(in Input) (schemas.CheckStatus, string) {
	arm, ok := rejectArm(in)
	if !ok {
		return na, "Kein Consent-Test durchgeführt."
	}
	if !arm.Outcome.Succeeded() {
		if !in.Signals.CookieBanner.Detected {
			return na, "Kein Banner vorhanden."
		}
		return warn, "Die Ablehnung konnte nicht automatisiert ausgelöst werden."
	}
	if arm.Reclassified {
		return warn, "Die gewählte Speichern-Aktion wirkte wie eine Zustimmung."
	}
	if n := rejectAddedTracking(arm); n > 0 {
		return failed, fmt.Sprintf("Nach Ablehnung wurden %d Tracking-Cookies gesetzt.", n)
	}
	return passed, "Nach Ablehnung wurden keine neuen Tracking-Cookies gesetzt."
}

func checkAcceptWorks(in Input) (schemas.CheckStatus, string) {
	arm, ok := acceptArm(in)
	if !ok {
		return na, "Kein Consent-Test durchgeführt."
	}
	if !arm.Outcome.Succeeded() {
		if !in.Signals.CookieBanner.Detected {
			return na, "Kein Banner vorhanden."
		}
		return warn, "Die Zustimmung konnte nicht automatisiert ausgelöst werden."
	}
	return passed, fmt.Sprintf("Zustimmung über %s ausgelöst, %d neue Cookies.", arm.Outcome.Method, len(arm.NewCookies))
}

func checkConsentMode(in Input) (schemas.CheckStatus, string) {
	if !hasGoogleTags(in) {
		return na, "Keine Google-Tags erkannt."
	}
	if in.Signals.ConsentMode.Detected {
		return passed, fmt.Sprintf("Consent Mode %s erkannt.", in.Signals.ConsentMode.Version)
	}
	return failed, "Google-Tags ohne Consent Mode."
}

func checkConsentModeV2(in Input) (schemas.CheckStatus, string) {
	cm := in.Signals.ConsentMode
	if !cm.Detected {
		return na, "Consent Mode nicht erkannt."
	}
	if cm.Version == "v2" {
		return passed, "ad_user_data und ad_personalization werden gesetzt."
	}
	return warn, "Nur Consent Mode v1; ad_user_data und ad_personalization fehlen."
}

func checkConsentModeDefaults(in Input) (schemas.CheckStatus, string) {
	cm := in.Signals.ConsentMode
	if !cm.Detected {
		return na, "Consent Mode nicht erkannt."
	}
	if !cm.HasDefault {
		return failed, "Kein consent default vor dem Laden der Tags."
	}
	var granted, missing []string
	for _, key := range []string{"ad_storage", "analytics_storage"} {
		switch cm.DefaultPayload[key] {
		case "denied":
		case "granted":
			granted = append(granted, key)
		default:
			missing = append(missing, key)
		}
	}
	switch {
	case len(granted) > 0:
		return failed, fmt.Sprintf("Standardwerte auf granted: %s.", strings.Join(granted, ", "))
	case len(missing) > 0:
		return warn, fmt.Sprintf("Kein Standardwert für: %s.", strings.Join(missing, ", "))
	default:
		return passed, "ad_storage und analytics_storage starten mit denied."
	}
}

func checkConsentModeUpdate(in Input) (schemas.CheckStatus, string) {
	cm := in.Signals.ConsentMode
	switch {
	case !cm.Detected:
		return na, "Consent Mode nicht erkannt."
	case cm.UpdateWired:
		return passed, "consent update wird vom Banner ausgelöst."
	case cm.HasUpdate:
		return warn, "consent update vorhanden, aber keine Kopplung an den Banner erkennbar."
	default:
		return failed, "Kein consent update gefunden."
	}
}

func checkTCF(in Input) (schemas.CheckStatus, string) {
	t := in.Signals.TCF
	switch {
	case !t.Detected:
		return na, "TCF wird nicht eingesetzt."
	case t.TCString == "":
		return warn, "TCF-API vorhanden, aber kein TC-String gefunden."
	case t.ValidString:
		return passed, fmt.Sprintf("Gültiger TC-String (Quelle: %s).", t.Source)
	default:
		return failed, "Der TC-String ist strukturell ungültig."
	}
}

func checkCookieLifetime(in Input) (schemas.CheckStatus, string) {
	if len(in.Cookies) == 0 {
		return na, "Keine Cookies gefunden."
	}
	var long []schemas.AnalyzedCookie
	for _, c := range in.Cookies {
		if c.IsLongLived {
			long = append(long, c)
		}
	}
	if len(long) > 0 {
		return warn, fmt.Sprintf("Laufzeit über 400 Tage: %s.", strings.Join(names(long, 8), ", "))
	}
	return passed, "Alle Cookie-Laufzeiten liegen unter 400 Tagen."
}

func checkThirdCountry(in Input) (schemas.CheckStatus, string) {
	tp := in.Signals.ThirdPartyDomains
	switch {
	case tp.Skipped:
		return na, "Drittanbieter-Analyse übersprungen."
	case len(tp.HighRisk) > 0:
		return failed, fmt.Sprintf("Übermittlung in Hochrisiko-Drittländer: %s.", strings.Join(tp.HighRisk, ", "))
	case len(tp.NonEU) > 0:
		return warn, fmt.Sprintf("%d Drittanbieter außerhalb des EWR.", len(tp.NonEU))
	case len(tp.Domains) == 0:
		return na, "Keine Drittanbieter-Requests."
	default:
		return passed, "Alle bekannten Drittanbieter sitzen im EWR."
	}
}

func checkServerSide(in Input) (schemas.CheckStatus, string) {
	tt := in.Signals.TrackingTags
	if !tt.ServerSideDetected {
		return na, "Kein Server-Side-Tracking erkannt."
	}
	return warn, fmt.Sprintf("%d Hinweise auf Server-Side-Tracking; muss in der Datenschutzerklärung offengelegt werden.", len(tt.ServerSide))
}

func tagNames(tags []schemas.TrackingTag) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Name
	}
	return strings.Join(out, ", ")
}
