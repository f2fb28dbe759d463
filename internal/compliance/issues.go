package compliance

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Issue categories.
const (
	CategoryBanner       = "cookie-banner"
	CategoryTracking     = "tracking"
	CategoryConsent      = "consent"
	CategoryConsentMode  = "consent-mode"
	CategoryTCF          = "tcf"
	CategoryCookies      = "cookies"
	CategoryDataTransfer = "data-transfer"
	CategoryServerSide   = "server-side"
	CategoryDMA          = "dma"
)

// Titles referenced by callers and tests.
const (
	TitleNoBanner            = "Kein Cookie-Banner erkannt"
	TitleNoTracking          = "Kein Tracking erkannt"
	TitleTrackingAfterReject = "Tracking trotz Ablehnung"
	TitleSaveActsAsAccept    = "Speichern-Schaltfläche wirkt wie Zustimmung"
	TitleConsentModeMissing  = "Google Consent Mode fehlt"
)

type issueBuilder struct {
	issues []schemas.Issue
}

func (b *issueBuilder) add(sev schemas.Severity, cat, title, desc, rec string) {
	b.issues = append(b.issues, schemas.Issue{
		Severity:       sev,
		Category:       cat,
		Title:          title,
		Description:    desc,
		Recommendation: rec,
	})
}

// GenerateIssues walks every signal and the experiment outcome. The result is
// sorted by severity.
func GenerateIssues(in Input) []schemas.Issue {
	b := &issueBuilder{}
	tracking := HasTracking(in)

	bannerIssues(b, in, tracking)
	trackingIssues(b, in, tracking)
	experimentIssues(b, in)
	consentModeIssues(b, in)
	tcfIssues(b, in)
	cookieIssues(b, in)
	transferIssues(b, in)
	dmaIssues(b, in)
	b.issues = append(b.issues, in.Signals.DataLayer.Ecommerce.Issues...)

	SortIssues(b.issues)
	return b.issues
}

func bannerIssues(b *issueBuilder, in Input, tracking bool) {
	banner := in.Signals.CookieBanner
	if !banner.Detected {
		if tracking {
			b.add(schemas.SeverityError, CategoryBanner, TitleNoBanner,
				"Die Website setzt Tracking ein, zeigt aber keinen Consent-Banner an. Eine Einwilligung nach Art. 6 Abs. 1 lit. a DSGVO und § 25 TDDDG wird nicht eingeholt.",
				"Binden Sie eine Consent-Management-Plattform ein und laden Sie Tracking erst nach Einwilligung.")
		} else {
			b.add(schemas.SeverityInfo, CategoryBanner, TitleNoBanner,
				"Es wurde kein Consent-Banner gefunden. Da auch kein Tracking erkannt wurde, ist das unkritisch.",
				"")
		}
		return
	}
	if !banner.HasRejectButton {
		sev := schemas.SeverityError
		desc := "Der Banner bietet auf der ersten Ebene keine Ablehnen-Option."
		if arm, ok := rejectArm(in); ok && arm.Outcome.Succeeded() {
			sev = schemas.SeverityWarning
			desc = fmt.Sprintf("Ablehnen ist nur über einen zusätzlichen Schritt (%s) möglich.", arm.Outcome.Method)
		}
		if !tracking {
			// Nothing to refuse yet; the gap only matters once tracking is added.
			sev = schemas.SeverityInfo
		}
		b.add(sev, CategoryBanner, "Keine Ablehnen-Option auf erster Ebene", desc,
			"Bieten Sie \"Alle ablehnen\" gleichwertig neben \"Alle akzeptieren\" an.")
	}
	if !banner.HasSettingsButton {
		b.add(schemas.SeverityInfo, CategoryBanner, "Keine granularen Einstellungen",
			"Nutzer können keine einzelnen Zwecke auswählen.",
			"Ergänzen Sie eine Einstellungsebene mit einzeln wählbaren Kategorien.")
	}
	if banner.BlocksInteraction {
		b.add(schemas.SeverityInfo, CategoryBanner, "Banner blockiert die Seite",
			"Der Banner sperrt das Scrollen oder überlagert die Seite vollständig (Cookie-Wall).",
			"Stellen Sie sicher, dass die Ablehnung ebenso einfach ist wie die Zustimmung.")
	}
}

func trackingIssues(b *issueBuilder, in Input, tracking bool) {
	if !tracking {
		b.add(schemas.SeverityInfo, CategoryTracking, TitleNoTracking,
			"Es wurden weder Tracking-Tags noch Analyse- oder Marketing-Cookies gefunden.", "")
		return
	}
	if pre := preConsentTracking(in); len(pre) > 0 {
		b.add(schemas.SeverityError, CategoryTracking, "Tracking-Cookies vor Einwilligung",
			fmt.Sprintf("Vor jeder Interaktion mit dem Banner wurden %d Tracking-Cookies gesetzt: %s.", len(pre), strings.Join(names(pre, 10), ", ")),
			"Blockieren Sie Analyse- und Marketing-Skripte, bis eine Einwilligung vorliegt.")
	}
	if pf := prefiring(in); len(pf) > 0 {
		b.add(schemas.SeverityError, CategoryTracking, "Tracking-Requests vor Einwilligung",
			fmt.Sprintf("Folgende Dienste senden Daten ohne Einwilligung und ohne Consent-Signal: %s.", tagNames(pf)),
			"Laden Sie diese Tags erst nach Einwilligung oder übergeben Sie ein Consent-Signal.")
	}
	var injected []schemas.TrackingTag
	for _, t := range in.Signals.TrackingTags.Tags {
		if t.ViaTagManager {
			injected = append(injected, t)
		}
	}
	if len(injected) > 0 {
		b.add(schemas.SeverityInfo, CategoryTracking, "Tags über Tag-Manager ausgeliefert",
			fmt.Sprintf("Per Tag-Manager nachgeladen: %s. Die Consent-Steuerung muss im Tag-Manager konfiguriert sein.", tagNames(injected)),
			"Prüfen Sie die Consent-Trigger im Tag-Manager-Container.")
	}
	tt := in.Signals.TrackingTags
	if tt.ServerSideDetected {
		sev := schemas.SeverityInfo
		for _, ind := range tt.ServerSide {
			if ind.Confidence == schemas.ConfidenceHigh {
				sev = schemas.SeverityWarning
				break
			}
		}
		b.add(sev, CategoryServerSide, "Server-Side-Tracking erkannt",
			fmt.Sprintf("%d Hinweise auf Tracking über eigene Server (First-Party-Proxy, CAPI).", len(tt.ServerSide)),
			"Auch serverseitiges Tracking benötigt eine Einwilligung und muss in der Datenschutzerklärung genannt werden.")
	}
}

func experimentIssues(b *issueBuilder, in Input) {
	exp := in.Experiment
	if exp == nil || !in.Signals.CookieBanner.Detected {
		return
	}
	if exp.Error != "" && !exp.Completed {
		b.add(schemas.SeverityInfo, CategoryConsent, "Consent-Test unvollständig",
			fmt.Sprintf("Der automatisierte Consent-Test konnte nicht abgeschlossen werden: %s.", exp.Error), "")
	}

	reject := exp.Reject
	switch {
	case reject.Reclassified:
		// The save action behaved like an accept; crediting it as a failed
		// rejection would double count.
		b.add(schemas.SeverityWarning, CategoryConsent, TitleSaveActsAsAccept,
			fmt.Sprintf("Nach \"%s\" wurden Analyse- oder Marketing-Cookies gesetzt. Die Aktion wurde als Zustimmung gewertet.", reject.Outcome.Label),
			"Sorgen Sie dafür, dass Speichern ohne Auswahl keine Tracking-Kategorien aktiviert.")
	case reject.Outcome.Succeeded() && rejectAddedTracking(reject) > 0:
		b.add(schemas.SeverityError, CategoryConsent, TitleTrackingAfterReject,
			fmt.Sprintf("Nach der Ablehnung wurden %d neue Tracking-Cookies gesetzt.", rejectAddedTracking(reject)),
			"Stellen Sie sicher, dass die Ablehnung alle nicht notwendigen Dienste blockiert.")
	case !reject.Outcome.Found:
		b.add(schemas.SeverityWarning, CategoryConsent, "Ablehnung nicht automatisiert prüfbar",
			"Es wurde keine Ablehnen-Schaltfläche oder CMP-Schnittstelle gefunden.", "")
	}

	if accept := exp.Accept; !accept.Outcome.Found {
		b.add(schemas.SeverityInfo, CategoryConsent, "Zustimmung nicht automatisiert prüfbar",
			"Es wurde keine Zustimmen-Schaltfläche oder CMP-Schnittstelle gefunden.", "")
	}
}

func consentModeIssues(b *issueBuilder, in Input) {
	if !hasGoogleTags(in) {
		return
	}
	cm := in.Signals.ConsentMode
	if !cm.Detected {
		b.add(schemas.SeverityError, CategoryConsentMode, TitleConsentModeMissing,
			"Google-Dienste werden ohne Consent Mode eingesetzt.",
			"Implementieren Sie Consent Mode v2 mit Standardwerten auf denied.")
		return
	}
	if cm.Version != "v2" {
		b.add(schemas.SeverityWarning, CategoryConsentMode, "Consent Mode v1 statt v2",
			"Die Parameter ad_user_data und ad_personalization fehlen.",
			"Ergänzen Sie ad_user_data und ad_personalization in default und update.")
	}
	if status, why := checkConsentModeDefaults(in); status == failed {
		b.add(schemas.SeverityError, CategoryConsentMode, "Consent-Mode-Standardwerte nicht auf denied", why,
			"Setzen Sie consent default für alle Speicherarten auf denied.")
	}
	if !cm.HasUpdate {
		b.add(schemas.SeverityWarning, CategoryConsentMode, "Kein Consent-Mode-Update",
			"Nach einer Einwilligung wird kein consent update gesendet.",
			"Lösen Sie gtag('consent', 'update', ...) im Callback der CMP aus.")
	} else if !cm.UpdateWired {
		b.add(schemas.SeverityWarning, CategoryConsentMode, "Consent-Mode-Update nicht an Banner gekoppelt",
			"Ein consent update ist vorhanden, wird aber nicht erkennbar vom Banner ausgelöst.",
			"Aktivieren Sie die Consent-Mode-Integration Ihrer CMP.")
	}
}

func tcfIssues(b *issueBuilder, in Input) {
	t := in.Signals.TCF
	if t.Detected && t.TCString != "" && !t.ValidString {
		b.add(schemas.SeverityWarning, CategoryTCF, "Ungültiger TCF-String",
			"Der TC-String entspricht nicht dem IAB-Format.", "Prüfen Sie die TCF-Konfiguration Ihrer CMP.")
	}
}

func cookieIssues(b *issueBuilder, in Input) {
	var long, unknown []schemas.AnalyzedCookie
	for _, c := range in.Cookies {
		if c.IsLongLived {
			long = append(long, c)
		}
		if c.Category == schemas.CategoryUnknown {
			unknown = append(unknown, c)
		}
	}
	if len(long) > 0 {
		b.add(schemas.SeverityWarning, CategoryCookies, "Cookies mit Laufzeit über 400 Tagen",
			fmt.Sprintf("Betroffen: %s.", strings.Join(names(long, 10), ", ")),
			"Begrenzen Sie Cookie-Laufzeiten auf höchstens 13 Monate.")
	}
	if len(unknown) > 0 {
		b.add(schemas.SeverityInfo, CategoryCookies, "Nicht zugeordnete Cookies",
			fmt.Sprintf("%d Cookies konnten keinem Zweck zugeordnet werden: %s.", len(unknown), strings.Join(names(unknown, 10), ", ")),
			"Dokumentieren Sie alle Cookies in der Cookie-Richtlinie.")
	}
}

func transferIssues(b *issueBuilder, in Input) {
	tp := in.Signals.ThirdPartyDomains
	if tp.Skipped {
		return
	}
	if len(tp.HighRisk) > 0 {
		b.add(schemas.SeverityError, CategoryDataTransfer, "Datenübermittlung in Hochrisiko-Drittländer",
			fmt.Sprintf("Requests an: %s.", strings.Join(tp.HighRisk, ", ")),
			"Prüfen Sie die Rechtsgrundlage nach Art. 44 ff. DSGVO oder entfernen Sie diese Dienste.")
	}
	if n := len(tp.NonEU) - len(tp.HighRisk); n > 0 {
		b.add(schemas.SeverityInfo, CategoryDataTransfer, "Datenübermittlung in Drittländer",
			fmt.Sprintf("%d Drittanbieter außerhalb des EWR.", n),
			"Dokumentieren Sie Angemessenheitsbeschlüsse oder Standardvertragsklauseln.")
	}
	if len(tp.Unknown) > 0 {
		b.add(schemas.SeverityInfo, CategoryDataTransfer, "Unbekannte Drittanbieter",
			fmt.Sprintf("Nicht zugeordnete Domains: %s.", strings.Join(tp.Unknown, ", ")), "")
	}
}

func dmaIssues(b *issueBuilder, in Input) {
	for _, g := range EvaluateDMA(in).Gatekeepers {
		for _, c := range g.Checks {
			if c.Status != failed || strings.HasSuffix(c.ID, "_consent_mode_v2") || strings.HasSuffix(c.ID, "_no_prefire") {
				// Consent Mode and prefiring are already raised above.
				continue
			}
			b.add(schemas.SeverityWarning, CategoryDMA, fmt.Sprintf("%s: Einwilligungssignal fehlt", g.Gatekeeper), c.Justification,
				"Übermitteln Sie den Einwilligungsstatus über die Schnittstelle des Anbieters.")
		}
	}
}
