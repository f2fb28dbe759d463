package compliance

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/signals"
)

// noConsentAPI are platforms without a consent signalling interface; they can
// only be made compliant by not loading them before consent.
var noConsentAPI = map[string]bool{
	signals.PlatformLinkedIn: true,
}

// consentInterfaces names the mechanism each gatekeeper expects.
var consentInterfaces = map[string]string{
	signals.GatekeeperGoogle:    "Google Consent Mode (gcs/gcd)",
	signals.GatekeeperMeta:      "fbq('consent', ...)",
	signals.GatekeeperMicrosoft: "UET Consent Mode / clarity('consent')",
	signals.GatekeeperByteDance: "ttq.holdConsent / grantConsent",
}

// EvaluateDMA builds checks for every detected gatekeeper. The checklist is
// not applicable when no gatekeeper platform was found.
func EvaluateDMA(in Input) schemas.DMAChecklist {
	var cl schemas.DMAChecklist
	tt := in.Signals.TrackingTags
	for _, gk := range tt.Gatekeepers() {
		var tags []schemas.TrackingTag
		for _, t := range tt.Tags {
			if t.Gatekeeper == gk {
				tags = append(tags, t)
			}
		}
		g := schemas.DMAGatekeeper{Gatekeeper: gk}
		for _, t := range tags {
			g.Platforms = append(g.Platforms, t.Name)
		}
		prefix := "dma_" + strings.ToLower(gk)
		g.Checks = append(g.Checks, consentSignalCheck(prefix, gk, tags))
		g.Checks = append(g.Checks, noPrefireCheck(prefix, gk, tags))
		if gk == signals.GatekeeperGoogle {
			g.Checks = append(g.Checks, googleConsentModeCheck(prefix, in.Signals.ConsentMode))
		}
		cl.Gatekeepers = append(cl.Gatekeepers, g)
	}
	cl.Applicable = len(cl.Gatekeepers) > 0
	return cl
}

func consentSignalCheck(prefix, gk string, tags []schemas.TrackingTag) schemas.ComplianceCheck {
	c := schemas.ComplianceCheck{
		ID:    prefix + "_consent_signal",
		Title: fmt.Sprintf("Einwilligungssignal an %s übermittelt", gk),
	}
	var missing []string
	withoutAPI := 0
	for _, t := range tags {
		if t.ConsentSignal {
			continue
		}
		if noConsentAPI[t.Platform] {
			withoutAPI++
		}
		missing = append(missing, t.Name)
	}
	switch {
	case len(missing) == 0:
		c.Status = passed
		c.Justification = fmt.Sprintf("Alle %s-Tags übermitteln ein Consent-Signal.", gk)
	case len(missing) == withoutAPI:
		c.Status = warn
		c.Justification = fmt.Sprintf("%s bietet keine Consent-Schnittstelle; das Laden muss bis zur Einwilligung blockiert werden.", strings.Join(missing, ", "))
	default:
		c.Status = failed
		c.Justification = fmt.Sprintf("Ohne Consent-Signal (%s erwartet): %s.", consentInterfaces[gk], strings.Join(missing, ", "))
	}
	return c
}

func noPrefireCheck(prefix, gk string, tags []schemas.TrackingTag) schemas.ComplianceCheck {
	c := schemas.ComplianceCheck{
		ID:    prefix + "_no_prefire",
		Title: fmt.Sprintf("Keine %s-Requests ohne Einwilligung", gk),
	}
	var bare, signalled []string
	for _, t := range tags {
		switch {
		case t.FiredOnLoad && !t.ConsentSignal:
			bare = append(bare, t.Name)
		case t.FiredOnLoad:
			signalled = append(signalled, t.Name)
		}
	}
	switch {
	case len(bare) > 0:
		c.Status = failed
		c.Justification = fmt.Sprintf("Vor Einwilligung ohne Consent-Signal gesendet: %s.", strings.Join(bare, ", "))
	case len(signalled) > 0:
		c.Status = warn
		c.Justification = fmt.Sprintf("Vor Einwilligung mit Consent-Signal gesendet: %s.", strings.Join(signalled, ", "))
	default:
		c.Status = passed
		c.Justification = "Vor der Einwilligung wurden keine Requests beobachtet."
	}
	return c
}

func googleConsentModeCheck(prefix string, cm schemas.ConsentModeSignal) schemas.ComplianceCheck {
	c := schemas.ComplianceCheck{ID: prefix + "_consent_mode_v2", Title: "Consent Mode v2 für Google-Dienste"}
	switch {
	case cm.Detected && cm.Version == "v2":
		c.Status = passed
		c.Justification = "Consent Mode v2 ist aktiv."
	case cm.Detected:
		c.Status = warn
		c.Justification = "Consent Mode v1 genügt den DMA-Anforderungen von Google seit März 2024 nicht mehr."
	default:
		c.Status = failed
		c.Justification = "Google verlangt für EWR-Traffic Consent Mode v2."
	}
	return c
}
