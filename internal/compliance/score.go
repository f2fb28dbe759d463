package compliance

import (
	"math"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

// Scoring weights and adjustments.
const (
	GDPRWeight     = 0.4
	TrackingWeight = 0.6

	BaselineMajor      = 100
	BaselineSecondary  = 70
	BaselineServerSide = 50

	ErrorPenalty   = 15
	WarningPenalty = 5

	BonusBalancedChoice = 10
	BonusValidTCF       = 5
	BonusConsentModeV2  = 10
	BonusWorkingConsent = 10
)

// TrackingBaseline depends on what kind of tracking was found. Cookies
// without an identifiable tag still count as secondary tracking.
func TrackingBaseline(in Input) int {
	tt := in.Signals.TrackingTags
	switch {
	case tt.HasMajorClientSide:
		return BaselineMajor
	case tt.HasSecondary, len(trackingCookies(in)) > 0:
		return BaselineSecondary
	case tt.ServerSideDetected:
		return BaselineServerSide
	default:
		return 0
	}
}

// GDPRScore is the share of applicable checks that passed.
func GDPRScore(cl schemas.GDPRChecklist) int {
	denom := cl.Passed + cl.Failed + cl.Warnings
	if denom == 0 {
		return 100
	}
	return int(math.Round(float64(cl.Passed) / float64(denom) * 100))
}

// Score computes the breakdown. A site without any tracking signal gets a
// tracking score of zero and no adjustments.
func Score(in Input, gdpr schemas.GDPRChecklist, issues []schemas.Issue) schemas.ScoreBreakdown {
	s := schemas.ScoreBreakdown{
		GDPRScore:        clamp(GDPRScore(gdpr), 0, 100),
		TrackingBaseline: TrackingBaseline(in),
	}

	if s.TrackingBaseline > 0 {
		for _, is := range issues {
			switch is.Severity {
			case schemas.SeverityError:
				s.Penalty += ErrorPenalty
			case schemas.SeverityWarning:
				s.Penalty += WarningPenalty
			}
		}
		addBonus := func(points int, reason string) {
			s.Bonus += points
			s.BonusReasons = append(s.BonusReasons, reason)
		}
		b := in.Signals.CookieBanner
		if b.Detected && b.HasAcceptButton && b.HasRejectButton {
			addBonus(BonusBalancedChoice, "balanced_choice")
		}
		if in.Signals.TCF.ValidString {
			addBonus(BonusValidTCF, "valid_tcf")
		}
		if cm := in.Signals.ConsentMode; cm.Version == "v2" && cm.UpdateWired {
			addBonus(BonusConsentModeV2, "consent_mode_v2")
		}
		if experimentWorks(in.Experiment) {
			addBonus(BonusWorkingConsent, "working_consent")
		}
		s.TrackingScore = clamp(s.TrackingBaseline-s.Penalty+s.Bonus, 0, 100)
	}

	total := GDPRWeight*float64(s.GDPRScore) + TrackingWeight*float64(s.TrackingScore)
	s.Total = clamp(int(math.Round(total)), 0, 100)
	return s
}

// experimentWorks is true when both arms ran and the reject arm was honored.
func experimentWorks(exp *schemas.ConsentExperimentResult) bool {
	if exp == nil || !exp.Completed {
		return false
	}
	if !exp.Accept.Outcome.Succeeded() || !exp.Reject.Outcome.Succeeded() {
		return false
	}
	return !exp.Reject.Reclassified && rejectAddedTracking(exp.Reject) == 0
}
