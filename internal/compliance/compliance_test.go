package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/cookies"
	"github.com/xkilldash9x/consentscope/internal/signals"
)

func issuesIn(issues []schemas.Issue, category string) []schemas.Issue {
	var out []schemas.Issue
	for _, is := range issues {
		if is.Category == category {
			out = append(out, is)
		}
	}
	return out
}

func findIssue(issues []schemas.Issue, title string) (schemas.Issue, bool) {
	for _, is := range issues {
		if is.Title == title {
			return is, true
		}
	}
	return schemas.Issue{}, false
}

func checkStatus(cl schemas.GDPRChecklist, id string) schemas.CheckStatus {
	for _, c := range cl.Checks {
		if c.ID == id {
			return c.Status
		}
	}
	return ""
}

func TestNoTrackingNeverRaisesBannerErrors(t *testing.T) {
	cases := map[string]schemas.CookieBannerSignal{
		"no banner":          {},
		"banner no reject":   {Detected: true, HasAcceptButton: true},
		"banner no settings": {Detected: true, HasAcceptButton: true, HasRejectButton: true},
	}
	for name, banner := range cases {
		t.Run(name, func(t *testing.T) {
			in := Input{
				Signals: schemas.Signals{CookieBanner: banner},
				Cookies: []schemas.AnalyzedCookie{{Cookie: schemas.Cookie{Name: "PHPSESSID"}, Category: schemas.CategoryNecessary, SetBeforeConsent: true}},
			}
			r := Evaluate(in)
			for _, is := range issuesIn(r.Issues, CategoryBanner) {
				assert.Equal(t, schemas.SeverityInfo, is.Severity, is.Title)
			}
			_, ok := findIssue(r.Issues, TitleNoTracking)
			assert.True(t, ok)
			assert.Zero(t, r.Score.TrackingScore)
			assert.Zero(t, r.Score.TrackingBaseline)
			assert.Zero(t, r.Score.Penalty)
		})
	}
}

func TestAnalyticsWithoutBannerIsAnError(t *testing.T) {
	c := &schemas.CrawlResult{
		URL:      "https://shop.example.de/",
		FinalURL: "https://shop.example.de/",
		HTML: `<html><head><script async src="https://www.googletagmanager.com/gtag/js?id=G-ABC1234"></script>
			<script>window.dataLayer=window.dataLayer||[];function gtag(){dataLayer.push(arguments);}gtag('config','G-ABC1234');</script></head></html>`,
		Scripts: []schemas.ScriptSource{{Src: "https://www.googletagmanager.com/gtag/js?id=G-ABC1234"}},
		Globals: schemas.TrackingGlobals{Present: map[string]bool{"gtag": true}},
	}
	sig, anomalies, err := signals.NewRunner(zap.NewNop(), nil, false).Run(context.Background(), c, signals.Options{})
	require.NoError(t, err)
	require.Empty(t, anomalies)

	now := time.Now()
	analyzed := cookies.Analyze([]schemas.Cookie{
		{Name: "_ga", Domain: ".example.de", Path: "/", Expires: now.Add(400 * 24 * time.Hour)},
	}, cookies.Options{SiteURL: c.FinalURL, ObservedAt: now})

	r := Evaluate(Input{Signals: sig, Cookies: analyzed})

	is, ok := findIssue(r.Issues, TitleNoBanner)
	require.True(t, ok)
	assert.Equal(t, schemas.SeverityError, is.Severity)
	assert.Equal(t, CategoryBanner, is.Category)
	assert.Equal(t, failed, checkStatus(r.GDPR, "banner_present"))
	assert.Equal(t, schemas.SeverityError, r.Issues[0].Severity)
	assert.Equal(t, BaselineMajor, r.Score.TrackingBaseline)
}

func TestReclassifiedSaveIsNotCountedAsTrackingAfterReject(t *testing.T) {
	in := Input{
		Signals: schemas.Signals{
			CookieBanner: schemas.CookieBannerSignal{Detected: true, HasAcceptButton: true, HasSettingsButton: true},
			TrackingTags: schemas.TrackingTagsSignal{HasSecondary: true},
		},
		Experiment: &schemas.ConsentExperimentResult{
			Completed: true,
			Accept:    schemas.ConsentArm{Intent: schemas.ActionAccept, Outcome: schemas.ClickOutcome{Found: true, Clicked: true, Method: schemas.MethodDOM}},
			Reject: schemas.ConsentArm{
				Intent:          schemas.ActionReject,
				Outcome:         schemas.ClickOutcome{Found: true, Clicked: true, Method: schemas.MethodToggleSave, Action: schemas.ActionSave, Label: "Auswahl speichern"},
				EffectiveAction: schemas.ActionAccept,
				Reclassified:    true,
				NewByCategory:   map[schemas.CookieCategory]int{schemas.CategoryMarketing: 3},
			},
		},
	}
	r := Evaluate(in)

	_, ok := findIssue(r.Issues, TitleTrackingAfterReject)
	assert.False(t, ok)
	is, ok := findIssue(r.Issues, TitleSaveActsAsAccept)
	require.True(t, ok)
	assert.Equal(t, schemas.SeverityWarning, is.Severity)
	assert.Equal(t, warn, checkStatus(r.GDPR, "reject_effective"))
	assert.NotContains(t, r.Score.BonusReasons, "working_consent")

	in.Experiment.Reject.Reclassified = false
	in.Experiment.Reject.EffectiveAction = schemas.ActionReject
	r = Evaluate(in)
	is, ok = findIssue(r.Issues, TitleTrackingAfterReject)
	require.True(t, ok)
	assert.Equal(t, schemas.SeverityError, is.Severity)
	assert.Equal(t, failed, checkStatus(r.GDPR, "reject_effective"))
}

func TestGDPRChecklistTallies(t *testing.T) {
	inputs := []Input{
		{},
		{Signals: schemas.Signals{CookieBanner: schemas.CookieBannerSignal{Detected: true, CMP: "Usercentrics", HasAcceptButton: true, HasRejectButton: true}}},
		{
			Signals: schemas.Signals{
				TrackingTags: schemas.TrackingTagsSignal{
					HasMajorClientSide: true,
					Tags:               []schemas.TrackingTag{{Platform: signals.PlatformGoogleAnalytics, Name: "Google Analytics", Gatekeeper: signals.GatekeeperGoogle, Major: true, FiredOnLoad: true}},
				},
				ConsentMode: schemas.ConsentModeSignal{Detected: true, Version: "v1", HasDefault: true, DefaultPayload: map[string]string{"ad_storage": "granted"}},
				TCF:         schemas.TCFSignal{Detected: true, TCString: "xx", ValidString: false},
			},
			Cookies:    []schemas.AnalyzedCookie{{Cookie: schemas.Cookie{Name: "_ga"}, Category: schemas.CategoryAnalytics, SetBeforeConsent: true, IsLongLived: true}},
			Experiment: &schemas.ConsentExperimentResult{Error: "navigation timeout"},
		},
	}
	for i, in := range inputs {
		cl := EvaluateGDPR(in)
		assert.Equal(t, GDPRCheckIDs(), checkIDs(cl.Checks), "input %d", i)
		assert.Equal(t, cl.Total, cl.Passed+cl.Failed+cl.Warnings+cl.NotApplicable, "input %d", i)
		assert.Len(t, cl.Checks, cl.Total)
	}
}

func checkIDs(cs []schemas.ComplianceCheck) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestConsentModeChecks(t *testing.T) {
	googleTag := schemas.TrackingTagsSignal{
		HasMajorClientSide: true,
		Tags:               []schemas.TrackingTag{{Platform: signals.PlatformGoogleAnalytics, Name: "Google Analytics", Gatekeeper: signals.GatekeeperGoogle, Major: true}},
	}

	t.Run("missing", func(t *testing.T) {
		r := Evaluate(Input{Signals: schemas.Signals{TrackingTags: googleTag}})
		is, ok := findIssue(r.Issues, TitleConsentModeMissing)
		require.True(t, ok)
		assert.Equal(t, schemas.SeverityError, is.Severity)
		assert.Equal(t, failed, checkStatus(r.GDPR, "consent_mode"))
	})

	t.Run("v2 wired with denied defaults", func(t *testing.T) {
		cm := schemas.ConsentModeSignal{
			Detected: true, Version: "v2", HasDefault: true, HasUpdate: true, UpdateWired: true,
			DefaultPayload: map[string]string{"ad_storage": "denied", "analytics_storage": "denied", "ad_user_data": "denied", "ad_personalization": "denied"},
		}
		r := Evaluate(Input{Signals: schemas.Signals{TrackingTags: googleTag, ConsentMode: cm}})
		assert.Empty(t, issuesIn(r.Issues, CategoryConsentMode))
		for _, id := range []string{"consent_mode", "consent_mode_v2", "consent_mode_defaults_denied", "consent_mode_update"} {
			assert.Equal(t, passed, checkStatus(r.GDPR, id), id)
		}
		assert.Contains(t, r.Score.BonusReasons, "consent_mode_v2")
	})

	t.Run("not applicable without google", func(t *testing.T) {
		r := Evaluate(Input{})
		assert.Equal(t, na, checkStatus(r.GDPR, "consent_mode"))
		assert.Empty(t, issuesIn(r.Issues, CategoryConsentMode))
	})
}

func TestEvaluateDMA(t *testing.T) {
	t.Run("not applicable", func(t *testing.T) {
		cl := EvaluateDMA(Input{})
		assert.False(t, cl.Applicable)
		assert.Empty(t, cl.Gatekeepers)
	})

	t.Run("per gatekeeper", func(t *testing.T) {
		in := Input{Signals: schemas.Signals{
			TrackingTags: schemas.TrackingTagsSignal{Tags: []schemas.TrackingTag{
				{Platform: signals.PlatformGoogleAnalytics, Name: "Google Analytics", Gatekeeper: signals.GatekeeperGoogle, FiredOnLoad: true, ConsentSignal: true},
				{Platform: signals.PlatformMetaPixel, Name: "Meta Pixel", Gatekeeper: signals.GatekeeperMeta, FiredOnLoad: true},
				{Platform: signals.PlatformLinkedIn, Name: "LinkedIn Insight Tag", Gatekeeper: signals.GatekeeperMicrosoft},
			}},
			ConsentMode: schemas.ConsentModeSignal{Detected: true, Version: "v1"},
		}}
		cl := EvaluateDMA(in)
		require.True(t, cl.Applicable)
		require.Len(t, cl.Gatekeepers, 3)

		status := map[string]schemas.CheckStatus{}
		for _, g := range cl.Gatekeepers {
			for _, c := range g.Checks {
				status[c.ID] = c.Status
			}
		}
		assert.Equal(t, passed, status["dma_google_consent_signal"])
		assert.Equal(t, warn, status["dma_google_no_prefire"])
		assert.Equal(t, warn, status["dma_google_consent_mode_v2"])
		assert.Equal(t, failed, status["dma_meta_consent_signal"])
		assert.Equal(t, failed, status["dma_meta_no_prefire"])
		assert.Equal(t, warn, status["dma_microsoft_consent_signal"])
		assert.Equal(t, passed, status["dma_microsoft_no_prefire"])

		dma := issuesIn(GenerateIssues(in), CategoryDMA)
		require.Len(t, dma, 1)
		assert.Equal(t, "Meta: Einwilligungssignal fehlt", dma[0].Title)
	})
}

func TestIssuesAreSortedBySeverity(t *testing.T) {
	in := Input{
		Signals: schemas.Signals{
			TrackingTags: schemas.TrackingTagsSignal{
				HasMajorClientSide: true,
				Tags:               []schemas.TrackingTag{{Platform: signals.PlatformMetaPixel, Name: "Meta Pixel", Gatekeeper: signals.GatekeeperMeta, FiredOnLoad: true, ViaTagManager: true}},
			},
			ThirdPartyDomains: schemas.ThirdPartyDomainsSignal{Unknown: []string{"cdn.example.net"}, HighRisk: []string{"tiktokv.com"}, NonEU: []string{"tiktokv.com", "facebook.net"}},
			DataLayer: schemas.DataLayerSignal{Ecommerce: schemas.EcommerceAnalysis{Issues: []schemas.Issue{
				{Severity: schemas.SeverityWarning, Category: signals.EcommerceCategory, Title: "E-Commerce-Event \"purchase\" ohne Artikeldaten (items)"},
			}}},
		},
		Cookies: []schemas.AnalyzedCookie{{Cookie: schemas.Cookie{Name: "mystery"}, Category: schemas.CategoryUnknown, IsLongLived: true}},
	}
	issues := GenerateIssues(in)
	require.NotEmpty(t, issues)
	for i := 1; i < len(issues); i++ {
		assert.LessOrEqual(t, issues[i-1].Severity.Rank(), issues[i].Severity.Rank(), "%q before %q", issues[i-1].Title, issues[i].Title)
	}
	assert.NotEmpty(t, issuesIn(issues, signals.EcommerceCategory))
	assert.NotEmpty(t, issuesIn(issues, CategoryDataTransfer))
}

func TestScore(t *testing.T) {
	in := Input{Signals: schemas.Signals{
		CookieBanner: schemas.CookieBannerSignal{Detected: true, HasAcceptButton: true, HasRejectButton: true},
		TrackingTags: schemas.TrackingTagsSignal{HasMajorClientSide: true},
		TCF:          schemas.TCFSignal{Detected: true, ValidString: true},
	}}
	gdpr := schemas.GDPRChecklist{Passed: 8, Failed: 1, Warnings: 1, NotApplicable: 6, Total: 16}
	issues := []schemas.Issue{
		{Severity: schemas.SeverityError},
		{Severity: schemas.SeverityWarning},
		{Severity: schemas.SeverityInfo},
	}

	s := Score(in, gdpr, issues)
	assert.Equal(t, 80, s.GDPRScore)
	assert.Equal(t, 100, s.TrackingBaseline)
	assert.Equal(t, 20, s.Penalty)
	assert.Equal(t, 15, s.Bonus)
	assert.Equal(t, []string{"balanced_choice", "valid_tcf"}, s.BonusReasons)
	assert.Equal(t, 95, s.TrackingScore)
	assert.Equal(t, 89, s.Total)
}

func TestScoreClampsAndBaselines(t *testing.T) {
	many := make([]schemas.Issue, 20)
	for i := range many {
		many[i].Severity = schemas.SeverityError
	}
	s := Score(Input{Signals: schemas.Signals{TrackingTags: schemas.TrackingTagsSignal{HasSecondary: true}}}, schemas.GDPRChecklist{Failed: 3}, many)
	assert.Equal(t, BaselineSecondary, s.TrackingBaseline)
	assert.Zero(t, s.TrackingScore)
	assert.Zero(t, s.GDPRScore)
	assert.Zero(t, s.Total)

	s = Score(Input{Signals: schemas.Signals{TrackingTags: schemas.TrackingTagsSignal{ServerSideDetected: true}}}, schemas.GDPRChecklist{}, nil)
	assert.Equal(t, BaselineServerSide, s.TrackingBaseline)
	assert.Equal(t, 100, s.GDPRScore)
	assert.Equal(t, 70, s.Total)

	cookiesOnly := Input{Cookies: []schemas.AnalyzedCookie{{Category: schemas.CategoryMarketing}}}
	assert.Equal(t, BaselineSecondary, TrackingBaseline(cookiesOnly))
}

func TestWorkingExperimentBonus(t *testing.T) {
	ok := schemas.ClickOutcome{Found: true, Clicked: true, Method: schemas.MethodDOM}
	in := Input{
		Signals: schemas.Signals{TrackingTags: schemas.TrackingTagsSignal{HasMajorClientSide: true}},
		Experiment: &schemas.ConsentExperimentResult{
			Completed: true,
			Accept:    schemas.ConsentArm{Outcome: ok},
			Reject:    schemas.ConsentArm{Outcome: ok},
		},
	}
	s := Score(in, schemas.GDPRChecklist{}, nil)
	assert.Equal(t, []string{"working_consent"}, s.BonusReasons)
	assert.Equal(t, 100, s.TrackingScore)

	in.Experiment.Reject.NewByCategory = map[schemas.CookieCategory]int{schemas.CategoryAnalytics: 1}
	s = Score(in, schemas.GDPRChecklist{}, nil)
	assert.Empty(t, s.BonusReasons)
}

func TestCompare(t *testing.T) {
	prev := &schemas.AnalysisResult{
		ID:    "a",
		Score: schemas.ScoreBreakdown{Total: 40},
		Issues: []schemas.Issue{
			{Severity: schemas.SeverityError, Category: CategoryBanner, Title: TitleNoBanner},
			{Severity: schemas.SeverityWarning, Category: CategoryCookies, Title: "Cookies mit Laufzeit über 400 Tagen"},
			{Severity: schemas.SeverityInfo, Category: CategoryTracking, Title: "Tags über Tag-Manager ausgeliefert"},
		},
	}
	curr := &schemas.AnalysisResult{
		ID:    "b",
		Score: schemas.ScoreBreakdown{Total: 65},
		Issues: []schemas.Issue{
			{Severity: schemas.SeverityWarning, Category: CategoryCookies, Title: "Cookies mit Laufzeit über 400 Tagen"},
			{Severity: schemas.SeverityWarning, Category: CategoryConsentMode, Title: "Kein Consent-Mode-Update"},
		},
	}
	c := Compare(prev, curr)
	assert.Equal(t, 25, c.ScoreDelta)
	assert.Equal(t, "a", c.PreviousID)
	assert.Equal(t, "b", c.CurrentID)
	assert.Equal(t, []string{"Kein Consent-Mode-Update"}, c.NewIssues)
	assert.Equal(t, []string{TitleNoBanner}, c.ResolvedIssues)
}
