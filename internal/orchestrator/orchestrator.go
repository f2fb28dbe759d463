// File: internal/orchestrator/orchestrator.go
// Description: Runs one analysis end to end: crawl, signal extraction, cookie
// analysis, the optional consent experiment and the compliance verdict. Every
// collaborator is injected through an interface.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
	"github.com/xkilldash9x/consentscope/internal/compliance"
	"github.com/xkilldash9x/consentscope/internal/cookies"
	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/signals"
)

// Audit trail step names.
const (
	StepCrawl      = "crawl"
	StepSignals    = "signals"
	StepCookies    = "cookies"
	StepConsent    = "consent_experiment"
	StepCompliance = "compliance"
)

// ErrInvalidURL is returned for targets that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid target url")

// Crawler loads a page in a fresh session and returns what was observed.
type Crawler interface {
	Crawl(ctx context.Context, url string) (*schemas.CrawlResult, error)
}

// ConsentTester runs the accept/reject experiment.
type ConsentTester interface {
	Run(ctx context.Context, url string) (*schemas.ConsentExperimentResult, error)
}

// SignalRunner extracts all signals from a crawl.
type SignalRunner interface {
	Run(ctx context.Context, c *schemas.CrawlResult, opts signals.Options) (schemas.Signals, []signals.Anomaly, error)
}

// Recorder receives run statistics. The metrics package implements it.
type Recorder interface {
	AnalysisFinished(mode schemas.AnalysisMode, outcome string, d time.Duration)
	ConsentArmFinished(arm, outcome string)
	ExtractorAnomaly(extractor string)
}

type nopRecorder struct{}

func (nopRecorder) AnalysisFinished(schemas.AnalysisMode, string, time.Duration) {}
func (nopRecorder) ConsentArmFinished(string, string)                             {}
func (nopRecorder) ExtractorAnomaly(string)                                       {}

// StepListener is called synchronously for every audit-trail transition.
type StepListener func(schemas.AuditStep)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder installs a statistics sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithThirdPartyEnrichment toggles the third-party domain analysis of full runs.
func WithThirdPartyEnrichment(enabled bool) Option {
	return func(o *Orchestrator) { o.enrich = enabled }
}

// Orchestrator manages the lifecycle of one analysis.
type Orchestrator struct {
	logger   *zap.Logger
	crawler  Crawler
	consent  ConsentTester
	signals  SignalRunner
	recorder Recorder
	enrich   bool
}

// New creates an Orchestrator. consent may be nil, in which case full runs
// skip the experiment.
func New(logger *zap.Logger, crawler Crawler, consent ConsentTester, runner SignalRunner, opts ...Option) (*Orchestrator, error) {
	if logger == nil || crawler == nil || runner == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		logger:   observability.Component(logger, observability.ComponentOrchestrator),
		crawler:  crawler,
		consent:  consent,
		signals:  runner,
		recorder: nopRecorder{},
		enrich:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Analyze runs the full analysis including the consent experiment.
func (o *Orchestrator) Analyze(ctx context.Context, target string, listener StepListener) (*schemas.AnalysisResult, error) {
	return o.run(ctx, target, schemas.ModeFull, listener)
}

// AnalyzeQuick skips the consent experiment and third-party enrichment. A
// navigation timeout is retried once.
func (o *Orchestrator) AnalyzeQuick(ctx context.Context, target string, listener StepListener) (*schemas.AnalysisResult, error) {
	return o.run(ctx, target, schemas.ModeQuick, listener)
}

func (o *Orchestrator) run(ctx context.Context, target string, mode schemas.AnalysisMode, listener StepListener) (*schemas.AnalysisResult, error) {
	started := time.Now()
	target, err := NormalizeURL(target)
	if err != nil {
		return nil, err
	}

	res := &schemas.AnalysisResult{
		ID:        uuid.New().String(),
		URL:       target,
		Mode:      mode,
		Timestamp: started.UTC(),
	}
	trail := &auditTrail{result: res, listener: listener}
	log := observability.WithAnalysis(o.logger, res.ID, target, string(mode))
	log.Info("Starting analysis.")

	fail := func(err error) (*schemas.AnalysisResult, error) {
		o.recorder.AnalysisFinished(mode, "error", time.Since(started))
		log.Error("Analysis aborted.", zap.Error(err))
		return nil, err
	}

	trail.start(StepCrawl, "Seite wird geladen")
	crawl, err := o.crawl(ctx, target, mode, log)
	if err != nil {
		trail.fail(StepCrawl, err)
		return fail(fmt.Errorf("crawl %s: %w", target, err))
	}
	res.FinalURL = crawl.FinalURL
	trail.done(StepCrawl, fmt.Sprintf("%d Requests, %d Cookies", len(crawl.Requests), len(crawl.Cookies)))

	trail.start(StepSignals, "Signale werden ausgewertet")
	sig, anomalies, err := o.signals.Run(ctx, crawl, signals.Options{SkipThirdParty: mode == schemas.ModeQuick || !o.enrich})
	if err != nil {
		trail.fail(StepSignals, err)
		return fail(fmt.Errorf("extract signals: %w", err))
	}
	for _, a := range anomalies {
		log.Warn("Extractor anomaly.", zap.String("extractor", a.Extractor), zap.Error(a.Err))
		res.Anomalies = append(res.Anomalies, a.String())
		o.recorder.ExtractorAnomaly(a.Extractor)
	}
	res.Signals = sig
	trail.done(StepSignals, fmt.Sprintf("%d Tracking-Tags", len(sig.TrackingTags.Tags)))

	trail.start(StepCookies, "Cookies werden analysiert")
	res.Cookies = cookies.Analyze(crawl.Cookies, cookies.Options{SiteURL: crawl.SiteURL(), ObservedAt: crawl.LoadedAt})
	res.CookieSummary = cookies.Summarize(res.Cookies)
	trail.done(StepCookies, fmt.Sprintf("%d Cookies", res.CookieSummary.Total))

	if mode == schemas.ModeFull && o.consent != nil {
		o.runExperiment(ctx, res, trail, log)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	trail.start(StepCompliance, "Compliance wird bewertet")
	report := compliance.Evaluate(compliance.Input{
		Signals:    res.Signals,
		Cookies:    res.Cookies,
		Experiment: res.ConsentExperiment,
	})
	res.GDPR = report.GDPR
	res.DMA = report.DMA
	res.Issues = report.Issues
	res.Score = report.Score
	trail.done(StepCompliance, fmt.Sprintf("Score %d", res.Score.Total))

	res.Duration = time.Since(started)
	o.recorder.AnalysisFinished(mode, "success", res.Duration)
	log.Info("Analysis finished.",
		zap.Int("score", res.Score.Total),
		zap.Int("issues", len(res.Issues)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (o *Orchestrator) crawl(ctx context.Context, target string, mode schemas.AnalysisMode, log *zap.Logger) (*schemas.CrawlResult, error) {
	crawl, err := o.crawler.Crawl(ctx, target)
	if err != nil && mode == schemas.ModeQuick && errors.Is(err, browser.ErrNavigationTimeout) && ctx.Err() == nil {
		log.Warn("Navigation timed out. Retrying once.", zap.Error(err))
		crawl, err = o.crawler.Crawl(ctx, target)
	}
	if err != nil {
		return nil, err
	}
	if crawl == nil {
		return nil, fmt.Errorf("%w: crawler returned no result", signals.ErrMalformedSignalInput)
	}
	return crawl, nil
}

// runExperiment attaches whatever the experiment produced. Failures degrade
// the report; they never abort it.
func (o *Orchestrator) runExperiment(ctx context.Context, res *schemas.AnalysisResult, trail *auditTrail, log *zap.Logger) {
	trail.start(StepConsent, "Consent-Test läuft")
	exp, err := o.consent.Run(ctx, res.URL)
	res.ConsentExperiment = exp
	if exp != nil {
		o.recorder.ConsentArmFinished("accept", armOutcome(exp.Accept))
		o.recorder.ConsentArmFinished("reject", armOutcome(exp.Reject))
	}
	if err != nil {
		log.Warn("Consent experiment failed. Continuing with partial data.", zap.Error(err))
		trail.fail(StepConsent, err)
		return
	}
	trail.done(StepConsent, fmt.Sprintf("Zustimmen: %s, Ablehnen: %s", armOutcome(exp.Accept), armOutcome(exp.Reject)))
}

func armOutcome(arm schemas.ConsentArm) string {
	switch {
	case arm.Error != "":
		return "error"
	case arm.Reclassified:
		return "reclassified"
	case arm.Outcome.Succeeded():
		return string(arm.Outcome.Method)
	default:
		return "not_found"
	}
}

// NormalizeURL adds a missing https scheme and rejects anything that is not
// an absolute http(s) URL with a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u.String(), nil
}
