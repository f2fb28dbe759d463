package signals

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

// Options select which extractors a Run performs.
type Options struct {
	// SkipThirdParty leaves ThirdPartyDomains empty with Skipped set.
	SkipThirdParty bool
}

// Anomaly records an extractor that failed closed.
type Anomaly struct {
	Extractor string
	Err       error
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s: %v", a.Extractor, a.Err)
}

// Runner executes every extractor against one crawl.
type Runner struct {
	logger   *zap.Logger
	tracking TrackingExtractor
	parallel bool
}

// NewRunner builds a runner. tech may be nil.
func NewRunner(logger *zap.Logger, tech TechnologyDetector, parallel bool) *Runner {
	return &Runner{
		logger:   observability.Component(logger, observability.ComponentSignals),
		tracking: TrackingExtractor{Technologies: tech},
		parallel: parallel,
	}
}

// Run extracts all signals. Extractors never abort the run: malformed input or
// a panic yields the zero "not detected" record plus an anomaly. The only
// error returned is context cancellation.
func (r *Runner) Run(ctx context.Context, c *schemas.CrawlResult, opts Options) (schemas.Signals, []Anomaly, error) {
	var (
		out       schemas.Signals
		anomalies []Anomaly
		mu        sync.Mutex
	)

	record := func(name string, err error) {
		mu.Lock()
		anomalies = append(anomalies, Anomaly{Extractor: name, Err: err})
		mu.Unlock()
		r.logger.Warn("Extractor failed closed", zap.String("extractor", name), zap.Error(err))
	}

	tasks := []struct {
		name string
		fn   func() error
	}{
		{"cookie_banner", func() (err error) { out.CookieBanner, err = BannerExtractor{}.Extract(c); return }},
		{"consent_mode", func() (err error) { out.ConsentMode, err = ConsentModeExtractor{}.Extract(c); return }},
		{"tcf", func() (err error) { out.TCF, err = TCFExtractor{}.Extract(c); return }},
		{"tracking_tags", func() (err error) { out.TrackingTags, err = r.tracking.Extract(c); return }},
		{"data_layer", func() (err error) { out.DataLayer, err = DataLayerExtractor{}.Extract(c); return }},
	}
	if opts.SkipThirdParty {
		out.ThirdPartyDomains = schemas.ThirdPartyDomainsSignal{Skipped: true}
	} else {
		tasks = append(tasks, struct {
			name string
			fn   func() error
		}{"third_party_domains", func() (err error) { out.ThirdPartyDomains, err = ThirdPartyExtractor{}.Extract(c); return }})
	}

	g, gctx := errgroup.WithContext(ctx)
	if !r.parallel {
		g.SetLimit(1)
	}
	for _, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.guard(t.name, t.fn, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return schemas.Signals{}, anomalies, err
	}

	r.logger.Debug("Signals extracted",
		zap.Bool("banner", out.CookieBanner.Detected),
		zap.Int("tags", len(out.TrackingTags.Tags)),
		zap.Int("anomalies", len(anomalies)),
	)
	return out, anomalies, nil
}

// guard runs fn, converting a panic or an error into an anomaly. Each task
// writes a distinct field of the result, so failure needs no reset beyond
// what the extractor already returned.
func (r *Runner) guard(name string, fn func() error, record func(string, error)) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Extractor panicked",
				zap.String("extractor", name),
				zap.Any("panicValue", p),
				zap.String("stack", string(debug.Stack())),
			)
			record(name, fmt.Errorf("%w: panic: %v", ErrMalformedSignalInput, p))
		}
	}()
	if err := fn(); err != nil {
		record(name, err)
	}
}
