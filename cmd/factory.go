package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/browser"
	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/consent"
	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/orchestrator"
	"github.com/xkilldash9x/consentscope/internal/server"
	"github.com/xkilldash9x/consentscope/internal/signals"
	"github.com/xkilldash9x/consentscope/internal/store"
	"github.com/xkilldash9x/consentscope/internal/summary"
)

// summarizer is satisfied by *summary.Summarizer.
type summarizer interface {
	Summarize(ctx context.Context, res *schemas.AnalysisResult) (string, error)
}

// componentFactory builds the long-lived services a command needs. Tests
// replace it to run commands without a browser or database.
type componentFactory interface {
	// NewAnalyzer returns the analysis pipeline and a cleanup func that shuts
	// the browser down. rec may be nil.
	NewAnalyzer(ctx context.Context, cfg config.Interface, logger *zap.Logger, rec orchestrator.Recorder) (server.Analyzer, func(), error)
	// NewStore returns store.ErrDisabled when persistence is switched off.
	NewStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (store.Repository, error)
	NewSummarizer(ctx context.Context, cfg config.Interface, logger *zap.Logger) (summarizer, error)
}

type defaultFactory struct{}

func (defaultFactory) NewAnalyzer(ctx context.Context, cfg config.Interface, logger *zap.Logger, rec orchestrator.Recorder) (server.Analyzer, func(), error) {
	manager, err := browser.NewManager(ctx, logger, cfg.Browser())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}

	consentCfg := cfg.Consent()
	load := browser.LoadOptionsFromConfig(cfg.Crawl(), consentCfg.DOMDepth, signals.WatchedGlobals())

	engine := consent.NewEngine(logger, consent.OptionsFromConfig(consentCfg))
	experiment := consent.NewExperiment(logger, engine,
		consent.SessionOpener{Sessions: manager, Load: load, IdleTimeout: consentCfg.IdleTimeout},
		consent.ExperimentOptions{
			SettleDelay:          consentCfg.SettleDelay,
			RetryOnSessionClosed: consentCfg.RetryOnSessionClosed,
		})

	var tech signals.TechnologyDetector
	if cfg.Analysis().Technologies {
		detector, err := signals.NewWappalyzerDetector()
		if err != nil {
			logger.Warn("Technology fingerprints unavailable. Continuing without them.", zap.Error(err))
		} else {
			tech = detector
		}
	}
	runner := signals.NewRunner(logger, tech, cfg.Analysis().ParallelExtractors)

	orch, err := orchestrator.New(logger,
		orchestrator.BrowserCrawler{Sessions: manager, Load: load, Logger: observability.Component(logger, observability.ComponentCrawler)},
		experiment,
		runner,
		orchestrator.WithRecorder(rec),
		orchestrator.WithThirdPartyEnrichment(cfg.Analysis().ThirdPartyEnrichment),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

func (defaultFactory) NewStore(ctx context.Context, cfg config.Interface, logger *zap.Logger) (store.Repository, error) {
	return store.Open(ctx, cfg.Database(), logger)
}

func (defaultFactory) NewSummarizer(ctx context.Context, cfg config.Interface, logger *zap.Logger) (summarizer, error) {
	gen, err := summary.NewGeminiGenerator(ctx, cfg.Summary(), "")
	if err != nil {
		if errors.Is(err, summary.ErrNoAPIKey) {
			return nil, fmt.Errorf("%w: set %s_SUMMARY_API_KEY or GEMINI_API_KEY", err, config.EnvPrefix)
		}
		return nil, err
	}
	return summary.New(gen, cfg.Summary(), logger), nil
}

// openStore opens the repository a command requires.
func openStore(ctx context.Context, factory componentFactory, cfg config.Interface, logger *zap.Logger) (store.Repository, error) {
	repo, err := factory.NewStore(ctx, cfg, logger)
	if errors.Is(err, store.ErrDisabled) {
		return nil, fmt.Errorf("this command needs persistence, but database.driver is %q", cfg.Database().Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return repo, nil
}
