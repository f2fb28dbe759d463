package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/reporting"
	"github.com/xkilldash9x/consentscope/internal/server"
	"github.com/xkilldash9x/consentscope/internal/store"
)

type analyzeOptions struct {
	quick  bool
	save   bool
	format string
	output string
}

func newAnalyzeCmd(factory componentFactory) *cobra.Command {
	opts := analyzeOptions{}
	analyzeCmd := &cobra.Command{
		Use:   "analyze [urls...]",
		Short: "Audits one or more websites and prints a compliance report",
		Long: `Loads every URL in a fresh browser context, runs the accept/reject consent
experiment (skipped with --quick), extracts tracking signals and scores the result.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			analyzer, cleanup, err := factory.NewAnalyzer(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			var repo store.Repository
			if opts.save {
				if repo, err = openStore(ctx, factory, cfg, logger); err != nil {
					return err
				}
				defer repo.Close()
			}
			return runAnalyze(ctx, logger, analyzer, repo, args, opts, cmd.OutOrStdout())
		},
	}

	analyzeCmd.Flags().BoolVarP(&opts.quick, "quick", "q", false, "skip the consent experiment and third-party enrichment")
	analyzeCmd.Flags().BoolVar(&opts.save, "save", false, "persist results to the configured database")
	analyzeCmd.Flags().StringVarP(&opts.format, "format", "f", reporting.FormatMarkdown,
		"report format ("+strings.Join(reporting.Formats(), ", ")+")")
	analyzeCmd.Flags().StringVarP(&opts.output, "output", "o", "", "report file path (default stdout)")
	return analyzeCmd
}

// runAnalyze analyzes every target in order. A failing target is logged and
// skipped; the command fails if any target failed.
func runAnalyze(
	ctx context.Context,
	logger *zap.Logger,
	analyzer server.Analyzer,
	repo store.Repository,
	targets []string,
	opts analyzeOptions,
	stdout io.Writer,
) error {
	reporter, err := newReporter(opts.format, opts.output, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}()

	run := analyzer.Analyze
	if opts.quick {
		run = analyzer.AnalyzeQuick
	}

	var failed []string
	for _, target := range targets {
		log := logger.With(zap.String("target", target))
		res, err := run(ctx, target, func(step schemas.AuditStep) {
			log.Debug("Step", zap.String("step", step.Step), zap.String("status", string(step.Status)))
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("analysis aborted")
			}
			log.Error("Analysis failed", zap.Error(err))
			failed = append(failed, target)
			continue
		}
		log.Info("Analysis finished.", zap.String("analysis_id", res.ID), zap.Int("score", res.Score.Total))

		if repo != nil {
			if err := repo.Save(ctx, res); err != nil {
				log.Error("Failed to save analysis", zap.Error(err))
				failed = append(failed, target)
			}
		}
		if err := reporter.Write(res); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d analyses failed: %s", len(failed), len(targets), strings.Join(failed, ", "))
	}
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newReporter writes to path, or to stdout when path is empty.
func newReporter(format, path string, stdout io.Writer) (reporting.Reporter, error) {
	if path == "" {
		return reporting.NewWithWriter(format, nopCloser{stdout})
	}
	return reporting.New(format, path)
}
