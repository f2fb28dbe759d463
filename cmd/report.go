package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/reporting"
	"github.com/xkilldash9x/consentscope/internal/store"
)

// newReportCmd renders stored analyses.
func newReportCmd(factory componentFactory) *cobra.Command {
	var format, output string

	reportCmd := &cobra.Command{
		Use:   "report [analysis-ids...]",
		Short: "Renders stored analyses as a report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			repo, err := openStore(ctx, factory, cfg, logger)
			if err != nil {
				return err
			}
			defer repo.Close()
			return runReport(ctx, logger, repo, args, format, output, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatMarkdown,
		"report format ("+strings.Join(reporting.Formats(), ", ")+")")
	reportCmd.Flags().StringVarP(&output, "output", "o", "", "report file path (default stdout)")
	return reportCmd
}

func runReport(ctx context.Context, logger *zap.Logger, repo store.Repository, ids []string, format, output string, stdout io.Writer) error {
	reporter, err := newReporter(format, output, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
		}
	}()

	for _, id := range ids {
		res, err := repo.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("analysis %s not found", id)
		}
		if err != nil {
			return err
		}
		if err := reporter.Write(res); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if output != "" {
		logger.Info("Report successfully written to file", zap.String("path", output))
	}
	return nil
}
