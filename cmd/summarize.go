package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/store"
)

func newSummarizeCmd(factory componentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [analysis-id]",
		Short: "Writes an AI summary of a stored analysis",
		Args:  cobra.ExactArgs(1),
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

			s, err := factory.NewSummarizer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return runSummarize(ctx, repo, s, args[0], cmd.OutOrStdout())
		},
	}
}

func runSummarize(ctx context.Context, repo store.Repository, s summarizer, id string, out io.Writer) error {
	res, err := repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("analysis %s not found", id)
	}
	if err != nil {
		return err
	}
	text, err := s.Summarize(ctx, res)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}
