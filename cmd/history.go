package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/consentscope/internal/compliance"
	"github.com/xkilldash9x/consentscope/internal/observability"
	"github.com/xkilldash9x/consentscope/internal/orchestrator"
	"github.com/xkilldash9x/consentscope/internal/store"
)

func newHistoryCmd(factory componentFactory) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history [url]",
		Short: "Lists stored analyses of a URL and compares the latest two",
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
			return runHistory(ctx, repo, args[0], limit, cmd.OutOrStdout())
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "maximum number of entries")
	return historyCmd
}

func runHistory(ctx context.Context, repo store.Repository, rawURL string, limit int, out io.Writer) error {
	target, err := orchestrator.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	entries, err := repo.ListByURL(ctx, target, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(out, "No stored analyses for %s\n", target)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tMODE\tSCORE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.ID, e.Timestamp.Local().Format(time.DateTime), e.Mode, e.Score)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(entries) < 2 {
		return nil
	}
	// Entries are newest first.
	curr, err := repo.Get(ctx, entries[0].ID)
	if err != nil {
		return err
	}
	prev, err := repo.Get(ctx, entries[1].ID)
	if err != nil {
		return err
	}
	cmp := compliance.Compare(prev, curr)

	fmt.Fprintf(out, "\nChange since %s: %+d points\n", cmp.PreviousID, cmp.ScoreDelta)
	for _, title := range cmp.NewIssues {
		fmt.Fprintf(out, "  + %s\n", title)
	}
	for _, title := range cmp.ResolvedIssues {
		fmt.Fprintf(out, "  - %s\n", title)
	}
	return nil
}
