package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/status"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var variants []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and print the report",
		Long: "Run preprocess, train, validate and promote for each variant, then announce the promotion " +
			"when the readiness policy holds. Stage failures are reported, not returned as an exit status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, a.cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			report, err := c.pipeline.Run(ctx, variants)
			if c.notifier != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = c.notifier.Close(closeCtx)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringSliceVar(&variants, "variant", nil, "variants to run (default: all configured variants)")
	return cmd
}

func newAnnounceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "announce",
		Short: "Merge the head branch into the base branch without running the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Merge.Enabled {
				return apperrors.Configuration("MERGE_ENABLED", "merging is disabled")
			}
			outcome, err := newAnnouncer(a.cfg.Merge, nil).Announce(cmd.Context())
			if err != nil {
				slog.Warn("Announcement did not merge", "outcome", outcome, "error", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status of every configured variant",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newStore(a.cfg.Store)
			if err != nil {
				return err
			}
			tracker := status.NewTracker(s)

			ctx := cmd.Context()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VARIANT\tSTATUS")
			for _, variant := range a.cfg.Pipeline.Variants {
				st, err := tracker.Get(ctx, variant)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", variant, st)
			}
			return w.Flush()
		},
	}
}
