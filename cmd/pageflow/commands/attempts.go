package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pageflow/pageflow/pkg/engine"
	"github.com/pageflow/pageflow/pkg/stores"
)

func newAttemptsCommand() *cobra.Command {
	var (
		storePath string
		filter    stores.AttemptFilter
	)

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List recorded login attempts",
		Long: `List login attempts from the SQLite audit store, newest first.

The store is taken from --store, or from the profile given with --config.`,
		Example: `  # Last 20 attempts recorded for a profile
  pageflow attempts -c crm.cue --limit 20

  # Failures against one host
  pageflow attempts --store ~/.pageflow/attempts.db --host login.microsoftonline.com --outcome failure`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListAttempts(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tPROFILE\tHOST\tOUTCOME\tSTATE\tOTC\tDURATION")
			for _, r := range records {
				outcome := r.Outcome
				if outcome == "" {
					outcome = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Profile, r.Host,
					outcome, r.FinalState, r.OTCAttempts, r.Duration.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "SQLite attempt store (defaults to the profile's store)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of attempts to list")
	cmd.Flags().StringVar(&filter.Host, "host", "", "only attempts against this host")
	cmd.Flags().StringVar(&filter.Profile, "profile", "", "only attempts for this profile")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "only attempts with this outcome (success, redirect, failure)")

	cmd.AddCommand(newAttemptsShowCommand(&storePath))
	cmd.AddCommand(newAttemptsPruneCommand(&storePath))

	return cmd
}

func newAttemptsShowCommand(storePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <attempt-id>",
		Short: "Show one attempt and its state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, *storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			attempt, err := store.GetAttempt(ctx, args[0])
			if err != nil {
				return err
			}
			transitions, err := store.ListTransitions(ctx, attempt.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), struct {
					*stores.AttemptRecord
					Transitions []*stores.TransitionRecord `json:"transitions"`
				}{attempt, transitions})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "attempt %s (%s) %s%s\n", attempt.ID, attempt.Profile, attempt.Host, attempt.Path)
			if attempt.Outcome != "" {
				fmt.Fprintf(out, "outcome: %s in state %s after %s\n", attempt.Outcome, attempt.FinalState, attempt.Duration)
			}
			if attempt.Reason != "" {
				fmt.Fprintf(out, "reason: %s\n", attempt.Reason)
			}
			for _, t := range transitions {
				line := fmt.Sprintf("  %s  %s -> %s", t.At.Local().Format(time.TimeOnly), t.From, t.To)
				if t.Detail != "" {
					line += "  (" + t.Detail + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newAttemptsPruneCommand(storePath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete attempts older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return engine.NewConfigurationError("--older-than must be positive", nil)
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, *storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneAttempts(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("Pruned login attempts")
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age beyond which attempts are deleted")
	return cmd
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" && configPath != "" {
		profile, err := loadProfile(ctx, configPath)
		if err != nil {
			return nil, err
		}
		path = profile.Store.Path
	}
	if path == "" {
		return nil, engine.NewConfigurationError("no attempt store configured: pass --store or a profile with store.path", nil).
			WithCode(engine.ErrCodeInvalidConfig)
	}
	return stores.Open(ctx, stores.Config{Path: path})
}
