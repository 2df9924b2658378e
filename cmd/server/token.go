package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/app/server/config"
	"tether/internal/domain/session"
	"tether/internal/infrastructure/storage/postgres"
	"tether/internal/utils/logger"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens stored in the server database",
	}

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <label>",
		Short: "Issue a new bearer token and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokens(cmd.Context(), func(tokens *session.Service) error {
				secret, tok, err := tokens.Issue(cmd.Context(), args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "issued token %s for %q\n", tok.ID, tok.Label)
				fmt.Fprintln(cmd.OutOrStdout(), secret)
				return nil
			})
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, 0 never expires")

	list := &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTokens(cmd.Context(), func(tokens *session.Service) error {
				all, err := tokens.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tLABEL\tCREATED\tEXPIRES\tLAST USED\tACTIVE")
				now := time.Now()
				for _, t := range all {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
						t.ID, t.Label, t.CreatedAt.Format(time.RFC3339),
						formatTime(t.ExpiresAt), formatTime(t.LastUsedAt), t.Active(now))
				}
				return tw.Flush()
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an issued token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokens(cmd.Context(), func(tokens *session.Service) error {
				return tokens.Revoke(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(issue, list, revoke)
	return cmd
}

func withTokens(ctx context.Context, fn func(*session.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the issued secret only
	log := logger.NewWithWriter(cfg.Env, os.Stderr)

	storage, err := postgres.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	return fn(session.NewService(postgres.NewTokenRepository(storage, log), log))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
