package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"tether/internal/app/server"
	"tether/internal/app/server/config"
	"tether/internal/utils/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tether-server",
		Short: "Reference remote store for tether clients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cfg.Env)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.New(ctx, cfg, log)
			if err != nil {
				log.Error("failed to start server", logger.Err(err))
				return err
			}
			return app.Run(ctx)
		},
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "hash-token",
		Short: "Read a bearer token from the terminal and print its bcrypt hash for AUTH_TOKEN_HASHES",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "Token: ")
			token, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			if len(token) == 0 {
				return fmt.Errorf("token is empty")
			}

			hash, err := bcrypt.GenerateFromPassword(token, bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	})

	root.AddCommand(tokenCmd())

	root.SetContext(context.Background())
	return root
}
