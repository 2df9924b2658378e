package auth

import (
	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
)

var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Удалить сохраненный токен",
	Long: `Удаляет токен доступа. Локальная реплика и очередь исходящих сохраняются,
синхронизация возобновится после следующего входа.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.Logout(); err != nil {
			return err
		}
		output.Success(cmd.OutOrStdout(), "Токен удален")
		return nil
	},
}
