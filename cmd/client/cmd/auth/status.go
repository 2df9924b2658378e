package auth

import (
	"fmt"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Проверить состояние сессии и доступность сервера",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		authenticated := app.Session.IsAuthenticated()
		connErr := app.CheckConnection(cmd.Context())

		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), map[string]any{
				"server":        app.Remote.BaseURL(),
				"authenticated": authenticated,
				"online":        connErr == nil,
			})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Сервер:        %s\n", app.Remote.BaseURL())
		fmt.Fprintf(w, "Токен:         %s\n", output.YesNo(authenticated))
		if connErr != nil {
			fmt.Fprintf(w, "Соединение:    %s (%v)\n", output.Status("offline"), connErr)
		} else {
			fmt.Fprintf(w, "Соединение:    %s\n", output.Status("online"))
		}
		return nil
	},
}
