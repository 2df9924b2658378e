package sync

import (
	"fmt"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
)

var checkServer bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние синхронизации",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		st, err := app.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения состояния: %w", err)
		}

		var connErr error
		if checkServer {
			connErr = app.CheckConnection(cmd.Context())
		}

		if output.JSON(cmd) {
			out := map[string]any{"status": st}
			if checkServer {
				out["online"] = connErr == nil
			}
			return output.PrintJSON(cmd.OutOrStdout(), out)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Сервер:            %s\n", st.Server)
		fmt.Fprintf(w, "Вход выполнен:     %s\n", output.YesNo(st.Authenticated))
		if checkServer {
			if connErr != nil {
				fmt.Fprintf(w, "Соединение:        %s (%v)\n", output.Status("offline"), connErr)
			} else {
				fmt.Fprintf(w, "Соединение:        %s\n", output.Status("online"))
			}
		}
		fmt.Fprintf(w, "Позиция журнала:   %d\n", st.Cursor)
		fmt.Fprintf(w, "В очереди:         %d\n", st.PendingOutbox)
		if st.ErroredOutbox > 0 {
			fmt.Fprintf(w, "С ошибкой:         %s\n", output.Status("error")+fmt.Sprintf(" %d", st.ErroredOutbox))
		}
		fmt.Fprintf(w, "Конфликтов:        %d\n", st.PendingConflicts)
		if st.Storage.Quota > 0 {
			fmt.Fprintf(w, "Хранилище:         %.1f MB из %.1f MB (%.0f%%)\n",
				mb(st.Storage.Usage), mb(st.Storage.Quota), st.Storage.Ratio()*100)
		} else {
			fmt.Fprintf(w, "Хранилище:         %.1f MB\n", mb(st.Storage.Usage))
		}
		return nil
	},
}

func mb(b int64) float64 {
	return float64(b) / (1 << 20)
}

func init() {
	statusCmd.Flags().BoolVar(&checkServer, "check", true, "проверить доступность сервера")
}
