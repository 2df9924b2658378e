package conflict

import (
	"fmt"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
	conflictdomain "tether/internal/domain/conflict"
)

var (
	status string
	limit  int
	note   string
)

// ConflictCmd - разбор правок, отклоненных сервером
var ConflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Журнал конфликтов",
	Long: `Правки, отклоненные сервером, сохраняются вместе с версией сервера.
Реплика при этом содержит версию сервера. Конфликт можно закрыть,
отклонить или применить локальную версию заново поверх серверной.`,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Показать конфликты",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		st := conflictdomain.Status(status)
		if !st.Valid() {
			return fmt.Errorf("неизвестный статус: %s", status)
		}

		entries, err := app.Conflicts.ListByStatus(cmd.Context(), st, limit)
		if err != nil {
			return err
		}

		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Конфликтов нет")
			return nil
		}

		tw := output.Table(cmd.OutOrStdout(), "ID", "СОЗДАН", "ТАБЛИЦА", "ЗАПИСЬ", "ПРИЧИНА", "СТАТУС")
		for _, e := range entries {
			created := e.CreatedAt
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ConflictID, output.Time(&created), e.Table, e.RecordID,
				e.Reason, output.Status(string(e.Status)),
			)
		}
		return tw.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <conflict_id>",
	Short: "Показать локальную и серверную версии",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		e, err := app.Conflicts.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output.JSON(cmd) {
			return output.PrintJSON(w, e)
		}

		fmt.Fprintf(w, "Конфликт: %s\n", e.ConflictID)
		fmt.Fprintf(w, "Запись:   %s/%s\n", e.Table, e.RecordID)
		fmt.Fprintf(w, "Причина:  %s\n", e.Reason)
		fmt.Fprintf(w, "Статус:   %s\n", output.Status(string(e.Status)))
		if e.Note != nil {
			fmt.Fprintf(w, "Заметка:  %s\n", *e.Note)
		}
		fmt.Fprintln(w, "\nЛокальная версия:")
		if err := output.PrintJSON(w, e.LocalRow); err != nil {
			return err
		}
		fmt.Fprintln(w, "\nВерсия сервера:")
		if e.ServerRow == nil {
			fmt.Fprintln(w, "запись удалена на сервере")
			return nil
		}
		return output.PrintJSON(w, e.ServerRow)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict_id>",
	Short: "Отметить конфликт разобранным",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.Conflicts.Resolve(cmd.Context(), args[0], note); err != nil {
			return err
		}
		output.Success(cmd.OutOrStdout(), "Конфликт %s закрыт", args[0])
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <conflict_id>",
	Short: "Отклонить локальную версию",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.Conflicts.Dismiss(cmd.Context(), args[0], note); err != nil {
			return err
		}
		output.Success(cmd.OutOrStdout(), "Конфликт %s отклонен", args[0])
		return nil
	},
}

var reapplyCmd = &cobra.Command{
	Use:   "reapply <conflict_id>",
	Short: "Применить локальную версию поверх серверной",
	Long: `Ставит в очередь новую правку с локальной версией записи на основе
текущей версии сервера и закрывает конфликт.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		row, err := app.Committer.Reapply(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("ошибка повторного применения: %w", err)
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), row)
		}
		if row == nil {
			output.Success(cmd.OutOrStdout(), "Локальная версия совпадает с серверной, конфликт закрыт")
			return nil
		}
		output.Success(cmd.OutOrStdout(), "Локальная версия %s/%s поставлена в очередь", row.Table, row.ID())
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&status, "status", "s", string(conflictdomain.StatusPendingReview),
		"статус: pending_review, manually_resolved, dismissed")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 50, "максимальное число конфликтов")
	for _, c := range []*cobra.Command{resolveCmd, dismissCmd} {
		c.Flags().StringVar(&note, "note", "", "заметка к решению")
	}
	ConflictCmd.AddCommand(listCmd, showCmd, resolveCmd, dismissCmd, reapplyCmd)
}
