package record

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

var (
	dataFlag string
	fileFlag string
	limit    int
)

// RecordCmd - операции с записями локальной реплики
var RecordCmd = &cobra.Command{
	Use:     "record",
	Aliases: []string{"rec"},
	Short:   "Работа с записями таблиц",
	Long: `Создание, изменение и удаление записей в локальной реплике.

Изменения применяются локально сразу и попадают в очередь исходящих.
Таблицы: ` + tableList(),
}

var createCmd = &cobra.Command{
	Use:   "create <table>",
	Short: "Создать запись",
	Example: `  tether record create tags --data '{"name":"watchlist"}'
  tether record create entities --file entity.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, name, err := prepare(cmd, args)
		if err != nil {
			return err
		}
		fields, err := output.ReadPayload(dataFlag, fileFlag)
		if err != nil {
			return err
		}

		row, err := app.CreateRecord(cmd.Context(), name, fields)
		if err != nil {
			return fmt.Errorf("ошибка создания записи: %w", err)
		}
		return printRow(cmd, row, "Запись создана: %s")
	},
}

var updateCmd = &cobra.Command{
	Use:     "update <table> <id>",
	Short:   "Изменить поля записи",
	Example: `  tether record update tags 6f1c... --data '{"category":"ops"}'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, name, err := prepare(cmd, args)
		if err != nil {
			return err
		}
		patch, err := output.ReadPayload(dataFlag, fileFlag)
		if err != nil {
			return err
		}

		row, err := app.UpdateRecord(cmd.Context(), name, args[1], patch)
		if err != nil {
			return fmt.Errorf("ошибка изменения записи: %w", err)
		}
		return printRow(cmd, row, "Запись изменена: %s")
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <table> <id>",
	Aliases: []string{"rm"},
	Short:   "Удалить запись",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, name, err := prepare(cmd, args)
		if err != nil {
			return err
		}

		row, err := app.DeleteRecord(cmd.Context(), name, args[1])
		if err != nil {
			return fmt.Errorf("ошибка удаления записи: %w", err)
		}
		return printRow(cmd, row, "Запись удалена: %s")
	},
}

var getCmd = &cobra.Command{
	Use:   "get <table> <id>",
	Short: "Показать запись",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, name, err := prepare(cmd, args)
		if err != nil {
			return err
		}

		row, err := app.GetRecord(cmd.Context(), name, args[1])
		if err != nil {
			return err
		}

		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), row)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Таблица:      %s\n", row.Table)
		fmt.Fprintf(w, "ID:           %s\n", row.ID())
		fmt.Fprintf(w, "Не отправлено: %s\n", output.YesNo(row.Meta.LocalDirty))
		fmt.Fprintf(w, "Удалено:      %s\n", output.YesNo(row.Meta.LocalDeleted))
		fmt.Fprintf(w, "Получено:     %s\n", output.Time(row.Meta.LastPulledAt))
		fmt.Fprintln(w)
		return output.PrintJSON(w, row.Data)
	},
}

var listCmd = &cobra.Command{
	Use:     "list <table>",
	Aliases: []string{"ls"},
	Short:   "Список записей по дате изменения",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, name, err := prepare(cmd, args)
		if err != nil {
			return err
		}

		rows, err := app.ListRecords(cmd.Context(), name, limit)
		if err != nil {
			return err
		}

		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), rows)
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Записей нет")
			return nil
		}
		return printRows(cmd.OutOrStdout(), rows)
	},
}

func prepare(cmd *cobra.Command, args []string) (*client.App, table.Name, error) {
	app, err := client.FromContext(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	name, err := table.Parse(args[0])
	if err != nil {
		return nil, "", err
	}
	return app, name, nil
}

func printRow(cmd *cobra.Command, row *replica.Row, format string) error {
	if output.JSON(cmd) {
		return output.PrintJSON(cmd.OutOrStdout(), row)
	}
	output.Success(cmd.OutOrStdout(), format, row.ID())
	return nil
}

func printRows(w io.Writer, rows []replica.Row) error {
	tw := output.Table(w, "ID", "ИЗМЕНЕНА", "НЕ ОТПРАВЛЕНА", "ДАННЫЕ")
	for _, row := range rows {
		updated := "-"
		if t, ok := row.Data.UpdatedAt(); ok {
			updated = output.Time(&t)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			row.ID(),
			updated,
			output.YesNo(row.Meta.LocalDirty),
			output.Truncate(summary(row.Data), 60),
		)
	}
	return tw.Flush()
}

// summary - краткое представление записи без служебных колонок
func summary(row table.Row) string {
	var out string
	for _, key := range []string{"name", "title", "value", "kind", "type"} {
		if v, ok := row[key]; ok && v != nil {
			if out != "" {
				out += ", "
			}
			out += fmt.Sprintf("%s=%v", key, v)
		}
	}
	if out == "" {
		return fmt.Sprintf("%d полей", len(row))
	}
	return out
}

func tableList() string {
	var out string
	for i, name := range table.All {
		if i > 0 {
			out += ", "
		}
		out += name.String()
	}
	return out
}

func init() {
	for _, c := range []*cobra.Command{createCmd, updateCmd} {
		c.Flags().StringVarP(&dataFlag, "data", "d", "", "JSON объект с полями записи")
		c.Flags().StringVarP(&fileFlag, "file", "f", "", "файл с JSON объектом (- для stdin)")
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "максимальное число записей")

	RecordCmd.AddCommand(createCmd, updateCmd, deleteCmd, getCmd, listCmd)
}
