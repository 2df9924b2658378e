package stage

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
	"tether/internal/domain/staging"
)

var (
	fileFlag   string
	label      string
	status     string
	inputID    string
	showStaged bool
	dataFlag   string
)

// StageCmd - очередь ввода и промежуточные записи на проверку
var StageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Очередь ввода и проверка извлеченных записей",
	Long: `Произвольный текст ставится в очередь ввода, из него извлекаются
предлагаемые записи. Предложения проверяются вручную: принять, отклонить
или исправить. Принятые записи создаются в реплике командой commit.`,
}

var submitCmd = &cobra.Command{
	Use:   "submit [текст]",
	Short: "Поставить текст в очередь ввода",
	Example: `  tether stage submit "tags:
    - name: watchlist"
  tether stage submit --file notes.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		text, err := readText(cmd, args)
		if err != nil {
			return err
		}

		var meta map[string]any
		if label != "" {
			meta = map[string]any{"origin": label}
		}

		item, err := app.Processor.Submit(cmd.Context(), text, meta)
		if err != nil {
			return fmt.Errorf("ошибка постановки в очередь: %w", err)
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), item)
		}
		output.Success(cmd.OutOrStdout(), "Ввод %s поставлен в очередь (позиция %d)", item.InputID, item.Position)
		return nil
	},
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case fileFlag == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("ошибка чтения stdin: %w", err)
		}
		return string(b), nil
	case fileFlag != "":
		b, err := os.ReadFile(fileFlag)
		if err != nil {
			return "", fmt.Errorf("ошибка чтения файла: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("укажите текст аргументом или через --file")
	}
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <input_id>",
	Short: "Отменить обработку ввода",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.Processor.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		output.Success(cmd.OutOrStdout(), "Ввод %s отменен", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Показать очередь ввода или извлеченные записи (--staged)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		if showStaged {
			return listStaged(cmd, app)
		}

		items, err := app.Staging.ListItems(cmd.Context(), staging.QueueStatus(status))
		if err != nil {
			return err
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), items)
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Очередь пуста")
			return nil
		}

		tw := output.Table(cmd.OutOrStdout(), "ID", "ПОЗИЦИЯ", "СТАТУС", "ТЕКСТ", "РЕЗУЛЬТАТ")
		for _, item := range items {
			result := "-"
			switch {
			case item.Error != nil:
				result = *item.Error
			case item.Result != nil:
				result = *item.Result
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
				item.InputID, item.Position, output.Status(string(item.Status)),
				output.Truncate(oneLine(item.Text), 40), output.Truncate(result, 40),
			)
		}
		return tw.Flush()
	},
}

func listStaged(cmd *cobra.Command, app *client.App) error {
	rows, err := app.Staging.ListStaged(cmd.Context(), staging.StagedStatus(status), inputID)
	if err != nil {
		return err
	}
	if output.JSON(cmd) {
		return output.PrintJSON(cmd.OutOrStdout(), rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Извлеченных записей нет")
		return nil
	}

	tw := output.Table(cmd.OutOrStdout(), "ID", "ВВОД", "ТАБЛИЦА", "СТАТУС", "ОШИБКИ")
	for _, row := range rows {
		errs := "-"
		if len(row.ValidationErrors) > 0 {
			errs = output.Truncate(strings.Join(row.ValidationErrors, "; "), 50)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.StagedID, row.InputID, row.Table, output.Status(string(row.Status)), errs,
		)
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var acceptCmd = &cobra.Command{
	Use:   "accept <staged_id>...",
	Short: "Принять извлеченные записи",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		var failed int
		for _, id := range args {
			if err := app.Staging.Accept(cmd.Context(), id); err != nil {
				output.Fail(cmd.OutOrStdout(), "%s: %v", id, err)
				failed++
				continue
			}
			output.Success(cmd.OutOrStdout(), "%s принята", id)
		}
		if failed > 0 {
			return fmt.Errorf("не принято записей: %d", failed)
		}
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <staged_id>...",
	Short: "Отклонить извлеченные записи",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := app.Staging.Reject(cmd.Context(), id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			output.Success(cmd.OutOrStdout(), "%s отклонена", id)
		}
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <staged_id>",
	Short:   "Исправить поля извлеченной записи",
	Example: `  tether stage edit 3b2a... --data '{"name":"corrected"}'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		patch, err := output.ReadPayload(dataFlag, fileFlag)
		if err != nil {
			return err
		}

		row, err := app.Staging.Edit(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), row)
		}
		if len(row.ValidationErrors) > 0 {
			output.Warn(cmd.OutOrStdout(), "Запись исправлена, но не проходит проверку: %s",
				strings.Join(row.ValidationErrors, "; "))
			return nil
		}
		output.Success(cmd.OutOrStdout(), "Запись %s исправлена", row.StagedID)
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Создать принятые записи в реплике",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		res, err := app.Staging.CommitAccepted(cmd.Context())
		if err != nil {
			return err
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), res)
		}

		output.Success(cmd.OutOrStdout(), "Создано записей: %d", res.Committed)
		for _, e := range res.Errors {
			output.Fail(cmd.OutOrStdout(), "%s: %s", e.StagedID, e.Error)
		}
		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Обработать очередь ввода без демона",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		n, err := app.Processor.Drain(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка обработки очереди: %w", err)
		}
		output.Success(cmd.OutOrStdout(), "Обработано вводов: %d", n)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "файл с текстом (- для stdin)")
	submitCmd.Flags().StringVar(&label, "origin", "", "метка источника ввода")

	listCmd.Flags().StringVarP(&status, "status", "s", "", "фильтр по статусу")
	listCmd.Flags().BoolVar(&showStaged, "staged", false, "показать извлеченные записи")
	listCmd.Flags().StringVar(&inputID, "input", "", "извлеченные записи одного ввода")

	editCmd.Flags().StringVarP(&dataFlag, "data", "d", "", "JSON объект с исправлениями")
	editCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "файл с JSON объектом (- для stdin)")

	StageCmd.AddCommand(submitCmd, cancelCmd, listCmd, acceptCmd, rejectCmd, editCmd, commitCmd, processCmd)
}
