package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
	outboxdomain "tether/internal/domain/outbox"
)

var status string

// OutboxCmd - просмотр и управление очередью исходящих изменений
var OutboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Очередь исходящих изменений",
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Показать транзакции очереди",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		st := outboxdomain.Status(status)
		if !st.Valid() {
			return fmt.Errorf("неизвестный статус: %s", status)
		}

		txs, err := app.Outbox.List(cmd.Context(), st)
		if err != nil {
			return err
		}

		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), txs)
		}
		if len(txs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Нет транзакций со статусом %s\n", status)
			return nil
		}

		tw := output.Table(cmd.OutOrStdout(), "TX", "ТАБЛИЦА", "ОПЕРАЦИЯ", "ЗАПИСЬ", "СТАТУС", "ПОПЫТОК", "ПОВТОР", "ОШИБКА")
		for _, tx := range txs {
			lastErr := "-"
			if tx.LastError != nil {
				lastErr = output.Truncate(*tx.LastError, 40)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				tx.TxID, tx.Table, tx.Op, tx.RecordID,
				output.Status(string(tx.Status)), tx.AttemptCount,
				output.Time(tx.NextRetryAt), lastErr,
			)
		}
		return tw.Flush()
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <tx_id>",
	Short: "Повторить отправку транзакции с ошибкой",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := app.Outbox.Retry(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("ошибка повтора: %w", err)
		}
		output.Success(cmd.OutOrStdout(), "Транзакция %s возвращена в очередь", args[0])
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <tx_id>",
	Short: "Отменить неотправленную транзакцию",
	Long: `Отменяет транзакцию, которая еще не дошла до сервера.
Если других неотправленных правок записи нет, запись заново загружается
с сервера. Без связи с сервером это произойдет при следующей синхронизации.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		res, err := app.Reconciler.Cancel(ctx, args[0])
		if err != nil {
			return fmt.Errorf("ошибка отмены: %w", err)
		}

		w := cmd.OutOrStdout()
		if output.JSON(cmd) {
			return output.PrintJSON(w, res)
		}
		output.Success(w, "Транзакция %s отменена", args[0])
		switch {
		case res.Refreshed:
			output.Success(w, "Запись восстановлена по версии сервера")
		case res.Stale:
			output.Warn(w, "Сервер недоступен, запись обновится при следующей синхронизации")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&status, "status", "s", string(outboxdomain.StatusPending),
		"статус: pending, syncing, synced, error, canceled")
	OutboxCmd.AddCommand(listCmd, retryCmd, cancelCmd)
}
