package sync

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
	syncdomain "tether/internal/domain/sync"
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Управление синхронизацией",
	Long: `Синхронизация локальной реплики с сервером.

Цикл синхронизации сначала отправляет очередь исходящих, затем подтягивает
изменения сервера по журналу. Для постоянной работы запустите демон: tether sync run`,
}

// RunCmd запускает демон синхронизации
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить демон синхронизации",
	Long: `Запускает фоновую синхронизацию: периодические циклы, проверку соединения,
realtime подписку, обработку очереди ввода и очистку хранилища по квоте.
Останавливается по Ctrl+C или SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Выполнить один цикл синхронизации",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		if !app.Session.IsAuthenticated() {
			return fmt.Errorf("требуется вход. Выполните: tether auth login")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		start := time.Now()
		res, err := app.SyncOnce(ctx)
		if err != nil {
			return fmt.Errorf("ошибка синхронизации: %w", err)
		}

		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), res)
		}
		printTick(cmd.OutOrStdout(), res, time.Since(start))
		return nil
	},
}

func printTick(w io.Writer, res syncdomain.TickResult, took time.Duration) {
	output.Success(w, "Синхронизация завершена за %v", took.Round(time.Millisecond))
	fmt.Fprintf(w, "Отправлено:      %d из %d\n", res.Push.Applied, res.Push.Attempted)
	if res.Push.Conflicts > 0 {
		output.Warn(w, "Конфликтов: %d (tether conflict list)", res.Push.Conflicts)
	}
	if res.Push.Failed > 0 {
		output.Fail(w, "Ошибок отправки: %d (tether outbox list --status error)", res.Push.Failed)
	}
	if res.Push.Deferred > 0 {
		fmt.Fprintf(w, "Отложено:        %d\n", res.Push.Deferred)
	}
	fmt.Fprintf(w, "Получено:        %d изменений, %d стр.\n", res.Pull.Applied, res.Pull.Pages)
	fmt.Fprintf(w, "Позиция журнала: %d\n", res.Pull.Cursor)
	if res.Refreshed > 0 {
		fmt.Fprintf(w, "Восстановлено:   %d записей\n", res.Refreshed)
	}
	if res.Pull.HasMore {
		output.Warn(w, "На сервере остались изменения, повторите синхронизацию")
	}
}

func init() {
	SyncCmd.AddCommand(RunCmd, onceCmd, statusCmd)
}
