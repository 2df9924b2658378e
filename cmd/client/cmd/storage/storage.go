package storage

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
	"tether/internal/domain/replica"
)

// StorageCmd - использование локального хранилища
var StorageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Локальное хранилище и квота",
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Показать занятое место",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		est, err := app.Estimator.Estimate(cmd.Context())
		if err != nil {
			return err
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), est)
		}
		printEstimate(cmd.OutOrStdout(), "Занято", est)
		return nil
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Освободить место, удалив давно не используемые записи",
	Long: `Удаляет из реплики давно не используемые записи, если занятое место
превышает порог квоты. Неотправленные записи не удаляются.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}
		res, err := app.Evictor.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка очистки: %w", err)
		}
		if output.JSON(cmd) {
			return output.PrintJSON(cmd.OutOrStdout(), res)
		}

		w := cmd.OutOrStdout()
		printEstimate(w, "До", res.Before)
		printEstimate(w, "После", res.After)
		output.Success(w, "Удалено записей: %d", res.Evicted)
		return nil
	},
}

func printEstimate(w io.Writer, label string, est replica.Estimate) {
	usage := float64(est.Usage) / (1 << 20)
	if est.Quota <= 0 {
		fmt.Fprintf(w, "%s: %.1f MB (квота не задана)\n", label, usage)
		return
	}
	quota := float64(est.Quota) / (1 << 20)
	fmt.Fprintf(w, "%s: %.1f MB из %.1f MB (%.0f%%)\n", label, usage, quota, est.Ratio()*100)
}

func init() {
	StorageCmd.AddCommand(usageCmd, evictCmd)
}
