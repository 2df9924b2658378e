package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
	"gopkg.in/natefinch/lumberjack.v2"

	"tether/cmd/client/cmd/auth"
	"tether/cmd/client/cmd/conflict"
	"tether/cmd/client/cmd/outbox"
	"tether/cmd/client/cmd/record"
	"tether/cmd/client/cmd/stage"
	"tether/cmd/client/cmd/storage"
	"tether/cmd/client/cmd/sync"
	"tether/internal/app/client"
	"tether/internal/app/client/config"
	"tether/internal/utils/logger"
)

// DaemonAnnotation помечает команды, которые пишут лог в ротируемый файл
const DaemonAnnotation = "daemon"

var (
	cfgFile    string
	debug      bool
	jsonOutput bool
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "tether - офлайн-клиент с локальной репликой и синхронизацией",
	Long: `tether хранит локальную реплику удаленных таблиц в SQLite.

Все изменения сначала применяются локально и попадают в очередь исходящих,
затем отправляются на сервер. Изменения сервера подтягиваются по журналу.
Отклоненные сервером правки попадают в журнал конфликтов для ручного разбора.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if serverAddr != "" {
		cfg.ServerAddress = serverAddr
	}

	log := newLogger(cmd, cfg)

	app, err := client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	cmd.SetContext(client.WithApp(cmd.Context(), app))
	return nil
}

func closeApp(cmd *cobra.Command, _ []string) error {
	app, err := client.FromContext(cmd.Context())
	if err != nil {
		return nil
	}
	return app.Close()
}

// newLogger: демон пишет в stdout и в файл LOG_FILE, остальные команды молчат без --debug
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	var out io.Writer = io.Discard

	switch {
	case cmd.Annotations[DaemonAnnotation] == "true":
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	case debug:
		out = os.Stderr
	}

	return logger.NewWithWriter(cfg.Env, out)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл (по умолчанию ~/.tether/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "выводить журнал в stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "адрес сервера host:port")

	rootCmd.AddCommand(auth.AuthCmd)
	rootCmd.AddCommand(record.RecordCmd)
	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(outbox.OutboxCmd)
	rootCmd.AddCommand(conflict.ConflictCmd)
	rootCmd.AddCommand(stage.StageCmd)
	rootCmd.AddCommand(storage.StorageCmd)

	sync.RunCmd.Annotations = map[string]string{DaemonAnnotation: "true"}
}
