// Package output содержит общие помощники вывода для команд CLI
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// JSON сообщает, запрошен ли вывод в формате JSON (--json)
func JSON(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	return err == nil && v
}

// PrintJSON печатает значение с отступами
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func Success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, green("✓"), fmt.Sprintf(format, args...))
}

func Warn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, yellow("⚠"), fmt.Sprintf(format, args...))
}

func Fail(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, red("✗"), fmt.Sprintf(format, args...))
}

// Status раскрашивает статусы транзакций, конфликтов и очереди
func Status(s string) string {
	switch s {
	case "synced", "completed", "committed", "accepted", "manually_resolved", "online", "yes":
		return green(s)
	case "pending", "syncing", "processing", "proposed", "edited", "pending_review":
		return yellow(s)
	case "error", "failed", "rejected", "offline", "no":
		return red(s)
	default:
		return faint(s)
	}
}

// YesNo возвращает раскрашенные yes/no
func YesNo(b bool) string {
	if b {
		return Status("yes")
	}
	return Status("no")
}

// Table создает выравнивающий писатель для табличного вывода
func Table(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(header) > 0 {
		fmt.Fprintln(tw, strings.Join(header, "\t"))
	}
	return tw
}

// Time форматирует время для таблиц
func Time(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// Truncate обрезает строку до n символов
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ReadPayload читает JSON объект из строки, файла или stdin ("-")
func ReadPayload(data, file string) (map[string]any, error) {
	var raw []byte
	switch {
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файла: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("укажите данные через --data или --file")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("данные должны быть JSON объектом: %w", err)
	}
	return payload, nil
}
