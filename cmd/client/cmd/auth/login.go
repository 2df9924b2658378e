package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tether/cmd/client/cmd/output"
	"tether/internal/app/client"
)

var (
	tokenFromStdin bool
	noVerify       bool
)

var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Сохранить токен доступа",
	Long: `Сохраняет bearer токен для синхронизации с сервером.

Токен вводится без эха в терминале или читается из stdin (--stdin).
Перед сохранением токен проверяется запросом к серверу, если не указан --no-verify.
Запущенный демон подхватывает новый токен автоматически.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := client.FromContext(cmd.Context())
		if err != nil {
			return err
		}

		token, err := readToken(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := app.Login(ctx, token, !noVerify); err != nil {
			return fmt.Errorf("ошибка входа: %w", err)
		}

		output.Success(cmd.OutOrStdout(), "Токен сохранен")
		return nil
	},
}

func readToken(cmd *cobra.Command) (string, error) {
	if tokenFromStdin || !term.IsTerminal(int(os.Stdin.Fd())) {
		var token string
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &token); err != nil {
			return "", fmt.Errorf("ошибка чтения токена: %w", err)
		}
		return strings.TrimSpace(token), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Токен: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("ошибка чтения токена: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func init() {
	LoginCmd.Flags().BoolVar(&tokenFromStdin, "stdin", false, "читать токен из stdin")
	LoginCmd.Flags().BoolVar(&noVerify, "no-verify", false, "не проверять токен на сервере")
}
