package auth

import (
	"github.com/spf13/cobra"
)

// AuthCmd - родительская команда для управления токеном доступа
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Управление доступом к серверу",
	Long:  `Вход по bearer токену, выход и проверка состояния сессии.`,
}

func init() {
	AuthCmd.AddCommand(LoginCmd, LogoutCmd, StatusCmd)
}
