// Точка входа Ingest Module — сервиса приёма загружаемых файлов.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand создаёт корневую команду. Без подкоманды выполняется serve.
func newRootCommand() *cobra.Command {
	serveCmd := newServeCommand()

	rootCmd := &cobra.Command{
		Use:           "ingest-module",
		Short:         "Ingest Module — приём файлов и регистрация метаданных",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newReconcileCommand())
	return rootCmd
}

// loadConfig загружает конфигурацию и настраивает логгер.
// Ошибка конфигурации выводится в stderr: логгер ещё не настроен.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		return nil, err
	}
	if cfg.ServiceID == "" {
		cfg.ServiceID = serviceIDFromHostname()
	}
	return cfg, nil
}
