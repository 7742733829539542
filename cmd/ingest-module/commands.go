package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/pgstore"
)

// newMigrateCommand — применение миграций PostgreSQL без запуска сервера.
func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции PostgreSQL (IM_META_BACKEND=postgres)",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)

			if cfg.MetaBackend != config.BackendPostgres {
				err := fmt.Errorf("миграции применимы только к backend'у %s, задан %s",
					config.BackendPostgres, cfg.MetaBackend)
				logger.Error("Миграции не выполнены", slog.String("error", err.Error()))
				return err
			}
			if err := pgstore.Migrate(cfg.MigrateURL(), logger); err != nil {
				logger.Error("Ошибка миграций", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

// newReconcileCommand — однократная сверка с выводом итога в stdout (JSON).
func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Однократная сверка журнала, blob'ов и записей метаданных",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)
			ctx := cmd.Context()

			comp, err := openComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = comp.backend.Close(ctx) }()

			sm := comp.monitor.Machine()
			comp.monitor.Check(ctx)
			if !sm.IsReady() {
				err := errors.New("хранилище метаданных недоступно: " + sm.Reason())
				logger.Error("Сверка не выполнена", slog.String("error", err.Error()))
				return err
			}

			rs := service.NewReconcileService(comp.blobs, comp.backend.Store, comp.journal, sm,
				cfg.ReconcileInterval, cfg.ReconcileRemoveOrphans, logger)
			result, err := rs.RunOnce(ctx)
			if err != nil {
				logger.Error("Сверка не выполнена", slog.String("error", err.Error()))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
