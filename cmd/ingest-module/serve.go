package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/record"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/server"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/backend"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/journal"
)

// components — общие компоненты serve и reconcile.
type components struct {
	blobs   *blobstore.Store
	journal *journal.Journal
	backend *backend.Backend
	monitor *service.AvailabilityMonitor
}

// openComponents открывает blob area, журнал и backend метаданных.
func openComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. Журнал намерений
	j, err := journal.New(cfg.JournalDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала", slog.String("error", err.Error()))
		return nil, err
	}

	// 2. Blob area
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob area", slog.String("error", err.Error()))
		return nil, err
	}

	// 3. Хранилище метаданных
	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к хранилищу метаданных",
			slog.String("backend", cfg.MetaBackend),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// 4. Автомат состояния клиента хранилища
	monitor := service.NewAvailabilityMonitor(b.Store, state.NewMachine(), cfg.AvailabilityCheckInterval, logger)

	return &components{
		blobs:   blobs,
		journal: j,
		backend: b,
		monitor: monitor,
	}, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запуск HTTP-сервера (по умолчанию)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Ingest Module запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.String("meta_backend", cfg.MetaBackend),
		slog.Int("port", cfg.Port),
	)

	// --- Инициализация компонентов ---

	// 1-4. Журнал, blob area, хранилище метаданных, состояние
	comp, err := openComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = comp.backend.Close(context.Background()) }()

	// 5. Мониторинг доступности: первая проверка синхронная
	comp.monitor.Start(ctx)
	sm := comp.monitor.Machine()
	if !sm.IsReady() {
		logger.Warn("Хранилище метаданных недоступно, операции будут отклоняться до восстановления",
			slog.String("reason", sm.Reason()),
		)
	}

	// 6. Сервисы
	cache := service.NewOwnerCache(cfg.OwnerCacheSize, cfg.OwnerCacheTTL)
	builder := record.NewBuilder(cfg.PublicBaseURL, cfg.StaticPrefix, nil)
	meta := comp.backend.Store

	ingestSvc := service.NewIngestService(comp.blobs, meta, builder, comp.journal, sm, cache, cfg.MaxUploadSize, logger)
	fileSvc := service.NewFileService(comp.blobs, meta, comp.journal, sm, cache, cfg.ListAllMaxLimit, logger)
	reconcileSvc := service.NewReconcileService(comp.blobs, meta, comp.journal, sm,
		cfg.ReconcileInterval, cfg.ReconcileRemoveOrphans, logger)

	// 7. Фоновые процессы

	// 7.1 Reconciliation — фоновая сверка
	reconcileSvc.Start(ctx)

	// 7.2 topologymetrics — мониторинг PostgreSQL
	var dephealthSvc *service.DephealthService
	if comp.backend.SQLDB != nil {
		dephealthSvc = startDephealth(ctx, cfg, comp.backend, logger)
	}

	// 8. OpenAPI контракт
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		return err
	}
	docHandler, err := openapi.Handler(doc)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		return err
	}

	// 9. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewFilesHandler(ingestSvc, fileSvc, logger),
		handlers.NewAdminHandler(fileSvc, reconcileSvc),
		handlers.NewSystemHandler(cfg, sm, cache, blobAreaUsage(cfg.DataDir), logger),
		handlers.NewHealthHandler(cfg.DataDir, cfg.JournalDir, sm),
	)
	router := server.NewRouter(logger, server.Routes{
		API:          apiHandler,
		OpenAPI:      docHandler,
		Static:       handlers.NewStaticHandler(cfg.StaticPrefix, cfg.DataDir),
		StaticPrefix: cfg.StaticPrefix,
	})

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, router)
	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	reconcileSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	comp.monitor.Stop()

	logger.Info("Ingest Module остановлен")
	return runErr
}

// startDephealth запускает мониторинг PostgreSQL. Ошибка не мешает работе сервиса.
func startDephealth(ctx context.Context, cfg *config.Config, b *backend.Backend, logger *slog.Logger) *service.DephealthService {
	dephealthSvc, err := service.NewDephealthService(
		cfg.ServiceID,
		cfg.DephealthGroup,
		b.SQLDB,
		b.ConnURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc
}
