// Пакет backend — открытие и закрытие настроенного backend'а метаданных.
// Инициализация и освобождение клиента выполняются явно: Open при старте,
// Close при завершении процесса.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/firestorestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/fsstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/mongostore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/pgstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/redisstore"
)

// Backend — открытое хранилище метаданных.
type Backend struct {
	// Store — хранилище метаданных
	Store metastore.Store
	// Kind — тип backend'а (config.Backend*)
	Kind string
	// SQLDB — адаптер pgxpool → *sql.DB для topologymetrics (только postgres)
	SQLDB *sql.DB
	// ConnURL — URL зависимости для лейблов topologymetrics (только postgres)
	ConnURL string

	logger *slog.Logger
}

// Open подключается к backend'у, выбранному в cfg.MetaBackend.
// Для postgres предварительно применяются миграции.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{
		Kind:   cfg.MetaBackend,
		logger: logger.With(slog.String("component", "backend")),
	}

	switch cfg.MetaBackend {
	case config.BackendFS:
		s, err := fsstore.New(cfg.MetaDir, cfg.MetaRoot)
		if err != nil {
			return nil, err
		}
		b.Store = s
		b.logger.Info("Хранилище метаданных: файловая система",
			slog.String("root", s.Root()),
		)

	case config.BackendPostgres:
		if err := pgstore.Migrate(cfg.MigrateURL(), logger); err != nil {
			return nil, err
		}
		pool, err := pgstore.Connect(ctx, cfg.DatabaseDSN())
		if err != nil {
			return nil, err
		}
		b.SQLDB = stdlib.OpenDBFromPool(pool)
		b.ConnURL = cfg.DatabaseDSN()
		db := b.SQLDB
		b.Store = pgstore.New(pool, func() {
			db.Close()
			pool.Close()
		})
		b.logger.Info("Хранилище метаданных: PostgreSQL",
			slog.String("host", cfg.DBHost),
			slog.Int("port", cfg.DBPort),
			slog.String("database", cfg.DBName),
		)

	case config.BackendRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.Store = redisstore.New(client, cfg.MetaRoot)
		b.logger.Info("Хранилище метаданных: Redis",
			slog.String("addr", client.Options().Addr),
			slog.String("root", cfg.MetaRoot),
		)

	case config.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		s, err := mongostore.New(ctx, client, cfg.MongoDatabase, cfg.MetaRoot)
		if err != nil {
			client.Disconnect(ctx)
			return nil, err
		}
		b.Store = s
		b.logger.Info("Хранилище метаданных: MongoDB",
			slog.String("database", cfg.MongoDatabase),
			slog.String("collection", cfg.MetaRoot),
		)

	case config.BackendFirestore:
		client, err := firestorestore.Connect(ctx, cfg.FirestoreProject, cfg.FirestoreCredentials)
		if err != nil {
			return nil, err
		}
		b.Store = firestorestore.New(client, cfg.MetaRoot)
		b.logger.Info("Хранилище метаданных: Firestore",
			slog.String("project", cfg.FirestoreProject),
			slog.String("root", cfg.MetaRoot),
		)

	default:
		return nil, fmt.Errorf("неизвестный backend метаданных %q", cfg.MetaBackend)
	}

	return b, nil
}

// Close освобождает клиент backend'а. Повторный вызов безопасен.
func (b *Backend) Close(ctx context.Context) error {
	if b == nil || b.Store == nil {
		return nil
	}
	err := b.Store.Close(ctx)
	b.Store = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Warn("Ошибка закрытия хранилища метаданных", slog.String("error", err.Error()))
		return err
	}
	b.logger.Info("Хранилище метаданных закрыто")
	return nil
}
