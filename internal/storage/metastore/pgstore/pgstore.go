// Пакет pgstore — backend метаданных на PostgreSQL.
// Таблица file_records с первичным ключом (owner_key, id) и уникальным id;
// партиция — все строки с одним owner_key. Чистый SQL через pgx, без ORM.
//
// Имя таблицы фиксировано миграциями, IM_META_ROOT этим backend'ом не используется.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// DB — интерфейс для выполнения SQL-запросов.
// Реализуется *pgxpool.Pool и pgxmock.PgxPoolIface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// recordColumns — столбцы file_records для SELECT. Одно место для всех запросов.
const recordColumns = `owner_key, id, stored_name, original_name, size, mime_type,
	storage_path, access_url, checksum, created_at`

const (
	insertQuery = `
		INSERT INTO file_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owner_key, id) DO UPDATE SET
			stored_name = EXCLUDED.stored_name,
			original_name = EXCLUDED.original_name,
			size = EXCLUDED.size,
			mime_type = EXCLUDED.mime_type,
			storage_path = EXCLUDED.storage_path,
			access_url = EXCLUDED.access_url,
			checksum = EXCLUDED.checksum,
			created_at = EXCLUDED.created_at`

	getQuery = `SELECT ` + recordColumns + ` FROM file_records WHERE owner_key = $1 AND id = $2`

	locateQuery = `SELECT owner_key FROM file_records WHERE id = $1`

	listByOwnerQuery = `SELECT ` + recordColumns + ` FROM file_records
		WHERE owner_key = $1 ORDER BY created_at DESC, id DESC`

	listAllQuery = `SELECT ` + recordColumns + ` FROM file_records
		ORDER BY created_at DESC, id DESC LIMIT $1`

	deleteQuery = `DELETE FROM file_records WHERE owner_key = $1 AND id = $2`
)

// Store — PostgreSQL backend метаданных.
type Store struct {
	db      DB
	closeFn func()
}

var _ metastore.Store = (*Store)(nil)

// New создаёт Store поверх db. closeFn вызывается в Close (может быть nil).
func New(db DB, closeFn func()) *Store {
	return &Store{db: db, closeFn: closeFn}
}

// Put сохраняет запись. Повторный Put той же записи перезаписывает строку;
// id, занятый в другой партиции, отклоняется ограничением уникальности.
func (s *Store) Put(ctx context.Context, ownerKey string, rec *model.FileRecord) error {
	if err := metastore.CheckRecord(ownerKey, rec); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx, insertQuery,
		ownerKey, rec.ID, rec.StoredName, rec.OriginalName, rec.Size, rec.MimeType,
		rec.StoragePath, rec.AccessURL, rec.Checksum, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи %s: %w", rec.ID, err)
	}
	return nil
}

// Get возвращает запись партиции или ErrNotFound.
func (s *Store) Get(ctx context.Context, ownerKey, id string) (*model.FileRecord, error) {
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return nil, err
	}

	rec, err := scanRecord(s.db.QueryRow(ctx, getQuery, ownerKey, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
		}
		return nil, fmt.Errorf("ошибка получения записи %s: %w", id, err)
	}
	return rec, nil
}

// Locate возвращает owner_key записи по уникальному индексу id.
func (s *Store) Locate(ctx context.Context, id string) (string, error) {
	if err := metastore.CheckID(id); err != nil {
		return "", err
	}

	var ownerKey string
	if err := s.db.QueryRow(ctx, locateQuery, id).Scan(&ownerKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", metastore.ErrNotFound, id)
		}
		return "", fmt.Errorf("ошибка поиска партиции записи %s: %w", id, err)
	}
	return ownerKey, nil
}

// ListByOwner читает партицию курсором: строки выдаются по мере чтения.
func (s *Store) ListByOwner(ctx context.Context, ownerKey string) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if err := metastore.CheckOwnerKey(ownerKey); err != nil {
			yield(nil, err)
			return
		}
		s.stream(ctx, yield, listByOwnerQuery, ownerKey)
	}
}

// ListAll читает не более limit записей всех партиций.
func (s *Store) ListAll(ctx context.Context, limit int) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if limit <= 0 {
			yield(nil, metastore.ErrInvalidLimit)
			return
		}
		s.stream(ctx, yield, listAllQuery, limit)
	}
}

// stream выполняет запрос и передаёт строки в yield до конца или остановки.
func (s *Store) stream(ctx context.Context, yield func(*model.FileRecord, error) bool, query string, args ...any) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		yield(nil, fmt.Errorf("ошибка листинга записей: %w", err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			yield(nil, fmt.Errorf("ошибка сканирования записи: %w", err))
			return
		}
		if !yield(rec, nil) {
			return
		}
	}
	if err := rows.Err(); err != nil {
		yield(nil, fmt.Errorf("ошибка итерации результатов: %w", err))
	}
}

// Delete удаляет запись; 0 затронутых строк — ErrNotFound.
func (s *Store) Delete(ctx context.Context, ownerKey, id string) error {
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, deleteQuery, ownerKey, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
	}
	return nil
}

// Ping проверяет подключение к PostgreSQL.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", metastore.ErrUnavailable, err)
	}
	return nil
}

// Close закрывает пул подключений.
func (s *Store) Close(_ context.Context) error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// scanRecord читает одну строку recordColumns.
func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	r := &model.FileRecord{}
	if err := row.Scan(
		&r.OwnerKey, &r.ID, &r.StoredName, &r.OriginalName, &r.Size, &r.MimeType,
		&r.StoragePath, &r.AccessURL, &r.Checksum, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
