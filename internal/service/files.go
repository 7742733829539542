// files.go — операции над загруженными файлами: листинг, получение,
// скачивание и удаление.
//
// Удаление: сначала blob (отсутствие blob'а не ошибка), затем запись
// метаданных. Намерение удаления фиксируется в журнале.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/journal"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// FileService — операции над файлами.
type FileService struct {
	blobs      *blobstore.Store
	meta       metastore.Store
	journal    *journal.Journal
	sm         *state.Machine
	cache      *OwnerCache
	maxListAll int
	logger     *slog.Logger
}

// NewFileService создаёт сервис операций над файлами.
// maxListAll — верхняя граница limit для ListAll.
func NewFileService(
	blobs *blobstore.Store,
	meta metastore.Store,
	j *journal.Journal,
	sm *state.Machine,
	cache *OwnerCache,
	maxListAll int,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		blobs:      blobs,
		meta:       meta,
		journal:    j,
		sm:         sm,
		cache:      cache,
		maxListAll: maxListAll,
		logger:     logger.With(slog.String("component", "file_service")),
	}
}

// MaxListAll возвращает верхнюю границу limit для ListAll.
func (s *FileService) MaxListAll() int {
	return s.maxListAll
}

// ListByOwner возвращает записи владельца с идентичностью identity,
// от новых к старым. Владелец без файлов — пустой срез.
func (s *FileService) ListByOwner(ctx context.Context, identity string) ([]*model.FileRecord, error) {
	ownerKey, err := naming.OwnerKey(identity)
	if err != nil {
		return nil, validationError(ownerErrorMessage(err), err)
	}
	return s.ListByOwnerKey(ctx, ownerKey)
}

// ListByOwnerKey возвращает записи партиции ownerKey.
func (s *FileService) ListByOwnerKey(ctx context.Context, ownerKey string) ([]*model.FileRecord, error) {
	if err := requireReady(s.sm); err != nil {
		return nil, err
	}
	if !naming.IsOwnerKey(ownerKey) {
		return nil, validationError(fmt.Sprintf("Некорректный ключ владельца %q", ownerKey), nil)
	}

	recs, err := metastore.Collect(s.meta.ListByOwner(ctx, ownerKey))
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("list", "error").Inc()
		return nil, s.storeError("Ошибка чтения списка файлов", err)
	}
	for _, r := range recs {
		s.cache.Set(r.ID, ownerKey)
	}
	middleware.OperationsTotal.WithLabelValues("list", "success").Inc()
	return recs, nil
}

// ListAll возвращает не более limit записей всех владельцев.
func (s *FileService) ListAll(ctx context.Context, limit int) ([]*model.FileRecord, error) {
	if err := requireReady(s.sm); err != nil {
		return nil, err
	}
	if limit < 1 || limit > s.maxListAll {
		return nil, validationError(fmt.Sprintf("limit должен быть в диапазоне 1-%d", s.maxListAll), nil)
	}

	recs, err := metastore.Collect(s.meta.ListAll(ctx, limit))
	if err != nil {
		return nil, s.storeError("Ошибка чтения списка файлов", err)
	}
	return recs, nil
}

// Resolve определяет ключ партиции записи id: подсказка владельца,
// затем кэш, затем кросс-партиционный Locate.
func (s *FileService) Resolve(ctx context.Context, id, ownerHint string) (string, error) {
	if err := metastore.CheckID(id); err != nil {
		return "", validationError(fmt.Sprintf("Некорректный идентификатор файла %q", id), err)
	}

	if hint := strings.TrimSpace(ownerHint); hint != "" {
		if naming.IsOwnerKey(hint) {
			return hint, nil
		}
		ownerKey, err := naming.OwnerKey(hint)
		if err != nil {
			return "", validationError("Некорректный владелец", err)
		}
		return ownerKey, nil
	}

	if ownerKey, ok := s.cache.Get(id); ok {
		return ownerKey, nil
	}

	ownerKey, err := s.meta.Locate(ctx, id)
	if err != nil {
		return "", s.storeError(fmt.Sprintf("Файл %s не найден", id), err)
	}
	s.cache.Set(id, ownerKey)
	return ownerKey, nil
}

// Get возвращает запись id.
func (s *FileService) Get(ctx context.Context, id, ownerHint string) (*model.FileRecord, error) {
	if err := requireReady(s.sm); err != nil {
		return nil, err
	}
	ownerKey, err := s.Resolve(ctx, id, ownerHint)
	if err != nil {
		return nil, err
	}

	rec, err := s.meta.Get(ctx, ownerKey, id)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			s.cache.Delete(id)
		}
		return nil, s.storeError(fmt.Sprintf("Файл %s не найден", id), err)
	}
	return rec, nil
}

// Open возвращает запись и открытый blob. Закрытие файла — ответственность вызывающего.
func (s *FileService) Open(ctx context.Context, id, ownerHint string) (*model.FileRecord, *os.File, error) {
	rec, err := s.Get(ctx, id, ownerHint)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("download", resultLabel(err)).Inc()
		return nil, nil, err
	}

	f, err := s.blobs.Open(rec.StoredName)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		if errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn("Запись есть, blob отсутствует",
				slog.String("file_id", rec.ID),
				slog.String("stored_name", rec.StoredName),
			)
			return nil, nil, notFoundError(fmt.Sprintf("Содержимое файла %s не найдено", id), err)
		}
		return nil, nil, internalError("Ошибка чтения файла", err)
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	return rec, f, nil
}

// Delete удаляет blob и запись id. Повторное удаление — ErrNotFound.
func (s *FileService) Delete(ctx context.Context, id, ownerHint string) error {
	rec, err := s.Get(ctx, id, ownerHint)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("delete", resultLabel(err)).Inc()
		return err
	}

	entry, err := s.journal.Begin(journal.OpDelete, journal.Intent{
		FileID:     rec.ID,
		OwnerKey:   rec.OwnerKey,
		StoredName: rec.StoredName,
	})
	if err != nil {
		return internalError("Внутренняя ошибка при создании транзакции", err)
	}
	txID := entry.TransactionID

	// Blob — первым. Отсутствие blob'а не мешает удалить запись
	if err := s.blobs.Remove(rec.StoredName); err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			s.failJournal(txID, err.Error())
			middleware.OperationsTotal.WithLabelValues("delete", "storage_error").Inc()
			return storageWriteError(err)
		}
		s.logger.Warn("Blob удаляемого файла отсутствует",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
	}

	if err := s.meta.Delete(ctx, rec.OwnerKey, rec.ID); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			// Удалено конкурентно
			s.commitJournal(txID)
			s.cache.Delete(id)
			return notFoundError(fmt.Sprintf("Файл %s не найден", id), err)
		}
		// Запись pending: сверка завершит удаление
		middleware.OperationsTotal.WithLabelValues("delete", "metadata_error").Inc()
		s.logger.Error("Blob удалён, запись метаданных осталась",
			slog.String("tx_id", txID),
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return s.storeError("Ошибка удаления метаданных файла", err)
	}

	s.commitJournal(txID)
	s.cache.Delete(id)
	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()

	s.logger.Info("Файл удалён",
		slog.String("file_id", rec.ID),
		slog.String("stored_name", rec.StoredName),
		slog.String("owner_key", rec.OwnerKey),
	)
	return nil
}

func (s *FileService) commitJournal(txID string) {
	if err := s.journal.Commit(txID); err != nil {
		s.logger.Error("Ошибка коммита журнала",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) failJournal(txID, reason string) {
	if err := s.journal.Fail(txID, reason); err != nil {
		s.logger.Error("Ошибка отметки failed в журнале",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// storeError преобразует ошибку хранилища метаданных в ошибку сервиса.
func (s *FileService) storeError(notFoundMsg string, err error) *Error {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		return notFoundError(notFoundMsg, err)
	case errors.Is(err, metastore.ErrInvalidKey):
		return validationError("Некорректный ключ или идентификатор", err)
	case errors.Is(err, metastore.ErrUnavailable):
		return unavailableError(err)
	default:
		s.logger.Error("Ошибка хранилища метаданных", slog.String("error", err.Error()))
		return internalError("Ошибка хранилища метаданных", err)
	}
}
