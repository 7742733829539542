// ingest.go — оркестратор загрузки файлов.
//
// Порядок записи: blob, затем запись метаданных. Между ними журнал
// фиксирует намерение, поэтому сбой записи метаданных после успешной
// записи blob'а оставляет запись журнала orphaned, а не теряется.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/record"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/journal"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// sniffLen — объём начала файла для определения MIME-типа.
const sniffLen = 3072

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла (nil, если вложение отсутствует)
	Reader io.Reader
	// Meta — сведения о вложении из multipart-формы
	Meta model.UploadMeta
	// Owner — идентичность владельца (email или userId)
	Owner string
}

// IngestService — оркестратор загрузки: blob → запись метаданных.
type IngestService struct {
	blobs   *blobstore.Store
	meta    metastore.Store
	builder *record.Builder
	journal *journal.Journal
	sm      *state.Machine
	cache   *OwnerCache
	maxSize int64
	logger  *slog.Logger
}

// NewIngestService создаёт оркестратор загрузки.
// maxSize — максимальный размер файла в байтах; файл ровно этого размера принимается.
func NewIngestService(
	blobs *blobstore.Store,
	meta metastore.Store,
	builder *record.Builder,
	j *journal.Journal,
	sm *state.Machine,
	cache *OwnerCache,
	maxSize int64,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		blobs:   blobs,
		meta:    meta,
		builder: builder,
		journal: j,
		sm:      sm,
		cache:   cache,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "ingest_service")),
	}
}

// MaxSize возвращает максимальный размер загружаемого файла.
func (s *IngestService) MaxSize() int64 {
	return s.maxSize
}

// Upload принимает файл и регистрирует его метаданные.
//
// Поток:
//  1. Проверка доступности хранилища метаданных
//  2. Валидация вложения и владельца
//  3. Предварительная проверка заявленного размера
//  4. Запись намерения в журнал
//  5. Запись blob'а (потоково, SHA-256, ограничение размера)
//  6. Сборка записи
//  7. Запись метаданных
//  8. Коммит журнала, кэш, метрики
func (s *IngestService) Upload(ctx context.Context, params UploadParams) (*model.FileRecord, error) {
	// 1. Хранилище метаданных должно быть доступно до записи blob'а
	if err := requireReady(s.sm); err != nil {
		middleware.OperationsTotal.WithLabelValues("upload", "unavailable").Inc()
		return nil, err
	}

	// 2. Валидация до любой записи
	meta := params.Meta
	meta.Attached = meta.Attached && params.Reader != nil
	if err := s.builder.Validate(meta, params.Owner); err != nil {
		middleware.OperationsTotal.WithLabelValues("upload", "invalid").Inc()
		return nil, validationError(validationMessage(err), err)
	}
	ownerKey, err := naming.OwnerKey(params.Owner)
	if err != nil {
		return nil, validationError(ownerErrorMessage(err), err)
	}

	// 3. Заявленный размер
	if meta.Size > s.maxSize {
		middleware.OperationsTotal.WithLabelValues("upload", "too_large").Inc()
		return nil, tooLargeError(s.tooLargeMessage())
	}

	reader := params.Reader
	if meta.MimeType == "" {
		meta.MimeType, reader = sniffMimeType(reader)
	}

	// 4. Журнал
	storedName := naming.StoredName(meta.OriginalName)
	entry, err := s.journal.Begin(journal.OpIngest, journal.Intent{
		OwnerKey:   ownerKey,
		StoredName: storedName,
	})
	if err != nil {
		s.logger.Error("Ошибка записи журнала", slog.String("error", err.Error()))
		return nil, internalError("Внутренняя ошибка при создании транзакции", err)
	}
	txID := entry.TransactionID

	// 5. Blob
	put, err := s.blobs.Put(storedName, reader, s.maxSize)
	if err != nil {
		s.failJournal(txID, err.Error())
		if errors.Is(err, blobstore.ErrPayloadTooLarge) {
			middleware.OperationsTotal.WithLabelValues("upload", "too_large").Inc()
			return nil, tooLargeError(s.tooLargeMessage())
		}
		middleware.OperationsTotal.WithLabelValues("upload", "storage_error").Inc()
		s.logger.Error("Ошибка записи файла",
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
		return nil, storageWriteError(err)
	}

	// 6. Запись. Размер — фактический, а не заявленный клиентом
	meta.Size = put.Size
	rec, err := s.builder.Build(meta, params.Owner, storedName, put.StoragePath, put.Checksum)
	if err != nil {
		s.discardBlob(txID, storedName, err.Error())
		return nil, validationError(validationMessage(err), err)
	}
	if err := s.journal.SetFileID(txID, rec.ID); err != nil {
		s.logger.Warn("Ошибка записи id в журнал",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}

	// 7. Метаданные. Blob не удаляется: окно несогласованности закрывает сверка
	if err := s.meta.Put(ctx, ownerKey, rec); err != nil {
		middleware.OperationsTotal.WithLabelValues("upload", "metadata_error").Inc()
		if jErr := s.journal.MarkOrphaned(txID, err.Error()); jErr != nil {
			s.logger.Error("Ошибка отметки orphaned в журнале",
				slog.String("tx_id", txID),
				slog.String("error", jErr.Error()),
			)
		}
		s.logger.Error("Запись метаданных не сохранена, blob ожидает сверки",
			slog.String("tx_id", txID),
			slog.String("file_id", rec.ID),
			slog.String("stored_name", storedName),
			slog.String("owner_key", ownerKey),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, metastore.ErrUnavailable) {
			return nil, unavailableError(err)
		}
		return nil, metadataWriteError(err)
	}

	// 8. Коммит
	if err := s.journal.Commit(txID); err != nil {
		s.logger.Error("Ошибка коммита журнала (данные сохранены)",
			slog.String("tx_id", txID),
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	s.cache.Set(rec.ID, ownerKey)

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.UploadedBytesTotal.Add(float64(rec.Size))

	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalName),
		slog.String("stored_name", rec.StoredName),
		slog.String("size", humanize.IBytes(uint64(rec.Size))),
		slog.String("checksum", rec.Checksum),
		slog.String("owner_key", ownerKey),
	)
	return rec, nil
}

func (s *IngestService) tooLargeMessage() string {
	return fmt.Sprintf("Размер файла превышает максимум %s (%d байт)",
		humanize.IBytes(uint64(s.maxSize)), s.maxSize)
}

// failJournal закрывает запись журнала как failed.
func (s *IngestService) failJournal(txID, reason string) {
	if err := s.journal.Fail(txID, reason); err != nil {
		s.logger.Error("Ошибка отметки failed в журнале",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// discardBlob удаляет записанный blob, если запись собрать не удалось.
func (s *IngestService) discardBlob(txID, storedName, reason string) {
	if err := s.blobs.Remove(storedName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("Ошибка удаления blob'а",
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
		return
	}
	s.failJournal(txID, reason)
}

// sniffMimeType определяет MIME-тип по началу потока и возвращает
// поток, начинающийся с прочитанных байт.
func sniffMimeType(r io.Reader) (string, io.Reader) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	head = head[:n]
	rest := io.MultiReader(bytes.NewReader(head), r)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		// Ошибку чтения вернёт blob store при повторном чтении
		return "application/octet-stream", io.MultiReader(bytes.NewReader(head), errReader{err})
	}
	return mimetype.Detect(head).String(), rest
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// validationMessage извлекает описание ошибки валидации для клиента.
func validationMessage(err error) string {
	msg := err.Error()
	prefix := record.ErrInvalid.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
