package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/atomicfile"
)

// ErrNotFound — записи журнала не существует.
var ErrNotFound = errors.New("запись журнала не найдена")

// Journal — файловый журнал намерений.
// Запись создаётся со статусом pending до начала операции и переводится
// в committed, failed или orphaned по её итогу. После рестарта
// незавершённые записи подбирает сверка.
type Journal struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал. Создаёт директорию и проверяет доступность на запись.
func New(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".journal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &Journal{
		dir:    dir,
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Begin создаёт запись со статусом pending.
func (j *Journal) Begin(op Operation, intent Intent) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.NewString(),
		Operation:     op,
		Status:        StatusPending,
		Intent:        intent,
		StartedAt:     time.Now().UTC(),
	}

	if err := j.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	j.logger.Debug("Операция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("stored_name", intent.StoredName),
	)
	return entry, nil
}

// SetFileID дописывает идентификатор записи в pending-запись ingest
// (идентификатор появляется после записи blob'а).
func (j *Journal) SetFileID(txID, fileID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(txID)
	if err != nil {
		return err
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}
	entry.FileID = fileID
	return j.writeEntry(entry)
}

// Commit переводит запись в committed.
func (j *Journal) Commit(txID string) error {
	return j.finish(txID, StatusCommitted, "")
}

// Fail переводит запись в failed: операция не оставила следов.
func (j *Journal) Fail(txID, reason string) error {
	return j.finish(txID, StatusFailed, reason)
}

// MarkOrphaned переводит запись в orphaned: blob есть, записи метаданных нет.
func (j *Journal) MarkOrphaned(txID, reason string) error {
	return j.finish(txID, StatusOrphaned, reason)
}

func (j *Journal) finish(txID string, target Status, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, err := j.readEntry(txID)
	if err != nil {
		return err
	}
	if !allowedFrom[target][entry.Status] {
		return fmt.Errorf("запись журнала %s: переход %s → %s недопустим", txID, entry.Status, target)
	}

	entry.Status = target
	if reason != "" {
		entry.Reason = reason
	}
	if target != StatusOrphaned {
		now := time.Now().UTC()
		entry.CompletedAt = &now
	}

	if err := j.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	j.logger.Debug("Статус операции изменён",
		slog.String("tx_id", txID),
		slog.String("operation", string(entry.Operation)),
		slog.String("status", string(target)),
	)
	return nil
}

// Get читает запись по идентификатору.
func (j *Journal) Get(txID string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readEntry(txID)
}

// Unresolved возвращает записи pending и orphaned в порядке начала операций.
// Нечитаемые файлы пропускаются с предупреждением.
func (j *Journal) Unresolved() ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.scan()
	if err != nil {
		return nil, err
	}

	var out []*Entry
	for _, e := range all {
		if e.Unresolved() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out, nil
}

// CleanCompleted удаляет записи committed и failed, завершённые раньше before.
// Возвращает количество удалённых записей.
func (j *Journal) CleanCompleted(before time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	all, err := j.scan()
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, e := range all {
		if e.Unresolved() || e.CompletedAt == nil || !e.CompletedAt.Before(before) {
			continue
		}
		path := filepath.Join(j.dir, fileName(e.TransactionID))
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить завершённую запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		j.logger.Info("Очистка журнала завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// Dir возвращает путь к директории журнала.
func (j *Journal) Dir() string {
	return j.dir
}

// scan читает все записи журнала. Вызывается под мьютексом.
func (j *Journal) scan() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(j.dir, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), fileSuffix)
		entry, err := j.readEntry(txID)
		if err != nil {
			j.logger.Warn("Не удалось прочитать запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// writeEntry атомарно записывает запись журнала.
func (j *Journal) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	return atomicfile.WriteFile(filepath.Join(j.dir, fileName(entry.TransactionID)), data, 0o640)
}

func (j *Journal) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, fileName(txID)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, txID)
		}
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}
