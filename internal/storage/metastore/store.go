// Пакет metastore — партиционированное хранилище метаданных файлов.
//
// Записи лежат в пространстве ключей <root>/<ownerKey>/<id>. Получение
// и удаление требуют ключ партиции; поиск партиции по id без ключа
// выполняется явно через Locate (кросс-партиционный запрос).
// Листинги — ленивые одноразовые последовательности, отсортированные
// по createdAt по убыванию.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
)

// Ошибки хранилища метаданных.
var (
	// ErrNotFound — запись не найдена в партиции (или ни в одной партиции для Locate)
	ErrNotFound = errors.New("запись метаданных не найдена")
	// ErrUnavailable — backend недоступен (сеть, закрытый клиент)
	ErrUnavailable = errors.New("хранилище метаданных недоступно")
	// ErrInvalidKey — некорректный ключ партиции или идентификатор
	ErrInvalidKey = errors.New("некорректный ключ")
	// ErrInvalidLimit — limit для ListAll должен быть положительным
	ErrInvalidLimit = errors.New("limit должен быть положительным")
)

// Store — контракт партиционированного хранилища метаданных.
type Store interface {
	// Put атомарно сохраняет запись в партиции ownerKey.
	Put(ctx context.Context, ownerKey string, rec *model.FileRecord) error
	// Get возвращает запись из партиции или ErrNotFound.
	Get(ctx context.Context, ownerKey, id string) (*model.FileRecord, error)
	// Locate находит партицию записи по id. Кросс-партиционная операция.
	Locate(ctx context.Context, id string) (string, error)
	// ListByOwner — записи партиции, createdAt по убыванию.
	ListByOwner(ctx context.Context, ownerKey string) iter.Seq2[*model.FileRecord, error]
	// ListAll — не более limit записей всех партиций, createdAt по убыванию.
	ListAll(ctx context.Context, limit int) iter.Seq2[*model.FileRecord, error]
	// Delete удаляет запись; отсутствующая запись — ErrNotFound.
	Delete(ctx context.Context, ownerKey, id string) error
	// Ping проверяет доступность backend'а.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы клиента.
	Close(ctx context.Context) error
}

// CheckKeys проверяет ключ партиции и идентификатор записи.
// Идентификатор — UUID, ключ — каноническая форма naming.OwnerKey.
func CheckKeys(ownerKey, id string) error {
	if err := CheckOwnerKey(ownerKey); err != nil {
		return err
	}
	return CheckID(id)
}

// CheckOwnerKey проверяет ключ партиции.
func CheckOwnerKey(ownerKey string) error {
	if !naming.IsOwnerKey(ownerKey) {
		return fmt.Errorf("%w: ключ владельца %q", ErrInvalidKey, ownerKey)
	}
	return nil
}

// CheckID проверяет идентификатор записи.
func CheckID(id string) error {
	if _, err := uuid.Parse(id); err != nil || strings.ContainsAny(id, "{}:") {
		return fmt.Errorf("%w: идентификатор %q", ErrInvalidKey, id)
	}
	return nil
}

// CheckRecord проверяет, что запись принадлежит партиции ownerKey.
func CheckRecord(ownerKey string, rec *model.FileRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: пустая запись", ErrInvalidKey)
	}
	if err := CheckKeys(ownerKey, rec.ID); err != nil {
		return err
	}
	if rec.OwnerKey != ownerKey {
		return fmt.Errorf("%w: запись %s принадлежит партиции %q, а не %q",
			ErrInvalidKey, rec.ID, rec.OwnerKey, ownerKey)
	}
	return nil
}

// Newer — порядок листинга: createdAt по убыванию, при равенстве — id по убыванию.
func Newer(a, b *model.FileRecord) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

// SortNewestFirst сортирует записи в порядке листинга.
func SortNewestFirst(records []*model.FileRecord) {
	slices.SortFunc(records, Newer)
}

// FromSlice возвращает одноразовую последовательность по срезу.
func FromSlice(records []*model.FileRecord) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Fail возвращает последовательность из одной ошибки.
func Fail(err error) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		yield(nil, err)
	}
}

// Collect читает последовательность до конца или до первой ошибки.
// Для пустой партиции возвращает пустой (не nil) срез.
func Collect(seq iter.Seq2[*model.FileRecord, error]) ([]*model.FileRecord, error) {
	out := make([]*model.FileRecord, 0)
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
