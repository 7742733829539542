// Пакет fsstore — backend метаданных на локальной файловой системе.
// Каждая запись — отдельный JSON-документ <dir>/<root>/<ownerKey>/<id>.json,
// запись атомарна: temp → fsync → rename.
//
// Ключи партиций чувствительны к регистру: директория метаданных не должна
// располагаться на файловой системе без учёта регистра.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/atomicfile"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// docSuffix — суффикс файла документа.
const docSuffix = ".json"

// maxDocSize — максимальный размер документа, больше — признак повреждения.
const maxDocSize = 64 << 10

// Store — файловый backend метаданных.
type Store struct {
	root   string
	closed atomic.Bool
}

var _ metastore.Store = (*Store)(nil)

// New создаёт Store в dir/root. Директория создаётся при отсутствии.
func New(dir, root string) (*Store, error) {
	path := filepath.Join(dir, root)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию метаданных %s: %w", path, err)
	}
	return &Store{root: path}, nil
}

// Root возвращает корень пространства ключей.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) docPath(ownerKey, id string) string {
	return filepath.Join(s.root, ownerKey, id+docSuffix)
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: хранилище закрыто", metastore.ErrUnavailable)
	}
	return ctx.Err()
}

// Put атомарно записывает документ записи.
func (s *Store) Put(ctx context.Context, ownerKey string, rec *model.FileRecord) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := metastore.CheckRecord(ownerKey, rec); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	partition := filepath.Join(s.root, ownerKey)
	if err := os.MkdirAll(partition, 0o750); err != nil {
		return fmt.Errorf("не удалось создать партицию %s: %w", ownerKey, err)
	}
	if err := atomicfile.WriteFile(s.docPath(ownerKey, rec.ID), data, 0o640); err != nil {
		return fmt.Errorf("ошибка записи документа %s: %w", rec.ID, err)
	}
	return nil
}

// Get читает документ из партиции.
func (s *Store) Get(ctx context.Context, ownerKey, id string) (*model.FileRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return nil, err
	}
	return readDoc(s.docPath(ownerKey, id))
}

// Locate ищет документ id во всех партициях.
func (s *Store) Locate(ctx context.Context, id string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if err := metastore.CheckID(id); err != nil {
		return "", err
	}

	matches, err := filepath.Glob(filepath.Join(s.root, "*", id+docSuffix))
	if err != nil {
		return "", fmt.Errorf("ошибка поиска документа %s: %w", id, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", metastore.ErrNotFound, id)
	}
	return filepath.Base(filepath.Dir(matches[0])), nil
}

// ListByOwner читает партицию при старте итерации.
func (s *Store) ListByOwner(ctx context.Context, ownerKey string) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if err := s.check(ctx); err != nil {
			yield(nil, err)
			return
		}
		if err := metastore.CheckOwnerKey(ownerKey); err != nil {
			yield(nil, err)
			return
		}
		recs, err := s.scan(filepath.Join(s.root, ownerKey, "*"+docSuffix))
		if err != nil {
			yield(nil, err)
			return
		}
		metastore.SortNewestFirst(recs)
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// ListAll читает все партиции. Стоимость — полный обход директории метаданных.
func (s *Store) ListAll(ctx context.Context, limit int) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if limit <= 0 {
			yield(nil, metastore.ErrInvalidLimit)
			return
		}
		if err := s.check(ctx); err != nil {
			yield(nil, err)
			return
		}
		recs, err := s.scan(filepath.Join(s.root, "*", "*"+docSuffix))
		if err != nil {
			yield(nil, err)
			return
		}
		metastore.SortNewestFirst(recs)
		if len(recs) > limit {
			recs = recs[:limit]
		}
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Delete удаляет документ. Пустая партиция остаётся на диске.
func (s *Store) Delete(ctx context.Context, ownerKey, id string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return err
	}
	if err := os.Remove(s.docPath(ownerKey, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
		}
		return fmt.Errorf("ошибка удаления документа %s: %w", id, err)
	}
	return nil
}

// Ping проверяет, что корень доступен на запись.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	probe := filepath.Join(s.root, ".ping")
	if err := os.WriteFile(probe, []byte("ok"), 0o640); err != nil {
		return fmt.Errorf("%w: %v", metastore.ErrUnavailable, err)
	}
	os.Remove(probe)
	return nil
}

// Close закрывает хранилище, последующие операции возвращают ErrUnavailable.
func (s *Store) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}

// scan читает документы по glob-шаблону. Документы, удалённые между
// glob и чтением, пропускаются.
func (s *Store) scan(pattern string) ([]*model.FileRecord, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования %s: %w", pattern, err)
	}

	recs := make([]*model.FileRecord, 0, len(matches))
	for _, path := range matches {
		rec, err := readDoc(path)
		if err != nil {
			if errors.Is(err, metastore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func readDoc(path string) (*model.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", metastore.ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", path, err)
	}
	if len(data) > maxDocSize {
		return nil, fmt.Errorf("документ %s превышает %d байт", path, maxDocSize)
	}

	var rec model.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации документа %s: %w", path, err)
	}
	return &rec, nil
}
