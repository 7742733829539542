// Пакет blobstore — blob area: хранение содержимого загруженных файлов на диске.
// Запись через временный файл с подсчётом SHA-256 на лету, fsync и
// атомарным rename. Превышение лимита размера прерывает запись без
// остатков на диске.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tmpPrefix — префикс временных файлов. Имена с точкой в начале
// зарезервированы и не попадают в List.
const tmpPrefix = ".tmp-"

var (
	// ErrNotFound — blob не существует
	ErrNotFound = errors.New("blob не найден")
	// ErrPayloadTooLarge — содержимое превышает допустимый размер
	ErrPayloadTooLarge = errors.New("размер файла превышает лимит")
	// ErrInvalidName — имя содержит разделители пути или начинается с точки
	ErrInvalidName = errors.New("недопустимое имя blob'а")
)

// Store — blob area в локальной директории.
type Store struct {
	dir string
}

// PutResult — результат записи blob'а.
type PutResult struct {
	// StoragePath — абсолютный путь blob'а на диске
	StoragePath string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт Store. Директория создаётся при отсутствии (идемпотентно).
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать blob area %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("не удалось определить путь blob area %s: %w", dir, err)
	}
	return &Store{dir: abs}, nil
}

// Dir возвращает корневую директорию blob area.
func (s *Store) Dir() string {
	return s.dir
}

// Put записывает содержимое r под именем storedName.
// Читается не больше maxBytes+1 байт; при превышении временный файл
// удаляется и возвращается ErrPayloadTooLarge. Размер ровно maxBytes допустим.
// maxBytes <= 0 отключает ограничение.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
func (s *Store) Put(storedName string, r io.Reader, maxBytes int64) (*PutResult, error) {
	if err := validName(storedName); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.dir, storedName)
	tmpPath := filepath.Join(s.dir, tmpPrefix+storedName)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(src, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if maxBytes > 0 && size > maxBytes {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: больше %d байт", ErrPayloadTooLarge, maxBytes)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &PutResult{
		StoragePath: fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
func (s *Store) Open(storedName string) (*os.File, error) {
	if err := validName(storedName); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, storedName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storedName)
		}
		return nil, fmt.Errorf("ошибка открытия blob'а %s: %w", storedName, err)
	}
	return f, nil
}

// Remove удаляет blob. Отсутствующий blob — ErrNotFound,
// вызывающий код в сценарии удаления считает это штатным исходом.
func (s *Store) Remove(storedName string) error {
	if err := validName(storedName); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, storedName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, storedName)
		}
		return fmt.Errorf("ошибка удаления blob'а %s: %w", storedName, err)
	}
	return nil
}

// Exists проверяет наличие blob'а.
func (s *Store) Exists(storedName string) bool {
	if validName(storedName) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, storedName))
	return err == nil && info.Mode().IsRegular()
}

// List возвращает имена всех blob'ов в лексикографическом порядке.
// Временные файлы незавершённых записей не включаются.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения blob area: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// FullPath возвращает абсолютный путь blob'а.
func (s *Store) FullPath(storedName string) string {
	return filepath.Join(s.dir, storedName)
}

// validName отклоняет имена, выходящие за пределы blob area.
func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`+"\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
