// Пакет naming — генерация имён blob'ов и вывод ключа партиции владельца.
//
// Имя blob'а уникально по построению (время + 48 бит случайности),
// проверка существования перед записью не выполняется.
// Ключ владельца — инъективное экранирование идентичности пользователя.
package naming

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// randomBytes — 48 бит энтропии в имени blob'а.
const randomBytes = 6

const (
	// MaxOwnerKeyLen — предел длины ключа партиции в байтах.
	// Ключ — имя директории fs backend'а и не должен превышать NAME_MAX.
	MaxOwnerKeyLen = 255
	// MaxExtensionLen — предел длины расширения (с точкой) в байтах.
	// Имя blob'а с временным префиксом .tmp- добавляет к расширению 31 байт.
	MaxExtensionLen = 128
)

var (
	// ErrEmptyIdentity — идентичность владельца не задана.
	ErrEmptyIdentity = errors.New("идентичность владельца не задана")
	// ErrOwnerKeyTooLong — ключ партиции длиннее MaxOwnerKeyLen.
	ErrOwnerKeyTooLong = errors.New("ключ владельца слишком длинный")
	// ErrExtensionTooLong — расширение файла длиннее MaxExtensionLen.
	ErrExtensionTooLong = errors.New("расширение файла слишком длинное")
)

// StoredName генерирует имя blob'а для оригинального имени файла.
// Формат: {unixMillis}-{12 hex}{ext}, расширение берётся из filepath.Ext как есть.
// Пример: 1760702400123-9f2c4ab01e7d.pdf
func StoredName(originalName string) string {
	return storedName(time.Now(), rand.Reader, originalName)
}

// storedName — детерминируемая часть генератора для тестов.
func storedName(now time.Time, rnd io.Reader, originalName string) string {
	var buf [randomBytes]byte
	if _, err := io.ReadFull(rnd, buf[:]); err != nil {
		// crypto/rand не возвращает ошибок на поддерживаемых платформах
		panic(fmt.Sprintf("naming: ошибка чтения случайных байт: %v", err))
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(hex.EncodeToString(buf[:]))
	b.WriteString(extension(originalName))
	return b.String()
}

// extension возвращает расширение оригинального имени.
// Расширение с обратным слэшем или NUL отбрасывается: такое имя нельзя положить в blob area.
func extension(originalName string) string {
	ext := filepath.Ext(originalName)
	if strings.ContainsAny(ext, "\\\x00") {
		return ""
	}
	return ext
}

// CheckExtension проверяет, что расширение имени файла помещается в имя blob'а.
// Вызывается при валидации загрузки: StoredName расширение не укорачивает.
func CheckExtension(originalName string) error {
	if n := len(extension(originalName)); n > MaxExtensionLen {
		return fmt.Errorf("%w: %d байт, максимум %d", ErrExtensionTooLong, n, MaxExtensionLen)
	}
	return nil
}

// OwnerKey выводит ключ партиции из идентичности пользователя.
//
// Байты [A-Za-z0-9-] сохраняются, любой другой байт (включая '_', '@', '.')
// заменяется на '_' и две строчные hex-цифры. Поскольку '_' тоже экранируется,
// преобразование обратимо и разные идентичности дают разные ключи:
//
//	alice@example.com → alice_40example_2ecom
//	a.b@c             → a_2eb_40c
//	a@b.c             → a_40b_2ec
//
// Ключ чувствителен к регистру. Ключ длиннее MaxOwnerKeyLen — ErrOwnerKeyTooLong.
func OwnerKey(identity string) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", ErrEmptyIdentity
	}
	if len(identity) > MaxOwnerKeyLen {
		return "", fmt.Errorf("%w: идентичность %d байт", ErrOwnerKeyTooLong, len(identity))
	}

	var b strings.Builder
	b.Grow(len(identity))
	for i := 0; i < len(identity); i++ {
		c := identity[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteString(hex.EncodeToString([]byte{c}))
	}
	if b.Len() > MaxOwnerKeyLen {
		return "", fmt.Errorf("%w: %d байт, максимум %d", ErrOwnerKeyTooLong, b.Len(), MaxOwnerKeyLen)
	}
	return b.String(), nil
}

// DecodeOwnerKey восстанавливает идентичность из ключа партиции.
func DecodeOwnerKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyIdentity
	}
	if len(key) > MaxOwnerKeyLen {
		return "", fmt.Errorf("%w: %d байт", ErrOwnerKeyTooLong, len(key))
	}

	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if isSafe(c) {
			out = append(out, c)
			continue
		}
		if c != '_' || i+2 >= len(key) {
			return "", fmt.Errorf("некорректный ключ владельца %q: позиция %d", key, i)
		}
		pair := key[i+1 : i+3]
		raw, err := hex.DecodeString(pair)
		// Допустима только каноническая форма: строчные hex и экранированный байт
		if err != nil || strings.ToLower(pair) != pair || isSafe(raw[0]) {
			return "", fmt.Errorf("некорректный ключ владельца %q: позиция %d", key, i)
		}
		out = append(out, raw[0])
		i += 2
	}
	return string(out), nil
}

// IsOwnerKey проверяет, что строка является корректным ключом партиции.
func IsOwnerKey(key string) bool {
	_, err := DecodeOwnerKey(key)
	return err == nil
}

func isSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-'
}
