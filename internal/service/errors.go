// Пакет service — бизнес-логика Ingest Module.
// errors.go — ошибки сервисного слоя с HTTP-кодом и машиночитаемым кодом.
package service

import (
	"errors"
	"fmt"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
)

// Виды ошибок сервисного слоя (для errors.Is).
var (
	ErrValidation      = errors.New("некорректный запрос")
	ErrPayloadTooLarge = errors.New("файл превышает допустимый размер")
	ErrStorageWrite    = errors.New("ошибка записи файла")
	ErrMetadataWrite   = errors.New("ошибка записи метаданных")
	ErrNotFound        = errors.New("файл не найден")
	ErrUnavailable     = errors.New("хранилище метаданных недоступно")
	ErrBusy            = errors.New("операция уже выполняется")
	ErrInternal        = errors.New("внутренняя ошибка")
)

// Error — ошибка операции с HTTP-кодом.
// Message предназначено клиенту и не содержит внутренних путей.
type Error struct {
	StatusCode int
	Code       string
	Message    string

	kind  error
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is сопоставляет ошибку с видом.
func (e *Error) Is(target error) bool {
	return e.kind == target
}

// Unwrap возвращает исходную ошибку хранилища.
func (e *Error) Unwrap() error {
	return e.cause
}

func validationError(message string, cause error) *Error {
	return &Error{http.StatusBadRequest, apierrors.CodeValidationError, message, ErrValidation, cause}
}

func tooLargeError(message string) *Error {
	return &Error{http.StatusRequestEntityTooLarge, apierrors.CodeFileTooLarge, message, ErrPayloadTooLarge, nil}
}

func storageWriteError(cause error) *Error {
	return &Error{http.StatusInternalServerError, apierrors.CodeStorageWriteFailure,
		"Ошибка сохранения файла", ErrStorageWrite, cause}
}

func metadataWriteError(cause error) *Error {
	return &Error{http.StatusInternalServerError, apierrors.CodeMetadataWriteFailure,
		"Ошибка сохранения метаданных файла", ErrMetadataWrite, cause}
}

func notFoundError(message string, cause error) *Error {
	return &Error{http.StatusNotFound, apierrors.CodeNotFound, message, ErrNotFound, cause}
}

func unavailableError(cause error) *Error {
	return &Error{http.StatusServiceUnavailable, apierrors.CodeServiceUnavailable,
		"Хранилище метаданных недоступно, повторите запрос позже", ErrUnavailable, cause}
}

func busyError(message string) *Error {
	return &Error{http.StatusConflict, apierrors.CodeReconcileInProgress, message, ErrBusy, nil}
}

func internalError(message string, cause error) *Error {
	return &Error{http.StatusInternalServerError, apierrors.CodeInternalError, message, ErrInternal, cause}
}

// ownerErrorMessage — сообщение клиенту об ошибке вывода ключа владельца.
func ownerErrorMessage(err error) string {
	if errors.Is(err, naming.ErrOwnerKeyTooLong) {
		return "Идентичность владельца слишком длинная"
	}
	return "Не указан владелец файла"
}

// resultLabel — значение лейбла result метрики операций для ошибки сервиса.
func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrStorageWrite):
		return "storage_error"
	case errors.Is(err, ErrMetadataWrite):
		return "metadata_error"
	default:
		return "error"
	}
}
