// Пакет model — доменные модели Ingest Module.
// FileRecord — единая запись метаданных загруженного файла, хранится
// в партиции владельца во всех backend'ах хранилища метаданных.
package model

import (
	"time"
)

// FileRecord — метаданные одного успешно принятого файла.
// Запись неизменяема: создаётся в конце загрузки и только удаляется.
type FileRecord struct {
	// ID — глобально уникальный идентификатор (UUID v4), никогда не переиспользуется
	ID string `json:"id"`

	// StoredName — сгенерированное имя blob'а, уникальное в blob area.
	// Формат: {unixMillis}-{12 hex}{ext}
	StoredName string `json:"stored_name"`

	// OriginalName — имя файла от клиента, хранится как есть, только для отображения
	OriginalName string `json:"original_name"`

	// OwnerKey — ключ партиции владельца (см. naming.OwnerKey)
	OwnerKey string `json:"owner_key"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// MimeType — MIME-тип, заявленный клиентом (при отсутствии — определённый по содержимому)
	MimeType string `json:"mime_type"`

	// StoragePath — путь blob'а на сервере. Клиентам не возвращается.
	StoragePath string `json:"storage_path"`

	// AccessURL — публичный адрес файла: {baseURL}/{staticPrefix}/{storedName}
	AccessURL string `json:"access_url"`

	// Checksum — SHA-256 содержимого, используется как ETag при скачивании
	Checksum string `json:"checksum"`

	// CreatedAt — время регистрации записи (UTC, точность до микросекунд)
	CreatedAt time.Time `json:"created_at"`
}

// UploadMeta — сведения о загрузке, полученные из multipart-формы.
type UploadMeta struct {
	// Attached — в запросе присутствует бинарное вложение
	Attached bool `validate:"required"`
	// OriginalName — имя файла из заголовка части формы
	OriginalName string `validate:"required,max=255"`
	// MimeType — Content-Type части формы (может быть пустым)
	MimeType string `validate:"max=255"`
	// Size — заявленный размер вложения
	Size int64 `validate:"gte=0"`
}

// Descriptor — клиентское представление FileRecord.
type Descriptor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	AccessURL string    `json:"accessUrl"`
	CreatedAt time.Time `json:"createdAt"`
	OwnerKey  string    `json:"ownerKey"`
}

// Descriptor возвращает клиентское представление записи.
// StoragePath и Checksum не раскрываются.
func (r *FileRecord) Descriptor() Descriptor {
	return Descriptor{
		ID:        r.ID,
		Name:      r.OriginalName,
		Size:      r.Size,
		MimeType:  r.MimeType,
		AccessURL: r.AccessURL,
		CreatedAt: r.CreatedAt,
		OwnerKey:  r.OwnerKey,
	}
}

// Descriptors преобразует список записей в список дескрипторов.
// Для пустого входа возвращает пустой (не nil) срез.
func Descriptors(records []*FileRecord) []Descriptor {
	out := make([]Descriptor, 0, len(records))
	for _, r := range records {
		out = append(out, r.Descriptor())
	}
	return out
}
