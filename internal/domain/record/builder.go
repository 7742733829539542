// Пакет record — построение FileRecord из данных загрузки.
//
// Builder валидирует входные данные до любой записи и собирает запись
// из уже сохранённого blob'а. accessUrl строится только из конфигурации,
// адрес от клиента не принимается.
package record

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
)

// ErrInvalid — входные данные загрузки не прошли валидацию.
var ErrInvalid = errors.New("некорректные данные загрузки")

// Builder собирает FileRecord. Безопасен для конкурентного использования.
type Builder struct {
	validate     *validator.Validate
	baseURL      string
	staticPrefix string
	clock        *Clock
}

// NewBuilder создаёт Builder.
// baseURL — публичный адрес сервиса, staticPrefix — сегмент монтирования blob area.
func NewBuilder(baseURL, staticPrefix string, clock *Clock) *Builder {
	if clock == nil {
		clock = NewClock()
	}
	return &Builder{
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		baseURL:      strings.TrimRight(baseURL, "/"),
		staticPrefix: strings.Trim(staticPrefix, "/"),
		clock:        clock,
	}
}

// Validate проверяет данные загрузки и идентичность владельца.
// Вызывается до записи blob'а. Ошибка оборачивает ErrInvalid.
func (b *Builder) Validate(meta model.UploadMeta, owner string) error {
	if err := b.validate.Struct(meta); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalid, describe(verrs[0]))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := naming.CheckExtension(meta.OriginalName); err != nil {
		return fmt.Errorf("%w: расширение файла длиннее %d байт", ErrInvalid, naming.MaxExtensionLen)
	}

	if err := b.validate.Var(strings.TrimSpace(owner), "required"); err != nil {
		return fmt.Errorf("%w: не указан владелец файла", ErrInvalid)
	}
	// Ключ партиции — имя директории: ограничение проверяется до записи blob'а
	if _, err := naming.OwnerKey(owner); errors.Is(err, naming.ErrOwnerKeyTooLong) {
		return fmt.Errorf("%w: идентичность владельца слишком длинная", ErrInvalid)
	}
	return nil
}

// Build собирает запись для сохранённого blob'а.
// Идентификатор — новый UUID v4, createdAt — следующее значение монотонных часов.
func (b *Builder) Build(meta model.UploadMeta, owner, storedName, storagePath, checksum string) (*model.FileRecord, error) {
	if err := b.Validate(meta, owner); err != nil {
		return nil, err
	}
	ownerKey, err := naming.OwnerKey(owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &model.FileRecord{
		ID:           uuid.NewString(),
		StoredName:   storedName,
		OriginalName: meta.OriginalName,
		OwnerKey:     ownerKey,
		Size:         meta.Size,
		MimeType:     meta.MimeType,
		StoragePath:  storagePath,
		AccessURL:    b.AccessURL(storedName),
		Checksum:     checksum,
		CreatedAt:    b.clock.Now(),
	}, nil
}

// AccessURL возвращает публичный адрес blob'а: {baseURL}/{staticPrefix}/{storedName}.
func (b *Builder) AccessURL(storedName string) string {
	return b.baseURL + "/" + b.staticPrefix + "/" + url.PathEscape(storedName)
}

// describe переводит ошибку валидатора в сообщение для клиента.
func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Attached":
		return "файл не передан"
	case "OriginalName":
		if fe.Tag() == "max" {
			return "имя файла длиннее 255 байт"
		}
		return "не указано имя файла"
	case "MimeType":
		return "слишком длинный MIME-тип"
	case "Size":
		return "размер файла должен быть неотрицательным"
	default:
		return fmt.Sprintf("поле %s: правило %s", fe.Field(), fe.Tag())
	}
}
