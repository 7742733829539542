// Пакет journal — файловый журнал намерений для операций загрузки и удаления.
// Фиксирует окно несогласованности между blob area и хранилищем метаданных:
// каждое намерение пишется до первой записи и закрывается после последней.
// Каждая запись — отдельный файл {tx_id}.journal.json в IM_JOURNAL_DIR.
package journal

import (
	"time"
)

// Operation — тип операции в журнале.
type Operation string

const (
	// OpIngest — загрузка: blob → запись метаданных
	OpIngest Operation = "ingest"
	// OpDelete — удаление: blob → запись метаданных
	OpDelete Operation = "delete"
)

// Status — статус записи журнала.
type Status string

const (
	// StatusPending — операция начата и не завершена (возможен сбой процесса)
	StatusPending Status = "pending"
	// StatusCommitted — операция полностью выполнена
	StatusCommitted Status = "committed"
	// StatusFailed — операция отменена, следов в хранилищах не осталось
	StatusFailed Status = "failed"
	// StatusOrphaned — blob записан, запись метаданных нет; ждёт сверки
	StatusOrphaned Status = "orphaned"
)

// Intent — объект операции.
type Intent struct {
	// FileID — идентификатор записи (для ingest известен после Build)
	FileID string `json:"file_id,omitempty"`
	// OwnerKey — ключ партиции владельца
	OwnerKey string `json:"owner_key"`
	// StoredName — имя blob'а
	StoredName string `json:"stored_name"`
}

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.journal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор записи (UUID v4)
	TransactionID string `json:"transaction_id"`

	Operation Operation `json:"operation"`
	Status    Status    `json:"status"`

	Intent

	// Reason — причина перехода в failed/orphaned
	Reason string `json:"reason,omitempty"`

	// StartedAt — время начала операции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время перехода в конечный статус.
	// nil для pending и orphaned.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Unresolved — запись требует сверки.
func (e *Entry) Unresolved() bool {
	return e.Status == StatusPending || e.Status == StatusOrphaned
}

// allowedFrom — из каких статусов допустим переход в целевой.
var allowedFrom = map[Status]map[Status]bool{
	StatusCommitted: {StatusPending: true, StatusOrphaned: true},
	StatusFailed:    {StatusPending: true, StatusOrphaned: true},
	StatusOrphaned:  {StatusPending: true},
}

const fileSuffix = ".journal.json"

func fileName(txID string) string {
	return txID + fileSuffix
}
