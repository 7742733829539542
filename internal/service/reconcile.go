// reconcile.go — фоновая сверка журнала, blob area и хранилища метаданных.
//
// Сверка разрешает незавершённые записи журнала:
//   - ingest с записью метаданных — committed
//   - ingest без записи, blob есть — orphan_blob (blob удаляется при
//     IM_RECONCILE_REMOVE_ORPHANS=true, запись журнала — failed)
//   - ingest без записи и без blob'а — failed
//   - delete — удаление blob'а и записи завершается, committed
//
// Затем blob area сравнивается с листингом всех записей:
//   - orphan_blob: blob без записи
//   - missing_blob: запись без blob'а
//
// Запускается как горутина с периодическим тикером (IM_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/journal"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "im_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "im_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// Типы проблем сверки.
const (
	IssueOrphanBlob  = "orphan_blob"
	IssueMissingBlob = "missing_blob"
)

const (
	// inFlightGrace — младше этого возраста pending-записи и blob'ы
	// считаются относящимися к выполняющейся загрузке.
	inFlightGrace = 15 * time.Minute
	// journalRetention — срок хранения завершённых записей журнала.
	journalRetention = 7 * 24 * time.Hour
	// scanLimit — верхняя граница листинга при сравнении blob area и записей.
	scanLimit = 1 << 20
)

// ReconcileIssue — обнаруженная проблема.
type ReconcileIssue struct {
	Type       string `json:"type"`
	StoredName string `json:"stored_name"`
	FileID     string `json:"file_id,omitempty"`
	OwnerKey   string `json:"owner_key,omitempty"`
}

// ReconcileResult — итог одного запуска сверки.
type ReconcileResult struct {
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	JournalResolved int              `json:"journal_resolved"`
	JournalPending  int              `json:"journal_pending"`
	RecordsChecked  int              `json:"records_checked"`
	BlobsChecked    int              `json:"blobs_checked"`
	RemovedBlobs    int              `json:"removed_blobs"`
	JournalCleaned  int              `json:"journal_cleaned"`
	Issues          []ReconcileIssue `json:"issues"`
}

// ReconcileService — сверка журнала и хранилищ.
type ReconcileService struct {
	blobs         *blobstore.Store
	meta          metastore.Store
	journal       *journal.Journal
	sm            *state.Machine
	interval      time.Duration
	removeOrphans bool
	logger        *slog.Logger
	now           func() time.Time

	mu        sync.Mutex
	inProcess bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	blobs *blobstore.Store,
	meta metastore.Store,
	j *journal.Journal,
	sm *state.Machine,
	interval time.Duration,
	removeOrphans bool,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		blobs:         blobs,
		meta:          meta,
		journal:       j,
		sm:            sm,
		interval:      interval,
		removeOrphans: removeOrphans,
		logger:        logger.With(slog.String("component", "reconcile")),
		now:           time.Now,
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		ticker := time.NewTicker(rs.interval)
		defer ticker.Stop()

		for {
			select {
			case <-rsCtx.Done():
				return
			case <-ticker.C:
				if _, err := rs.RunOnce(rsCtx); err != nil && !errors.Is(err, ErrBusy) {
					rs.logger.Warn("Сверка не выполнена", slog.String("error", err.Error()))
				}
			}
		}
	}()

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.Bool("remove_orphans", rs.removeOrphans),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.wg.Wait()
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// RunOnce выполняет один цикл сверки.
// Параллельный запуск возвращает ошибку вида ErrBusy.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		return nil, busyError("Сверка уже выполняется")
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	if err := requireReady(rs.sm); err != nil {
		return nil, err
	}

	result := &ReconcileResult{
		StartedAt: rs.now().UTC(),
		Issues:    make([]ReconcileIssue, 0),
	}
	rs.logger.Info("Сверка начата")

	if err := rs.resolveJournal(ctx, result); err != nil {
		return nil, err
	}
	if err := rs.compareStores(ctx, result); err != nil {
		return nil, err
	}

	cleaned, err := rs.journal.CleanCompleted(rs.now().Add(-journalRetention))
	if err != nil {
		rs.logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
	}
	result.JournalCleaned = cleaned

	result.CompletedAt = rs.now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range result.Issues {
		reconcileIssuesTotal.WithLabelValues(issue.Type).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.Duration("duration", duration),
		slog.Int("journal_resolved", result.JournalResolved),
		slog.Int("journal_pending", result.JournalPending),
		slog.Int("records_checked", result.RecordsChecked),
		slog.Int("blobs_checked", result.BlobsChecked),
		slog.Int("removed_blobs", result.RemovedBlobs),
		slog.Int("issues", len(result.Issues)),
	)
	return result, nil
}

// resolveJournal разрешает незавершённые записи журнала.
func (rs *ReconcileService) resolveJournal(ctx context.Context, result *ReconcileResult) error {
	entries, err := rs.journal.Unresolved()
	if err != nil {
		return internalError("Ошибка чтения журнала", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Pending моложе inFlightGrace может относиться к выполняющейся операции
		if e.Status == journal.StatusPending && rs.now().Sub(e.StartedAt) < inFlightGrace {
			result.JournalPending++
			continue
		}

		var resolved bool
		switch e.Operation {
		case journal.OpIngest:
			resolved = rs.resolveIngest(ctx, e, result)
		case journal.OpDelete:
			resolved = rs.resolveDelete(ctx, e)
		}
		if resolved {
			result.JournalResolved++
		} else {
			result.JournalPending++
		}
	}
	return nil
}

func (rs *ReconcileService) resolveIngest(ctx context.Context, e *journal.Entry, result *ReconcileResult) bool {
	log := rs.logger.With(
		slog.String("tx_id", e.TransactionID),
		slog.String("stored_name", e.StoredName),
	)

	if e.FileID != "" {
		_, err := rs.meta.Get(ctx, e.OwnerKey, e.FileID)
		if err == nil {
			return rs.finish(log, rs.journal.Commit(e.TransactionID))
		}
		if !errors.Is(err, metastore.ErrNotFound) && !errors.Is(err, metastore.ErrInvalidKey) {
			log.Warn("Ошибка проверки записи", slog.String("error", err.Error()))
			return false
		}
	}

	if !rs.blobs.Exists(e.StoredName) {
		return rs.finish(log, rs.journal.Fail(e.TransactionID, "blob и запись отсутствуют"))
	}

	result.Issues = append(result.Issues, ReconcileIssue{
		Type:       IssueOrphanBlob,
		StoredName: e.StoredName,
		FileID:     e.FileID,
		OwnerKey:   e.OwnerKey,
	})

	if !rs.removeOrphans {
		if e.Status == journal.StatusPending {
			if err := rs.journal.MarkOrphaned(e.TransactionID, "blob без записи метаданных"); err != nil {
				log.Warn("Ошибка отметки orphaned", slog.String("error", err.Error()))
			}
		}
		log.Warn("Осиротевший blob оставлен (IM_RECONCILE_REMOVE_ORPHANS=false)")
		return false
	}

	if err := rs.blobs.Remove(e.StoredName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		log.Warn("Ошибка удаления осиротевшего blob'а", slog.String("error", err.Error()))
		return false
	}
	result.RemovedBlobs++
	log.Info("Осиротевший blob удалён")
	return rs.finish(log, rs.journal.Fail(e.TransactionID, "осиротевший blob удалён сверкой"))
}

func (rs *ReconcileService) resolveDelete(ctx context.Context, e *journal.Entry) bool {
	log := rs.logger.With(
		slog.String("tx_id", e.TransactionID),
		slog.String("file_id", e.FileID),
	)

	if err := rs.blobs.Remove(e.StoredName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		log.Warn("Ошибка удаления blob'а", slog.String("error", err.Error()))
		return false
	}
	if err := rs.meta.Delete(ctx, e.OwnerKey, e.FileID); err != nil &&
		!errors.Is(err, metastore.ErrNotFound) && !errors.Is(err, metastore.ErrInvalidKey) {
		log.Warn("Ошибка удаления записи", slog.String("error", err.Error()))
		return false
	}
	log.Info("Незавершённое удаление доведено сверкой")
	return rs.finish(log, rs.journal.Commit(e.TransactionID))
}

func (rs *ReconcileService) finish(log *slog.Logger, err error) bool {
	if err != nil {
		log.Warn("Ошибка обновления журнала", slog.String("error", err.Error()))
		return false
	}
	return true
}

// compareStores сравнивает blob area с листингом всех записей.
func (rs *ReconcileService) compareStores(ctx context.Context, result *ReconcileResult) error {
	names, err := rs.blobs.List()
	if err != nil {
		return internalError("Ошибка чтения директории файлов", err)
	}
	result.BlobsChecked = len(names)

	// Blob'ы, уже отмеченные при разборе журнала
	known := make(map[string]bool)
	for _, issue := range result.Issues {
		known[issue.StoredName] = true
	}
	for rec, err := range rs.meta.ListAll(ctx, scanLimit) {
		if err != nil {
			if errors.Is(err, metastore.ErrUnavailable) {
				return unavailableError(err)
			}
			return internalError("Ошибка листинга записей", err)
		}
		result.RecordsChecked++
		known[rec.StoredName] = true
		if !rs.blobs.Exists(rec.StoredName) {
			result.Issues = append(result.Issues, ReconcileIssue{
				Type:       IssueMissingBlob,
				StoredName: rec.StoredName,
				FileID:     rec.ID,
				OwnerKey:   rec.OwnerKey,
			})
		}
	}

	for _, name := range names {
		if known[name] {
			continue
		}
		info, err := os.Stat(rs.blobs.FullPath(name))
		if err != nil || rs.now().Sub(info.ModTime()) < inFlightGrace {
			continue
		}
		result.Issues = append(result.Issues, ReconcileIssue{Type: IssueOrphanBlob, StoredName: name})
		if rs.removeOrphans {
			if err := rs.blobs.Remove(name); err == nil {
				result.RemovedBlobs++
			}
		}
	}
	return nil
}
