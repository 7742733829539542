package journal

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "journal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	return j
}

var testIntent = Intent{OwnerKey: "alice_40example_2ecom", StoredName: "1760702400123-9f2c4ab01e7d.pdf"}

// TestNew_CreatesDirectory проверяет создание директории журнала.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	j, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}
	if j.Dir() != dir {
		t.Errorf("Dir() = %s, ожидалось %s", j.Dir(), dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	dir := filepath.Join(t.TempDir(), "journal")
	if err := os.MkdirAll(dir, 0o550); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestBeginCommit проверяет штатный цикл ingest.
func TestBeginCommit(t *testing.T) {
	j := newJournal(t)

	entry, err := j.Begin(OpIngest, testIntent)
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if entry.Status != StatusPending {
		t.Errorf("статус %s, ожидался pending", entry.Status)
	}

	if err := j.SetFileID(entry.TransactionID, "file-1"); err != nil {
		t.Fatalf("ошибка SetFileID: %v", err)
	}
	if err := j.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}

	got, err := j.Get(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка Get: %v", err)
	}
	if got.Status != StatusCommitted || got.CompletedAt == nil {
		t.Errorf("ожидался committed с CompletedAt, получено %+v", got)
	}
	if got.FileID != "file-1" || got.StoredName != testIntent.StoredName {
		t.Errorf("намерение не сохранено: %+v", got.Intent)
	}

	// Повторный commit недопустим
	if err := j.Commit(entry.TransactionID); err == nil {
		t.Error("повторный Commit должен вернуть ошибку")
	}
}

// TestOrphanedResolution проверяет переходы orphaned → committed / failed.
func TestOrphanedResolution(t *testing.T) {
	j := newJournal(t)

	a, _ := j.Begin(OpIngest, testIntent)
	b, _ := j.Begin(OpIngest, testIntent)

	for _, e := range []*Entry{a, b} {
		if err := j.MarkOrphaned(e.TransactionID, "metadata write failed"); err != nil {
			t.Fatalf("ошибка MarkOrphaned: %v", err)
		}
	}

	got, _ := j.Get(a.TransactionID)
	if got.CompletedAt != nil {
		t.Error("orphaned не является конечным статусом, CompletedAt должен быть пуст")
	}
	if got.Reason != "metadata write failed" {
		t.Errorf("Reason = %q", got.Reason)
	}

	if err := j.Commit(a.TransactionID); err != nil {
		t.Errorf("orphaned → committed: %v", err)
	}
	if err := j.Fail(b.TransactionID, "orphan blob removed"); err != nil {
		t.Errorf("orphaned → failed: %v", err)
	}
	if err := j.MarkOrphaned(b.TransactionID, ""); err == nil {
		t.Error("failed → orphaned должен быть недопустим")
	}
}

// TestUnresolved проверяет выборку незавершённых записей.
func TestUnresolved(t *testing.T) {
	j := newJournal(t)

	pending, _ := j.Begin(OpDelete, testIntent)
	orphaned, _ := j.Begin(OpIngest, testIntent)
	j.MarkOrphaned(orphaned.TransactionID, "x")
	committed, _ := j.Begin(OpIngest, testIntent)
	j.Commit(committed.TransactionID)
	failed, _ := j.Begin(OpIngest, testIntent)
	j.Fail(failed.TransactionID, "disk full")

	// Мусорный файл пропускается
	if err := os.WriteFile(filepath.Join(j.Dir(), "broken"+fileSuffix), []byte("{"), 0o640); err != nil {
		t.Fatal(err)
	}

	list, err := j.Unresolved()
	if err != nil {
		t.Fatalf("ошибка Unresolved: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(list))
	}
	ids := map[string]bool{list[0].TransactionID: true, list[1].TransactionID: true}
	if !ids[pending.TransactionID] || !ids[orphaned.TransactionID] {
		t.Errorf("неожиданные записи: %v", ids)
	}
}

// TestCleanCompleted проверяет удаление завершённых записей.
func TestCleanCompleted(t *testing.T) {
	j := newJournal(t)

	done, _ := j.Begin(OpIngest, testIntent)
	j.Commit(done.TransactionID)
	failed, _ := j.Begin(OpIngest, testIntent)
	j.Fail(failed.TransactionID, "x")
	open, _ := j.Begin(OpIngest, testIntent)

	// Граница в прошлом — ничего не удаляется
	n, err := j.CleanCompleted(time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("CleanCompleted(прошлое) = %d, %v", n, err)
	}

	n, err = j.CleanCompleted(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ошибка CleanCompleted: %v", err)
	}
	if n != 2 {
		t.Errorf("удалено %d записей, ожидалось 2", n)
	}
	if _, err := j.Get(open.TransactionID); err != nil {
		t.Errorf("pending запись удалена: %v", err)
	}
	if _, err := j.Get(done.TransactionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestConcurrentBegin проверяет потокобезопасность.
func TestConcurrentBegin(t *testing.T) {
	j := newJournal(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := j.Begin(OpIngest, testIntent)
			if err != nil {
				t.Errorf("ошибка Begin: %v", err)
				return
			}
			if err := j.Commit(e.TransactionID); err != nil {
				t.Errorf("ошибка Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	list, _ := j.Unresolved()
	if len(list) != 0 {
		t.Errorf("осталось %d незавершённых записей", len(list))
	}
}
