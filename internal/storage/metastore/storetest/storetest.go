// Пакет storetest — общий набор проверок контракта metastore.Store.
// Запускается тестами каждого backend'а.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// Factory создаёт пустое хранилище для одного подтеста.
// Закрытие хранилища — ответственность фабрики (t.Cleanup).
type Factory func(t *testing.T) metastore.Store

// base — опорное время тестовых записей.
var base = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// NewRecord создаёт запись для владельца identity с createdAt = base + offset.
func NewRecord(t *testing.T, identity string, offset time.Duration) *model.FileRecord {
	t.Helper()
	key, err := naming.OwnerKey(identity)
	if err != nil {
		t.Fatalf("OwnerKey(%q): %v", identity, err)
	}
	id := uuid.NewString()
	stored := fmt.Sprintf("%d-%s.txt", base.Add(offset).UnixMilli(), id[:12])
	return &model.FileRecord{
		ID:           id,
		StoredName:   stored,
		OriginalName: "file-" + id[:8] + ".txt",
		OwnerKey:     key,
		Size:         int64(len(id)),
		MimeType:     "text/plain",
		StoragePath:  "/data/" + stored,
		AccessURL:    "http://localhost:8030/static/" + stored,
		Checksum:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		CreatedAt:    base.Add(offset),
	}
}

// Run выполняет все проверки контракта.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutRejectsForeignPartition", func(t *testing.T) { testPutForeign(t, newStore(t)) })
	t.Run("Locate", func(t *testing.T) { testLocate(t, newStore(t)) })
	t.Run("ListByOwnerOrder", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("ListByOwnerIsolation", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("ListByOwnerEmpty", func(t *testing.T) { testListEmpty(t, newStore(t)) })
	t.Run("ListEarlyBreak", func(t *testing.T) { testEarlyBreak(t, newStore(t)) })
	t.Run("ListAllLimit", func(t *testing.T) { testListAll(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("ConcurrentPut", func(t *testing.T) { testConcurrentPut(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

// AssertEqual сравнивает записи по всем полям.
func AssertEqual(t *testing.T, got, want *model.FileRecord) {
	t.Helper()
	if got == nil {
		t.Fatalf("запись %s не найдена", want.ID)
	}
	if got.ID != want.ID || got.StoredName != want.StoredName || got.OriginalName != want.OriginalName ||
		got.OwnerKey != want.OwnerKey || got.Size != want.Size || got.MimeType != want.MimeType ||
		got.StoragePath != want.StoragePath || got.AccessURL != want.AccessURL || got.Checksum != want.Checksum {
		t.Errorf("запись отличается:\n получено %+v\n ожидалось %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, ожидалось %v", got.CreatedAt, want.CreatedAt)
	}
}

func mustPut(t *testing.T, s metastore.Store, rec *model.FileRecord) {
	t.Helper()
	if err := s.Put(context.Background(), rec.OwnerKey, rec); err != nil {
		t.Fatalf("Put(%s): %v", rec.ID, err)
	}
}

func ids(t *testing.T, s metastore.Store, owner string) []string {
	t.Helper()
	recs, err := metastore.Collect(s.ListByOwner(context.Background(), owner))
	if err != nil {
		t.Fatalf("ListByOwner(%s): %v", owner, err)
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func testPutGet(t *testing.T, s metastore.Store) {
	rec := NewRecord(t, "alice@example.com", 0)
	mustPut(t, s, rec)

	got, err := s.Get(context.Background(), rec.OwnerKey, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	AssertEqual(t, got, rec)
}

func testGetMissing(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	rec := NewRecord(t, "alice@example.com", 0)
	mustPut(t, s, rec)

	if _, err := s.Get(ctx, rec.OwnerKey, uuid.NewString()); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("несуществующий id: ожидалась ErrNotFound, получено %v", err)
	}

	// Запись видна только в своей партиции
	other, _ := naming.OwnerKey("bob@example.com")
	if _, err := s.Get(ctx, other, rec.ID); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("чужая партиция: ожидалась ErrNotFound, получено %v", err)
	}
}

func testPutForeign(t *testing.T, s metastore.Store) {
	rec := NewRecord(t, "alice@example.com", 0)
	other, _ := naming.OwnerKey("bob@example.com")

	if err := s.Put(context.Background(), other, rec); !errors.Is(err, metastore.ErrInvalidKey) {
		t.Errorf("ожидалась ErrInvalidKey, получено %v", err)
	}
}

func testLocate(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	a := NewRecord(t, "alice@example.com", 0)
	b := NewRecord(t, "a.b@c", time.Second)
	mustPut(t, s, a)
	mustPut(t, s, b)

	for _, rec := range []*model.FileRecord{a, b} {
		owner, err := s.Locate(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Locate(%s): %v", rec.ID, err)
		}
		if owner != rec.OwnerKey {
			t.Errorf("Locate(%s) = %q, ожидалось %q", rec.ID, owner, rec.OwnerKey)
		}
	}

	if _, err := s.Locate(ctx, uuid.NewString()); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("Locate несуществующего: ожидалась ErrNotFound, получено %v", err)
	}
}

func testListOrder(t *testing.T, s metastore.Store) {
	first := NewRecord(t, "alice@example.com", time.Millisecond)
	second := NewRecord(t, "alice@example.com", 2*time.Millisecond)
	third := NewRecord(t, "alice@example.com", 3*time.Millisecond)
	// Порядок вставки не совпадает с порядком createdAt
	mustPut(t, s, second)
	mustPut(t, s, third)
	mustPut(t, s, first)

	got := ids(t, s, first.OwnerKey)
	want := []string{third.ID, second.ID, first.ID}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("порядок %v, ожидался %v", got, want)
	}
}

func testIsolation(t *testing.T, s metastore.Store) {
	// Пара, склеивающаяся при наивной замене '@' и '.'
	a := NewRecord(t, "a.b@c", 0)
	b := NewRecord(t, "a@b.c", time.Second)
	mustPut(t, s, a)
	mustPut(t, s, b)

	if got := ids(t, s, a.OwnerKey); len(got) != 1 || got[0] != a.ID {
		t.Errorf("партиция %s: %v", a.OwnerKey, got)
	}
	if got := ids(t, s, b.OwnerKey); len(got) != 1 || got[0] != b.ID {
		t.Errorf("партиция %s: %v", b.OwnerKey, got)
	}
}

func testListEmpty(t *testing.T, s metastore.Store) {
	key, _ := naming.OwnerKey("nobody@example.com")
	recs, err := metastore.Collect(s.ListByOwner(context.Background(), key))
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("ожидалась пустая партиция, получено %d записей", len(recs))
	}
}

func testEarlyBreak(t *testing.T, s metastore.Store) {
	for i := range 5 {
		mustPut(t, s, NewRecord(t, "alice@example.com", time.Duration(i)*time.Millisecond))
	}
	key, _ := naming.OwnerKey("alice@example.com")

	n := 0
	for _, err := range s.ListByOwner(context.Background(), key) {
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("итераций %d, ожидалось 2", n)
	}

	// Повторный вызов перечитывает текущее состояние
	if got := ids(t, s, key); len(got) != 5 {
		t.Errorf("повторный листинг: %d записей, ожидалось 5", len(got))
	}
}

func testListAll(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	var all []*model.FileRecord
	for i, owner := range []string{"alice@example.com", "bob@example.com", "carol@example.com", "alice@example.com", "bob@example.com"} {
		rec := NewRecord(t, owner, time.Duration(i)*time.Second)
		mustPut(t, s, rec)
		all = append(all, rec)
	}

	got, err := metastore.Collect(s.ListAll(ctx, 3))
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListAll(3): %d записей", len(got))
	}
	for i, want := range []*model.FileRecord{all[4], all[3], all[2]} {
		if got[i].ID != want.ID {
			t.Errorf("позиция %d: %s, ожидался %s", i, got[i].ID, want.ID)
		}
	}

	got, err = metastore.Collect(s.ListAll(ctx, 100))
	if err != nil || len(got) != 5 {
		t.Errorf("ListAll(100): %d записей, %v", len(got), err)
	}

	for _, limit := range []int{0, -1} {
		if _, err := metastore.Collect(s.ListAll(ctx, limit)); !errors.Is(err, metastore.ErrInvalidLimit) {
			t.Errorf("ListAll(%d): ожидалась ErrInvalidLimit, получено %v", limit, err)
		}
	}
}

func testDelete(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	keep := NewRecord(t, "alice@example.com", 0)
	gone := NewRecord(t, "alice@example.com", time.Second)
	mustPut(t, s, keep)
	mustPut(t, s, gone)

	if err := s.Delete(ctx, gone.OwnerKey, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for i := range 2 {
		if err := s.Delete(ctx, gone.OwnerKey, gone.ID); !errors.Is(err, metastore.ErrNotFound) {
			t.Errorf("повторный Delete #%d: ожидалась ErrNotFound, получено %v", i+1, err)
		}
	}

	if got := ids(t, s, keep.OwnerKey); len(got) != 1 || got[0] != keep.ID {
		t.Errorf("после удаления: %v", got)
	}
	if _, err := s.Locate(ctx, gone.ID); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("Locate удалённой записи: ожидалась ErrNotFound, получено %v", err)
	}
	all, err := metastore.Collect(s.ListAll(ctx, 10))
	if err != nil || len(all) != 1 {
		t.Errorf("ListAll после удаления: %d записей, %v", len(all), err)
	}
}

func testConcurrentPut(t *testing.T, s metastore.Store) {
	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := NewRecord(t, "alice@example.com", time.Duration(i)*time.Millisecond)
			if err := s.Put(context.Background(), rec.OwnerKey, rec); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	wg.Wait()

	key, _ := naming.OwnerKey("alice@example.com")
	if got := ids(t, s, key); len(got) != n {
		t.Errorf("записей %d, ожидалось %d", len(got), n)
	}
}
