package metastore

import (
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// TestCheckKeys проверяет валидацию ключей.
func TestCheckKeys(t *testing.T) {
	tests := []struct {
		owner   string
		id      string
		wantErr bool
	}{
		{"alice_40example_2ecom", "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", false},
		{"", "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", true},
		{"alice@example.com", "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", true},
		{"../etc", "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", true},
		{"alice", "", true},
		{"alice", "../../passwd", true},
		{"alice", "{6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11}", true},
	}

	for _, tt := range tests {
		err := CheckKeys(tt.owner, tt.id)
		if tt.wantErr && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("CheckKeys(%q, %q): ожидалась ErrInvalidKey, получено %v", tt.owner, tt.id, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("CheckKeys(%q, %q): неожиданная ошибка %v", tt.owner, tt.id, err)
		}
	}
}

// TestCheckRecord_OwnerMismatch проверяет отказ при несовпадении партиции.
func TestCheckRecord_OwnerMismatch(t *testing.T) {
	rec := &model.FileRecord{ID: "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", OwnerKey: "bob"}
	if err := CheckRecord("alice", rec); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ожидалась ErrInvalidKey, получено %v", err)
	}
	if err := CheckRecord("bob", rec); err != nil {
		t.Errorf("неожиданная ошибка: %v", err)
	}
}

// TestSortNewestFirst проверяет порядок листинга.
func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	recs := []*model.FileRecord{
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Microsecond)},
		{ID: "b", CreatedAt: base.Add(time.Microsecond)},
		{ID: "d", CreatedAt: base},
	}
	SortNewestFirst(recs)

	want := []string{"c", "b", "d", "a"}
	for i, r := range recs {
		if r.ID != want[i] {
			t.Fatalf("позиция %d: %s, ожидался %s", i, r.ID, want[i])
		}
	}
}

// TestCollect проверяет сбор последовательности и ошибки.
func TestCollect(t *testing.T) {
	got, err := Collect(FromSlice(nil))
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("пустая последовательность: %v, %v", got, err)
	}

	boom := errors.New("boom")
	if _, err := Collect(Fail(boom)); !errors.Is(err, boom) {
		t.Errorf("ожидалась ошибка boom, получено %v", err)
	}
}

// TestFromSlice_EarlyBreak проверяет остановку итерации.
func TestFromSlice_EarlyBreak(t *testing.T) {
	recs := []*model.FileRecord{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	n := 0
	for range FromSlice(recs) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("итераций %d, ожидалось 2", n)
	}
}
