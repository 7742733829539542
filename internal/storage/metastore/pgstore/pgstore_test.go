package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/storetest"
)

var columns = []string{
	"owner_key", "id", "stored_name", "original_name", "size", "mime_type",
	"storage_path", "access_url", "checksum", "created_at",
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("ошибка создания pgxmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("не выполнены ожидания: %v", err)
		}
	})
	return mock, New(mock, mock.Close)
}

func TestPut(t *testing.T) {
	mock, s := newMock(t)
	rec := storetest.NewRecord(t, "alice@example.com", 0)

	mock.ExpectExec("INSERT INTO file_records").
		WithArgs(rec.OwnerKey, rec.ID, rec.StoredName, rec.OriginalName, rec.Size, rec.MimeType,
			rec.StoragePath, rec.AccessURL, rec.Checksum, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := s.Put(context.Background(), rec.OwnerKey, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestPut_ForeignPartition(t *testing.T) {
	_, s := newMock(t)
	rec := storetest.NewRecord(t, "alice@example.com", 0)

	// До SQL не доходит
	if err := s.Put(context.Background(), "bob_40example_2ecom", rec); !errors.Is(err, metastore.ErrInvalidKey) {
		t.Errorf("ожидалась ErrInvalidKey, получено %v", err)
	}
}

func TestGet(t *testing.T) {
	mock, s := newMock(t)
	rec := storetest.NewRecord(t, "alice@example.com", 0)

	mock.ExpectQuery("SELECT .+ FROM file_records WHERE owner_key").
		WithArgs(rec.OwnerKey, rec.ID).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			rec.OwnerKey, rec.ID, rec.StoredName, rec.OriginalName, rec.Size, rec.MimeType,
			rec.StoragePath, rec.AccessURL, rec.Checksum, rec.CreatedAt.In(time.FixedZone("MSK", 3*3600)),
		))

	got, err := s.Get(context.Background(), rec.OwnerKey, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	storetest.AssertEqual(t, got, rec)
	if got.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt не в UTC: %v", got.CreatedAt.Location())
	}
}

func TestGet_NotFound(t *testing.T) {
	mock, s := newMock(t)
	id := uuid.NewString()

	mock.ExpectQuery("SELECT .+ FROM file_records").
		WithArgs("alice", id).
		WillReturnRows(pgxmock.NewRows(columns))

	if _, err := s.Get(context.Background(), "alice", id); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestLocate(t *testing.T) {
	mock, s := newMock(t)
	id := uuid.NewString()

	mock.ExpectQuery("SELECT owner_key FROM file_records WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"owner_key"}).AddRow("alice_40example_2ecom"))

	owner, err := s.Locate(context.Background(), id)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if owner != "alice_40example_2ecom" {
		t.Errorf("Locate = %q", owner)
	}
}

func TestListByOwner_EarlyBreak(t *testing.T) {
	mock, s := newMock(t)
	a := storetest.NewRecord(t, "alice@example.com", 2*time.Second)
	b := storetest.NewRecord(t, "alice@example.com", time.Second)

	rows := pgxmock.NewRows(columns)
	rows.AddRow(a.OwnerKey, a.ID, a.StoredName, a.OriginalName, a.Size, a.MimeType,
		a.StoragePath, a.AccessURL, a.Checksum, a.CreatedAt)
	rows.AddRow(b.OwnerKey, b.ID, b.StoredName, b.OriginalName, b.Size, b.MimeType,
		b.StoragePath, b.AccessURL, b.Checksum, b.CreatedAt)

	mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
		WithArgs(a.OwnerKey).
		WillReturnRows(rows).
		RowsWillBeClosed()

	for rec, err := range s.ListByOwner(context.Background(), a.OwnerKey) {
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if rec.ID != a.ID {
			t.Errorf("первая запись %s, ожидалась %s", rec.ID, a.ID)
		}
		break
	}
}

func TestListAll_Limit(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery("LIMIT").
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows(columns))

	recs, err := metastore.Collect(s.ListAll(context.Background(), 5))
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("ожидался пустой срез, получено %v", recs)
	}

	// Некорректный limit не доходит до SQL
	if _, err := metastore.Collect(s.ListAll(context.Background(), 0)); !errors.Is(err, metastore.ErrInvalidLimit) {
		t.Errorf("ожидалась ErrInvalidLimit, получено %v", err)
	}
}

func TestListByOwner_QueryError(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectQuery("FROM file_records").
		WithArgs("alice").
		WillReturnError(errors.New("connection reset"))

	if _, err := metastore.Collect(s.ListByOwner(context.Background(), "alice")); err == nil {
		t.Error("ожидалась ошибка")
	}
}

func TestDelete(t *testing.T) {
	mock, s := newMock(t)
	id := uuid.NewString()

	mock.ExpectExec("DELETE FROM file_records").
		WithArgs("alice", id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM file_records").
		WithArgs("alice", id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := s.Delete(context.Background(), "alice", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(context.Background(), "alice", id); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("повторный Delete: ожидалась ErrNotFound, получено %v", err)
	}
}

func TestPing(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("dial tcp: connection refused"))

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, metastore.ErrUnavailable) {
		t.Errorf("ожидалась ErrUnavailable, получено %v", err)
	}
}
