package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/naming"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/record"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/journal"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/fsstore"
)

const testMaxSize = 1024

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — собранный сервисный слой поверх временных директорий.
type testEnv struct {
	blobs   *blobstore.Store
	meta    metastore.Store
	journal *journal.Journal
	sm      *state.Machine
	cache   *OwnerCache
	ingest  *IngestService
	files   *FileService
}

// faultyStore — хранилище с управляемыми сбоями.
type faultyStore struct {
	metastore.Store
	putErr  error
	pingErr error
}

func (f *faultyStore) Put(ctx context.Context, ownerKey string, rec *model.FileRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(ctx, ownerKey, rec)
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.Store.Ping(ctx)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil)
}

// newTestEnvWithStore собирает окружение; wrap позволяет подменить хранилище метаданных.
func newTestEnvWithStore(t *testing.T, wrap func(metastore.Store) metastore.Store) *testEnv {
	t.Helper()

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	var meta metastore.Store
	meta, err = fsstore.New(t.TempDir(), "files")
	if err != nil {
		t.Fatalf("fsstore.New: %v", err)
	}
	if wrap != nil {
		meta = wrap(meta)
	}
	j, err := journal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}

	sm := state.NewMachine()
	if _, err := sm.TransitionTo(state.StateReady, ""); err != nil {
		t.Fatal(err)
	}
	cache := NewOwnerCache(100, time.Minute)
	builder := record.NewBuilder("http://localhost:8030", "static", nil)

	return &testEnv{
		blobs:   blobs,
		meta:    meta,
		journal: j,
		sm:      sm,
		cache:   cache,
		ingest:  NewIngestService(blobs, meta, builder, j, sm, cache, testMaxSize, testLogger()),
		files:   NewFileService(blobs, meta, j, sm, cache, 100, testLogger()),
	}
}

func uploadParams(name, owner string, data []byte) UploadParams {
	return UploadParams{
		Reader: bytes.NewReader(data),
		Meta: model.UploadMeta{
			Attached:     true,
			OriginalName: name,
			MimeType:     "text/plain",
			Size:         int64(len(data)),
		},
		Owner: owner,
	}
}

func (e *testEnv) mustUpload(t *testing.T, name, owner string, data []byte) *model.FileRecord {
	t.Helper()
	rec, err := e.ingest.Upload(context.Background(), uploadParams(name, owner, data))
	if err != nil {
		t.Fatalf("Upload(%s): %v", name, err)
	}
	return rec
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("ожидалась ошибка вида %v, получено %v", kind, err)
	}
}

func TestUpload_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.mustUpload(t, "notes.txt", "alice@example.com", []byte("hello"))
	if rec.OriginalName != "notes.txt" || rec.Size != 5 || rec.OwnerKey != "alice_40example_2ecom" {
		t.Fatalf("запись: %+v", rec)
	}
	if !strings.HasSuffix(rec.StoredName, ".txt") {
		t.Errorf("storedName %q без расширения", rec.StoredName)
	}
	if rec.AccessURL != "http://localhost:8030/static/"+rec.StoredName {
		t.Errorf("accessUrl = %q", rec.AccessURL)
	}
	if rec.Checksum != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("checksum = %q", rec.Checksum)
	}

	recs, err := env.files.ListByOwner(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != rec.ID || recs[0].Size != 5 || recs[0].OriginalName != "notes.txt" {
		t.Fatalf("листинг: %+v", recs)
	}

	if err := env.files.Delete(ctx, rec.ID, ""); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if env.blobs.Exists(rec.StoredName) {
		t.Error("blob не удалён")
	}

	recs, err = env.files.ListByOwner(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("после удаления ожидался пустой список, получено %v", recs)
	}
}

func TestUpload_UniqueIDs(t *testing.T) {
	env := newTestEnv(t)
	const workers, perWorker = 8, 125

	var (
		mu     sync.Mutex
		ids    = make(map[string]bool)
		stored = make(map[string]bool)
		wg     sync.WaitGroup
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				rec, err := env.ingest.Upload(context.Background(), uploadParams("same.bin", "bulk@example.com", []byte{byte(w)}))
				if err != nil {
					t.Errorf("Upload: %v", err)
					return
				}
				mu.Lock()
				if ids[rec.ID] {
					t.Errorf("повтор id %s", rec.ID)
				}
				if stored[rec.StoredName] {
					t.Errorf("повтор storedName %s", rec.StoredName)
				}
				ids[rec.ID] = true
				stored[rec.StoredName] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(ids) != workers*perWorker {
		t.Errorf("уникальных id %d, ожидалось %d", len(ids), workers*perWorker)
	}
}

func TestUpload_SizeBoundary(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.ingest.Upload(context.Background(),
		uploadParams("exact.bin", "alice@example.com", bytes.Repeat([]byte{1}, testMaxSize))); err != nil {
		t.Fatalf("файл ровно максимального размера отклонён: %v", err)
	}

	// Заявленный размер превышает максимум
	_, err := env.ingest.Upload(context.Background(),
		uploadParams("over.bin", "alice@example.com", bytes.Repeat([]byte{1}, testMaxSize+1)))
	assertKind(t, err, ErrPayloadTooLarge)

	// Размер не заявлен, превышение обнаруживается при записи
	params := uploadParams("over.bin", "alice@example.com", bytes.Repeat([]byte{1}, testMaxSize+1))
	params.Meta.Size = 0
	_, err = env.ingest.Upload(context.Background(), params)
	assertKind(t, err, ErrPayloadTooLarge)

	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 413 || svcErr.Code != "FILE_TOO_LARGE" {
		t.Errorf("ошибка сервиса: %+v", svcErr)
	}

	names, _ := env.blobs.List()
	if len(names) != 1 {
		t.Errorf("в blob area %d файлов, ожидался 1: %v", len(names), names)
	}
	entries, _ := env.journal.Unresolved()
	if len(entries) != 0 {
		t.Errorf("незавершённых записей журнала: %d", len(entries))
	}
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		params UploadParams
	}{
		{"нет вложения", UploadParams{Meta: model.UploadMeta{OriginalName: "a.txt"}, Owner: "alice@example.com"}},
		{"пустой владелец", uploadParams("a.txt", "  ", []byte("x"))},
		{"нет имени", uploadParams("", "alice@example.com", []byte("x"))},
		{"отрицательный размер", func() UploadParams {
			p := uploadParams("a.txt", "alice@example.com", []byte("x"))
			p.Meta.Size = -1
			return p
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ingest.Upload(context.Background(), tt.params)
			assertKind(t, err, ErrValidation)
		})
	}

	names, _ := env.blobs.List()
	if len(names) != 0 {
		t.Errorf("после ошибок валидации в blob area файлы: %v", names)
	}
}

// TestUpload_LengthLimits проверяет, что слишком длинные владелец и расширение
// отклоняются до записи blob'а, а значения на пределе принимаются fs backend'ом.
func TestUpload_LengthLimits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rejected := []struct {
		name   string
		params UploadParams
	}{
		{"длинный владелец", uploadParams("a.txt", strings.Repeat("a.", 90)+"b@example.com", []byte("x"))},
		{"длинное расширение", uploadParams("a."+strings.Repeat("x", 250), "alice@example.com", []byte("x"))},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ingest.Upload(ctx, tt.params)
			assertKind(t, err, ErrValidation)
		})
	}

	names, _ := env.blobs.List()
	if len(names) != 0 {
		t.Errorf("после отказа в blob area файлы: %v", names)
	}
	entries, _ := env.journal.Unresolved()
	if len(entries) != 0 {
		t.Errorf("после отказа в журнале записи: %d", len(entries))
	}

	owner := strings.Repeat("a", naming.MaxOwnerKeyLen)
	name := "a." + strings.Repeat("x", naming.MaxExtensionLen-1)
	rec := env.mustUpload(t, name, owner, []byte("x"))
	got, err := env.files.ListByOwner(ctx, owner)
	if err != nil || len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("ListByOwner на пределе длины: %v, %v", got, err)
	}

	_, err = env.files.ListByOwner(ctx, strings.Repeat("a", naming.MaxOwnerKeyLen+1))
	assertKind(t, err, ErrValidation)
}

func TestUpload_Unavailable(t *testing.T) {
	env := newTestEnv(t)
	env.sm.TransitionTo(state.StateUnavailable, "test")

	_, err := env.ingest.Upload(context.Background(), uploadParams("a.txt", "alice@example.com", []byte("x")))
	assertKind(t, err, ErrUnavailable)

	_, err = env.files.ListByOwner(context.Background(), "alice@example.com")
	assertKind(t, err, ErrUnavailable)
}

func TestUpload_MetadataFailureKeepsBlob(t *testing.T) {
	env := newTestEnvWithStore(t, func(s metastore.Store) metastore.Store {
		return &faultyStore{Store: s, putErr: errors.New("write timeout")}
	})

	_, err := env.ingest.Upload(context.Background(), uploadParams("a.txt", "alice@example.com", []byte("x")))
	assertKind(t, err, ErrMetadataWrite)

	names, _ := env.blobs.List()
	if len(names) != 1 {
		t.Fatalf("blob должен остаться до сверки: %v", names)
	}
	entries, _ := env.journal.Unresolved()
	if len(entries) != 1 || entries[0].Status != journal.StatusOrphaned || entries[0].FileID == "" {
		t.Fatalf("журнал: %+v", entries)
	}
	if entries[0].StoredName != names[0] {
		t.Errorf("журнал ссылается на %s, blob %s", entries[0].StoredName, names[0])
	}
}

func TestUpload_MimeSniff(t *testing.T) {
	env := newTestEnv(t)

	params := uploadParams("image", "alice@example.com", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	params.Meta.MimeType = ""
	rec, err := env.ingest.Upload(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MimeType != "image/png" {
		t.Errorf("mimeType = %q, ожидался image/png", rec.MimeType)
	}
	if rec.Size != int64(len("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")) {
		t.Errorf("size = %d: начало потока потеряно", rec.Size)
	}

	// Заявленный клиентом тип не проверяется
	rec = env.mustUpload(t, "fake.pdf", "alice@example.com", []byte("not a pdf"))
	if rec.MimeType != "text/plain" {
		t.Errorf("mimeType = %q", rec.MimeType)
	}
}

func TestListByOwner_Order(t *testing.T) {
	env := newTestEnv(t)

	var want []string
	for _, name := range []string{"first.txt", "second.txt", "third.txt"} {
		rec := env.mustUpload(t, name, "alice@example.com", []byte(name))
		want = append([]string{rec.ID}, want...)
	}
	env.mustUpload(t, "other.txt", "bob@example.com", []byte("x"))

	recs, err := env.files.ListByOwner(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("записей %d", len(recs))
	}
	for i := range recs {
		if recs[i].ID != want[i] {
			t.Errorf("позиция %d: %s, ожидался %s", i, recs[i].ID, want[i])
		}
		if i > 0 && !recs[i-1].CreatedAt.After(recs[i].CreatedAt) {
			t.Errorf("createdAt не убывает строго: %v, %v", recs[i-1].CreatedAt, recs[i].CreatedAt)
		}
	}
}

func TestListByOwner_EmptyIdentity(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.files.ListByOwner(context.Background(), "")
	assertKind(t, err, ErrValidation)

	recs, err := env.files.ListByOwner(context.Background(), "nobody@example.com")
	if err != nil || len(recs) != 0 {
		t.Errorf("владелец без файлов: %v, %v", recs, err)
	}
}

func TestListAll_Limit(t *testing.T) {
	env := newTestEnv(t)
	for i := range 3 {
		env.mustUpload(t, "f.txt", []string{"a@x", "b@x", "c@x"}[i], []byte("x"))
	}

	recs, err := env.files.ListAll(context.Background(), 2)
	if err != nil || len(recs) != 2 {
		t.Fatalf("ListAll(2): %d, %v", len(recs), err)
	}
	for _, limit := range []int{0, 101} {
		_, err := env.files.ListAll(context.Background(), limit)
		assertKind(t, err, ErrValidation)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, "a.txt", "alice@example.com", []byte("x"))

	if err := env.files.Delete(ctx, rec.ID, "alice@example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for range 2 {
		err := env.files.Delete(ctx, rec.ID, "")
		assertKind(t, err, ErrNotFound)
	}

	entries, _ := env.journal.Unresolved()
	if len(entries) != 0 {
		t.Errorf("незавершённых записей журнала: %d", len(entries))
	}
}

// TestDelete_ResultLabels проверяет лейбл result метрики удаления по виду ошибки.
func TestDelete_ResultLabels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	counter := func(result string) float64 {
		return testutil.ToFloat64(middleware.OperationsTotal.WithLabelValues("delete", result))
	}

	tests := []struct {
		name   string
		id     string
		prep   func()
		kind   error
		result string
	}{
		{"некорректный id", "not-a-uuid", func() {}, ErrValidation, "invalid"},
		{"нет записи", "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", func() {}, ErrNotFound, "not_found"},
		{"хранилище недоступно", "6f1c1f4e-8a63-4e0e-9a55-0f0f6c3f8d11", func() {
			env.sm.TransitionTo(state.StateUnavailable, "test")
		}, ErrUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prep()
			before := map[string]float64{}
			for _, r := range []string{"invalid", "not_found", "unavailable"} {
				before[r] = counter(r)
			}

			err := env.files.Delete(ctx, tt.id, "alice@example.com")
			assertKind(t, err, tt.kind)

			for r, v := range before {
				want := v
				if r == tt.result {
					want++
				}
				if got := counter(r); got != want {
					t.Errorf("delete/%s = %v, ожидалось %v", r, got, want)
				}
			}
		})
	}
}

func TestDelete_MissingBlob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.mustUpload(t, "a.txt", "alice@example.com", []byte("x"))
	if err := env.blobs.Remove(rec.StoredName); err != nil {
		t.Fatal(err)
	}

	if err := env.files.Delete(context.Background(), rec.ID, ""); err != nil {
		t.Fatalf("отсутствие blob'а не должно мешать удалению: %v", err)
	}
	if _, err := env.files.Get(context.Background(), rec.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись не удалена: %v", err)
	}
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.mustUpload(t, "a.txt", "alice@example.com", []byte("x"))

	// Новый сервис с пустым кэшем: id находится через Locate
	fresh := NewFileService(env.blobs, env.meta, env.journal, env.sm, NewOwnerCache(10, time.Minute), 100, testLogger())
	for _, hint := range []string{"", "alice@example.com", "alice_40example_2ecom"} {
		got, err := fresh.Resolve(ctx, rec.ID, hint)
		if err != nil || got != rec.OwnerKey {
			t.Errorf("Resolve(hint=%q) = %q, %v", hint, got, err)
		}
	}
	if _, ok := fresh.cache.Get(rec.ID); !ok {
		t.Error("результат Locate не закэширован")
	}

	_, err := fresh.Resolve(ctx, "not-a-uuid", "")
	assertKind(t, err, ErrValidation)

	// Чужой владелец — запись не найдена
	_, err = fresh.Get(ctx, rec.ID, "bob@example.com")
	assertKind(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t)
	rec := env.mustUpload(t, "a.txt", "alice@example.com", []byte("content"))

	got, f, err := env.files.Open(context.Background(), rec.ID, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data := make([]byte, 16)
	n, _ := f.Read(data)
	f.Close()
	if got.ID != rec.ID || string(data[:n]) != "content" {
		t.Errorf("содержимое %q", data[:n])
	}

	env.blobs.Remove(rec.StoredName)
	_, _, err = env.files.Open(context.Background(), rec.ID, "")
	assertKind(t, err, ErrNotFound)
}

func TestAvailabilityMonitor(t *testing.T) {
	var faulty *faultyStore
	env := newTestEnvWithStore(t, func(s metastore.Store) metastore.Store {
		faulty = &faultyStore{Store: s}
		return faulty
	})
	sm := state.NewMachine()
	mon := NewAvailabilityMonitor(env.meta, sm, time.Hour, testLogger())
	ctx := context.Background()

	if got := mon.Check(ctx); got != state.StateReady {
		t.Fatalf("состояние %s, ожидалось ready", got)
	}

	faulty.pingErr = metastore.ErrUnavailable
	if got := mon.Check(ctx); got != state.StateUnavailable {
		t.Fatalf("состояние %s, ожидалось unavailable", got)
	}
	if sm.Reason() == "" {
		t.Error("причина недоступности не сохранена")
	}

	faulty.pingErr = nil
	if got := mon.Check(ctx); got != state.StateReady {
		t.Fatalf("состояние %s, ожидалось ready", got)
	}

	mon.Start(ctx)
	mon.Stop()
	if sm.Current() != state.StateClosed {
		t.Errorf("после Stop состояние %s", sm.Current())
	}
	if got := mon.Check(ctx); got != state.StateClosed {
		t.Errorf("закрытое хранилище проверено: %s", got)
	}
}

func TestOwnerCache(t *testing.T) {
	c := NewOwnerCache(2, time.Minute)
	c.Set("a", "ka")
	c.Set("b", "kb")
	c.Set("c", "kc")

	if _, ok := c.Get("a"); ok {
		t.Error("старейшая запись должна быть вытеснена")
	}
	if k, ok := c.Get("c"); !ok || k != "kc" {
		t.Errorf("Get(c) = %q, %v", k, ok)
	}
	c.Delete("c")
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
}
