package backend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpen_FS(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		MetaBackend: config.BackendFS,
		MetaRoot:    "files",
		MetaDir:     t.TempDir(),
	}

	b, err := Open(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.SQLDB != nil {
		t.Error("SQLDB должен быть nil для fs backend")
	}

	rec := storetest.NewRecord(t, "alice@example.com", 0)
	if err := b.Store.Put(ctx, rec.OwnerKey, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	store := b.Store
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("повторный Close: %v", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, metastore.ErrUnavailable) {
		t.Errorf("после Close ожидалась ErrUnavailable, получено %v", err)
	}
}

func TestOpen_Unknown(t *testing.T) {
	cfg := &config.Config{MetaBackend: "cassandra"}
	if _, err := Open(context.Background(), cfg, testLogger()); err == nil {
		t.Error("ожидалась ошибка для неизвестного backend'а")
	}
}

func TestOpen_RedisInvalidURL(t *testing.T) {
	cfg := &config.Config{MetaBackend: config.BackendRedis, RedisURL: "http://not-redis", MetaRoot: "files"}
	if _, err := Open(context.Background(), cfg, testLogger()); err == nil {
		t.Error("ожидалась ошибка парсинга URL")
	}
}
