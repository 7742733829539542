// Пакет firestorestore — backend метаданных на Google Cloud Firestore.
//
// Документ записи: <root>/<ownerKey>/files/<id>. Листинг всех партиций
// и Locate — collection group запросы по "files" с фильтром root.
// Для production-проекта нужны составные индексы
// (root ASC, createdAt DESC, id DESC) и (root ASC, id ASC) на группе files.
package firestorestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// filesCollection — имя подколлекции записей партиции.
const filesCollection = "files"

// pingDoc — документ проверки доступности. Не является корректным ключом партиции.
const pingDoc = "_ping"

type document struct {
	Root         string    `firestore:"root"`
	ID           string    `firestore:"id"`
	OwnerKey     string    `firestore:"ownerKey"`
	StoredName   string    `firestore:"storedName"`
	OriginalName string    `firestore:"originalName"`
	Size         int64     `firestore:"size"`
	MimeType     string    `firestore:"mimeType"`
	StoragePath  string    `firestore:"storagePath"`
	AccessURL    string    `firestore:"accessUrl"`
	Checksum     string    `firestore:"checksum"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func (d *document) record() *model.FileRecord {
	return &model.FileRecord{
		ID:           d.ID,
		OwnerKey:     d.OwnerKey,
		StoredName:   d.StoredName,
		OriginalName: d.OriginalName,
		Size:         d.Size,
		MimeType:     d.MimeType,
		StoragePath:  d.StoragePath,
		AccessURL:    d.AccessURL,
		Checksum:     d.Checksum,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

// Store — Firestore backend метаданных.
type Store struct {
	client *firestore.Client
	root   string
}

var _ metastore.Store = (*Store)(nil)

// Connect создаёт клиент Firestore. credentialsFile может быть пустым:
// тогда используются Application Default Credentials
// (или эмулятор, если задана FIRESTORE_EMULATOR_HOST).
func Connect(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Firestore: %w", err)
	}
	return client, nil
}

// New создаёт Store в корневой коллекции root.
func New(client *firestore.Client, root string) *Store {
	return &Store{client: client, root: root}
}

func (s *Store) partition(ownerKey string) *firestore.CollectionRef {
	return s.client.Collection(s.root).Doc(ownerKey).Collection(filesCollection)
}

func (s *Store) group() firestore.Query {
	return s.client.CollectionGroup(filesCollection).Where("root", "==", s.root)
}

// Put сохраняет документ в транзакции, проверяя, что id не занят другой партицией.
func (s *Store) Put(ctx context.Context, ownerKey string, rec *model.FileRecord) error {
	if err := metastore.CheckRecord(ownerKey, rec); err != nil {
		return err
	}

	doc := &document{
		Root:         s.root,
		ID:           rec.ID,
		OwnerKey:     ownerKey,
		StoredName:   rec.StoredName,
		OriginalName: rec.OriginalName,
		Size:         rec.Size,
		MimeType:     rec.MimeType,
		StoragePath:  rec.StoragePath,
		AccessURL:    rec.AccessURL,
		Checksum:     rec.Checksum,
		CreatedAt:    rec.CreatedAt,
	}
	ref := s.partition(ownerKey).Doc(rec.ID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(s.group().Where("id", "==", rec.ID).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if owner, _ := snap.DataAt("ownerKey"); owner != ownerKey {
				return fmt.Errorf("%w: идентификатор %s занят партицией %v", metastore.ErrInvalidKey, rec.ID, owner)
			}
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		if errors.Is(err, metastore.ErrInvalidKey) {
			return err
		}
		return fmt.Errorf("ошибка сохранения записи %s: %w", rec.ID, err)
	}
	return nil
}

// Get читает документ партиции.
func (s *Store) Get(ctx context.Context, ownerKey, id string) (*model.FileRecord, error) {
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return nil, err
	}

	snap, err := s.partition(ownerKey).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
		}
		return nil, fmt.Errorf("ошибка получения записи %s: %w", id, err)
	}
	return decode(snap)
}

// Locate ищет документ id collection group запросом.
func (s *Store) Locate(ctx context.Context, id string) (string, error) {
	if err := metastore.CheckID(id); err != nil {
		return "", err
	}

	it := s.group().Where("id", "==", id).Limit(1).Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return "", fmt.Errorf("%w: %s", metastore.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("ошибка поиска партиции записи %s: %w", id, err)
	}
	rec, err := decode(snap)
	if err != nil {
		return "", err
	}
	return rec.OwnerKey, nil
}

// ListByOwner читает подколлекцию партиции.
func (s *Store) ListByOwner(ctx context.Context, ownerKey string) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if err := metastore.CheckOwnerKey(ownerKey); err != nil {
			yield(nil, err)
			return
		}
		q := s.partition(ownerKey).OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
		stream(ctx, q, yield)
	}
}

// ListAll читает не более limit документов всех партиций.
func (s *Store) ListAll(ctx context.Context, limit int) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if limit <= 0 {
			yield(nil, metastore.ErrInvalidLimit)
			return
		}
		q := s.group().OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc).Limit(limit)
		stream(ctx, q, yield)
	}
}

func stream(ctx context.Context, q firestore.Query, yield func(*model.FileRecord, error) bool) {
	it := q.Documents(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("ошибка листинга записей: %w", err))
			return
		}
		rec, err := decode(snap)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(rec, nil) {
			return
		}
	}
}

// Delete удаляет документ с предусловием существования.
func (s *Store) Delete(ctx context.Context, ownerKey, id string) error {
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return err
	}

	if _, err := s.partition(ownerKey).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
		}
		return fmt.Errorf("ошибка удаления записи %s: %w", id, err)
	}
	return nil
}

// Ping читает служебный документ: NotFound означает, что сервис отвечает.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.root).Doc(pingDoc).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("%w: %v", metastore.ErrUnavailable, err)
	}
	return nil
}

// Close закрывает клиент.
func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}

func decode(snap *firestore.DocumentSnapshot) (*model.FileRecord, error) {
	var doc document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("ошибка декодирования документа %s: %w", snap.Ref.ID, err)
	}
	return doc.record(), nil
}
