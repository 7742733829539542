// Пакет mongostore — backend метаданных на MongoDB.
// Коллекция <root>, _id = id записи, партиция — документы с одним ownerKey.
// createdAt хранится в микросекундах Unix: тип date в BSON имеет
// миллисекундную точность.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/metastore"
)

// document — представление записи в коллекции.
type document struct {
	ID           string `bson:"_id"`
	OwnerKey     string `bson:"ownerKey"`
	StoredName   string `bson:"storedName"`
	OriginalName string `bson:"originalName"`
	Size         int64  `bson:"size"`
	MimeType     string `bson:"mimeType"`
	StoragePath  string `bson:"storagePath"`
	AccessURL    string `bson:"accessUrl"`
	Checksum     string `bson:"checksum"`
	CreatedAt    int64  `bson:"createdAt"`
}

func toDocument(r *model.FileRecord) document {
	return document{
		ID:           r.ID,
		OwnerKey:     r.OwnerKey,
		StoredName:   r.StoredName,
		OriginalName: r.OriginalName,
		Size:         r.Size,
		MimeType:     r.MimeType,
		StoragePath:  r.StoragePath,
		AccessURL:    r.AccessURL,
		Checksum:     r.Checksum,
		CreatedAt:    r.CreatedAt.UnixMicro(),
	}
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
		CreatedAt:    time.UnixMicro(d.CreatedAt).UTC(),
	}
}

// newestFirst — сортировка листингов.
var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

// Store — MongoDB backend метаданных.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ metastore.Store = (*Store)(nil)

// Connect подключается к MongoDB по URI и проверяет доступность primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDB недоступна: %w", err)
	}
	return client, nil
}

// New создаёт Store в коллекции root базы database и создаёт индексы листингов.
func New(ctx context.Context, client *mongo.Client, database, root string) (*Store, error) {
	coll := client.Database(database).Collection(root)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ownerKey", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("owner_created"),
		},
		{
			Keys:    newestFirst,
			Options: options.Index().SetName("created"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания индексов коллекции %s: %w", root, err)
	}
	return &Store{client: client, coll: coll}, nil
}

// Put сохраняет запись upsert'ом по (_id, ownerKey).
// id, занятый другой партицией, даёт duplicate key и отклоняется.
func (s *Store) Put(ctx context.Context, ownerKey string, rec *model.FileRecord) error {
	if err := metastore.CheckRecord(ownerKey, rec); err != nil {
		return err
	}

	filter := bson.D{{Key: "_id", Value: rec.ID}, {Key: "ownerKey", Value: ownerKey}}
	_, err := s.coll.ReplaceOne(ctx, filter, toDocument(rec), options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: идентификатор %s занят другой партицией", metastore.ErrInvalidKey, rec.ID)
		}
		return fmt.Errorf("ошибка сохранения записи %s: %w", rec.ID, err)
	}
	return nil
}

// Get возвращает запись партиции.
func (s *Store) Get(ctx context.Context, ownerKey, id string) (*model.FileRecord, error) {
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return nil, err
	}

	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "ownerKey", Value: ownerKey}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
		}
		return nil, fmt.Errorf("ошибка получения записи %s: %w", id, err)
	}
	return doc.record(), nil
}

// Locate возвращает ownerKey документа по _id.
func (s *Store) Locate(ctx context.Context, id string) (string, error) {
	if err := metastore.CheckID(id); err != nil {
		return "", err
	}

	var doc struct {
		OwnerKey string `bson:"ownerKey"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "ownerKey", Value: 1}})
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("%w: %s", metastore.ErrNotFound, id)
		}
		return "", fmt.Errorf("ошибка поиска партиции записи %s: %w", id, err)
	}
	return doc.OwnerKey, nil
}

// ListByOwner читает партицию курсором.
func (s *Store) ListByOwner(ctx context.Context, ownerKey string) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if err := metastore.CheckOwnerKey(ownerKey); err != nil {
			yield(nil, err)
			return
		}
		s.stream(ctx, yield, bson.D{{Key: "ownerKey", Value: ownerKey}}, options.Find().SetSort(newestFirst))
	}
}

// ListAll читает не более limit документов коллекции.
func (s *Store) ListAll(ctx context.Context, limit int) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		if limit <= 0 {
			yield(nil, metastore.ErrInvalidLimit)
			return
		}
		s.stream(ctx, yield, bson.D{}, options.Find().SetSort(newestFirst).SetLimit(int64(limit)))
	}
}

func (s *Store) stream(ctx context.Context, yield func(*model.FileRecord, error) bool, filter bson.D, opts *options.FindOptions) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		yield(nil, fmt.Errorf("ошибка листинга записей: %w", err))
		return
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			yield(nil, fmt.Errorf("ошибка декодирования записи: %w", err))
			return
		}
		if !yield(doc.record(), nil) {
			return
		}
	}
	if err := cur.Err(); err != nil {
		yield(nil, fmt.Errorf("ошибка итерации курсора: %w", err))
	}
}

// Delete удаляет документ партиции.
func (s *Store) Delete(ctx context.Context, ownerKey, id string) error {
	if err := metastore.CheckKeys(ownerKey, id); err != nil {
		return err
	}

	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "ownerKey", Value: ownerKey}})
	if err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", metastore.ErrNotFound, ownerKey, id)
	}
	return nil
}

// Ping проверяет доступность primary.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", metastore.ErrUnavailable, err)
	}
	return nil
}

// Close отключает клиент.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
