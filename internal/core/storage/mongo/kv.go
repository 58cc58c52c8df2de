package mongo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collMeta = "meta"

type kvDoc struct {
	Key    string `bson:"_id"`
	Module string `bson:"module"`
	Key1   string `bson:"key1"`
	Key2   string `bson:"key2"`
	Value  []byte `bson:"value"`
}

// KV stores meta entries with the full key as _id, so prefix scans are a
// left-anchored regex on the primary index.
type KV struct {
	p    *Provider
	coll *mongo.Collection
}

var _ kv.Backend = (*KV)(nil)

// NewKV connects to MongoDB for the meta store.
func NewKV(ctx context.Context, cfg config.MongoConfig) (*KV, error) {
	p, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, meta.WrapBackend(backendName, "connect", err)
	}
	return &KV{p: p, coll: p.Database().Collection(collMeta)}, nil
}

func (s *KV) Name() string { return backendName }

func (s *KV) CreateTable(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "module", Value: 1}, {Key: "key1", Value: 1}, {Key: "key2", Value: 1}},
	})
	return meta.WrapBackend(backendName, "create_table", err)
}

func (s *KV) Stats(ctx context.Context) (kv.Stats, error) {
	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "keys", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "bytes", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$binarySize", Value: "$value"}}}}},
		}}},
	})
	if err != nil {
		return kv.Stats{}, meta.WrapBackend(backendName, "stats", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Keys  int64 `bson:"keys"`
		Bytes int64 `bson:"bytes"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return kv.Stats{}, meta.WrapBackend(backendName, "stats", err)
	}
	if len(rows) == 0 {
		return kv.Stats{}, nil
	}
	return kv.Stats{Keys: rows[0].Keys, Bytes: rows[0].Bytes}, nil
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	var doc kvDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, meta.ErrKeyNotExists
		}
		return nil, meta.WrapBackend(backendName, "get", err)
	}
	return doc.Value, nil
}

func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	module, key1, key2 := meta.ParseKVKey(key)
	doc := kvDoc{Key: key, Module: module, Key1: key1, Key2: key2, Value: value}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return meta.WrapBackend(backendName, "put", err)
}

func (s *KV) Delete(ctx context.Context, key string, withPrefix bool) (int64, error) {
	filter := bson.M{"_id": key}
	if withPrefix {
		filter = prefixFilter(key)
	}
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, meta.WrapBackend(backendName, "delete", err)
	}
	return res.DeletedCount, nil
}

func (s *KV) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	cursor, err := s.coll.Find(ctx, prefixFilter(prefix), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, meta.WrapBackend(backendName, "list", err)
	}
	defer cursor.Close(ctx)

	var docs []kvDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, meta.WrapBackend(backendName, "list", err)
	}
	out := make([]kv.Entry, 0, len(docs))
	for _, d := range docs {
		out = append(out, kv.Entry{Key: d.Key, Value: d.Value})
	}
	return out, nil
}

func (s *KV) Count(ctx context.Context, prefix string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, prefixFilter(prefix))
	return n, meta.WrapBackend(backendName, "count", err)
}

func (s *KV) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.p.Close(ctx)
}

func prefixFilter(prefix string) bson.M {
	if prefix == "" {
		return bson.M{}
	}
	return bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
}
