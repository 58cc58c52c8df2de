package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/syntrixbase/catalog/internal/core/filelist"
	"github.com/syntrixbase/catalog/internal/core/meta"
	"github.com/syntrixbase/catalog/internal/core/storage/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collFileList     = "file_list"
	collDeleted      = "file_list_deleted"
	collStreamStats  = "stream_stats"
	collFileListMeta = "file_list_meta"

	initialisedID = "initialised"

	// pkLag keeps the stats checkpoint behind in-flight writes.
	pkLag = 5 * time.Minute
)

type fileDoc struct {
	ID             string `bson:"_id"`
	Org            string `bson:"org"`
	Stream         string `bson:"stream"`
	DateFile       string `bson:"date_file"`
	MinTS          int64  `bson:"min_ts"`
	MaxTS          int64  `bson:"max_ts"`
	Records        int64  `bson:"records"`
	OriginalSize   int64  `bson:"original_size"`
	CompressedSize int64  `bson:"compressed_size"`
	CreatedAt      int64  `bson:"created_at"`
}

func (d fileDoc) fileMeta() meta.FileMeta {
	return meta.FileMeta{
		MinTS:          d.MinTS,
		MaxTS:          d.MaxTS,
		Records:        d.Records,
		OriginalSize:   d.OriginalSize,
		CompressedSize: d.CompressedSize,
	}
}

func newFileDoc(key string, m meta.FileMeta, createdAt int64) (fileDoc, error) {
	stream, date, file, err := meta.ParseFileKeyColumns(key)
	if err != nil {
		return fileDoc{}, err
	}
	org, _, _, err := meta.ParseStreamKey(stream)
	if err != nil {
		return fileDoc{}, err
	}
	return fileDoc{
		ID:             key,
		Org:            org,
		Stream:         stream,
		DateFile:       date + "/" + file,
		MinTS:          m.MinTS,
		MaxTS:          m.MaxTS,
		Records:        m.Records,
		OriginalSize:   m.OriginalSize,
		CompressedSize: m.CompressedSize,
		CreatedAt:      createdAt,
	}, nil
}

type statsDoc struct {
	Stream         string  `bson:"_id"`
	FileNum        int64   `bson:"file_num"`
	Records        int64   `bson:"records"`
	MinTS          int64   `bson:"min_ts"`
	MaxTS          int64   `bson:"max_ts"`
	OriginalSize   float64 `bson:"original_size"`
	CompressedSize float64 `bson:"compressed_size"`
}

func (d statsDoc) entry() meta.StreamStatsEntry {
	return meta.StreamStatsEntry{StreamKey: d.Stream, Stats: meta.StreamStats{
		FileNum:        d.FileNum,
		DocNum:         d.Records,
		DocTimeMin:     d.MinTS,
		DocTimeMax:     d.MaxTS,
		StorageSize:    d.OriginalSize,
		CompressedSize: d.CompressedSize,
	}}
}

// FileList is the file catalog on MongoDB.
type FileList struct {
	p       *Provider
	files   *mongo.Collection
	deleted *mongo.Collection
	stats   *mongo.Collection
	flags   *mongo.Collection
	logger  *slog.Logger
}

var _ filelist.FileList = (*FileList)(nil)

// NewFileList connects to MongoDB for the file catalog.
func NewFileList(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*FileList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, meta.WrapBackend(backendName, "connect", err)
	}
	db := p.Database()
	return &FileList{
		p:       p,
		files:   db.Collection(collFileList),
		deleted: db.Collection(collDeleted),
		stats:   db.Collection(collStreamStats),
		flags:   db.Collection(collFileListMeta),
		logger:  logger.With("component", "filelist", "backend", backendName),
	}, nil
}

func wrap(op string, err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", meta.ErrAlreadyExists, err)
	}
	return meta.WrapBackend(backendName, op, err)
}

// CreateTable is a no-op: collections are created on first write.
func (f *FileList) CreateTable(ctx context.Context) error {
	return ctx.Err()
}

func (f *FileList) CreateTableIndex(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{f.files, mongo.IndexModel{
			Keys:    bson.D{{Key: "stream", Value: 1}, {Key: "date_file", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{f.files, mongo.IndexModel{Keys: bson.D{{Key: "org", Value: 1}, {Key: "created_at", Value: 1}}}},
		{f.deleted, mongo.IndexModel{Keys: bson.D{{Key: "org", Value: 1}, {Key: "created_at", Value: 1}}}},
		{f.stats, mongo.IndexModel{Keys: bson.D{{Key: "org", Value: 1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return wrap("create_table_index", err)
		}
	}
	return nil
}

func (f *FileList) SetInitialised(ctx context.Context) error {
	_, err := f.flags.UpdateOne(ctx, bson.M{"_id": initialisedID},
		bson.M{"$set": bson.M{"value": 1}}, options.Update().SetUpsert(true))
	return wrap("set_initialised", err)
}

func (f *FileList) GetInitialised(ctx context.Context) (bool, error) {
	n, err := f.flags.CountDocuments(ctx, bson.M{"_id": initialisedID})
	if err != nil {
		return false, wrap("get_initialised", err)
	}
	return n > 0, nil
}

func (f *FileList) Add(ctx context.Context, file string, m meta.FileMeta) error {
	doc, err := newFileDoc(file, m, meta.NowMicros())
	if err != nil {
		return err
	}
	_, err = f.files.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return wrap("add", err)
}

func (f *FileList) Remove(ctx context.Context, file string) error {
	_, err := f.files.DeleteOne(ctx, bson.M{"_id": file})
	return wrap("remove", err)
}

// BatchAdd inserts chunks unordered, so a duplicate only fails its own
// document; the per-item retry then re-checks the rest of the chunk.
func (f *FileList) BatchAdd(ctx context.Context, files []meta.FileKey) error {
	return filelist.BatchAddWithRetry(ctx, backendName, files, filelist.DocumentChunkSize,
		f.insertChunk, f.Add, f.logger)
}

func (f *FileList) insertChunk(ctx context.Context, chunk []meta.FileKey) error {
	now := meta.NowMicros()
	docs := make([]interface{}, 0, len(chunk))
	for _, file := range chunk {
		doc, err := newFileDoc(file.Key, file.Meta, now)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	_, err := f.files.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return wrap("batch_add", err)
}

func (f *FileList) BatchRemove(ctx context.Context, files []string) error {
	return filelist.ForEachChunk(ctx, files, filelist.DocumentChunkSize, func(ctx context.Context, chunk []string) error {
		_, err := f.files.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": chunk}})
		return wrap("batch_remove", err)
	})
}

// BatchAddDeleted upserts tombstones; re-adding one keeps its first created_at.
func (f *FileList) BatchAddDeleted(ctx context.Context, org string, createdAt int64, files []string) error {
	return filelist.ForEachChunk(ctx, files, filelist.DocumentChunkSize, func(ctx context.Context, chunk []string) error {
		models := make([]mongo.WriteModel, 0, len(chunk))
		for _, file := range chunk {
			if _, _, _, err := meta.ParseFileKeyColumns(file); err != nil {
				return err
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": file}).
				SetUpdate(bson.M{"$setOnInsert": bson.M{"org": org, "created_at": createdAt}}).
				SetUpsert(true))
		}
		_, err := f.deleted.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		return wrap("batch_add_deleted", err)
	})
}

func (f *FileList) BatchRemoveDeleted(ctx context.Context, files []string) error {
	return filelist.ForEachChunk(ctx, files, filelist.DocumentChunkSize, func(ctx context.Context, chunk []string) error {
		_, err := f.deleted.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": chunk}})
		return wrap("batch_remove_deleted", err)
	})
}

func (f *FileList) Get(ctx context.Context, file string) (meta.FileMeta, error) {
	var doc fileDoc
	err := f.files.FindOne(ctx, bson.M{"_id": file}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return meta.FileMeta{}, meta.ErrKeyNotExists
		}
		return meta.FileMeta{}, wrap("get", err)
	}
	return doc.fileMeta(), nil
}

func (f *FileList) Contains(ctx context.Context, file string) (bool, error) {
	n, err := f.files.CountDocuments(ctx, bson.M{"_id": file}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrap("contains", err)
	}
	return n > 0, nil
}

// List refuses: a full scan across partitions is not something this store
// is laid out for.
func (f *FileList) List(ctx context.Context) ([]meta.FileRecord, error) {
	return nil, fmt.Errorf("%w: list on %s", meta.ErrDisallowedQuery, backendName)
}

func (f *FileList) Query(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	timeLevel meta.PartitionTimeLevel, timeMin, timeMax int64) ([]meta.FileRecord, error) {
	stream, err := filelist.QueryStream(org, streamType, streamName)
	if err != nil {
		return nil, err
	}
	timeMin, timeMax, err = filelist.QueryBounds(timeMin, timeMax)
	if err != nil {
		return nil, err
	}

	cursor, err := f.files.Find(ctx, queryFilter(stream, timeLevel, timeMin, timeMax),
		options.Find().SetSort(bson.D{{Key: "date_file", Value: 1}}))
	if err != nil {
		return nil, wrap("query", err)
	}
	defer cursor.Close(ctx)

	var docs []fileDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrap("query", err)
	}
	out := make([]meta.FileRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, meta.FileRecord{Key: d.ID, Meta: d.fileMeta()})
	}
	return out, nil
}

// queryFilter ranges the sort key over the date directories between the
// bounds, then keeps only files whose time range truly overlaps.
func queryFilter(stream string, timeLevel meta.PartitionTimeLevel, timeMin, timeMax int64) bson.M {
	lower, upper := filelist.DirectoryRange(timeLevel, timeMin, timeMax)
	sortKey := bson.M{"$lt": upper + "0"}
	if lower != "" {
		sortKey["$gte"] = lower
	}
	return bson.M{
		"stream":    stream,
		"date_file": sortKey,
		"max_ts":    bson.M{"$gte": timeMin},
		"min_ts":    bson.M{"$lte": timeMax},
	}
}

func (f *FileList) QueryDeleted(ctx context.Context, org string, timeMax int64, limit int64) ([]string, error) {
	if !filelist.DeletedWindow(timeMax) {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := f.deleted.Find(ctx, bson.M{"org": org, "created_at": bson.M{"$lt": timeMax}}, opts)
	if err != nil {
		return nil, wrap("query_deleted", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrap("query_deleted", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out, nil
}

// GetMaxPKValue returns a created_at bound that in-flight writes stay above.
func (f *FileList) GetMaxPKValue(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Now().Add(-pkLag).UnixMicro(), nil
}

func (f *FileList) Stats(ctx context.Context, org string, streamType meta.StreamType, streamName string,
	pkRange *meta.PKRange) ([]meta.StreamStatsEntry, error) {
	match := streamFilter(org, streamType, streamName)
	if !pkRange.IsFull() {
		match["created_at"] = bson.M{"$gt": pkRange.Min, "$lte": pkRange.Max}
	}
	cursor, err := f.files.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$stream"},
			{Key: "file_num", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "records", Value: bson.D{{Key: "$sum", Value: "$records"}}},
			{Key: "min_ts", Value: bson.D{{Key: "$min", Value: "$min_ts"}}},
			{Key: "max_ts", Value: bson.D{{Key: "$max", Value: "$max_ts"}}},
			{Key: "original_size", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$toDouble", Value: "$original_size"}}}}},
			{Key: "compressed_size", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$toDouble", Value: "$compressed_size"}}}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, wrap("stats", err)
	}
	return decodeStats(ctx, "stats", cursor)
}

func decodeStats(ctx context.Context, op string, cursor *mongo.Cursor) ([]meta.StreamStatsEntry, error) {
	defer cursor.Close(ctx)
	var docs []statsDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrap(op, err)
	}
	out := make([]meta.StreamStatsEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.entry())
	}
	return out, nil
}

// streamFilter selects the streams StreamMatch describes. Stream keys live in
// the stream field of file docs and in _id of stats docs; both carry org.
func streamFilter(org string, streamType meta.StreamType, streamName string) bson.M {
	return streamFilterOn("stream", org, streamType, streamName)
}

func streamFilterOn(field, org string, streamType meta.StreamType, streamName string) bson.M {
	key, exact := filelist.StreamMatch(org, streamType, streamName)
	switch {
	case key == "":
		return bson.M{}
	case exact:
		return bson.M{field: key}
	case streamType == "":
		return bson.M{"org": org}
	default:
		return bson.M{"org": org, field: bson.M{"$regex": "^" + regexp.QuoteMeta(key)}}
	}
}

func (f *FileList) GetStreamStats(ctx context.Context, org string, streamType meta.StreamType,
	streamName string) ([]meta.StreamStatsEntry, error) {
	cursor, err := f.stats.Find(ctx, streamFilterOn("_id", org, streamType, streamName),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("get_stream_stats", err)
	}
	return decodeStats(ctx, "get_stream_stats", cursor)
}

// SetStreamStats merges every delta with an atomic pipeline update, creating
// missing rollups from zero.
func (f *FileList) SetStreamStats(ctx context.Context, org string, deltas []meta.StreamStatsEntry) error {
	if len(deltas) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(deltas))
	for _, d := range deltas {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": d.StreamKey}).
			SetUpdate(mergePipeline(org, d.Stats)).
			SetUpsert(true))
	}
	_, err := f.stats.BulkWrite(ctx, models)
	return wrap("set_stream_stats", err)
}

func mergePipeline(org string, d meta.StreamStats) mongo.Pipeline {
	field := func(name string) bson.D {
		return bson.D{{Key: "$ifNull", Value: bson.A{"$" + name, 0}}}
	}
	clampedAdd := func(name string, delta interface{}) bson.D {
		return bson.D{{Key: "$max", Value: bson.A{0, bson.D{{Key: "$add", Value: bson.A{field(name), delta}}}}}}
	}

	set := bson.D{
		{Key: "org", Value: org},
		{Key: "file_num", Value: clampedAdd("file_num", d.FileNum)},
		{Key: "records", Value: clampedAdd("records", d.DocNum)},
		{Key: "original_size", Value: clampedAdd("original_size", d.StorageSize)},
		{Key: "compressed_size", Value: clampedAdd("compressed_size", d.CompressedSize)},
	}
	if d.DocTimeMin > 0 {
		set = append(set, bson.E{Key: "min_ts", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{field("min_ts"), 0}}},
				bson.D{{Key: "$gt", Value: bson.A{field("min_ts"), d.DocTimeMin}}},
			}}},
			d.DocTimeMin,
			field("min_ts"),
		}}}})
	} else {
		set = append(set, bson.E{Key: "min_ts", Value: field("min_ts")})
	}
	if d.DocTimeMax > 0 {
		set = append(set, bson.E{Key: "max_ts", Value: bson.D{{Key: "$max", Value: bson.A{field("max_ts"), d.DocTimeMax}}}})
	} else {
		set = append(set, bson.E{Key: "max_ts", Value: field("max_ts")})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (f *FileList) ResetStreamStats(ctx context.Context, org string, streams []string) error {
	filter := bson.M{"org": org}
	if len(streams) > 0 {
		filter["_id"] = bson.M{"$in": streams}
	}
	_, err := f.stats.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"file_num":        int64(0),
		"records":         int64(0),
		"min_ts":          int64(0),
		"max_ts":          int64(0),
		"original_size":   float64(0),
		"compressed_size": float64(0),
	}})
	return wrap("reset_stream_stats", err)
}

func (f *FileList) ResetStreamStatsMinTS(ctx context.Context, org, stream string, minTS int64) error {
	_, err := f.stats.UpdateOne(ctx, bson.M{"_id": stream, "org": org}, bson.M{"$set": bson.M{"min_ts": minTS}})
	return wrap("reset_stream_stats_min_ts", err)
}

func (f *FileList) Len(ctx context.Context) (int64, error) {
	n, err := f.files.CountDocuments(ctx, bson.M{})
	return n, wrap("len", err)
}

func (f *FileList) IsEmpty(ctx context.Context) (bool, error) {
	n, err := f.files.CountDocuments(ctx, bson.M{}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrap("is_empty", err)
	}
	return n == 0, nil
}

func (f *FileList) Clear(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{f.files, f.deleted, f.stats} {
		if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
			return wrap("clear", err)
		}
	}
	return nil
}

func (f *FileList) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.p.Close(ctx)
}
