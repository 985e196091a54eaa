package repository

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EngineMongo MongoDB 引擎名
const EngineMongo = "mongodb"

// DefaultMongoTimeout 未配置时的服务器选择/连接超时
const DefaultMongoTimeout = 10 * time.Second

// mongoRecord 集合中的文档形状，记录 id 作为 _id
type mongoRecord struct {
	ID         string         `bson:"_id"`
	SourceID   string         `bson:"sourceId"`
	SourceType string         `bson:"sourceType"`
	Timestamp  time.Time      `bson:"timestamp"`
	Data       any            `bson:"data,omitempty"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
	Quality    map[string]any `bson:"quality,omitempty"`
	Processing map[string]any `bson:"processing,omitempty"`
	StoredAt   time.Time      `bson:"storedAt"`
}

// mongoEngine MongoDB 存储（mongo-driver）
type mongoEngine struct {
	cfg    *config.MongoConfig
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoAdapter 创建 MongoDB 存储适配器
func NewMongoAdapter(cfg *config.MongoConfig, opts Options) *StorageAdapter {
	return newStorageAdapter(&mongoEngine{cfg: cfg}, opts)
}

func (e *mongoEngine) name() string { return EngineMongo }

func (e *mongoEngine) timeout() time.Duration {
	if e.cfg.Timeout > 0 {
		return e.cfg.Timeout
	}
	return DefaultMongoTimeout
}

func (e *mongoEngine) initialize() error {
	if e.cfg == nil || e.cfg.URI == "" || e.cfg.Database == "" || e.cfg.Collection == "" {
		return models.NewValidationError("mongodb", "uri, database and collection are required")
	}
	return nil
}

func (e *mongoEngine) clientOptions() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(e.cfg.URI).
		SetServerSelectionTimeout(e.timeout()).
		SetConnectTimeout(e.timeout()).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if e.cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(e.cfg.MaxPoolSize)
	}
	return opts
}

// mongoIndexes 按来源、按时间、组合索引和全文索引
func mongoIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "sourceId", Value: 1}}, Options: options.Index().SetName("idx_source")},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}, Options: options.Index().SetName("idx_timestamp")},
		{Keys: bson.D{{Key: "sourceId", Value: 1}, {Key: "timestamp", Value: -1}}, Options: options.Index().SetName("idx_source_timestamp")},
		{Keys: bson.D{{Key: "$**", Value: "text"}}, Options: options.Index().SetName("idx_text")},
	}
}

func (e *mongoEngine) connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, e.clientOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(e.cfg.Database).Collection(e.cfg.Collection)
	if _, err := coll.Indexes().CreateMany(ctx, mongoIndexes()); err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	e.client = client
	e.coll = coll
	return nil
}

func (e *mongoEngine) disconnect(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	err := e.client.Disconnect(ctx)
	e.client = nil
	e.coll = nil
	return err
}

func (e *mongoEngine) insert(ctx context.Context, rec *models.StorageRecord) error {
	doc := mongoRecord{
		ID:         rec.ID,
		SourceID:   rec.SourceID,
		SourceType: rec.SourceType,
		Timestamp:  rec.Timestamp,
		Data:       rec.Data,
		Metadata:   rec.Metadata,
		Quality:    rec.Quality,
		Processing: rec.Processing,
		StoredAt:   rec.StoredAt,
	}
	if _, err := e.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// mongoQueryFilter QueryOptions 转换为过滤条件
func mongoQueryFilter(opts models.QueryOptions) bson.M {
	filter := bson.M{}
	if opts.SourceID != "" {
		filter["sourceId"] = opts.SourceID
	}
	ts := bson.M{}
	if !opts.StartTime.IsZero() {
		ts["$gte"] = opts.StartTime.UTC()
	}
	if !opts.EndTime.IsZero() {
		ts["$lte"] = opts.EndTime.UTC()
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}
	return filter
}

// mongoTextFilter 全文索引短语匹配
func mongoTextFilter(text string) bson.M {
	return bson.M{"$text": bson.M{"$search": `"` + text + `"`}}
}

// mongoIdentifierFilter 标识字段的正则子串匹配，补充全文索引无法命中的词内子串
func mongoIdentifierFilter(text string) bson.M {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(text)}
	return bson.M{"$or": bson.A{
		bson.M{"_id": pattern},
		bson.M{"sourceId": pattern},
		bson.M{"sourceType": pattern},
	}}
}

func newestFirst(limit int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "storedAt", Value: -1}}).
		SetLimit(int64(limit))
}

func (e *mongoEngine) find(ctx context.Context, filter bson.M, limit int) ([]*models.StorageRecord, error) {
	cursor, err := e.coll.Find(ctx, filter, newestFirst(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]*models.StorageRecord, 0)
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (d *mongoRecord) toModel() *models.StorageRecord {
	rec := &models.StorageRecord{
		ID:         d.ID,
		SourceID:   d.SourceID,
		SourceType: d.SourceType,
		Timestamp:  d.Timestamp.UTC(),
		Data:       normalizeBSON(d.Data),
		StoredAt:   d.StoredAt.UTC(),
	}
	rec.Metadata = normalizeBSONMap(d.Metadata)
	rec.Quality = normalizeBSONMap(d.Quality)
	rec.Processing = normalizeBSONMap(d.Processing)
	return rec
}

// normalizeBSON 把 bson.M/bson.A/DateTime 等驱动类型还原为普通 JSON 形状
func normalizeBSON(v any) any {
	switch val := v.(type) {
	case primitive.M:
		return normalizeBSONMap(val)
	case map[string]any:
		return normalizeBSONMap(val)
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, elem := range val {
			out[elem.Key] = normalizeBSON(elem.Value)
		}
		return out
	case primitive.DateTime:
		return models.FormatTimestamp(val.Time())
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}

func normalizeBSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeBSON(v)
	}
	return out
}

func (e *mongoEngine) query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error) {
	records, err := e.find(ctx, mongoQueryFilter(opts), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

func (e *mongoEngine) search(ctx context.Context, text string, limit int) ([]*models.StorageRecord, error) {
	byText, err := e.find(ctx, mongoTextFilter(text), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	byID, err := e.find(ctx, mongoIdentifierFilter(text), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}

	seen := make(map[string]bool, len(byText))
	out := make([]*models.StorageRecord, 0, len(byText)+len(byID))
	for _, rec := range append(byText, byID...) {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		out = append(out, rec)
	}
	return out, nil
}

func (e *mongoEngine) clear(ctx context.Context) (int64, error) {
	res, err := e.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	return res.DeletedCount, nil
}

func (e *mongoEngine) storage(ctx context.Context) (map[string]any, error) {
	var stats bson.M
	err := e.client.Database(e.cfg.Database).
		RunCommand(ctx, bson.D{{Key: "collStats", Value: e.cfg.Collection}}).
		Decode(&stats)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection stats: %w", err)
	}
	out := map[string]any{
		"database":   e.cfg.Database,
		"collection": e.cfg.Collection,
	}
	for _, key := range []string{"count", "size", "storageSize", "nindexes", "totalIndexSize"} {
		if v, ok := stats[key]; ok {
			out[key] = normalizeBSON(v)
		}
	}
	return out, nil
}

func (e *mongoEngine) ping(ctx context.Context) (map[string]any, error) {
	details := map[string]any{
		"database":   e.cfg.Database,
		"collection": e.cfg.Collection,
	}
	if e.client == nil {
		return details, models.ErrNotConnected
	}
	return details, e.client.Ping(ctx, readpref.Primary())
}
