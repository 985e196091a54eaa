package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
	commonredis "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/redis"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EngineRedis Redis 引擎名
const EngineRedis = "redis"

// DefaultRedisPrefix 默认 key 前缀
const DefaultRedisPrefix = "udc"

// redisScanBatch 搜索时每批读取的记录数
const redisScanBatch = 200

// storeScript 写记录、更新主时间线和来源时间线、按容量裁剪，整体原子执行
// KEYS: record, timeline, source zset, record->source hash, sources set
// ARGV: id, json, score, sourceId, maxRecords, prefix
var storeScript = redis.NewScript(`
local prefix = ARGV[6]
local prev = redis.call('HGET', KEYS[4], ARGV[1])
if prev and prev ~= '' and prev ~= ARGV[4] then
  redis.call('ZREM', prefix .. ':source:' .. prev, ARGV[1])
end

redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[4])
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
  redis.call('SADD', KEYS[5], ARGV[4])
end

local max = tonumber(ARGV[5])
local evicted = 0
local total = redis.call('ZCARD', KEYS[2])
if max > 0 and total > max then
  local old = redis.call('ZRANGE', KEYS[2], 0, total - max - 1)
  for _, oid in ipairs(old) do
    local sid = redis.call('HGET', KEYS[4], oid)
    if sid and sid ~= '' then
      redis.call('ZREM', prefix .. ':source:' .. sid, oid)
    end
    redis.call('HDEL', KEYS[4], oid)
    redis.call('DEL', prefix .. ':record:' .. oid)
    redis.call('ZREM', KEYS[2], oid)
    evicted = evicted + 1
  end
end
return evicted
`)

// clearScript 删除所有记录和索引，返回删除的记录数
// KEYS: timeline, record->source hash, sources set
// ARGV: prefix
var clearScript = redis.NewScript(`
local prefix = ARGV[1]
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  redis.call('DEL', prefix .. ':record:' .. id)
end
local sids = redis.call('SMEMBERS', KEYS[3])
for _, sid in ipairs(sids) do
  redis.call('DEL', prefix .. ':source:' .. sid)
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
return #ids
`)

// redisEngine Redis 存储：记录 JSON + 主时间线 ZSET + 每来源 ZSET
type redisEngine struct {
	cfg        *config.RedisConfig
	client     *redis.Client
	prefix     string
	maxRecords int
	ownsClient bool
}

// NewRedisAdapter 创建 Redis 存储适配器
func NewRedisAdapter(cfg *config.RedisConfig, maxRecords int, opts Options) *StorageAdapter {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return newStorageAdapter(&redisEngine{cfg: cfg, prefix: prefix, maxRecords: maxRecords}, opts)
}

// NewRedisAdapterWithClient 使用已有客户端创建适配器
func NewRedisAdapterWithClient(client *redis.Client, prefix string, maxRecords int, opts Options) *StorageAdapter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return newStorageAdapter(&redisEngine{client: client, prefix: prefix, maxRecords: maxRecords}, opts)
}

func (e *redisEngine) name() string { return EngineRedis }

func (e *redisEngine) recordKey(id string) string { return e.prefix + ":record:" + id }
func (e *redisEngine) timelineKey() string { return e.prefix + ":timeline" }
func (e *redisEngine) sourceKey(sourceID string) string { return e.prefix + ":source:" + sourceID }
func (e *redisEngine) recordSourceKey() string { return e.prefix + ":record_source" }
func (e *redisEngine) sourcesKey() string { return e.prefix + ":sources" }

func (e *redisEngine) initialize() error {
	if e.maxRecords <= 0 {
		return models.NewValidationError("maxRecords", "must be positive")
	}
	if e.client != nil {
		return nil
	}
	if e.cfg == nil || e.cfg.Addr == "" {
		return models.NewValidationError("redis", "addr is required")
	}
	e.client = commonredis.NewRedisClient(e.cfg)
	e.ownsClient = true
	return nil
}

func (e *redisEngine) connect(ctx context.Context) error {
	if err := commonredis.Ping(ctx, e.client); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (e *redisEngine) disconnect(context.Context) error {
	if !e.ownsClient {
		return nil
	}
	return commonredis.Close(e.client)
}

func score(rec *models.StorageRecord) string {
	return strconv.FormatInt(rec.Timestamp.UnixMilli(), 10)
}

func (e *redisEngine) insert(ctx context.Context, rec *models.StorageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	keys := []string{
		e.recordKey(rec.ID),
		e.timelineKey(),
		e.sourceKey(rec.SourceID),
		e.recordSourceKey(),
		e.sourcesKey(),
	}
	err = storeScript.Run(ctx, e.client, keys,
		rec.ID, string(payload), score(rec), rec.SourceID, e.maxRecords, e.prefix,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// load 按 id 顺序批量读取记录，已被淘汰的 id 跳过
func (e *redisEngine) load(ctx context.Context, ids []string) ([]*models.StorageRecord, error) {
	if len(ids) == 0 {
		return []*models.StorageRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = e.recordKey(id)
	}
	values, err := e.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*models.StorageRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.StorageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", ids[i], err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// query 分数是毫秒精度，边界毫秒内的记录要按 opts 再过滤一次；
// 过滤会丢掉记录，所以按 Limit 分页读取直到凑够或时间线读完
func (e *redisEngine) query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error) {
	key := e.timelineKey()
	if opts.SourceID != "" {
		key = e.sourceKey(opts.SourceID)
	}
	limit := int64(opts.Limit)
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: limit}
	if !opts.StartTime.IsZero() {
		rng.Min = strconv.FormatInt(opts.StartTime.UnixMilli(), 10)
	}
	if !opts.EndTime.IsZero() {
		rng.Max = strconv.FormatInt(opts.EndTime.UnixMilli(), 10)
	}

	out := make([]*models.StorageRecord, 0)
	for {
		ids, err := e.client.ZRevRangeByScore(ctx, key, rng).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read timeline: %w", err)
		}
		records, err := e.load(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load records: %w", err)
		}
		for _, rec := range records {
			if opts.Matches(rec) {
				out = append(out, rec)
			}
		}

		if limit <= 0 || int64(len(ids)) < limit || int64(len(out)) >= limit {
			break
		}
		rng.Offset += limit
	}
	return out, nil
}

// search 从新到旧分批扫描主时间线，在客户端做子串匹配
func (e *redisEngine) search(ctx context.Context, text string, limit int) ([]*models.StorageRecord, error) {
	out := make([]*models.StorageRecord, 0)
	for start := int64(0); ; start += redisScanBatch {
		ids, err := e.client.ZRevRange(ctx, e.timelineKey(), start, start+redisScanBatch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read timeline: %w", err)
		}
		if len(ids) == 0 {
			return out, nil
		}
		records, err := e.load(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load records: %w", err)
		}
		for _, rec := range records {
			if !matchesText(rec, text) {
				continue
			}
			out = append(out, rec)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
}

func (e *redisEngine) clear(ctx context.Context) (int64, error) {
	n, err := clearScript.Run(ctx, e.client,
		[]string{e.timelineKey(), e.recordSourceKey(), e.sourcesKey()},
		e.prefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	return n, nil
}

func (e *redisEngine) storage(ctx context.Context) (map[string]any, error) {
	records, err := e.client.ZCard(ctx, e.timelineKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	sources, err := e.client.SCard(ctx, e.sourcesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	return map[string]any{
		"prefix":     e.prefix,
		"records":    records,
		"sources":    sources,
		"maxRecords": e.maxRecords,
	}, nil
}

func (e *redisEngine) ping(ctx context.Context) (map[string]any, error) {
	ps := e.client.PoolStats()
	details := map[string]any{
		"pool": map[string]any{
			"hits":       ps.Hits,
			"misses":     ps.Misses,
			"timeouts":   ps.Timeouts,
			"totalConns": ps.TotalConns,
			"idleConns":  ps.IdleConns,
		},
	}
	return details, commonredis.Ping(ctx, e.client)
}
