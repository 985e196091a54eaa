package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EngineTimescale TimescaleDB 引擎名
const EngineTimescale = "timescale"

// 分区/压缩/保留默认值
const (
	DefaultChunkInterval = 24 * time.Hour
	DefaultCompressAfter = 7 * 24 * time.Hour
	DefaultRetainFor     = 30 * 24 * time.Hour
)

// timescaleEngine 在 PostgreSQL 引擎基础上管理 hypertable 策略
type timescaleEngine struct {
	*sqlEngine
	chunkInterval time.Duration
	compressAfter time.Duration
	retainFor     time.Duration
}

// TimescaleAdapter TimescaleDB 存储适配器，额外提供 Aggregate
type TimescaleAdapter struct {
	*StorageAdapter
	ts *timescaleEngine
}

// NewTimescaleAdapter 创建 TimescaleDB 存储适配器
func NewTimescaleAdapter(cfg *config.TimescaleConfig, opts Options) *TimescaleAdapter {
	e := newTimescaleEngine(&sqlEngine{cfg: &cfg.DatabaseConfig}, cfg)
	return &TimescaleAdapter{StorageAdapter: newStorageAdapter(e, opts), ts: e}
}

// NewTimescaleAdapterWithDB 使用已有连接池创建适配器
func NewTimescaleAdapterWithDB(db *sql.DB, cfg *config.TimescaleConfig, opts Options) *TimescaleAdapter {
	e := newTimescaleEngine(&sqlEngine{db: db}, cfg)
	return &TimescaleAdapter{StorageAdapter: newStorageAdapter(e, opts), ts: e}
}

func newTimescaleEngine(base *sqlEngine, cfg *config.TimescaleConfig) *timescaleEngine {
	e := &timescaleEngine{
		sqlEngine:     base,
		chunkInterval: DefaultChunkInterval,
		compressAfter: DefaultCompressAfter,
		retainFor:     DefaultRetainFor,
	}
	if cfg != nil {
		if cfg.ChunkInterval > 0 {
			e.chunkInterval = cfg.ChunkInterval
		}
		if cfg.CompressAfter > 0 {
			e.compressAfter = cfg.CompressAfter
		}
		if cfg.RetainFor > 0 {
			e.retainFor = cfg.RetainFor
		}
	}
	return e
}

func (e *timescaleEngine) name() string { return EngineTimescale }

// interval 转成 PostgreSQL interval 字面量
func interval(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("INTERVAL '%d seconds'", secs)
}

// hypertable 主键必须包含分区列 timestamp
func (e *timescaleEngine) schema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS timescaledb`,
		`CREATE TABLE IF NOT EXISTS ` + RecordsTable + ` (
			id          TEXT NOT NULL,
			source_id   TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			timestamp   TIMESTAMPTZ NOT NULL,
			data        JSONB,
			metadata    JSONB,
			quality     JSONB,
			processing  JSONB,
			stored_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (id, timestamp)
		)`,
		`SELECT create_hypertable('` + RecordsTable + `', 'timestamp', chunk_time_interval => ` +
			interval(e.chunkInterval) + `, if_not_exists => TRUE)`,
		`CREATE INDEX IF NOT EXISTS idx_storage_records_source ON ` + RecordsTable + ` (source_id, timestamp DESC)`,
	}
}

func (e *timescaleEngine) policies() []string {
	return []string{
		`SELECT add_compression_policy('` + RecordsTable + `', ` + interval(e.compressAfter) + `, if_not_exists => TRUE)`,
		`SELECT add_retention_policy('` + RecordsTable + `', ` + interval(e.retainFor) + `, if_not_exists => TRUE)`,
	}
}

func (e *timescaleEngine) connect(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := e.exec(ctx, e.schema()...); err != nil {
		return err
	}

	// 压缩只能开启一次，已开启时跳过 ALTER
	var compressed bool
	err := e.db.QueryRowContext(ctx,
		`SELECT compression_enabled FROM timescaledb_information.hypertables WHERE hypertable_name = $1`,
		RecordsTable,
	).Scan(&compressed)
	if err != nil {
		return fmt.Errorf("failed to read hypertable settings: %w", err)
	}
	if !compressed {
		if err := e.exec(ctx, `ALTER TABLE `+RecordsTable+` SET (timescaledb.compress, timescaledb.compress_segmentby = 'source_id')`); err != nil {
			return err
		}
	}
	return e.exec(ctx, e.policies()...)
}

func (e *timescaleEngine) storage(ctx context.Context) (map[string]any, error) {
	out, err := e.sqlEngine.storage(ctx)
	if err != nil {
		return nil, err
	}
	var chunks int64
	err = e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timescaledb_information.chunks WHERE hypertable_name = $1`,
		RecordsTable,
	).Scan(&chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	out["chunks"] = chunks
	out["chunkInterval"] = e.chunkInterval.String()
	out["compressAfter"] = e.compressAfter.String()
	out["retainFor"] = e.retainFor.String()
	return out, nil
}

// AggregateOptions 分桶聚合参数
type AggregateOptions struct {
	// Bucket 桶宽度（time_bucket）
	Bucket time.Duration
	// Measurement 记录 data.measurements 中的测量 id
	Measurement string
	SourceID    string
	StartTime   time.Time
	EndTime     time.Time
}

// AggregateBucket 一个时间桶的聚合结果
// Count 为桶内带该测量的记录数，没有数值时 Avg/Min/Max 为 nil
type AggregateBucket struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
	Avg    *float64  `json:"avg,omitempty"`
	Min    *float64  `json:"min,omitempty"`
	Max    *float64  `json:"max,omitempty"`
}

// Aggregator 支持分桶聚合的存储引擎
type Aggregator interface {
	Aggregate(ctx context.Context, opts AggregateOptions) ([]AggregateBucket, error)
}

var _ Aggregator = (*TimescaleAdapter)(nil)

// Aggregate 按时间桶聚合某个测量的数值
func (a *TimescaleAdapter) Aggregate(ctx context.Context, opts AggregateOptions) ([]AggregateBucket, error) {
	if err := a.requireConnected("aggregate"); err != nil {
		return nil, err
	}
	if opts.Bucket <= 0 || opts.Measurement == "" {
		return nil, a.fail("aggregate", models.NewValidationError("aggregate", "bucket and measurement are required"))
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	buckets, err := a.ts.aggregate(ctx, opts)
	if err != nil {
		return nil, a.fail("aggregate", err)
	}
	a.reads.Add(1)
	a.succeed("aggregate")
	return buckets, nil
}

// measurementElements 展开 data.measurements，非数组时视为空
const measurementElements = `CROSS JOIN LATERAL jsonb_array_elements(` +
	`CASE WHEN jsonb_typeof(data->'measurements') = 'array' THEN data->'measurements' ELSE '[]'::jsonb END) AS m(elem)`

func (e *timescaleEngine) aggregate(ctx context.Context, opts AggregateOptions) ([]AggregateBucket, error) {
	args := []any{fmt.Sprintf("%d seconds", int64(opts.Bucket/time.Second)), opts.Measurement}
	conds := []string{`elem->>'id' = $2`}
	if opts.SourceID != "" {
		args = append(args, opts.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if !opts.StartTime.IsZero() {
		args = append(args, opts.StartTime.UTC())
		conds = append(conds, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !opts.EndTime.IsZero() {
		args = append(args, opts.EndTime.UTC())
		conds = append(conds, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	samples := `SELECT timestamp, ` +
		`CASE WHEN jsonb_typeof(elem->'value') = 'number' THEN (elem->>'value')::double precision END AS v ` +
		`FROM ` + RecordsTable + ` ` + measurementElements + ` WHERE ` + strings.Join(conds, " AND ")
	query := `SELECT time_bucket($1::interval, timestamp) AS bucket, COUNT(*), AVG(v), MIN(v), MAX(v) ` +
		`FROM (` + samples + `) AS samples GROUP BY bucket ORDER BY bucket`

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}
	defer rows.Close()

	buckets := make([]AggregateBucket, 0)
	for rows.Next() {
		var (
			b           AggregateBucket
			avg, lo, hi sql.NullFloat64
		)
		if err := rows.Scan(&b.Bucket, &b.Count, &avg, &lo, &hi); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		b.Bucket = b.Bucket.UTC()
		b.Avg = nullFloat(avg)
		b.Min = nullFloat(lo)
		b.Max = nullFloat(hi)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate buckets: %w", err)
	}
	return buckets, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
