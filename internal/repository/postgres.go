package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/database"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EnginePostgres PostgreSQL 引擎名
const EnginePostgres = "postgres"

// RecordsTable 关系型引擎的记录表
const RecordsTable = "storage_records"

// recordColumns 读写列顺序
const recordColumns = "id, source_id, source_type, timestamp, data, metadata, quality, processing, stored_at"

// sqlEngine PostgreSQL 存储（database/sql + lib/pq）
type sqlEngine struct {
	db     *sql.DB
	cfg    *config.DatabaseConfig
	ownsDB bool
}

// NewPostgresAdapter 创建 PostgreSQL 存储适配器，连接池在 Initialize 时按配置创建
func NewPostgresAdapter(cfg *config.DatabaseConfig, opts Options) *StorageAdapter {
	return newStorageAdapter(&sqlEngine{cfg: cfg}, opts)
}

// NewPostgresAdapterWithDB 使用已有连接池创建适配器（连接池由调用方管理）
func NewPostgresAdapterWithDB(db *sql.DB, opts Options) *StorageAdapter {
	return newStorageAdapter(&sqlEngine{db: db}, opts)
}

func (e *sqlEngine) name() string { return EnginePostgres }

func (e *sqlEngine) initialize() error {
	if e.db != nil {
		return nil
	}
	if e.cfg == nil || e.cfg.Host == "" || e.cfg.Database == "" {
		return models.NewValidationError("database", "host and database are required")
	}
	db, err := database.OpenPostgresDB(e.cfg)
	if err != nil {
		return err
	}
	e.db = db
	e.ownsDB = true
	return nil
}

// postgresSchema 建表和索引，均可重复执行
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + RecordsTable + ` (
		id          TEXT PRIMARY KEY,
		source_id   TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		timestamp   TIMESTAMPTZ NOT NULL,
		data        JSONB,
		metadata    JSONB,
		quality     JSONB,
		processing  JSONB,
		stored_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_storage_records_timestamp ON ` + RecordsTable + ` (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_storage_records_source ON ` + RecordsTable + ` (source_id, timestamp DESC)`,
}

func (e *sqlEngine) connect(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return e.exec(ctx, postgresSchema...)
}

func (e *sqlEngine) exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

func (e *sqlEngine) disconnect(context.Context) error {
	if !e.ownsDB {
		return nil
	}
	err := database.Close(e.db)
	e.db = nil
	e.ownsDB = false
	return err
}

// jsonColumn 序列化 JSONB 列，nil 写入 NULL
func jsonColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (e *sqlEngine) insert(ctx context.Context, rec *models.StorageRecord) error {
	args := []any{rec.ID, rec.SourceID, rec.SourceType, rec.Timestamp}
	for _, v := range []any{rec.Data, rec.Metadata, rec.Quality, rec.Processing} {
		col, err := jsonColumn(v)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
		args = append(args, col)
	}
	args = append(args, rec.StoredAt)

	query := `INSERT INTO ` + RecordsTable + ` (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// buildWhere 按 QueryOptions 拼接 WHERE 子句，占位符从 $1 开始
func buildWhere(opts models.QueryOptions) (string, []any) {
	var conds []string
	var args []any
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
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (e *sqlEngine) query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error) {
	where, args := buildWhere(opts)
	args = append(args, opts.Limit)
	query := `SELECT ` + recordColumns + ` FROM ` + RecordsTable + where +
		fmt.Sprintf(` ORDER BY timestamp DESC, stored_at DESC LIMIT $%d`, len(args))

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return scanRecords(rows)
}

func (e *sqlEngine) search(ctx context.Context, text string, limit int) ([]*models.StorageRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ` + RecordsTable + `
		WHERE id ILIKE $1 ESCAPE '\'
		   OR source_id ILIKE $1 ESCAPE '\'
		   OR source_type ILIKE $1 ESCAPE '\'
		   OR data::text ILIKE $1 ESCAPE '\'
		   OR metadata::text ILIKE $1 ESCAPE '\'
		ORDER BY timestamp DESC, stored_at DESC
		LIMIT $2`

	rows, err := e.db.QueryContext(ctx, query, likePattern(text), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	return scanRecords(rows)
}

func (e *sqlEngine) clear(ctx context.Context) (int64, error) {
	res, err := e.db.ExecContext(ctx, `DELETE FROM `+RecordsTable)
	if err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared records: %w", err)
	}
	return n, nil
}

func (e *sqlEngine) storage(ctx context.Context) (map[string]any, error) {
	var count, size int64
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*), pg_total_relation_size('`+RecordsTable+`') FROM `+RecordsTable,
	).Scan(&count, &size)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage stats: %w", err)
	}
	return map[string]any{
		"table":      RecordsTable,
		"records":    count,
		"tableBytes": size,
		"pool":       poolStats(e.db),
	}, nil
}

func (e *sqlEngine) ping(ctx context.Context) (map[string]any, error) {
	details := map[string]any{"pool": poolStats(e.db)}
	if err := e.db.PingContext(ctx); err != nil {
		return details, err
	}
	return details, nil
}

func poolStats(db *sql.DB) map[string]any {
	s := db.Stats()
	return map[string]any{
		"open":           s.OpenConnections,
		"inUse":          s.InUse,
		"idle":           s.Idle,
		"waitCount":      s.WaitCount,
		"maxOpen":        s.MaxOpenConnections,
		"waitDurationMs": s.WaitDuration.Milliseconds(),
	}
}

// scanRecords 扫描 recordColumns 顺序的结果集
func scanRecords(rows *sql.Rows) ([]*models.StorageRecord, error) {
	defer rows.Close()

	records := make([]*models.StorageRecord, 0)
	for rows.Next() {
		var (
			rec                                 models.StorageRecord
			data, metadata, quality, processing []byte
			timestamp, storedAt                 time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.SourceType, &timestamp,
			&data, &metadata, &quality, &processing, &storedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Timestamp = timestamp.UTC()
		rec.StoredAt = storedAt.UTC()

		if err := decodeJSONColumns(&rec, data, metadata, quality, processing); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// decodeJSONColumns 反序列化 data/metadata/quality/processing 列
func decodeJSONColumns(rec *models.StorageRecord, data, metadata, quality, processing []byte) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return fmt.Errorf("failed to decode data of %s: %w", rec.ID, err)
		}
	}
	for _, col := range []struct {
		raw    []byte
		target *map[string]any
	}{
		{metadata, &rec.Metadata},
		{quality, &rec.Quality},
		{processing, &rec.Processing},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.target); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
		}
	}
	return nil
}
