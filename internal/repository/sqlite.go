package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/database"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EngineSQLite SQLite 引擎名
const EngineSQLite = "sqlite"

// sqliteRecord storage_records 表的 gorm 模型，JSON 字段以文本保存
type sqliteRecord struct {
	ID         string    `gorm:"primaryKey;size:128"`
	SourceID   string    `gorm:"index:idx_sqlite_source_ts,priority:1;size:255;not null;default:''"`
	SourceType string    `gorm:"size:255;not null;default:''"`
	Timestamp  time.Time `gorm:"index:idx_sqlite_source_ts,priority:2;index:idx_sqlite_ts;not null"`
	Data       string
	Metadata   string
	Quality    string
	Processing string
	StoredAt   time.Time `gorm:"not null"`
}

func (sqliteRecord) TableName() string { return RecordsTable }

// sqliteEngine SQLite 存储（gorm + gorm.io/driver/sqlite）
type sqliteEngine struct {
	db     *gorm.DB
	cfg    *config.SQLiteConfig
	ownsDB bool
}

// NewSQLiteAdapter 创建 SQLite 存储适配器
func NewSQLiteAdapter(cfg *config.SQLiteConfig, opts Options) *StorageAdapter {
	return newStorageAdapter(&sqliteEngine{cfg: cfg}, opts)
}

// NewSQLiteAdapterWithDB 使用已打开的 gorm 连接创建适配器
func NewSQLiteAdapterWithDB(db *gorm.DB, opts Options) *StorageAdapter {
	return newStorageAdapter(&sqliteEngine{db: db}, opts)
}

func (e *sqliteEngine) name() string { return EngineSQLite }

func (e *sqliteEngine) initialize() error {
	if e.db != nil {
		return nil
	}
	if e.cfg == nil || e.cfg.Path == "" {
		return models.NewValidationError("sqlite", "path is required")
	}
	db, err := database.NewSQLiteDB(e.cfg)
	if err != nil {
		return err
	}
	e.db = db
	e.ownsDB = true
	return nil
}

func (e *sqliteEngine) connect(ctx context.Context) error {
	if err := e.db.WithContext(ctx).AutoMigrate(&sqliteRecord{}); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return nil
}

func (e *sqliteEngine) disconnect(context.Context) error {
	if !e.ownsDB {
		return nil
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	e.db = nil
	e.ownsDB = false
	return sqlDB.Close()
}

func jsonText(v any) (string, error) {
	col, err := jsonColumn(v)
	if err != nil || col == nil {
		return "", err
	}
	return string(col.([]byte)), nil
}

func toSQLiteRecord(rec *models.StorageRecord) (*sqliteRecord, error) {
	row := &sqliteRecord{
		ID:         rec.ID,
		SourceID:   rec.SourceID,
		SourceType: rec.SourceType,
		Timestamp:  rec.Timestamp.UTC(),
		StoredAt:   rec.StoredAt.UTC(),
	}
	var err error
	if row.Data, err = jsonText(rec.Data); err != nil {
		return nil, err
	}
	if row.Metadata, err = jsonText(rec.Metadata); err != nil {
		return nil, err
	}
	if row.Quality, err = jsonText(rec.Quality); err != nil {
		return nil, err
	}
	if row.Processing, err = jsonText(rec.Processing); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *sqliteRecord) toModel() (*models.StorageRecord, error) {
	rec := &models.StorageRecord{
		ID:         r.ID,
		SourceID:   r.SourceID,
		SourceType: r.SourceType,
		Timestamp:  r.Timestamp.UTC(),
		StoredAt:   r.StoredAt.UTC(),
	}
	if err := decodeJSONColumns(rec, []byte(r.Data), []byte(r.Metadata), []byte(r.Quality), []byte(r.Processing)); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *sqliteEngine) insert(ctx context.Context, rec *models.StorageRecord) error {
	row, err := toSQLiteRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}
	if err := e.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (e *sqliteEngine) find(tx *gorm.DB, limit int) ([]*models.StorageRecord, error) {
	var rows []sqliteRecord
	if err := tx.Order("timestamp DESC").Order("stored_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.StorageRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *sqliteEngine) query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error) {
	tx := e.db.WithContext(ctx).Model(&sqliteRecord{})
	if opts.SourceID != "" {
		tx = tx.Where("source_id = ?", opts.SourceID)
	}
	if !opts.StartTime.IsZero() {
		tx = tx.Where("timestamp >= ?", opts.StartTime.UTC())
	}
	if !opts.EndTime.IsZero() {
		tx = tx.Where("timestamp <= ?", opts.EndTime.UTC())
	}
	records, err := e.find(tx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

func (e *sqliteEngine) search(ctx context.Context, text string, limit int) ([]*models.StorageRecord, error) {
	pattern := likePattern(text)
	tx := e.db.WithContext(ctx).Model(&sqliteRecord{}).Where(
		`id LIKE ? ESCAPE '\' OR source_id LIKE ? ESCAPE '\' OR source_type LIKE ? ESCAPE '\' OR data LIKE ? ESCAPE '\' OR metadata LIKE ? ESCAPE '\'`,
		pattern, pattern, pattern, pattern, pattern,
	)
	records, err := e.find(tx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	return records, nil
}

func (e *sqliteEngine) clear(ctx context.Context) (int64, error) {
	res := e.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&sqliteRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (e *sqliteEngine) storage(ctx context.Context) (map[string]any, error) {
	var count int64
	if err := e.db.WithContext(ctx).Model(&sqliteRecord{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	out := map[string]any{
		"table":   RecordsTable,
		"records": count,
	}
	if e.cfg != nil {
		out["path"] = e.cfg.Path
	}
	var pageCount, pageSize int64
	if err := e.db.WithContext(ctx).Raw("PRAGMA page_count").Scan(&pageCount).Error; err == nil {
		if err := e.db.WithContext(ctx).Raw("PRAGMA page_size").Scan(&pageSize).Error; err == nil {
			out["fileBytes"] = pageCount * pageSize
		}
	}
	return out, nil
}

func (e *sqliteEngine) ping(ctx context.Context) (map[string]any, error) {
	sqlDB, err := e.db.DB()
	if err != nil {
		return nil, err
	}
	details := map[string]any{"pool": poolStats(sqlDB)}
	return details, sqlDB.PingContext(ctx)
}
