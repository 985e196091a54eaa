package repository

import (
	"fmt"
	"strings"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/config"
)

// Engines 支持的存储引擎
var Engines = []string{EngineMemory, EnginePostgres, EngineSQLite, EngineMongo, EngineRedis, EngineTimescale}

// New 按 STORAGE_ENGINE 创建存储适配器（未连接）
func New(cfg *config.Config, opts Options) (Adapter, error) {
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = cfg.Storage.CommandTimeout
	}
	maxRecords := cfg.Storage.MaxRecords
	if maxRecords == 0 {
		maxRecords = DefaultMaxRecords
	}

	switch strings.ToLower(cfg.Storage.Engine) {
	case EngineMemory, "":
		return NewMemoryAdapter(maxRecords, opts), nil
	case EnginePostgres, "postgresql":
		return NewPostgresAdapter(&cfg.Storage.Postgres, opts), nil
	case EngineSQLite:
		return NewSQLiteAdapter(&cfg.Storage.SQLite, opts), nil
	case EngineMongo, "mongo":
		return NewMongoAdapter(&cfg.Storage.Mongo, opts), nil
	case EngineRedis:
		return NewRedisAdapter(&cfg.Redis, maxRecords, opts), nil
	case EngineTimescale, "timescaledb":
		return NewTimescaleAdapter(&cfg.Storage.Timescale, opts), nil
	}
	return nil, fmt.Errorf("unknown storage engine %q (supported: %s)",
		cfg.Storage.Engine, strings.Join(Engines, ", "))
}
