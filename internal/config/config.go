package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
)

// 规则来源
const (
	RulesSourceFile = "file"
	RulesSourceDB   = "db"
)

// Config 连接器服务配置
type Config struct {
	// Database 映射规则表所在的 PostgreSQL（MAPPING_RULES_SOURCE=db 时使用）
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Storage StorageConfig

	Mapping struct {
		RulesFile   string // YAML 规则文件
		RulesSource string // file | db
	}

	// 采集配置
	Ingest struct {
		Stream        string        // Redis Stream 名称，为空时不启动 Stream 消费者
		ConsumerGroup string        // 消费者组名称
		ConsumerName  string        // 消费者名称
		BatchSize     int64         // 单次读取条数
		Block         time.Duration // XREADGROUP 阻塞时长
		Topics        []string      // MQTT 订阅主题，为空时不启动 MQTT 消费者
	}

	Log struct {
		Level  string
		Format string
	}

	Metrics struct {
		Addr string // 为空时不暴露 /metrics
	}
}

// StorageConfig 存储引擎配置
type StorageConfig struct {
	Engine         string // memory | postgres | sqlite | mongodb | redis | timescale
	MaxRecords     int
	CommandTimeout time.Duration

	Postgres  config.DatabaseConfig
	Timescale config.TimescaleConfig
	SQLite    config.SQLiteConfig
	Mongo     config.MongoConfig
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database = config.DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     5432,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "udc"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.KeyPrefix = "udc"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "universal-data-connector")
	cfg.MQTT.LoadFromEnv("MQTT")

	// 存储
	cfg.Storage.Engine = strings.ToLower(getEnv("STORAGE_ENGINE", "memory"))
	cfg.Storage.MaxRecords = getEnvInt("STORAGE_MAX_RECORDS", 10000)
	cfg.Storage.CommandTimeout = getEnvDuration("STORAGE_COMMAND_TIMEOUT", 10*time.Second)
	cfg.Storage.Postgres = cfg.Database
	cfg.Storage.Timescale.DatabaseConfig = cfg.Database
	cfg.Storage.Timescale.LoadFromEnv("TIMESCALE")
	cfg.Storage.SQLite.Path = getEnv("SQLITE_PATH", "udc.db")
	cfg.Storage.SQLite.LoadFromEnv("SQLITE")
	cfg.Storage.Mongo = config.MongoConfig{
		URI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		Database:   getEnv("MONGO_DATABASE", "udc"),
		Collection: getEnv("MONGO_COLLECTION", "storage_records"),
	}
	cfg.Storage.Mongo.LoadFromEnv("MONGO")

	// 映射规则
	cfg.Mapping.RulesFile = getEnv("MAPPING_RULES_FILE", "")
	cfg.Mapping.RulesSource = strings.ToLower(getEnv("MAPPING_RULES_SOURCE", RulesSourceFile))

	// 采集
	cfg.Ingest.Stream = getEnv("INGEST_STREAM", "udc:ingest:stream")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "udc-group")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "udc-1")
	cfg.Ingest.BatchSize = int64(getEnvInt("INGEST_BATCH_SIZE", 10))
	cfg.Ingest.Block = getEnvDuration("INGEST_BLOCK", time.Second)
	cfg.Ingest.Topics = splitList(getEnv("MQTT_TOPICS", ""))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9090")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitList 逗号分隔列表，忽略空项
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
