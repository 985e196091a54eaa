package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL/TimescaleDB 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
	// ConnectTimeout 建连超时，写入 DSN 的 connect_timeout
	ConnectTimeout time.Duration
	// StatementTimeout 单条语句超时，写入 DSN 的 statement_timeout
	StatementTimeout time.Duration
}

// TimescaleConfig TimescaleDB 配置（hypertable 分区/压缩/保留策略）
type TimescaleConfig struct {
	DatabaseConfig
	ChunkInterval time.Duration
	CompressAfter time.Duration
	RetainFor     time.Duration
}

// SQLiteConfig SQLite 配置
type SQLiteConfig struct {
	Path     string
	MaxConns int
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	Timeout     time.Duration
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		dsn += fmt.Sprintf(" connect_timeout=%d", secs)
	}
	if c.StatementTimeout > 0 {
		dsn += fmt.Sprintf(" statement_timeout=%d", c.StatementTimeout.Milliseconds())
	}
	return dsn
}

// LoadFromEnv 从环境变量加载配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Port)
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_DATABASE"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
	if maxConns := os.Getenv(prefix + "_MAX_CONNS"); maxConns != "" {
		fmt.Sscanf(maxConns, "%d", &c.MaxConns)
	}
	if maxIdle := os.Getenv(prefix + "_MAX_IDLE"); maxIdle != "" {
		fmt.Sscanf(maxIdle, "%d", &c.MaxIdle)
	}
	loadDuration(prefix+"_CONNECT_TIMEOUT", &c.ConnectTimeout)
	loadDuration(prefix+"_STATEMENT_TIMEOUT", &c.StatementTimeout)
}

// LoadFromEnv 从环境变量加载 TimescaleDB 配置
func (c *TimescaleConfig) LoadFromEnv(prefix string) {
	c.DatabaseConfig.LoadFromEnv(prefix)
	loadDuration(prefix+"_CHUNK_INTERVAL", &c.ChunkInterval)
	loadDuration(prefix+"_COMPRESS_AFTER", &c.CompressAfter)
	loadDuration(prefix+"_RETAIN_FOR", &c.RetainFor)
}

// LoadFromEnv 从环境变量加载 SQLite 配置
func (c *SQLiteConfig) LoadFromEnv(prefix string) {
	if path := os.Getenv(prefix + "_PATH"); path != "" {
		c.Path = path
	}
	if maxConns := os.Getenv(prefix + "_MAX_CONNS"); maxConns != "" {
		fmt.Sscanf(maxConns, "%d", &c.MaxConns)
	}
}

// LoadFromEnv 从环境变量加载 MongoDB 配置
func (c *MongoConfig) LoadFromEnv(prefix string) {
	if uri := os.Getenv(prefix + "_URI"); uri != "" {
		c.URI = uri
	}
	if database := os.Getenv(prefix + "_DATABASE"); database != "" {
		c.Database = database
	}
	if collection := os.Getenv(prefix + "_COLLECTION"); collection != "" {
		c.Collection = collection
	}
	if pool := os.Getenv(prefix + "_MAX_POOL_SIZE"); pool != "" {
		if n, err := strconv.ParseUint(pool, 10, 64); err == nil {
			c.MaxPoolSize = n
		}
	}
	loadDuration(prefix+"_TIMEOUT", &c.Timeout)
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		fmt.Sscanf(db, "%d", &c.DB)
	}
	if poolSize := os.Getenv(prefix + "_POOL_SIZE"); poolSize != "" {
		fmt.Sscanf(poolSize, "%d", &c.PoolSize)
	}
	if keyPrefix := os.Getenv(prefix + "_KEY_PREFIX"); keyPrefix != "" {
		c.KeyPrefix = keyPrefix
	}
	loadDuration(prefix+"_DIAL_TIMEOUT", &c.DialTimeout)
	loadDuration(prefix+"_READ_TIMEOUT", &c.ReadTimeout)
	loadDuration(prefix+"_WRITE_TIMEOUT", &c.WriteTimeout)
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		if n, err := strconv.Atoi(qos); err == nil && n >= 0 && n <= 2 {
			c.QoS = byte(n)
		}
	}
}

// Redacted 隐藏密码，用于日志输出
func (c *MongoConfig) Redacted() string {
	u, err := url.Parse(c.URI)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}

// loadDuration 解析 time.ParseDuration 格式（如 "5s"），非法值忽略
func loadDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
