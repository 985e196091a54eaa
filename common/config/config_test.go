package config

import (
	"strings"
	"testing"
	"time"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "udc",
		Password: "secret",
		Database: "telemetry",
		SSLMode:  "disable",
	}

	want := "host=db port=5432 user=udc password=secret dbname=telemetry sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("Expected DSN %q, got %q", want, got)
	}

	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.StatementTimeout = 2 * time.Second
	got := cfg.GetDSN()
	if !strings.Contains(got, "connect_timeout=1") {
		t.Errorf("Expected connect_timeout rounded up to 1s, got %q", got)
	}
	if !strings.Contains(got, "statement_timeout=2000") {
		t.Errorf("Expected statement_timeout in ms, got %q", got)
	}
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TS_HOST", "ts-host")
	t.Setenv("TS_PORT", "6543")
	t.Setenv("TS_MAX_CONNS", "25")
	t.Setenv("TS_STATEMENT_TIMEOUT", "3s")
	t.Setenv("TS_CHUNK_INTERVAL", "24h")
	t.Setenv("TS_RETAIN_FOR", "not-a-duration")

	cfg := TimescaleConfig{RetainFor: time.Hour}
	cfg.LoadFromEnv("TS")

	if cfg.Host != "ts-host" || cfg.Port != 6543 {
		t.Errorf("Expected ts-host:6543, got %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.MaxConns != 25 {
		t.Errorf("Expected MaxConns 25, got %d", cfg.MaxConns)
	}
	if cfg.StatementTimeout != 3*time.Second {
		t.Errorf("Expected StatementTimeout 3s, got %v", cfg.StatementTimeout)
	}
	if cfg.ChunkInterval != 24*time.Hour {
		t.Errorf("Expected ChunkInterval 24h, got %v", cfg.ChunkInterval)
	}
	if cfg.RetainFor != time.Hour {
		t.Errorf("Expected invalid RetainFor to be ignored, got %v", cfg.RetainFor)
	}
}

func TestRedisAndMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_POOL_SIZE", "32")
	t.Setenv("REDIS_KEY_PREFIX", "udc-test")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	var redisCfg RedisConfig
	redisCfg.LoadFromEnv("REDIS")
	if redisCfg.Addr != "cache:6380" || redisCfg.PoolSize != 32 || redisCfg.KeyPrefix != "udc-test" {
		t.Errorf("Unexpected redis config: %+v", redisCfg)
	}

	var mqttCfg MQTTConfig
	mqttCfg.LoadFromEnv("MQTT")
	if mqttCfg.Broker != "tcp://broker:1883" || mqttCfg.QoS != 1 {
		t.Errorf("Unexpected mqtt config: %+v", mqttCfg)
	}
}

func TestMongoConfig_Redacted(t *testing.T) {
	cfg := MongoConfig{URI: "mongodb://user:pw@mongo:27017/?authSource=admin"}
	if got := cfg.Redacted(); strings.Contains(got, "pw") {
		t.Errorf("Expected password to be redacted, got %q", got)
	}
}
