package models

import "time"

// DefaultQueryLimit 查询默认返回条数
const DefaultQueryLimit = 100

// StorageRecord 存储单元
// Timestamp 是载荷中的观测时间；StoredAt 由适配器在写入时赋值，两者相互独立
type StorageRecord struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"sourceId"`
	SourceType string         `json:"sourceType"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       any            `json:"data"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Quality    map[string]any `json:"quality,omitempty"`
	Processing map[string]any `json:"processing,omitempty"`
	StoredAt   time.Time      `json:"storedAt"`
}

// QueryOptions 简单过滤 + limit 查询条件，零值字段表示不过滤
type QueryOptions struct {
	SourceID  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// EffectiveLimit 返回生效的 limit（<=0 时取默认值）
func (o QueryOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultQueryLimit
	}
	return o.Limit
}

// Matches 判断记录是否满足过滤条件
func (o QueryOptions) Matches(r *StorageRecord) bool {
	if o.SourceID != "" && r.SourceID != o.SourceID {
		return false
	}
	if !o.StartTime.IsZero() && r.Timestamp.Before(o.StartTime) {
		return false
	}
	if !o.EndTime.IsZero() && r.Timestamp.After(o.EndTime) {
		return false
	}
	return true
}

// StorageStats 通用计数 + 引擎特定的 storage 块
type StorageStats struct {
	Engine      string         `json:"engine"`
	Connected   bool           `json:"connected"`
	TotalWrites int64          `json:"totalWrites"`
	TotalReads  int64          `json:"totalReads"`
	TotalErrors int64          `json:"totalErrors"`
	LastError   string         `json:"lastError,omitempty"`
	LastWriteAt *time.Time     `json:"lastWriteAt,omitempty"`
	Storage     map[string]any `json:"storage,omitempty"`
}

// Health 状态
const (
	HealthStatusHealthy      = "healthy"
	HealthStatusUnhealthy    = "unhealthy"
	HealthStatusDisconnected = "disconnected"
)

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status    string         `json:"status"`
	Engine    string         `json:"engine"`
	Latency   time.Duration  `json:"latency"`
	CheckedAt time.Time      `json:"checkedAt"`
	Details   map[string]any `json:"details,omitempty"`
}
