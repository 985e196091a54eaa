package repository

import (
	"context"
	"sync"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EngineMemory 内存引擎名
const EngineMemory = "memory"

// DefaultMaxRecords 内存/Redis 引擎默认容量
const DefaultMaxRecords = 10000

// memoryEngine 进程内临时存储，超过容量按插入顺序淘汰最旧记录
type memoryEngine struct {
	mu         sync.RWMutex
	maxRecords int
	records    []*models.StorageRecord
	evicted    int64
}

// NewMemoryAdapter 创建内存存储适配器
func NewMemoryAdapter(maxRecords int, opts Options) *StorageAdapter {
	return newStorageAdapter(&memoryEngine{maxRecords: maxRecords}, opts)
}

func (e *memoryEngine) name() string { return EngineMemory }

func (e *memoryEngine) initialize() error {
	if e.maxRecords <= 0 {
		return models.NewValidationError("maxRecords", "must be positive")
	}
	return nil
}

func (e *memoryEngine) connect(context.Context) error    { return nil }
func (e *memoryEngine) disconnect(context.Context) error { return nil }

func (e *memoryEngine) insert(_ context.Context, rec *models.StorageRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = append(e.records, cloneRecord(rec))
	if over := len(e.records) - e.maxRecords; over > 0 {
		kept := make([]*models.StorageRecord, e.maxRecords)
		copy(kept, e.records[over:])
		e.records = kept
		e.evicted += int64(over)
	}
	return nil
}

// scan 从最新插入往前遍历，时间相同时后插入的排在前面
func (e *memoryEngine) scan(keep func(*models.StorageRecord) bool) []*models.StorageRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.StorageRecord, 0)
	for i := len(e.records) - 1; i >= 0; i-- {
		if keep(e.records[i]) {
			out = append(out, cloneRecord(e.records[i]))
		}
	}
	sortNewestFirst(out)
	return out
}

func (e *memoryEngine) query(_ context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error) {
	out := e.scan(opts.Matches)
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (e *memoryEngine) search(_ context.Context, text string, _ int) ([]*models.StorageRecord, error) {
	return e.scan(func(r *models.StorageRecord) bool { return matchesText(r, text) }), nil
}

func (e *memoryEngine) clear(context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := int64(len(e.records))
	e.records = nil
	return n, nil
}

func (e *memoryEngine) storage(context.Context) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]any{
		"records":    len(e.records),
		"maxRecords": e.maxRecords,
		"evicted":    e.evicted,
	}, nil
}

func (e *memoryEngine) ping(context.Context) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]any{"records": len(e.records)}, nil
}
