package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// Adapter 存储适配器统一接口，所有引擎对外语义一致
type Adapter interface {
	Engine() string
	Initialize(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Store(ctx context.Context, rec *models.StorageRecord) (string, error)
	Query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error)
	GetLatest(ctx context.Context, limit int) ([]*models.StorageRecord, error)
	GetBySource(ctx context.Context, sourceID string, limit int) ([]*models.StorageRecord, error)
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*models.StorageRecord, error)
	Search(ctx context.Context, text string) ([]*models.StorageRecord, error)
	Clear(ctx context.Context) (int64, error)
	GetStats(ctx context.Context) (*models.StorageStats, error)
	HealthCheck(ctx context.Context) *models.HealthStatus
}

// engine 具体存储引擎需要实现的底层操作
type engine interface {
	name() string
	// initialize 校验配置、分配客户端/连接池，不做网络 IO
	initialize() error
	// connect 建立连接并幂等地创建表/索引
	connect(ctx context.Context) error
	disconnect(ctx context.Context) error
	insert(ctx context.Context, rec *models.StorageRecord) error
	// query 返回按 timestamp 倒序、不超过 limit 条的记录
	query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error)
	// search 返回候选记录，最终由 matchesText 过滤
	search(ctx context.Context, text string, limit int) ([]*models.StorageRecord, error)
	clear(ctx context.Context) (int64, error)
	storage(ctx context.Context) (map[string]any, error)
	ping(ctx context.Context) (map[string]any, error)
}

// Options 适配器公共选项
type Options struct {
	Logger  *zap.Logger
	Metrics *Metrics
	// ErrorHook 每次操作失败时调用
	ErrorHook ErrorHook
	// CommandTimeout 单次操作超时，<=0 表示只依赖调用方 ctx 和引擎自身超时
	CommandTimeout time.Duration
}

// StorageAdapter 通用适配器：计数、指标、错误包装和文本过滤，具体读写交给 engine
type StorageAdapter struct {
	engine  engine
	logger  *zap.Logger
	metrics *Metrics
	hook    ErrorHook
	timeout time.Duration
	now     func() time.Time

	initMu      sync.Mutex
	initialized bool
	connected   atomic.Bool

	writes atomic.Int64
	reads  atomic.Int64
	errs   atomic.Int64

	statMu      sync.Mutex
	lastError   string
	lastWriteAt *time.Time
}

func newStorageAdapter(e engine, opts Options) *StorageAdapter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorageAdapter{
		engine:  e,
		logger:  logger.With(zap.String("engine", e.name())),
		metrics: opts.Metrics,
		hook:    opts.ErrorHook,
		timeout: opts.CommandTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Engine 引擎名
func (a *StorageAdapter) Engine() string {
	return a.engine.name()
}

// Connected 是否已连接
func (a *StorageAdapter) Connected() bool {
	return a.connected.Load()
}

func (a *StorageAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// fail 记录错误（计数、指标、回调、日志）并返回包装后的 StorageError
func (a *StorageAdapter) fail(op string, err error) error {
	wrapped := &StorageError{Engine: a.engine.name(), Op: op, Err: err}

	a.errs.Add(1)
	a.statMu.Lock()
	a.lastError = wrapped.Error()
	a.statMu.Unlock()

	a.metrics.recordError(a.engine.name(), op)
	if a.hook != nil {
		a.hook(a.engine.name(), op, err)
	}
	a.logger.Error("Storage operation failed", zap.String("op", op), zap.Error(err))
	return wrapped
}

func (a *StorageAdapter) succeed(op string) {
	a.metrics.recordOperation(a.engine.name(), op)
}

func (a *StorageAdapter) requireConnected(op string) error {
	if !a.connected.Load() {
		return a.fail(op, models.ErrNotConnected)
	}
	return nil
}

// Initialize 校验配置并分配客户端，重复调用无副作用
func (a *StorageAdapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return nil
	}
	if err := a.engine.initialize(); err != nil {
		return a.fail("initialize", err)
	}
	a.initialized = true
	return nil
}

// Connect 建立连接并准备 schema
func (a *StorageAdapter) Connect(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.engine.connect(ctx); err != nil {
		return a.fail("connect", err)
	}
	a.connected.Store(true)
	a.succeed("connect")
	a.logger.Info("Storage connected")
	return nil
}

// Disconnect 断开连接
func (a *StorageAdapter) Disconnect(ctx context.Context) error {
	if !a.connected.Swap(false) {
		return nil
	}
	if err := a.engine.disconnect(ctx); err != nil {
		return a.fail("disconnect", err)
	}
	a.logger.Info("Storage disconnected")
	return nil
}

// Store 包装并写入记录，返回记录 id
// id 为空时生成 uuid；timestamp 为空时取当前时间；storedAt 总是由适配器赋值
func (a *StorageAdapter) Store(ctx context.Context, rec *models.StorageRecord) (string, error) {
	if rec == nil {
		return "", a.fail("store", models.NewValidationError("record", "is required"))
	}
	if err := a.requireConnected("store"); err != nil {
		return "", err
	}

	now := a.now()
	prepared := cloneRecord(rec)
	if prepared.ID == "" {
		prepared.ID = uuid.New().String()
	}
	if prepared.Timestamp.IsZero() {
		prepared.Timestamp = now
	}
	prepared.Timestamp = prepared.Timestamp.UTC()
	prepared.StoredAt = now

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.engine.insert(ctx, prepared); err != nil {
		return "", a.fail("store", err)
	}

	a.writes.Add(1)
	a.statMu.Lock()
	a.lastWriteAt = &now
	a.statMu.Unlock()
	a.succeed("store")
	return prepared.ID, nil
}

// Query 按条件查询，按观测时间倒序，默认最多 100 条
func (a *StorageAdapter) Query(ctx context.Context, opts models.QueryOptions) ([]*models.StorageRecord, error) {
	if err := a.requireConnected("query"); err != nil {
		return nil, err
	}
	opts.Limit = opts.EffectiveLimit()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	records, err := a.engine.query(ctx, opts)
	if err != nil {
		return nil, a.fail("query", err)
	}

	sortNewestFirst(records)
	if len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	a.reads.Add(1)
	a.succeed("query")
	return records, nil
}

// GetLatest 最新的 limit 条记录
func (a *StorageAdapter) GetLatest(ctx context.Context, limit int) ([]*models.StorageRecord, error) {
	return a.Query(ctx, models.QueryOptions{Limit: limit})
}

// GetBySource 指定来源的最新记录
func (a *StorageAdapter) GetBySource(ctx context.Context, sourceID string, limit int) ([]*models.StorageRecord, error) {
	return a.Query(ctx, models.QueryOptions{SourceID: sourceID, Limit: limit})
}

// GetByTimeRange 时间区间内的记录（含边界），使用默认 limit
func (a *StorageAdapter) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*models.StorageRecord, error) {
	return a.Query(ctx, models.QueryOptions{StartTime: start, EndTime: end})
}

// Search 文本搜索；匹配策略由引擎决定，返回结果保证包含 text
func (a *StorageAdapter) Search(ctx context.Context, text string) ([]*models.StorageRecord, error) {
	if err := a.requireConnected("search"); err != nil {
		return nil, err
	}
	if text == "" {
		return []*models.StorageRecord{}, nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	records, err := a.engine.search(ctx, text, models.DefaultQueryLimit)
	if err != nil {
		return nil, a.fail("search", err)
	}

	records = filterText(records, text)
	sortNewestFirst(records)
	a.reads.Add(1)
	a.succeed("search")
	return records, nil
}

// Clear 删除所有记录，返回删除条数
func (a *StorageAdapter) Clear(ctx context.Context) (int64, error) {
	if err := a.requireConnected("clear"); err != nil {
		return 0, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	n, err := a.engine.clear(ctx)
	if err != nil {
		return 0, a.fail("clear", err)
	}
	a.succeed("clear")
	a.logger.Info("Storage cleared", zap.Int64("removed", n))
	return n, nil
}

// GetStats 公共计数 + 引擎特定的 storage 块
func (a *StorageAdapter) GetStats(ctx context.Context) (*models.StorageStats, error) {
	stats := &models.StorageStats{
		Engine:      a.engine.name(),
		Connected:   a.connected.Load(),
		TotalWrites: a.writes.Load(),
		TotalReads:  a.reads.Load(),
		TotalErrors: a.errs.Load(),
	}
	a.statMu.Lock()
	stats.LastError = a.lastError
	if a.lastWriteAt != nil {
		t := *a.lastWriteAt
		stats.LastWriteAt = &t
	}
	a.statMu.Unlock()

	if !stats.Connected {
		return stats, nil
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	storage, err := a.engine.storage(ctx)
	if err != nil {
		return nil, a.fail("stats", err)
	}
	stats.Storage = storage
	return stats, nil
}

// HealthCheck 连通性检查
func (a *StorageAdapter) HealthCheck(ctx context.Context) *models.HealthStatus {
	status := &models.HealthStatus{
		Engine:    a.engine.name(),
		CheckedAt: a.now(),
	}
	if !a.connected.Load() {
		status.Status = models.HealthStatusDisconnected
		return status
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	details, err := a.engine.ping(ctx)
	status.Latency = time.Since(start)
	status.Details = details
	if err != nil {
		a.fail("health", err)
		status.Status = models.HealthStatusUnhealthy
		if status.Details == nil {
			status.Details = map[string]any{}
		}
		status.Details["error"] = err.Error()
		return status
	}
	status.Status = models.HealthStatusHealthy
	return status
}
