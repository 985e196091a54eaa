package datamodel

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// SchemaVersion 规范导出格式版本
const SchemaVersion = "2.0"

// Model 规范数据模型：内存中的设备表 + 旧版关系
// 同一设备 key 上的读改写串行执行，不同 key 之间互不阻塞
type Model struct {
	mu    sync.RWMutex
	slots map[string]*deviceSlot
	seq   uint64

	relMu         sync.RWMutex
	relationships map[string]*models.Relationship

	metaMu   sync.Mutex
	metadata map[string]any
	created  time.Time
	updated  time.Time

	logger *zap.Logger
	now    func() time.Time
}

// deviceSlot 单个设备的锁 + 数据
type deviceSlot struct {
	mu     sync.Mutex
	order  uint64
	device *models.Device
}

// Stats 模型统计
type Stats struct {
	TotalDevices       int            `json:"totalDevices"`
	TotalMeasurements  int            `json:"totalMeasurements"`
	TotalRelationships int            `json:"totalRelationships"`
	DevicesByType      map[string]int `json:"devicesByType"`
	Created            time.Time      `json:"created"`
	Updated            time.Time      `json:"updated"`
}

// NewModel 创建规范数据模型
func NewModel(logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now().UTC()
	return &Model{
		slots:         make(map[string]*deviceSlot),
		relationships: make(map[string]*models.Relationship),
		metadata:      make(map[string]any),
		created:       now,
		updated:       now,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// touch 刷新模型 updated 时间戳（单调不减）并返回
func (m *Model) touch() time.Time {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	now := m.now()
	if now.Before(m.updated) {
		now = m.updated
	}
	m.updated = now
	return now
}

// withSlot 在设备锁内执行 fn；create 为 true 时不存在则创建
// 持有 m.mu 读锁期间才会持有 slot 锁，RemoveDevice 拿到写锁时不会有 slot 被占用
func (m *Model) withSlot(id string, create bool, fn func(s *deviceSlot)) bool {
	m.mu.RLock()
	if s, ok := m.slots[id]; ok {
		s.mu.Lock()
		fn(s)
		s.mu.Unlock()
		m.mu.RUnlock()
		return true
	}
	m.mu.RUnlock()

	if !create {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		m.seq++
		s = &deviceSlot{order: m.seq}
		m.slots[id] = s
	}
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
	return true
}

// AddDevice 新增或覆盖设备；缺少 id/type 时返回校验错误且不做任何修改
func (m *Model) AddDevice(device *models.Device) error {
	if device == nil {
		return models.NewValidationError("device", "is required")
	}
	if device.ID == "" {
		return models.NewValidationError("id", "is required")
	}
	if device.Type == "" {
		return models.NewValidationError("type", "is required")
	}

	stored := device.Clone()
	if stored.Measurements == nil {
		stored.Measurements = []models.Measurement{}
	}
	seen := make(map[string]bool, len(stored.Measurements))
	for i := range stored.Measurements {
		meas := &stored.Measurements[i]
		if meas.ID == "" {
			return models.NewValidationError("measurements", "measurement id is required")
		}
		if seen[meas.ID] {
			return models.NewValidationError("measurements", "duplicate measurement id "+meas.ID)
		}
		seen[meas.ID] = true
		meas.Normalize()
	}
	if stored.Metadata == nil {
		stored.Metadata = make(map[string]any)
	}

	stored.Metadata[models.MetadataTimestamp] = models.FormatTimestamp(m.touch())
	m.withSlot(stored.ID, true, func(s *deviceSlot) {
		s.device = stored
	})
	return nil
}

// GetDevice 获取设备副本
func (m *Model) GetDevice(id string) (*models.Device, bool) {
	var out *models.Device
	m.withSlot(id, false, func(s *deviceSlot) {
		out = s.device.Clone()
	})
	return out, out != nil
}

// HasDevice 设备是否存在
func (m *Model) HasDevice(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slots[id]
	return ok
}

// GetAllDevices 按首次加入顺序返回所有设备副本
func (m *Model) GetAllDevices() []*models.Device {
	return m.collect(func(*models.Device) bool { return true })
}

// GetDevicesByType 返回指定类型的设备副本
func (m *Model) GetDevicesByType(deviceType string) []*models.Device {
	return m.collect(func(d *models.Device) bool { return d.Type == deviceType })
}

func (m *Model) collect(keep func(*models.Device) bool) []*models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := make([]*deviceSlot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].order < slots[j].order })

	out := make([]*models.Device, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if keep(s.device) {
			out = append(out, s.device.Clone())
		}
		s.mu.Unlock()
	}
	return out
}

// RemoveDevice 删除设备，删除前存在时返回 true
func (m *Model) RemoveDevice(id string) bool {
	m.mu.Lock()
	_, ok := m.slots[id]
	delete(m.slots, id)
	m.mu.Unlock()

	if ok {
		m.touch()
	}
	return ok
}

// UpdateMeasurements 按测量 id 合并：已存在的原位更新（保持顺序），新的按输入顺序追加
// 设备不存在时记录日志并返回 false，不会自动创建
func (m *Model) UpdateMeasurements(deviceID string, measurements []models.Measurement) bool {
	updated := m.withSlot(deviceID, false, func(s *deviceSlot) {
		device := s.device
		for _, in := range measurements {
			if in.ID == "" {
				m.logger.Warn("Skipping measurement without id", zap.String("device_id", deviceID))
				continue
			}
			in.Value = models.CloneValue(in.Value)
			in.Metadata = models.CloneMap(in.Metadata)

			existing, found := device.Measurement(in.ID)
			if !found {
				in.Normalize()
				device.Measurements = append(device.Measurements, in)
				continue
			}

			if in.Value != nil {
				existing.Value = in.Value
			}
			if in.Type != "" {
				existing.Type = in.Type
			} else {
				existing.Type = models.InferType(existing.Value)
			}
			if len(in.Metadata) > 0 {
				if existing.Metadata == nil {
					existing.Metadata = make(map[string]any, len(in.Metadata))
				}
				for k, v := range in.Metadata {
					existing.Metadata[k] = v
				}
			}
		}
		if device.Metadata == nil {
			device.Metadata = make(map[string]any)
		}
		device.Metadata[models.MetadataTimestamp] = models.FormatTimestamp(m.touch())
	})

	if !updated {
		m.logger.Warn("Cannot update measurements of unknown device", zap.String("device_id", deviceID))
	}
	return updated
}

// Clear 清空设备和关系，返回删除的设备数
func (m *Model) Clear() int {
	m.mu.Lock()
	n := len(m.slots)
	m.slots = make(map[string]*deviceSlot)
	m.mu.Unlock()

	m.relMu.Lock()
	m.relationships = make(map[string]*models.Relationship)
	m.relMu.Unlock()

	m.touch()
	return n
}

// Metadata 模型级 metadata（含 created/updated）
func (m *Model) Metadata() map[string]any {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	out := models.CloneMap(m.metadata)
	out["created"] = models.FormatTimestamp(m.created)
	out["updated"] = models.FormatTimestamp(m.updated)
	return out
}

// mergeMetadata 合并导入文档的 metadata；created/updated 由模型维护
func (m *Model) mergeMetadata(meta map[string]any) {
	if len(meta) == 0 {
		return
	}
	m.metaMu.Lock()
	for k, v := range meta {
		if k == "created" || k == "updated" {
			continue
		}
		m.metadata[k] = models.CloneValue(v)
	}
	m.metaMu.Unlock()
	m.touch()
}

// GetStats 模型统计
func (m *Model) GetStats() Stats {
	stats := Stats{DevicesByType: make(map[string]int)}

	m.mu.RLock()
	for _, s := range m.slots {
		s.mu.Lock()
		stats.TotalDevices++
		stats.TotalMeasurements += len(s.device.Measurements)
		stats.DevicesByType[s.device.Type]++
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	m.relMu.RLock()
	stats.TotalRelationships = len(m.relationships)
	m.relMu.RUnlock()

	m.metaMu.Lock()
	stats.Created = m.created
	stats.Updated = m.updated
	m.metaMu.Unlock()
	return stats
}
