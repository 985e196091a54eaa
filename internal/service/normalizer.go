package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/datamodel"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/repository"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

// NormalizerService 连接器核心：协议映射 -> 规范模型 -> 存储
type NormalizerService struct {
	logger   *zap.Logger
	registry *transformer.Registry
	model    *datamodel.Model
	// storage 为 nil 时只维护内存模型
	storage repository.Adapter
	now     func() time.Time
}

// NewNormalizerService 创建核心服务
func NewNormalizerService(registry *transformer.Registry, model *datamodel.Model, storage repository.Adapter, logger *zap.Logger) *NormalizerService {
	return &NormalizerService{
		logger:   logger,
		registry: registry,
		model:    model,
		storage:  storage,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Model 规范数据模型
func (s *NormalizerService) Model() *datamodel.Model {
	return s.model
}

// Storage 存储适配器，可能为 nil
func (s *NormalizerService) Storage() repository.Adapter {
	return s.storage
}

// Start 连接存储
func (s *NormalizerService) Start(ctx context.Context) error {
	if s.storage == nil {
		s.logger.Info("Normalizer started without storage")
		return nil
	}
	if err := s.storage.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect storage: %w", err)
	}
	s.logger.Info("Normalizer started", zap.String("engine", s.storage.Engine()))
	return nil
}

// Stop 断开存储
func (s *NormalizerService) Stop(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect storage: %w", err)
	}
	s.logger.Info("Normalizer stopped")
	return nil
}

// ListDevices 全部设备（插入顺序）
func (s *NormalizerService) ListDevices() []*models.Device {
	return s.model.GetAllDevices()
}

// GetDevice 按 id 获取设备，不存在时返回 false
func (s *NormalizerService) GetDevice(id string) (*models.Device, bool) {
	return s.model.GetDevice(id)
}

// GetDevicesByType 按类型获取设备
func (s *NormalizerService) GetDevicesByType(deviceType string) []*models.Device {
	return s.model.GetDevicesByType(deviceType)
}

// ExportCanonicalJSON 规范 JSON 导出
func (s *NormalizerService) ExportCanonicalJSON(opts datamodel.ExportOptions) ([]byte, error) {
	return s.model.ToJSON(opts)
}

// ExportLinkedData NGSI-LD 导出
func (s *NormalizerService) ExportLinkedData(opts datamodel.LinkedDataOptions) ([]byte, error) {
	return s.model.ToNGSILD(opts)
}

// ExportCompactFormat 紧凑格式导出
func (s *NormalizerService) ExportCompactFormat(opts datamodel.ExportOptions) ([]byte, error) {
	return s.model.ToTOON(opts)
}

// ExportSpreadsheet xlsx 导出
func (s *NormalizerService) ExportSpreadsheet(w io.Writer) error {
	return s.model.ToXLSX(w)
}

// MappingStatistics 映射统计
type MappingStatistics struct {
	Protocols         []transformer.MapperStats `json:"protocols"`
	TotalPayloads     int64                     `json:"totalPayloads"`
	TotalInvalid      int64                     `json:"totalInvalid"`
	TotalDevices      int64                     `json:"totalDevices"`
	TotalMeasurements int64                     `json:"totalMeasurements"`
	TransformFailures int64                     `json:"transformFailures"`
	Model             datamodel.Stats           `json:"model"`
}

// GetMappingStatistics 各协议映射器计数 + 模型统计
func (s *NormalizerService) GetMappingStatistics() MappingStatistics {
	stats := MappingStatistics{
		Protocols: s.registry.Stats(),
		Model:     s.model.GetStats(),
	}
	for _, p := range stats.Protocols {
		stats.TotalPayloads += p.Payloads
		stats.TotalInvalid += p.Invalid
		stats.TotalDevices += p.Devices
		stats.TotalMeasurements += p.Measurements
		stats.TransformFailures += p.TransformFailures
	}
	return stats
}

// ClearResult ClearAll 的清理数量
type ClearResult struct {
	Devices    int   `json:"devices"`
	Discovered int   `json:"discovered"`
	Records    int64 `json:"records"`
}

// ClearAll 清空规范模型、发现缓存和存储
func (s *NormalizerService) ClearAll(ctx context.Context) (ClearResult, error) {
	result := ClearResult{
		Devices:    s.model.Clear(),
		Discovered: s.registry.ClearDiscovery(),
	}
	if s.storage != nil {
		n, err := s.storage.Clear(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to clear storage: %w", err)
		}
		result.Records = n
	}
	s.logger.Info("Cleared all data",
		zap.Int("devices", result.Devices),
		zap.Int("discovered", result.Discovered),
		zap.Int64("records", result.Records),
	)
	return result, nil
}

// Restore 按时间顺序回放存储中最近 limit 条记录重建规范模型，返回回放的记录数
// 无法转换为设备的记录跳过
func (s *NormalizerService) Restore(ctx context.Context, limit int) (int, error) {
	if s.storage == nil {
		return 0, nil
	}
	records, err := s.storage.GetLatest(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load records: %w", err)
	}

	replayed := 0
	for i := len(records) - 1; i >= 0; i-- {
		device, err := datamodel.DeviceFromMap(records[i].Data)
		if err == nil {
			_, err = s.upsert(device)
		}
		if err != nil {
			s.logger.Warn("Skipping stored record", zap.String("record_id", records[i].ID), zap.Error(err))
			continue
		}
		replayed++
	}
	s.logger.Info("Restored model from storage",
		zap.Int("records", replayed),
		zap.Int("devices", s.model.GetStats().TotalDevices),
	)
	return replayed, nil
}

// Discover 生成设备描述并写入对应映射器的发现缓存
func (s *NormalizerService) Discover(protocol transformer.Protocol, sourceData any, mctx transformer.MapContext) ([]transformer.DeviceDescription, error) {
	mapper, ok := s.registry.Get(protocol)
	if !ok {
		return nil, models.NewValidationError("protocol", fmt.Sprintf("unsupported protocol %q", protocol))
	}
	return mapper.Discover(sourceData, mctx), nil
}

// DiscoveredDevices 映射器发现缓存内容
func (s *NormalizerService) DiscoveredDevices(protocol transformer.Protocol) []transformer.DeviceDescription {
	mapper, ok := s.registry.Get(protocol)
	if !ok {
		return nil
	}
	return mapper.Discovery().List()
}

// IngestResult 一次采集的结果
type IngestResult struct {
	Devices    []string `json:"devices"`
	Registered int      `json:"registered"`
	Updated    int      `json:"updated"`
	Records    []string `json:"records,omitempty"`
}

// Ingest 映射源载荷，新设备注册、已有设备合并测量值，并为每个设备写一条存储记录
// 映射层的降级只表现为更少的设备；存储失败会返回错误
func (s *NormalizerService) Ingest(ctx context.Context, protocol transformer.Protocol, sourceData any, mctx transformer.MapContext) (*IngestResult, error) {
	mapper, ok := s.registry.Get(protocol)
	if !ok {
		return nil, models.NewValidationError("protocol", fmt.Sprintf("unsupported protocol %q", protocol))
	}

	result := &IngestResult{Devices: []string{}}
	devices := mapper.Map(sourceData, mctx)
	if len(devices) == 0 {
		s.logger.Debug("Payload produced no devices", zap.String("protocol", string(protocol)))
		return result, nil
	}

	var storeErrs []error
	for _, device := range devices {
		registered, err := s.upsert(device)
		if err != nil {
			s.logger.Warn("Skipping mapped device",
				zap.String("protocol", string(protocol)),
				zap.String("device_id", device.ID),
				zap.Error(err),
			)
			continue
		}
		result.Devices = append(result.Devices, device.ID)
		if registered {
			result.Registered++
		} else {
			result.Updated++
		}

		if s.storage == nil {
			continue
		}
		id, err := s.storage.Store(ctx, s.storageRecord(protocol, device, mctx, registered))
		if err != nil {
			storeErrs = append(storeErrs, fmt.Errorf("device %s: %w", device.ID, err))
			continue
		}
		result.Records = append(result.Records, id)
	}

	if len(storeErrs) > 0 {
		return result, fmt.Errorf("failed to store mapped devices: %w", errors.Join(storeErrs...))
	}
	return result, nil
}

// upsert 设备不存在时注册，存在时按 id 合并测量值
func (s *NormalizerService) upsert(device *models.Device) (bool, error) {
	if s.model.UpdateMeasurements(device.ID, device.Measurements) {
		return false, nil
	}
	if err := s.model.AddDevice(device); err != nil {
		// 并发采集时设备可能刚被注册
		if s.model.UpdateMeasurements(device.ID, device.Measurements) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *NormalizerService) storageRecord(protocol transformer.Protocol, device *models.Device, mctx transformer.MapContext, registered bool) *models.StorageRecord {
	metadata := models.CloneMap(device.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	for key, value := range map[string]string{
		"topic":    mctx.Topic,
		"endpoint": mctx.Endpoint,
		"host":     mctx.Host,
		"unitId":   mctx.UnitID,
		"sourceId": mctx.SourceID,
	} {
		if value != "" {
			metadata[key] = value
		}
	}

	typed := 0
	for _, m := range device.Measurements {
		if m.Type != "" && m.Type != models.MeasurementTypeUnknown {
			typed++
		}
	}

	return &models.StorageRecord{
		SourceID:   device.ID,
		SourceType: device.Type,
		Timestamp:  observedAt(device, mctx),
		Data:       deviceData(device),
		Metadata:   metadata,
		Quality: map[string]any{
			"measurements": len(device.Measurements),
			"typed":        typed,
			"complete":     typed == len(device.Measurements),
		},
		Processing: map[string]any{
			"protocol":   string(protocol),
			"mappedAt":   models.FormatTimestamp(s.now()),
			"registered": registered,
		},
	}
}

// observedAt 记录的观测时间：载荷时间 > 调用方提示 > 设备时间戳，都没有时由适配器取当前时间
func observedAt(device *models.Device, mctx transformer.MapContext) time.Time {
	if ts := models.ParseTimestamp(device.Metadata["observedAt"]); !ts.IsZero() {
		return ts
	}
	if !mctx.Timestamp.IsZero() {
		return mctx.Timestamp
	}
	return device.Timestamp()
}

// deviceData 设备转成纯 JSON 形状，保证所有引擎都能序列化
func deviceData(device *models.Device) map[string]any {
	measurements := make([]any, 0, len(device.Measurements))
	for _, m := range device.Measurements {
		entry := map[string]any{
			"id":    m.ID,
			"type":  string(m.Type),
			"value": models.CloneValue(m.Value),
		}
		if len(m.Metadata) > 0 {
			entry["metadata"] = models.CloneMap(m.Metadata)
		}
		measurements = append(measurements, entry)
	}
	return map[string]any{
		"id":           device.ID,
		"type":         device.Type,
		"measurements": measurements,
	}
}
