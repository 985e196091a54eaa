package transformer

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// MapperStats 单个映射器的统计
type MapperStats struct {
	Protocol          Protocol `json:"protocol"`
	Payloads          int64    `json:"payloads"`
	Invalid           int64    `json:"invalid"`
	Devices           int64    `json:"devices"`
	Measurements      int64    `json:"measurements"`
	TransformFailures int64    `json:"transformFailures"`
	Discovered        int      `json:"discovered"`
}

// ProtocolMapper 按协议标签分派的映射器
// 除发现缓存（内部加锁）外没有可变共享状态，同一实例可被并发调用
type ProtocolMapper struct {
	protocol  Protocol
	rules     RuleSet
	engine    *RuleEngine
	discovery *DiscoveryCache
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	payloads     atomic.Int64
	invalid      atomic.Int64
	devices      atomic.Int64
	measurements atomic.Int64
}

var _ Mapper = (*ProtocolMapper)(nil)

// NewProtocolMapper 创建协议映射器
func NewProtocolMapper(protocol Protocol, rules RuleSet, logger *zap.Logger, metrics *Metrics) (*ProtocolMapper, error) {
	switch protocol {
	case ProtocolOPCUA, ProtocolModbus, ProtocolMQTT, ProtocolAAS, ProtocolGeneric:
	default:
		return nil, fmt.Errorf("unsupported protocol: %q", protocol)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules == nil {
		rules = RuleSet{}
	}
	logger = logger.With(zap.String("protocol", string(protocol)))
	return &ProtocolMapper{
		protocol:  protocol,
		rules:     rules,
		engine:    NewRuleEngine(protocol, logger, metrics),
		discovery: NewDiscoveryCache(),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Protocol 映射器协议标签
func (m *ProtocolMapper) Protocol() Protocol {
	return m.protocol
}

// Discovery 映射器自己的发现缓存
func (m *ProtocolMapper) Discovery() *DiscoveryCache {
	return m.discovery
}

// Validate 校验源载荷结构；失败不是错误，只会得到空的映射结果
func (m *ProtocolMapper) Validate(sourceData any) bool {
	if sourceData == nil {
		return false
	}
	switch m.protocol {
	case ProtocolOPCUA, ProtocolModbus, ProtocolGeneric:
		_, ok := sourceData.(map[string]any)
		return ok
	case ProtocolMQTT:
		switch v := sourceData.(type) {
		case string:
			return v != ""
		case []byte:
			return len(v) > 0
		}
		return true
	case ProtocolAAS:
		src, ok := sourceData.(map[string]any)
		if !ok {
			return false
		}
		_, ok = src["submodels"].([]any)
		return ok
	}
	return false
}

// Map 将源载荷映射为零个或多个规范设备，不会因为坏数据而报错
func (m *ProtocolMapper) Map(sourceData any, mctx MapContext) []*models.Device {
	m.payloads.Add(1)
	if !m.Validate(sourceData) {
		m.invalid.Add(1)
		m.metrics.recordPayload(m.protocol, "invalid")
		m.logger.Debug("Source payload failed validation", zap.String("source_type", fmt.Sprintf("%T", sourceData)))
		return nil
	}

	devices := m.mapPayload(sourceData, mctx)
	if len(devices) == 0 {
		m.metrics.recordPayload(m.protocol, "empty")
		return nil
	}

	m.metrics.recordPayload(m.protocol, "mapped")
	m.devices.Add(int64(len(devices)))
	for _, d := range devices {
		m.measurements.Add(int64(len(d.Measurements)))
	}
	return devices
}

// Discover 生成设备结构描述并写入本映射器的发现缓存，不修改规范模型
func (m *ProtocolMapper) Discover(sourceData any, mctx MapContext) []DeviceDescription {
	if !m.Validate(sourceData) {
		return nil
	}

	devices := m.mapPayload(sourceData, mctx)
	out := make([]DeviceDescription, 0, len(devices))
	for _, d := range devices {
		desc := DeviceDescription{
			DeviceID:     d.ID,
			DeviceType:   d.Type,
			Protocol:     m.protocol,
			Metadata:     models.CloneMap(d.Metadata),
			DiscoveredAt: m.now().UTC(),
		}
		for _, meas := range d.Measurements {
			desc.Measurements = append(desc.Measurements, MeasurementDescription{
				ID:       meas.ID,
				Type:     meas.Type,
				Metadata: models.CloneMap(meas.Metadata),
			})
		}
		m.discovery.Put(desc)
		out = append(out, desc)
	}
	return out
}

// Stats 映射器统计
func (m *ProtocolMapper) Stats() MapperStats {
	return MapperStats{
		Protocol:          m.protocol,
		Payloads:          m.payloads.Load(),
		Invalid:           m.invalid.Load(),
		Devices:           m.devices.Load(),
		Measurements:      m.measurements.Load(),
		TransformFailures: m.engine.Failures(),
		Discovered:        m.discovery.Len(),
	}
}

// mapPayload 按协议标签分派
func (m *ProtocolMapper) mapPayload(sourceData any, mctx MapContext) (devices []*models.Device) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Mapping aborted on malformed payload", zap.Any("panic", r))
			devices = nil
		}
	}()

	switch m.protocol {
	case ProtocolOPCUA:
		return m.mapOPCUA(sourceData.(map[string]any), mctx)
	case ProtocolModbus:
		return m.mapModbus(sourceData.(map[string]any), mctx)
	case ProtocolMQTT:
		return m.mapMQTT(sourceData, mctx)
	case ProtocolAAS:
		return m.mapAAS(sourceData.(map[string]any), mctx)
	case ProtocolGeneric:
		return m.mapGeneric(sourceData.(map[string]any), mctx)
	}
	return nil
}

// attribute 按候选键查找规则并应用；返回测量 id、值以及是否执行了值变换
func (m *ProtocolMapper) attribute(defaultID string, value any, keys ...string) (string, any, bool) {
	for _, key := range keys {
		rule, ok := m.rules[key]
		if !ok {
			continue
		}
		res := m.engine.applyRule(key, value, rule)
		id := defaultID
		if rule.TargetName != "" {
			id = rule.TargetName
		}
		return id, res.Value, rule.Transform != nil
	}
	return defaultID, value, false
}

// addMeasurement 追加测量；id 已被占用时依次尝试 <id>_2、<id>_3 ...
func (m *ProtocolMapper) addMeasurement(device *models.Device, meas models.Measurement) {
	if _, taken := device.Measurement(meas.ID); taken {
		base := meas.ID
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", base, n)
			if _, taken := device.Measurement(candidate); !taken {
				meas.ID = candidate
				break
			}
		}
		m.logger.Debug("Measurement id collision renamed",
			zap.String("device_id", device.ID),
			zap.String("id", base),
			zap.String("renamed", meas.ID),
		)
	}
	device.Measurements = append(device.Measurements, meas)
}

// newDevice 构造设备骨架，metadata 带上来源协议
func (m *ProtocolMapper) newDevice(id, deviceType string, mctx MapContext) *models.Device {
	d := &models.Device{
		ID:           id,
		Type:         deviceType,
		Measurements: []models.Measurement{},
		Metadata: map[string]any{
			"source":   string(m.protocol),
			"protocol": string(m.protocol),
		},
	}
	if !mctx.Timestamp.IsZero() {
		d.Metadata["observedAt"] = models.FormatTimestamp(mctx.Timestamp)
	}
	return d
}

// opaqueID 协议未提供自然 id 时生成的标识
// 格式 <protocol>_<unix 毫秒>_<随机后缀>，不可复现
func (m *ProtocolMapper) opaqueID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", m.protocol, m.now().UnixMilli(), suffix)
}

// sanitizeID 非字母数字字符替换为 '_' 并转小写
func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry 每个协议一个映射器
type Registry struct {
	mappers map[Protocol]*ProtocolMapper
}

// NewRegistry 按规则配置创建全部协议的映射器，"*" 规则作为各协议的默认规则
func NewRegistry(rules map[Protocol]RuleSet, logger *zap.Logger, metrics *Metrics) (*Registry, error) {
	r := &Registry{mappers: make(map[Protocol]*ProtocolMapper, len(Protocols))}
	for _, p := range Protocols {
		mapper, err := NewProtocolMapper(p, rules[ProtocolAny].Merge(rules[p]), logger, metrics)
		if err != nil {
			return nil, err
		}
		r.mappers[p] = mapper
	}
	return r, nil
}

// Get 获取协议映射器
func (r *Registry) Get(p Protocol) (*ProtocolMapper, bool) {
	m, ok := r.mappers[p]
	return m, ok
}

// Stats 所有映射器的统计（按 Protocols 顺序）
func (r *Registry) Stats() []MapperStats {
	out := make([]MapperStats, 0, len(r.mappers))
	for _, p := range Protocols {
		if m, ok := r.mappers[p]; ok {
			out = append(out, m.Stats())
		}
	}
	return out
}

// ClearDiscovery 清空所有映射器的发现缓存
func (r *Registry) ClearDiscovery() int {
	n := 0
	for _, m := range r.mappers {
		n += m.discovery.Clear()
	}
	return n
}
