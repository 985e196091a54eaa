package models

import (
	"encoding/json"
	"math"
	"reflect"
	"time"
)

// MeasurementType 规范测量值类型
type MeasurementType string

const (
	MeasurementTypeBool    MeasurementType = "bool"
	MeasurementTypeString  MeasurementType = "string"
	MeasurementTypeInt     MeasurementType = "int"
	MeasurementTypeFloat   MeasurementType = "float"
	MeasurementTypeObject  MeasurementType = "object"
	MeasurementTypeUnknown MeasurementType = "unknown"
)

// MetadataTimestamp 设备 metadata 中的时间戳字段
const MetadataTimestamp = "timestamp"

// Measurement 设备下的一个命名、带类型的测量值
type Measurement struct {
	ID       string          `json:"id"`
	Type     MeasurementType `json:"type,omitempty"`
	Value    any             `json:"value"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// Device 规范设备（主实体）
type Device struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Measurements []Measurement  `json:"measurements"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// InferType 根据值推断测量类型
// 推断只依赖值本身：bool -> bool, string -> string, 整数 -> int, 其它数字 -> float,
// 结构化值 -> object, nil -> unknown
func InferType(v any) MeasurementType {
	switch val := v.(type) {
	case nil:
		return MeasurementTypeUnknown
	case bool:
		return MeasurementTypeBool
	case string:
		return MeasurementTypeString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return MeasurementTypeInt
	case float32:
		return inferFloat(float64(val))
	case float64:
		return inferFloat(val)
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return MeasurementTypeInt
		}
		if f, err := val.Float64(); err == nil {
			return inferFloat(f)
		}
		return MeasurementTypeString
	case map[string]any, []any:
		return MeasurementTypeObject
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return MeasurementTypeObject
	case reflect.Pointer:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return MeasurementTypeUnknown
		}
		return InferType(rv.Elem().Interface())
	}
	return MeasurementTypeUnknown
}

func inferFloat(f float64) MeasurementType {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return MeasurementTypeFloat
	}
	if f == math.Trunc(f) {
		return MeasurementTypeInt
	}
	return MeasurementTypeFloat
}

// Normalize 补全缺失的测量类型
func (m *Measurement) Normalize() {
	if m.Type == "" {
		m.Type = InferType(m.Value)
	}
}

// Clone 深拷贝设备，模型对外只暴露副本
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	out := &Device{
		ID:       d.ID,
		Type:     d.Type,
		Metadata: CloneMap(d.Metadata),
	}
	out.Measurements = make([]Measurement, len(d.Measurements))
	for i, m := range d.Measurements {
		out.Measurements[i] = Measurement{
			ID:       m.ID,
			Type:     m.Type,
			Value:    CloneValue(m.Value),
			Metadata: CloneMap(m.Metadata),
		}
	}
	return out
}

// Measurement 按 id 查找测量值
func (d *Device) Measurement(id string) (*Measurement, bool) {
	for i := range d.Measurements {
		if d.Measurements[i].ID == id {
			return &d.Measurements[i], true
		}
	}
	return nil, false
}

// Timestamp 返回 metadata.timestamp（不存在时为零值）
func (d *Device) Timestamp() time.Time {
	return ParseTimestamp(d.Metadata[MetadataTimestamp])
}

// ParseTimestamp 解析 RFC3339 字符串、time.Time 或毫秒时间戳
func ParseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case int:
		return time.UnixMilli(int64(t)).UTC()
	case json.Number:
		if ms, err := t.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}

// FormatTimestamp 统一的时间戳序列化格式
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CloneMap 深拷贝 map[string]any
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue 深拷贝 JSON 形状的值
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}
