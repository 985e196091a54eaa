package datamodel

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// importShape 导入载荷的形状，只判定一次，互斥
type importShape int

const (
	shapeUnknown importShape = iota
	shapeSequence
	shapeDocument
	shapeDevice
)

func (s importShape) String() string {
	switch s {
	case shapeSequence:
		return "sequence"
	case shapeDocument:
		return "document"
	case shapeDevice:
		return "device"
	}
	return "unknown"
}

// classifyImport 判定导入形状：设备数组 / 带 devices 的文档 / 单个设备
// 同时带 devices 和 id/type 的对象按文档处理
func classifyImport(payload any) importShape {
	switch v := payload.(type) {
	case []any:
		return shapeSequence
	case map[string]any:
		if _, ok := v["devices"].([]any); ok {
			return shapeDocument
		}
		id, _ := v["id"].(string)
		typ, _ := v["type"].(string)
		if id != "" && typ != "" {
			return shapeDevice
		}
	}
	return shapeUnknown
}

// FromJSON 解析 JSON 后导入
func (m *Model) FromJSON(data []byte) (int, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("failed to parse import payload: %w", err)
	}
	return m.Import(payload)
}

// Import 按形状导入设备，返回成功导入的数量
// 无法识别的形状不做任何修改；单个设备校验失败不影响其余设备，错误合并返回
func (m *Model) Import(payload any) (int, error) {
	shape := classifyImport(payload)

	var elements []any
	switch shape {
	case shapeSequence:
		elements = payload.([]any)
	case shapeDocument:
		doc := payload.(map[string]any)
		if meta, ok := doc["metadata"].(map[string]any); ok {
			m.mergeMetadata(meta)
		}
		elements = doc["devices"].([]any)
	case shapeDevice:
		elements = []any{payload}
	default:
		m.logger.Warn("Ignoring import payload with unrecognized shape")
		return 0, nil
	}

	imported := 0
	var errs []error
	for i, element := range elements {
		device, err := DeviceFromMap(element)
		if err == nil {
			err = m.AddDevice(device)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", i, err))
			continue
		}
		imported++
	}

	m.logger.Debug("Imported devices",
		zap.String("shape", shape.String()),
		zap.Int("imported", imported),
		zap.Int("failed", len(errs)),
	)
	return imported, errors.Join(errs...)
}

// DeviceFromMap 将解码后的 JSON 对象转换为设备（不做校验，由 AddDevice 负责）
func DeviceFromMap(v any) (*models.Device, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, models.NewValidationError("device", "must be an object")
	}

	device := &models.Device{}
	device.ID, _ = obj["id"].(string)
	device.Type, _ = obj["type"].(string)
	if meta, ok := obj["metadata"].(map[string]any); ok {
		device.Metadata = models.CloneMap(meta)
	}

	rawMeasurements, _ := obj["measurements"].([]any)
	device.Measurements = make([]models.Measurement, 0, len(rawMeasurements))
	for _, raw := range rawMeasurements {
		mo, ok := raw.(map[string]any)
		if !ok {
			return nil, models.NewValidationError("measurements", "measurement must be an object")
		}
		meas := models.Measurement{Value: models.CloneValue(mo["value"])}
		meas.ID, _ = mo["id"].(string)
		if t, ok := mo["type"].(string); ok {
			meas.Type = models.MeasurementType(t)
		}
		if meta, ok := mo["metadata"].(map[string]any); ok {
			meas.Metadata = models.CloneMap(meta)
		}
		device.Measurements = append(device.Measurements, meas)
	}
	return device, nil
}
