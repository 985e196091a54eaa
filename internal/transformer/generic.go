package transformer

import (
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// genericReserved 通用载荷中不作为测量的顶层键
var genericReserved = map[string]bool{
	"timestamp": true,
	"source":    true,
	"type":      true,
}

// mapGeneric 除 timestamp/source/type 外的每个顶层键都是一条测量，值原样包装
func (m *ProtocolMapper) mapGeneric(source map[string]any, mctx MapContext) []*models.Device {
	deviceID := firstNonEmpty(mctx.DeviceID, mctx.SourceID)
	if deviceID == "" {
		deviceID = m.opaqueID()
	}
	deviceType := firstNonEmpty(mctx.DeviceType, stringField(source, "type"), "generic_device")

	device := m.newDevice(deviceID, deviceType, mctx)
	if src, ok := source["source"]; ok && src != nil {
		device.Metadata["source"] = src
	}
	if ts, ok := source["timestamp"]; ok && ts != nil {
		device.Metadata["observedAt"] = ts
	}

	for _, key := range sortedKeys(source) {
		if genericReserved[key] {
			continue
		}
		id, out, _ := m.attribute(key, source[key], key)
		m.addMeasurement(device, models.Measurement{
			ID:    id,
			Type:  models.InferType(out),
			Value: out,
		})
	}

	return []*models.Device{device}
}
