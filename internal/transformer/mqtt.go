package transformer

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// mqttReserved 不作为测量值的键
var mqttReserved = map[string]bool{
	"timestamp":   true,
	"id":          true,
	"type":        true,
	"deviceId":    true,
	"device_id":   true,
	"deviceType":  true,
	"device_type": true,
}

// TopicDeviceID 由 topic 推导设备 id（分隔符等非字母数字字符替换为 '_'）
func TopicDeviceID(topic string) string {
	return sanitizeID(strings.Trim(topic, "/"))
}

// TopicDeviceType 由 topic 第一段推导设备类型
func TopicDeviceType(topic string) string {
	first := strings.Split(strings.Trim(topic, "/"), "/")[0]
	if first == "" {
		return "mqtt_device"
	}
	return sanitizeID(first) + "_device"
}

// decodeMQTTPayload 字符串/字节载荷尝试 JSON 解码，失败时作为不透明字符串
func (m *ProtocolMapper) decodeMQTTPayload(sourceData any) any {
	var raw string
	switch v := sourceData.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return sourceData
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		m.logger.Debug("Payload is not JSON, using it as an opaque string", zap.Error(err))
		return raw
	}
	return decoded
}

// mapMQTT 结构化载荷递归展开，每个标量叶子是一条测量，id 为展开后的路径；
// 标量载荷产生一条名为 value 的测量
func (m *ProtocolMapper) mapMQTT(sourceData any, mctx MapContext) []*models.Device {
	payload := m.decodeMQTTPayload(sourceData)
	obj, structured := payload.(map[string]any)

	deviceID := mctx.DeviceID
	deviceType := mctx.DeviceType
	if structured {
		deviceID = firstNonEmpty(deviceID, stringField(obj, "deviceId", "device_id", "id"))
		deviceType = firstNonEmpty(deviceType, stringField(obj, "deviceType", "device_type", "type"))
	}
	if mctx.Topic != "" {
		deviceID = firstNonEmpty(deviceID, TopicDeviceID(mctx.Topic))
		deviceType = firstNonEmpty(deviceType, TopicDeviceType(mctx.Topic))
	}
	if deviceID == "" {
		deviceID = m.opaqueID()
	}
	deviceType = firstNonEmpty(deviceType, "mqtt_device")

	device := m.newDevice(deviceID, deviceType, mctx)
	if mctx.Topic != "" {
		device.Metadata["topic"] = mctx.Topic
	}

	if !structured {
		id, out, _ := m.attribute("value", payload, "value")
		m.addMeasurement(device, models.Measurement{
			ID:    id,
			Type:  models.InferType(out),
			Value: out,
		})
		return []*models.Device{device}
	}

	if ts, ok := obj["timestamp"]; ok && ts != nil {
		device.Metadata["observedAt"] = ts
	}
	m.flattenMQTT("", obj, device)
	return []*models.Device{device}
}

// flattenMQTT 递归展开对象；同级的字符串 unit 作为兄弟测量的 metadata
func (m *ProtocolMapper) flattenMQTT(prefix string, obj map[string]any, device *models.Device) {
	unit, hasUnit := obj["unit"].(string)

	for _, key := range sortedKeys(obj) {
		if mqttReserved[key] || (hasUnit && key == "unit") {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		value := obj[key]
		if nested, ok := value.(map[string]any); ok {
			m.flattenMQTT(path, nested, device)
			continue
		}

		measID := sanitizeID(path)
		id, out, _ := m.attribute(measID, value, path, measID)
		meas := models.Measurement{
			ID:    id,
			Type:  models.InferType(out),
			Value: out,
		}
		if hasUnit {
			meas.Metadata = map[string]any{"unit": unit}
		}
		m.addMeasurement(device, meas)
	}
}
