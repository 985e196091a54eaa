package transformer

import (
	"strings"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// Modbus 寄存器种类
const (
	RegisterCoil     = "coil"
	RegisterDiscrete = "discrete"
	RegisterInput    = "input"
	RegisterHolding  = "holding"
)

// ClassifyRegister 按名称中的关键字判断寄存器种类，无匹配时为 holding
// discrete 先于 input 判断（"discrete_input" 属于 discrete）
func ClassifyRegister(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "coil"):
		return RegisterCoil
	case strings.Contains(lower, "discrete"):
		return RegisterDiscrete
	case strings.Contains(lower, "input"):
		return RegisterInput
	case strings.Contains(lower, "holding"):
		return RegisterHolding
	}
	return RegisterHolding
}

// ModbusDeviceID 由来源标识和 unit id 组成设备 id
// unit 位于最后一段且来源原样保留，不同 (source, unit) 不会得到相同 id
func ModbusDeviceID(source, unitID string) string {
	if unitID == "" {
		unitID = "1"
	}
	return "modbus:" + source + ":" + unitID
}

// mapModbus 源数据为寄存器名 -> 原始值
func (m *ProtocolMapper) mapModbus(source map[string]any, mctx MapContext) []*models.Device {
	origin := firstNonEmpty(mctx.SourceID, mctx.Host, mctx.Endpoint)
	deviceID := mctx.DeviceID
	if deviceID == "" && origin != "" {
		deviceID = ModbusDeviceID(origin, mctx.UnitID)
	}
	if deviceID == "" {
		deviceID = m.opaqueID()
	}

	device := m.newDevice(deviceID, firstNonEmpty(mctx.DeviceType, "modbus_device"), mctx)
	if origin != "" {
		device.Metadata["host"] = origin
	}
	if mctx.UnitID != "" {
		device.Metadata["unitId"] = mctx.UnitID
	}

	for _, register := range sortedKeys(source) {
		measID := sanitizeID(register)
		id, out, _ := m.attribute(measID, source[register], register, measID)
		m.addMeasurement(device, models.Measurement{
			ID:    id,
			Type:  models.InferType(out),
			Value: out,
			Metadata: map[string]any{
				"register":     register,
				"registerType": ClassifyRegister(register),
			},
		})
	}

	return []*models.Device{device}
}
