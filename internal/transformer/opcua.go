package transformer

import (
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// opcuaTypeTable OPC UA dataType -> 规范类型
var opcuaTypeTable = map[string]models.MeasurementType{
	"Float":         models.MeasurementTypeFloat,
	"Double":        models.MeasurementTypeFloat,
	"SByte":         models.MeasurementTypeInt,
	"Byte":          models.MeasurementTypeInt,
	"Int16":         models.MeasurementTypeInt,
	"UInt16":        models.MeasurementTypeInt,
	"Int32":         models.MeasurementTypeInt,
	"UInt32":        models.MeasurementTypeInt,
	"Int64":         models.MeasurementTypeInt,
	"UInt64":        models.MeasurementTypeInt,
	"Integer":       models.MeasurementTypeInt,
	"UInteger":      models.MeasurementTypeInt,
	"Boolean":       models.MeasurementTypeBool,
	"String":        models.MeasurementTypeString,
	"LocalizedText": models.MeasurementTypeString,
	"DateTime":      models.MeasurementTypeString,
	"Guid":          models.MeasurementTypeString,
	"ByteString":    models.MeasurementTypeString,
}

// OPCUAType 映射 OPC UA dataType，未知类型返回 unknown
func OPCUAType(dataType string) models.MeasurementType {
	if t, ok := opcuaTypeTable[dataType]; ok {
		return t
	}
	return models.MeasurementTypeUnknown
}

// mapOPCUA 源数据为 nodeId -> {value, dataType, statusCode, sourceTimestamp, serverTimestamp}
// statusCode 等作为测量的 metadata，不作为测量值
func (m *ProtocolMapper) mapOPCUA(source map[string]any, mctx MapContext) []*models.Device {
	deviceID := mctx.DeviceID
	if deviceID == "" && mctx.Endpoint != "" {
		deviceID = "opcua_" + sanitizeID(mctx.Endpoint)
	}
	if deviceID == "" {
		deviceID = m.opaqueID()
	}
	device := m.newDevice(deviceID, firstNonEmpty(mctx.DeviceType, "opcua_device"), mctx)
	if mctx.Endpoint != "" {
		device.Metadata["endpoint"] = mctx.Endpoint
	}

	for _, nodeID := range sortedKeys(source) {
		var (
			value    any
			dataType string
			meta     = map[string]any{"nodeId": nodeID}
		)

		node, isNode := source[nodeID].(map[string]any)
		if isNode {
			value = node["value"]
			dataType, _ = node["dataType"].(string)
			if dataType != "" {
				meta["dataType"] = dataType
			}
			for _, key := range []string{"statusCode", "sourceTimestamp", "serverTimestamp"} {
				if v, ok := node[key]; ok && v != nil {
					meta[key] = v
				}
			}
		} else {
			value = source[nodeID]
		}

		measID := sanitizeID(nodeID)
		id, out, transformed := m.attribute(measID, value, nodeID, measID)

		var mtype models.MeasurementType
		switch {
		case transformed:
			mtype = models.InferType(out)
		case dataType != "":
			mtype = OPCUAType(dataType)
		default:
			mtype = models.InferType(out)
		}

		m.addMeasurement(device, models.Measurement{
			ID:       id,
			Type:     mtype,
			Value:    out,
			Metadata: meta,
		})
	}

	return []*models.Device{device}
}
