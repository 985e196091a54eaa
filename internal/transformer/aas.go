package transformer

import (
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// AAS submodel element 的 modelType
const (
	aasProperty              = "Property"
	aasMultiLanguageProperty = "MultiLanguageProperty"
	aasRange                 = "Range"
	aasFile                  = "File"
	aasReferenceElement      = "ReferenceElement"
	aasCollection            = "SubmodelElementCollection"
	aasOperation             = "Operation"
)

// aasModelType modelType 可以是字符串（AAS v3）或 {"name": ...}（AAS v2）
func aasModelType(v any) string {
	switch mt := v.(type) {
	case string:
		return mt
	case map[string]any:
		name, _ := mt["name"].(string)
		return name
	}
	return ""
}

// aasShell 返回壳信息：顶层对象本身或 assetAdministrationShells 的第一个
func aasShell(source map[string]any) map[string]any {
	if shells, ok := source["assetAdministrationShells"].([]any); ok && len(shells) > 0 {
		if shell, ok := shells[0].(map[string]any); ok {
			return shell
		}
	}
	return source
}

// aasIdentifier id 可以是字符串（v3）或 {"id": ...}（v2 identification）
func aasIdentifier(obj map[string]any) string {
	if id, ok := obj["id"].(string); ok && id != "" {
		return id
	}
	if ident, ok := obj["identification"].(map[string]any); ok {
		if id, ok := ident["id"].(string); ok {
			return id
		}
	}
	return ""
}

// mapAAS 每个 submodel element 按 modelType 分派为不同形状的测量值；Operation 跳过
func (m *ProtocolMapper) mapAAS(source map[string]any, mctx MapContext) []*models.Device {
	shell := aasShell(source)

	deviceID := firstNonEmpty(mctx.DeviceID, aasIdentifier(shell), stringField(shell, "idShort"))
	if deviceID == "" {
		deviceID = m.opaqueID()
	}
	deviceType := mctx.DeviceType
	info, _ := shell["assetInformation"].(map[string]any)
	if info != nil {
		deviceType = firstNonEmpty(deviceType, stringField(info, "assetType", "assetKind"))
	}
	device := m.newDevice(deviceID, firstNonEmpty(deviceType, "aas_asset"), mctx)
	if idShort := stringField(shell, "idShort"); idShort != "" {
		device.Metadata["idShort"] = idShort
	}
	if gid, ok := info["globalAssetId"]; ok {
		device.Metadata["globalAssetId"] = gid
	}

	submodels, _ := source["submodels"].([]any)
	for _, raw := range submodels {
		submodel, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		submodelID := stringField(submodel, "idShort")
		if submodelID == "" {
			submodelID = aasIdentifier(submodel)
		}
		elements, _ := submodel["submodelElements"].([]any)
		for _, rawEl := range elements {
			el, ok := rawEl.(map[string]any)
			if !ok {
				continue
			}
			modelType := aasModelType(el["modelType"])
			shape, keep := m.aasElementShape(el, modelType)
			if !keep {
				continue
			}

			idShort := stringField(el, "idShort")
			measID := sanitizeID(idShort)
			if submodelID != "" {
				measID = sanitizeID(submodelID + "_" + idShort)
			}
			if v, has := shape["value"]; has {
				id, out, _ := m.attribute(measID, v, idShort, measID)
				measID = id
				shape["value"] = out
			}

			m.addMeasurement(device, models.Measurement{
				ID:    measID,
				Type:  models.MeasurementTypeObject,
				Value: shape,
				Metadata: map[string]any{
					"submodel":  submodelID,
					"modelType": modelType,
				},
			})
		}
	}

	return []*models.Device{device}
}

// aasElementShape 返回元素的输出形状；第二个返回值为 false 表示该元素不是属性（Operation）
func (m *ProtocolMapper) aasElementShape(el map[string]any, modelType string) (map[string]any, bool) {
	description := el["description"]

	switch modelType {
	case aasProperty:
		return map[string]any{
			"value":       el["value"],
			"valueType":   el["valueType"],
			"description": description,
		}, true
	case aasMultiLanguageProperty:
		return map[string]any{
			"value":       el["value"],
			"description": description,
		}, true
	case aasRange:
		return map[string]any{
			"min":         el["min"],
			"max":         el["max"],
			"valueType":   el["valueType"],
			"description": description,
		}, true
	case aasFile:
		contentType := el["contentType"]
		if contentType == nil {
			contentType = el["mimeType"]
		}
		return map[string]any{
			"contentType": contentType,
			"value":       el["value"],
			"description": description,
		}, true
	case aasReferenceElement:
		return map[string]any{
			"value":       el["value"],
			"description": description,
		}, true
	case aasCollection:
		elements := map[string]any{}
		children, _ := el["value"].([]any)
		for _, raw := range children {
			child, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			childShape, keep := m.aasElementShape(child, aasModelType(child["modelType"]))
			if !keep {
				continue
			}
			elements[stringField(child, "idShort")] = childShape
		}
		return map[string]any{
			"elements":    elements,
			"description": description,
		}, true
	case aasOperation:
		return nil, false
	}

	m.logger.Warn("Unrecognized AAS element modelType, keeping raw value",
		zap.String("model_type", modelType),
		zap.String("id_short", stringField(el, "idShort")),
	)
	return map[string]any{
		"value":     el["value"],
		"modelType": modelType,
	}, true
}
