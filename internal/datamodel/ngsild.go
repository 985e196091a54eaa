package datamodel

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// DefaultLinkedDataContext NGSI-LD core context
const DefaultLinkedDataContext = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"

const urnPrefix = "urn:"

// LinkedDataOptions 链接数据导出选项
type LinkedDataOptions struct {
	DeviceID string
	// Context 为空时使用 DefaultLinkedDataContext
	Context string
}

// ToURN 转换为 urn:ngsi-ld:<type>:<id>；已经是 URN 的 id 原样返回
func ToURN(id, entityType string) string {
	if strings.HasPrefix(id, urnPrefix) {
		return id
	}
	if entityType == "" {
		return "urn:ngsi-ld:" + id
	}
	return "urn:ngsi-ld:" + entityType + ":" + id
}

// linkedDataReserved 实体自身的键，不能被测量覆盖
var linkedDataReserved = map[string]bool{
	"id":       true,
	"type":     true,
	"@context": true,
}

// LinkedDataExport 每个设备一个 NGSI-LD 实体，测量为 Property，旧版关系为 Relationship
func (m *Model) LinkedDataExport(opts LinkedDataOptions) ([]map[string]any, error) {
	devices, err := m.selectDevices(opts.DeviceID)
	if err != nil {
		return nil, err
	}
	ldContext := opts.Context
	if ldContext == "" {
		ldContext = DefaultLinkedDataContext
	}

	types := make(map[string]string)
	for _, d := range m.GetAllDevices() {
		types[d.ID] = d.Type
	}

	entities := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		entity := map[string]any{
			"id":       ToURN(d.ID, d.Type),
			"type":     d.Type,
			"@context": ldContext,
		}
		deviceObservedAt := firstString(d.Metadata, "observedAt", models.MetadataTimestamp)

		for _, meas := range d.Measurements {
			if linkedDataReserved[meas.ID] {
				m.logger.Warn("Skipping measurement with reserved NGSI-LD name",
					zap.String("device_id", d.ID),
					zap.String("measurement_id", meas.ID),
				)
				continue
			}
			property := map[string]any{
				"type":  "Property",
				"value": meas.Value,
			}
			observedAt := firstString(meas.Metadata, "observedAt", "sourceTimestamp")
			if observedAt == "" {
				observedAt = deviceObservedAt
			}
			if observedAt != "" {
				property["observedAt"] = observedAt
			}
			if unit := firstString(meas.Metadata, "unitCode", "unit"); unit != "" {
				property["unitCode"] = unit
			}
			entity[meas.ID] = property
		}

		for _, rel := range m.GetRelationships(d.ID) {
			if linkedDataReserved[rel.Type] {
				continue
			}
			entity[rel.Type] = map[string]any{
				"type":   "Relationship",
				"object": ToURN(rel.Target, types[rel.Target]),
			}
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// ToNGSILD NGSI-LD JSON 数组
func (m *Model) ToNGSILD(opts LinkedDataOptions) ([]byte, error) {
	entities, err := m.LinkedDataExport(opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entities)
}

func firstString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := meta[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
