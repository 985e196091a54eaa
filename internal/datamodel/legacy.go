package datamodel

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// EntityToDevice 旧版实体单向转换为设备：每个属性一条测量
// value-with-shape 属性取 value 作为测量值，其余字段放入测量 metadata
func EntityToDevice(entity *models.Entity) *models.Device {
	device := &models.Device{
		ID:           entity.ID,
		Type:         entity.Type,
		Measurements: make([]models.Measurement, 0, len(entity.Attributes)),
		Metadata:     models.CloneMap(entity.Metadata),
	}

	names := make([]string, 0, len(entity.Attributes))
	for name := range entity.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, shape := models.AttributeValue(entity.Attributes[name])
		device.Measurements = append(device.Measurements, models.Measurement{
			ID:       name,
			Type:     models.InferType(value),
			Value:    models.CloneValue(value),
			Metadata: models.CloneMap(shape),
		})
	}
	return device
}

// AddEntity 旧版接口：转换为设备后加入模型
func (m *Model) AddEntity(entity *models.Entity) error {
	if entity == nil {
		return models.NewValidationError("entity", "is required")
	}
	if entity.ID == "" {
		return models.NewValidationError("id", "is required")
	}
	if entity.Type == "" {
		return models.NewValidationError("type", "is required")
	}
	return m.AddDevice(EntityToDevice(entity))
}

// AddRelationship 旧版接口：记录关系，source/target 不要求存在
func (m *Model) AddRelationship(rel *models.Relationship) (*models.Relationship, error) {
	if rel == nil {
		return nil, models.NewValidationError("relationship", "is required")
	}
	if rel.Type == "" {
		return nil, models.NewValidationError("type", "is required")
	}
	if rel.Source == "" || rel.Target == "" {
		return nil, models.NewValidationError("source/target", "are required")
	}

	stored := &models.Relationship{
		ID:         rel.ID,
		Type:       rel.Type,
		Source:     rel.Source,
		Target:     rel.Target,
		Properties: models.CloneMap(rel.Properties),
		Metadata:   models.CloneMap(rel.Metadata),
	}
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Metadata == nil {
		stored.Metadata = make(map[string]any)
	}
	stored.Metadata[models.MetadataTimestamp] = models.FormatTimestamp(m.touch())

	m.relMu.Lock()
	m.relationships[stored.ID] = stored
	m.relMu.Unlock()

	return cloneRelationship(stored), nil
}

// GetRelationships 返回 source 为 sourceID 的关系；sourceID 为空时返回全部
func (m *Model) GetRelationships(sourceID string) []*models.Relationship {
	m.relMu.RLock()
	out := make([]*models.Relationship, 0, len(m.relationships))
	for _, rel := range m.relationships {
		if sourceID != "" && rel.Source != sourceID {
			continue
		}
		out = append(out, cloneRelationship(rel))
	}
	m.relMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneRelationship(rel *models.Relationship) *models.Relationship {
	return &models.Relationship{
		ID:         rel.ID,
		Type:       rel.Type,
		Source:     rel.Source,
		Target:     rel.Target,
		Properties: models.CloneMap(rel.Properties),
		Metadata:   models.CloneMap(rel.Metadata),
	}
}
