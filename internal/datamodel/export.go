package datamodel

import (
	"encoding/json"
	"fmt"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// ExportOptions 导出选项
type ExportOptions struct {
	// DeviceID 非空时只导出该设备
	DeviceID string
	// OmitMetadata 不输出文档级 metadata
	OmitMetadata bool
}

// Document 规范 JSON 文档
type Document struct {
	Version  string           `json:"version"`
	Metadata map[string]any   `json:"metadata,omitempty"`
	Devices  []*models.Device `json:"devices"`
}

// Export 整体导出为文档
func (m *Model) Export(opts ExportOptions) *Document {
	doc := &Document{
		Version: SchemaVersion,
		Devices: m.GetAllDevices(),
	}
	if !opts.OmitMetadata {
		doc.Metadata = m.Metadata()
	}
	return doc
}

// ToJSON 导出规范 JSON；指定 DeviceID 时输出单个设备对象（可直接被 FromJSON 导入）
func (m *Model) ToJSON(opts ExportOptions) ([]byte, error) {
	if opts.DeviceID != "" {
		device, ok := m.GetDevice(opts.DeviceID)
		if !ok {
			return nil, fmt.Errorf("device %s: %w", opts.DeviceID, models.ErrNotFound)
		}
		return json.Marshal(device)
	}
	return json.Marshal(m.Export(opts))
}

// CompactMeasurement 紧凑格式测量：i/t/v
type CompactMeasurement struct {
	I string                 `json:"i"`
	T models.MeasurementType `json:"t"`
	V any                    `json:"v"`
}

// CompactDevice 紧凑格式设备，时间戳提升到 ts
type CompactDevice struct {
	ID   string               `json:"id"`
	Type string               `json:"type"`
	TS   string               `json:"ts,omitempty"`
	M    []CompactMeasurement `json:"m"`
	Meta map[string]any       `json:"meta,omitempty"`
}

// CompactDocument 紧凑格式文档（TOON）
type CompactDocument struct {
	Version string          `json:"version"`
	Devices []CompactDevice `json:"devices"`
}

// CompactExport 紧凑格式导出
func (m *Model) CompactExport(opts ExportOptions) (*CompactDocument, error) {
	devices, err := m.selectDevices(opts.DeviceID)
	if err != nil {
		return nil, err
	}
	doc := &CompactDocument{
		Version: SchemaVersion,
		Devices: make([]CompactDevice, 0, len(devices)),
	}
	for _, d := range devices {
		doc.Devices = append(doc.Devices, compactDevice(d))
	}
	return doc, nil
}

// ToTOON 紧凑格式 JSON
func (m *Model) ToTOON(opts ExportOptions) ([]byte, error) {
	doc, err := m.CompactExport(opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func compactDevice(d *models.Device) CompactDevice {
	cd := CompactDevice{
		ID:   d.ID,
		Type: d.Type,
		M:    make([]CompactMeasurement, 0, len(d.Measurements)),
	}
	meta := models.CloneMap(d.Metadata)
	if ts, ok := meta[models.MetadataTimestamp].(string); ok {
		cd.TS = ts
		delete(meta, models.MetadataTimestamp)
	}
	if len(meta) > 0 {
		cd.Meta = meta
	}
	for _, meas := range d.Measurements {
		cd.M = append(cd.M, CompactMeasurement{I: meas.ID, T: meas.Type, V: meas.Value})
	}
	return cd
}

// selectDevices deviceID 为空返回全部，否则返回单个设备或 ErrNotFound
func (m *Model) selectDevices(deviceID string) ([]*models.Device, error) {
	if deviceID == "" {
		return m.GetAllDevices(), nil
	}
	device, ok := m.GetDevice(deviceID)
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, models.ErrNotFound)
	}
	return []*models.Device{device}, nil
}
