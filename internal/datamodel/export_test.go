package datamodel

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

func TestToTOON(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{
		ID:           "s1",
		Type:         "sensor",
		Measurements: []models.Measurement{{ID: "temp", Value: 21.5}},
		Metadata:     map[string]any{"site": "a"},
	}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "s2", Type: "sensor"}))

	data, err := m.ToTOON(ExportOptions{})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, SchemaVersion, doc["version"])

	devices := doc["devices"].([]any)
	require.Len(t, devices, 2)
	first := devices[0].(map[string]any)
	assert.Equal(t, "s1", first["id"])
	assert.Equal(t, "sensor", first["type"])
	assert.NotEmpty(t, first["ts"])
	assert.Equal(t, map[string]any{"site": "a"}, first["meta"])
	assert.Equal(t, []any{map[string]any{"i": "temp", "t": "float", "v": 21.5}}, first["m"])

	second := devices[1].(map[string]any)
	assert.NotContains(t, second, "meta")
	assert.Equal(t, []any{}, second["m"])
}

func TestToTOON_SingleDevice(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{ID: "s1", Type: "sensor"}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "s2", Type: "sensor"}))

	doc, err := m.CompactExport(ExportOptions{DeviceID: "s2"})
	require.NoError(t, err)
	require.Len(t, doc.Devices, 1)
	assert.Equal(t, "s2", doc.Devices[0].ID)

	_, err = m.CompactExport(ExportOptions{DeviceID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestToURN(t *testing.T) {
	assert.Equal(t, "urn:ngsi-ld:pump:p1", ToURN("p1", "pump"))
	assert.Equal(t, "urn:ngsi-ld:p1", ToURN("p1", ""))
	assert.Equal(t, "urn:example:p1", ToURN("urn:example:p1", "pump"))
}

func TestLinkedDataExport(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{
		ID:   "p1",
		Type: "pump",
		Measurements: []models.Measurement{
			{ID: "temp", Value: 40.5, Metadata: map[string]any{"unit": "CEL", "sourceTimestamp": "2024-05-01T10:00:00Z"}},
			{ID: "state", Value: "on"},
			{ID: "type", Value: "collides"},
		},
		Metadata: map[string]any{"observedAt": "2024-05-01T09:59:00Z"},
	}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "urn:ngsi-ld:tank:t1", Type: "tank"}))
	_, err := m.AddRelationship(&models.Relationship{Type: "feeds", Source: "p1", Target: "urn:ngsi-ld:tank:t1"})
	require.NoError(t, err)
	_, err = m.AddRelationship(&models.Relationship{Type: "locatedIn", Source: "p1", Target: "hall-7"})
	require.NoError(t, err)

	entities, err := m.LinkedDataExport(LinkedDataOptions{DeviceID: "p1"})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	e := entities[0]

	assert.Equal(t, "urn:ngsi-ld:pump:p1", e["id"])
	assert.Equal(t, "pump", e["type"])
	assert.Equal(t, DefaultLinkedDataContext, e["@context"])
	assert.Equal(t, map[string]any{
		"type":       "Property",
		"value":      40.5,
		"observedAt": "2024-05-01T10:00:00Z",
		"unitCode":   "CEL",
	}, e["temp"])
	assert.Equal(t, map[string]any{
		"type":       "Property",
		"value":      "on",
		"observedAt": "2024-05-01T09:59:00Z",
	}, e["state"])
	assert.Equal(t, map[string]any{"type": "Relationship", "object": "urn:ngsi-ld:tank:t1"}, e["feeds"])
	assert.Equal(t, map[string]any{"type": "Relationship", "object": "urn:ngsi-ld:hall-7"}, e["locatedIn"])

	all, err := m.LinkedDataExport(LinkedDataOptions{Context: "https://example.org/ctx.jsonld"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "urn:ngsi-ld:tank:t1", all[1]["id"])
	assert.Equal(t, "https://example.org/ctx.jsonld", all[1]["@context"])

	data, err := m.ToNGSILD(LinkedDataOptions{})
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestAddEntity_LegacyAdapter(t *testing.T) {
	m := newTestModel()
	err := m.AddEntity(&models.Entity{
		ID:   "room-1",
		Type: "room",
		Attributes: map[string]any{
			"temperature": map[string]any{"value": 22.5, "unitCode": "CEL"},
			"occupied":    true,
		},
	})
	require.NoError(t, err)

	d, ok := m.GetDevice("room-1")
	require.True(t, ok)
	require.Len(t, d.Measurements, 2)

	occ, _ := d.Measurement("occupied")
	assert.Equal(t, models.MeasurementTypeBool, occ.Type)

	temp, _ := d.Measurement("temperature")
	assert.Equal(t, 22.5, temp.Value)
	assert.Equal(t, models.MeasurementTypeFloat, temp.Type)
	assert.Equal(t, map[string]any{"unitCode": "CEL"}, temp.Metadata)

	assert.ErrorIs(t, m.AddEntity(&models.Entity{ID: "x"}), models.ErrValidation)
}

func TestAddRelationship(t *testing.T) {
	m := newTestModel()

	rel, err := m.AddRelationship(&models.Relationship{Type: "feeds", Source: "a", Target: "dangling"})
	require.NoError(t, err)
	assert.NotEmpty(t, rel.ID)
	assert.NotEmpty(t, rel.Metadata[models.MetadataTimestamp])

	kept, err := m.AddRelationship(&models.Relationship{ID: "r-1", Type: "near", Source: "b", Target: "a"})
	require.NoError(t, err)
	assert.Equal(t, "r-1", kept.ID)

	_, err = m.AddRelationship(&models.Relationship{Source: "a", Target: "b"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = m.AddRelationship(&models.Relationship{Type: "feeds", Source: "a"})
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Len(t, m.GetRelationships(""), 2)
	fromA := m.GetRelationships("a")
	require.Len(t, fromA, 1)
	assert.Equal(t, "dangling", fromA[0].Target)
}

func TestToXLSX(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{
		ID:   "p1",
		Type: "pump",
		Measurements: []models.Measurement{
			{ID: "rpm", Value: 1450},
			{ID: "cfg", Value: map[string]any{"mode": "auto"}},
		},
	}))

	var buf bytes.Buffer
	require.NoError(t, m.ToXLSX(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(XLSXSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Device ID", rows[0][0])
	assert.Equal(t, []string{"p1", "pump", "rpm", "int", "1450"}, rows[1][:5])
	assert.Equal(t, `{"mode":"auto"}`, rows[2][4])
}
