package datamodel

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

func newTestModel() *Model {
	return NewModel(zap.NewNop())
}

func sampleDevice() *models.Device {
	return &models.Device{
		ID:   "pump-1",
		Type: "pump",
		Measurements: []models.Measurement{
			{ID: "running", Value: true},
			{ID: "label", Value: "north"},
			{ID: "rpm", Value: 1450.0},
			{ID: "pressure", Value: 3.75},
			{ID: "config", Value: map[string]any{"mode": "auto"}},
			{ID: "missing", Value: nil},
		},
		Metadata: map[string]any{"site": "plant-a"},
	}
}

func TestAddDevice_InfersMissingTypes(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(sampleDevice()))

	got, ok := m.GetDevice("pump-1")
	require.True(t, ok)

	want := map[string]models.MeasurementType{
		"running":  models.MeasurementTypeBool,
		"label":    models.MeasurementTypeString,
		"rpm":      models.MeasurementTypeInt,
		"pressure": models.MeasurementTypeFloat,
		"config":   models.MeasurementTypeObject,
		"missing":  models.MeasurementTypeUnknown,
	}
	require.Len(t, got.Measurements, len(want))
	for _, meas := range got.Measurements {
		assert.Equal(t, want[meas.ID], meas.Type, meas.ID)
	}
	assert.NotEmpty(t, got.Metadata[models.MetadataTimestamp])
	assert.Equal(t, "plant-a", got.Metadata["site"])
}

func TestAddDevice_KeepsExplicitType(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{
		ID:           "d",
		Type:         "t",
		Measurements: []models.Measurement{{ID: "code", Type: models.MeasurementTypeString, Value: 42}},
	}))

	got, _ := m.GetDevice("d")
	assert.Equal(t, models.MeasurementTypeString, got.Measurements[0].Type)
}

func TestAddDevice_NormalizesMissingMeasurements(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{ID: "empty", Type: "t"}))

	got, ok := m.GetDevice("empty")
	require.True(t, ok)
	assert.NotNil(t, got.Measurements)
	assert.Empty(t, got.Measurements)
}

func TestAddDevice_ValidationLeavesStoreUnchanged(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(sampleDevice()))
	before := m.GetStats()

	tests := []struct {
		name   string
		device *models.Device
	}{
		{"nil", nil},
		{"missing id", &models.Device{Type: "pump"}},
		{"missing type", &models.Device{ID: "pump-2"}},
		{"duplicate measurement", &models.Device{ID: "pump-3", Type: "pump", Measurements: []models.Measurement{{ID: "a"}, {ID: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddDevice(tt.device)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, before.TotalDevices, m.GetStats().TotalDevices)
		})
	}
	_, ok := m.GetDevice("pump-3")
	assert.False(t, ok)
}

func TestAddDevice_OverwritesAndIsolatesCaller(t *testing.T) {
	m := newTestModel()
	d := sampleDevice()
	require.NoError(t, m.AddDevice(d))

	d.Measurements[0].Value = false
	got, _ := m.GetDevice("pump-1")
	assert.Equal(t, true, got.Measurements[0].Value)

	got.Measurements[0].Value = "mutated"
	again, _ := m.GetDevice("pump-1")
	assert.Equal(t, true, again.Measurements[0].Value)

	require.NoError(t, m.AddDevice(&models.Device{ID: "pump-1", Type: "pump", Measurements: []models.Measurement{{ID: "only", Value: 1}}}))
	got, _ = m.GetDevice("pump-1")
	require.Len(t, got.Measurements, 1)
	assert.Equal(t, 1, m.GetStats().TotalDevices)
}

func TestGetDevicesByTypeAndRemove(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{ID: "a", Type: "pump"}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "b", Type: "valve"}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "c", Type: "pump"}))

	pumps := m.GetDevicesByType("pump")
	require.Len(t, pumps, 2)
	assert.Equal(t, "a", pumps[0].ID)
	assert.Equal(t, "c", pumps[1].ID)

	all := m.GetAllDevices()
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	assert.True(t, m.RemoveDevice("b"))
	assert.False(t, m.RemoveDevice("b"))
	assert.False(t, m.HasDevice("b"))

	stats := m.GetStats()
	assert.Equal(t, 2, stats.TotalDevices)
	assert.Equal(t, map[string]int{"pump": 2}, stats.DevicesByType)
}

func TestUpdateMeasurements_MergesById(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{
		ID:   "d1",
		Type: "sensor",
		Measurements: []models.Measurement{
			{ID: "a", Value: 1.5, Metadata: map[string]any{"unit": "C"}},
			{ID: "b", Value: "x"},
			{ID: "c", Value: true},
		},
	}))

	ok := m.UpdateMeasurements("d1", []models.Measurement{
		{ID: "b", Value: 7.0},
		{ID: "z", Value: "new"},
		{ID: "a", Value: 2.5, Metadata: map[string]any{"quality": "good"}},
		{ID: "y", Value: 3.0},
	})
	require.True(t, ok)

	got, _ := m.GetDevice("d1")
	ids := make([]string, len(got.Measurements))
	for i, meas := range got.Measurements {
		ids[i] = meas.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "z", "y"}, ids)

	a, _ := got.Measurement("a")
	assert.Equal(t, 2.5, a.Value)
	assert.Equal(t, map[string]any{"unit": "C", "quality": "good"}, a.Metadata)

	b, _ := got.Measurement("b")
	assert.Equal(t, 7.0, b.Value)
	assert.Equal(t, models.MeasurementTypeInt, b.Type)

	y, _ := got.Measurement("y")
	assert.Equal(t, models.MeasurementTypeInt, y.Type)
}

func TestUpdateMeasurements_UnknownDevice(t *testing.T) {
	m := newTestModel()
	assert.False(t, m.UpdateMeasurements("ghost", []models.Measurement{{ID: "a", Value: 1}}))
	assert.False(t, m.HasDevice("ghost"))
}

func TestUpdateMeasurements_ConcurrentSameDevice(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{ID: "hot", Type: "sensor"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.UpdateMeasurements("hot", []models.Measurement{{ID: fmt.Sprintf("m%d", i), Value: i}})
		}(i)
	}
	wg.Wait()

	got, _ := m.GetDevice("hot")
	assert.Len(t, got.Measurements, 50)
}

func TestUpdatedTimestampIsMonotonic(t *testing.T) {
	m := newTestModel()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute)}
	m.updated = time.Time{}
	m.now = func() time.Time {
		next := clock[0]
		if len(clock) > 1 {
			clock = clock[1:]
		}
		return next
	}

	require.NoError(t, m.AddDevice(&models.Device{ID: "a", Type: "t"}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "b", Type: "t"}))

	assert.Equal(t, base, m.GetStats().Updated)
	b, _ := m.GetDevice("b")
	assert.Equal(t, models.FormatTimestamp(base), b.Metadata[models.MetadataTimestamp])
}

func TestToJSON_SingleDeviceRoundTrip(t *testing.T) {
	m := newTestModel()
	x := &models.Device{
		ID:   "meter-9",
		Type: "meter",
		Measurements: []models.Measurement{
			{ID: "kwh", Type: models.MeasurementTypeFloat, Value: 12.5},
			{ID: "phase", Type: models.MeasurementTypeString, Value: "L1", Metadata: map[string]any{"unit": "n/a"}},
		},
		Metadata: map[string]any{"site": "b"},
	}
	require.NoError(t, m.AddDevice(x))

	data, err := m.ToJSON(ExportOptions{DeviceID: "meter-9"})
	require.NoError(t, err)

	var got models.Device
	require.NoError(t, json.Unmarshal(data, &got))
	assert.NotEmpty(t, got.Metadata[models.MetadataTimestamp])
	delete(got.Metadata, models.MetadataTimestamp)
	assert.Equal(t, *x, got)
}

func TestToJSON_NotFound(t *testing.T) {
	m := newTestModel()
	_, err := m.ToJSON(ExportOptions{DeviceID: "nope"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestToJSON_Document(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(sampleDevice()))

	data, err := m.ToJSON(ExportOptions{})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, SchemaVersion, doc["version"])
	assert.Contains(t, doc["metadata"], "created")
	assert.Len(t, doc["devices"], 1)

	data, err = m.ToJSON(ExportOptions{OmitMetadata: true})
	require.NoError(t, err)
	doc = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "metadata")
}

// deviceSummary 只比较 id/type/测量 id 和值
func deviceSummary(devices []*models.Device) map[string]any {
	out := make(map[string]any, len(devices))
	for _, d := range devices {
		values := make(map[string]any, len(d.Measurements))
		for _, meas := range d.Measurements {
			values[meas.ID] = meas.Value
		}
		out[d.ID] = map[string]any{"type": d.Type, "values": values}
	}
	return out
}

func TestFromJSON_ReproducesDeviceSet(t *testing.T) {
	source := newTestModel()
	require.NoError(t, source.AddDevice(&models.Device{
		ID: "a", Type: "pump",
		Measurements: []models.Measurement{{ID: "rpm", Value: 1450.0}, {ID: "on", Value: true}},
	}))
	require.NoError(t, source.AddDevice(&models.Device{
		ID: "b", Type: "valve",
		Measurements: []models.Measurement{{ID: "pos", Value: 0.25}, {ID: "cfg", Value: map[string]any{"k": "v"}}},
	}))
	want := deviceSummary(source.GetAllDevices())

	docJSON, err := source.ToJSON(ExportOptions{})
	require.NoError(t, err)
	devicesJSON, err := json.Marshal(source.GetAllDevices())
	require.NoError(t, err)

	t.Run("document", func(t *testing.T) {
		target := newTestModel()
		n, err := target.FromJSON(docJSON)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, want, deviceSummary(target.GetAllDevices()))
	})

	t.Run("sequence", func(t *testing.T) {
		target := newTestModel()
		n, err := target.FromJSON(devicesJSON)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, want, deviceSummary(target.GetAllDevices()))
	})

	t.Run("single device", func(t *testing.T) {
		target := newTestModel()
		for _, id := range []string{"a", "b"} {
			data, err := source.ToJSON(ExportOptions{DeviceID: id})
			require.NoError(t, err)
			n, err := target.FromJSON(data)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		}
		assert.Equal(t, want, deviceSummary(target.GetAllDevices()))
	})
}

func TestFromJSON_MergesDocumentMetadata(t *testing.T) {
	m := newTestModel()
	_, err := m.FromJSON([]byte(`{"metadata":{"origin":"backup","created":"1999-01-01T00:00:00Z"},"devices":[]}`))
	require.NoError(t, err)

	meta := m.Metadata()
	assert.Equal(t, "backup", meta["origin"])
	assert.NotEqual(t, "1999-01-01T00:00:00Z", meta["created"])
}

func TestFromJSON_UnrecognizedShapeIsNoop(t *testing.T) {
	m := newTestModel()
	for _, payload := range []string{`{"foo":1}`, `42`, `"text"`, `null`, `{"id":"x"}`} {
		n, err := m.FromJSON([]byte(payload))
		assert.NoError(t, err, payload)
		assert.Zero(t, n, payload)
	}
	assert.Zero(t, m.GetStats().TotalDevices)

	_, err := m.FromJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestFromJSON_PartialFailure(t *testing.T) {
	m := newTestModel()
	n, err := m.FromJSON([]byte(`[{"id":"ok","type":"t"},{"id":"","type":"t"},{"id":"ok2","type":"t"}]`))
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestClassifyImport(t *testing.T) {
	assert.Equal(t, shapeSequence, classifyImport([]any{}))
	assert.Equal(t, shapeDocument, classifyImport(map[string]any{"devices": []any{}}))
	assert.Equal(t, shapeDocument, classifyImport(map[string]any{"devices": []any{}, "id": "x", "type": "y"}))
	assert.Equal(t, shapeDevice, classifyImport(map[string]any{"id": "x", "type": "y"}))
	assert.Equal(t, shapeUnknown, classifyImport(map[string]any{"devices": "no"}))
	assert.Equal(t, shapeUnknown, classifyImport(nil))
}

func TestClear(t *testing.T) {
	m := newTestModel()
	require.NoError(t, m.AddDevice(&models.Device{ID: "a", Type: "t"}))
	require.NoError(t, m.AddDevice(&models.Device{ID: "b", Type: "t"}))
	_, err := m.AddRelationship(&models.Relationship{Type: "feeds", Source: "a", Target: "b"})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Clear())
	stats := m.GetStats()
	assert.Zero(t, stats.TotalDevices)
	assert.Zero(t, stats.TotalRelationships)
}
