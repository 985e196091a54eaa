package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

func setupMemoryAdapter(t *testing.T, maxRecords int) *StorageAdapter {
	a := NewMemoryAdapter(maxRecords, Options{Logger: zap.NewNop()})
	require.NoError(t, a.Connect(context.Background()))
	return a
}

func record(sourceID string, ts time.Time, data any) *models.StorageRecord {
	return &models.StorageRecord{
		SourceID:   sourceID,
		SourceType: "device",
		Timestamp:  ts,
		Data:       data,
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryAdapter_StoreThenGetLatest(t *testing.T) {
	a := setupMemoryAdapter(t, 100)
	ctx := context.Background()

	id, err := a.Store(ctx, record("press-1", base, map[string]any{"pressure": 2.5}))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	latest, err := a.GetLatest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, id, latest[0].ID)
	assert.Equal(t, "press-1", latest[0].SourceID)
	assert.Equal(t, map[string]any{"pressure": 2.5}, latest[0].Data)
	assert.False(t, latest[0].StoredAt.IsZero())

	n, err := a.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	latest, err = a.GetLatest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestMemoryAdapter_StoreAssignsTimestampAndKeepsCallerRecord(t *testing.T) {
	a := setupMemoryAdapter(t, 10)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	rec := &models.StorageRecord{ID: "r-1", SourceID: "s", Data: "x"}
	_, err := a.Store(context.Background(), rec)
	require.NoError(t, err)

	assert.True(t, rec.Timestamp.IsZero())
	assert.True(t, rec.StoredAt.IsZero())

	got, err := a.GetLatest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r-1", got[0].ID)
	assert.Equal(t, fixed, got[0].Timestamp)
	assert.Equal(t, fixed, got[0].StoredAt)
}

func TestMemoryAdapter_EvictsOldestBeyondCapacity(t *testing.T) {
	const capacity, extra = 5, 3
	a := setupMemoryAdapter(t, capacity)
	ctx := context.Background()

	var ids []string
	for i := 0; i < capacity+extra; i++ {
		id, err := a.Store(ctx, record("s", base.Add(time.Duration(i)*time.Minute), i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := a.GetLatest(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, capacity)
	for i, rec := range all {
		assert.Equal(t, ids[len(ids)-1-i], rec.ID)
	}

	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, capacity, stats.Storage["records"])
	assert.Equal(t, int64(extra), stats.Storage["evicted"])
}

func TestMemoryAdapter_QueryFilters(t *testing.T) {
	a := setupMemoryAdapter(t, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := a.Store(ctx, record("a", base.Add(time.Duration(i)*time.Hour), i))
		require.NoError(t, err)
		_, err = a.Store(ctx, record("b", base.Add(time.Duration(i)*time.Hour), i))
		require.NoError(t, err)
	}

	bySource, err := a.GetBySource(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, bySource, 2)
	assert.Equal(t, 3, bySource[0].Data)
	assert.Equal(t, 2, bySource[1].Data)

	inRange, err := a.GetByTimeRange(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, inRange, 4)
	for _, rec := range inRange {
		assert.False(t, rec.Timestamp.Before(base.Add(time.Hour)))
		assert.False(t, rec.Timestamp.After(base.Add(2*time.Hour)))
	}

	defaultLimit, err := a.Query(ctx, models.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, defaultLimit, 8)
}

func TestMemoryAdapter_QueryOrdersByObservationTime(t *testing.T) {
	a := setupMemoryAdapter(t, 10)
	ctx := context.Background()

	_, err := a.Store(ctx, record("s", base.Add(time.Hour), "late"))
	require.NoError(t, err)
	_, err = a.Store(ctx, record("s", base, "early"))
	require.NoError(t, err)

	got, err := a.GetLatest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "late", got[0].Data)
	assert.Equal(t, "early", got[1].Data)
}

func TestMemoryAdapter_SearchIsMembershipSafe(t *testing.T) {
	a := setupMemoryAdapter(t, 100)
	ctx := context.Background()

	_, err := a.Store(ctx, record("boiler-7", base, map[string]any{"temperature": 81.2}))
	require.NoError(t, err)
	_, err = a.Store(ctx, &models.StorageRecord{
		SourceID:  "pump-2",
		Timestamp: base,
		Data:      map[string]any{"flow": 3},
		Metadata:  map[string]any{"site": "north-boiler-room"},
	})
	require.NoError(t, err)
	_, err = a.Store(ctx, record("valve-1", base, map[string]any{"open": true}))
	require.NoError(t, err)

	found, err := a.Search(ctx, "boiler")
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, rec := range found {
		assert.True(t, matchesText(rec, "boiler"))
	}

	found, err = a.Search(ctx, "temperature")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "boiler-7", found[0].SourceID)

	found, err = a.Search(ctx, "Boiler")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = a.Search(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryAdapter_NotConnected(t *testing.T) {
	var hooked []string
	a := NewMemoryAdapter(10, Options{
		Logger: zap.NewNop(),
		ErrorHook: func(engine, op string, err error) {
			hooked = append(hooked, engine+"/"+op)
		},
	})
	ctx := context.Background()

	_, err := a.Store(ctx, record("s", base, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotConnected)
	assert.ErrorIs(t, err, models.ErrUnavailable)

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, EngineMemory, storageErr.Engine)
	assert.Equal(t, "store", storageErr.Op)

	_, err = a.Query(ctx, models.QueryOptions{})
	assert.ErrorIs(t, err, models.ErrNotConnected)

	assert.Equal(t, []string{"memory/store", "memory/query"}, hooked)

	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Connected)
	assert.Equal(t, int64(2), stats.TotalErrors)
	assert.NotEmpty(t, stats.LastError)
	assert.Nil(t, stats.Storage)

	health := a.HealthCheck(ctx)
	assert.Equal(t, models.HealthStatusDisconnected, health.Status)
}

func TestMemoryAdapter_InvalidCapacity(t *testing.T) {
	a := NewMemoryAdapter(0, Options{Logger: zap.NewNop()})
	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.NotErrorIs(t, err, models.ErrUnavailable)
	assert.False(t, a.Connected())
}

func TestMemoryAdapter_StatsAndHealth(t *testing.T) {
	a := setupMemoryAdapter(t, 10)
	ctx := context.Background()

	_, err := a.Store(ctx, record("s", base, 1))
	require.NoError(t, err)
	_, err = a.GetLatest(ctx, 1)
	require.NoError(t, err)

	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, stats.Engine)
	assert.True(t, stats.Connected)
	assert.Equal(t, int64(1), stats.TotalWrites)
	assert.Equal(t, int64(1), stats.TotalReads)
	assert.Equal(t, int64(0), stats.TotalErrors)
	require.NotNil(t, stats.LastWriteAt)

	health := a.HealthCheck(ctx)
	assert.Equal(t, models.HealthStatusHealthy, health.Status)
	assert.Equal(t, EngineMemory, health.Engine)
	assert.Equal(t, 1, health.Details["records"])

	require.NoError(t, a.Disconnect(ctx))
	assert.Equal(t, models.HealthStatusDisconnected, a.HealthCheck(ctx).Status)
}

func TestMemoryAdapter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	a := NewMemoryAdapter(10, Options{Logger: zap.NewNop(), Metrics: metrics})
	ctx := context.Background()

	_, err = a.Store(ctx, record("s", base, 1))
	require.Error(t, err)

	require.NoError(t, a.Connect(ctx))
	for i := 0; i < 3; i++ {
		_, err = a.Store(ctx, record("s", base, i))
		require.NoError(t, err)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.operations.WithLabelValues(EngineMemory, "store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errors.WithLabelValues(EngineMemory, "store")))

	again, err := NewMetrics(reg)
	require.NoError(t, err)
	assert.Same(t, metrics.operations, again.operations)
}

func TestMemoryAdapter_ConcurrentStores(t *testing.T) {
	a := setupMemoryAdapter(t, 1000)
	ctx := context.Background()

	done := make(chan error)
	for w := 0; w < 8; w++ {
		go func(w int) {
			for i := 0; i < 50; i++ {
				if _, err := a.Store(ctx, record(fmt.Sprintf("w%d", w), base, i)); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(w)
	}
	for w := 0; w < 8; w++ {
		require.NoError(t, <-done)
	}

	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(400), stats.TotalWrites)
	assert.Equal(t, 400, stats.Storage["records"])
}
