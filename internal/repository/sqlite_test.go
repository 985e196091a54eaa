package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

func setupSQLiteAdapter(t *testing.T) *StorageAdapter {
	name := regexp.MustCompile(`[^A-Za-z0-9]`).ReplaceAllString(t.Name(), "_")
	cfg := &config.SQLiteConfig{
		Path:     "file:" + name + "?mode=memory&cache=shared",
		MaxConns: 1,
	}
	adapter := NewSQLiteAdapter(cfg, Options{Logger: zap.NewNop()})
	require.NoError(t, adapter.Connect(context.Background()))
	t.Cleanup(func() { adapter.Disconnect(context.Background()) })
	return adapter
}

func TestSQLiteAdapter_StoreThenGetLatest(t *testing.T) {
	adapter := setupSQLiteAdapter(t)
	ctx := context.Background()

	id, err := adapter.Store(ctx, &models.StorageRecord{
		SourceID:   "press-1",
		SourceType: "device",
		Timestamp:  base,
		Data:       map[string]any{"pressure": 2.5},
		Quality:    map[string]any{"complete": true},
	})
	require.NoError(t, err)

	latest, err := adapter.GetLatest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, id, latest[0].ID)
	assert.True(t, latest[0].Timestamp.Equal(base))
	assert.Equal(t, map[string]any{"pressure": 2.5}, latest[0].Data)
	assert.Equal(t, map[string]any{"complete": true}, latest[0].Quality)
	assert.Nil(t, latest[0].Metadata)

	n, err := adapter.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	latest, err = adapter.GetLatest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestSQLiteAdapter_QueryFilters(t *testing.T) {
	adapter := setupSQLiteAdapter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := adapter.Store(ctx, record("a", base.Add(time.Duration(i)*time.Hour), i))
		require.NoError(t, err)
		_, err = adapter.Store(ctx, record("b", base.Add(time.Duration(i)*time.Hour), i))
		require.NoError(t, err)
	}

	bySource, err := adapter.GetBySource(ctx, "a", 3)
	require.NoError(t, err)
	require.Len(t, bySource, 3)
	assert.Equal(t, 3.0, bySource[0].Data)
	assert.Equal(t, 1.0, bySource[2].Data)

	inRange, err := adapter.GetByTimeRange(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, inRange, 4)
}

func TestSQLiteAdapter_SearchIsMembershipSafe(t *testing.T) {
	adapter := setupSQLiteAdapter(t)
	ctx := context.Background()

	_, err := adapter.Store(ctx, record("boiler-7", base, map[string]any{"temperature": 81.2}))
	require.NoError(t, err)
	_, err = adapter.Store(ctx, record("BOILER-8", base, map[string]any{"temperature": 79.0}))
	require.NoError(t, err)
	_, err = adapter.Store(ctx, record("tank_1", base, map[string]any{"level": 0.4}))
	require.NoError(t, err)

	// LIKE 对 ASCII 不区分大小写，BOILER-8 由公共过滤剔除
	found, err := adapter.Search(ctx, "boiler")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "boiler-7", found[0].SourceID)

	// _ 按字面匹配
	found, err = adapter.Search(ctx, "k_1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "tank_1", found[0].SourceID)
}

func TestSQLiteAdapter_Stats(t *testing.T) {
	adapter := setupSQLiteAdapter(t)
	ctx := context.Background()

	_, err := adapter.Store(ctx, record("a", base, 1))
	require.NoError(t, err)

	stats, err := adapter.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, EngineSQLite, stats.Engine)
	assert.Equal(t, int64(1), stats.Storage["records"])
	assert.Equal(t, RecordsTable, stats.Storage["table"])

	health := adapter.HealthCheck(ctx)
	assert.Equal(t, models.HealthStatusHealthy, health.Status)
}

func TestSQLiteAdapter_RequiresPath(t *testing.T) {
	adapter := NewSQLiteAdapter(&config.SQLiteConfig{}, Options{Logger: zap.NewNop()})
	err := adapter.Connect(context.Background())
	assert.ErrorIs(t, err, models.ErrValidation)
}
