package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

func setupMockRuleDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RuleRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewRuleRepository(db, logger)

	return db, mock, repo
}

func TestLoadRules_GroupsByProtocol(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"protocol", "source_key", "target_name", "transform"}).
		AddRow("*", "status", nil, `{"type":"map","mapping":{"0":"off","1":"on"}}`).
		AddRow("modbus", "hr_speed", "speed", `{bad json`).
		AddRow("opc-ua", "ns=2;s=Temperature", "temperature", `{"type":"round","decimals":1}`).
		AddRow("opcua", "ns=2;s=Pressure", "pressure", nil).
		AddRow("zigbee", "lux", "illuminance", nil)

	mock.ExpectQuery(`SELECT .* FROM mapping_rules WHERE enabled = TRUE ORDER BY protocol, source_key`).
		WillReturnRows(rows)

	rules, err := repo.LoadRules(context.Background())
	require.NoError(t, err)

	require.Len(t, rules, 2)
	assert.NotContains(t, rules, transformer.ProtocolModbus)

	status := rules[transformer.ProtocolAny]["status"]
	assert.Empty(t, status.TargetName)
	require.NotNil(t, status.Transform)
	assert.Equal(t, transformer.TransformMap, status.Transform.Type)
	assert.Equal(t, "on", status.Transform.Mapping["1"])

	opcua := rules[transformer.ProtocolOPCUA]
	require.Len(t, opcua, 2)
	assert.Equal(t, "temperature", opcua["ns=2;s=Temperature"].TargetName)
	require.NotNil(t, opcua["ns=2;s=Temperature"].Transform.Decimals)
	assert.Equal(t, 1, *opcua["ns=2;s=Temperature"].Transform.Decimals)
	assert.Nil(t, opcua["ns=2;s=Pressure"].Transform)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRule_Success(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("modbus", "hr_100").
		WillReturnRows(sqlmock.NewRows([]string{"target_name", "transform"}).
			AddRow("flow", `{"type":"scale","factor":0.1}`))

	rule, err := repo.GetRule(context.Background(), transformer.ProtocolModbus, "hr_100")
	require.NoError(t, err)
	assert.Equal(t, "flow", rule.TargetName)
	require.NotNil(t, rule.Transform.Factor)
	assert.InDelta(t, 0.1, *rule.Transform.Factor, 1e-9)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRule_NotFound(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("mqtt", "missing").
		WillReturnError(sql.ErrNoRows)

	rule, err := repo.GetRule(context.Background(), transformer.ProtocolMQTT, "missing")
	assert.Error(t, err)
	assert.Nil(t, rule)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRule(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	decimals := 2
	mock.ExpectExec(`INSERT INTO mapping_rules .* ON CONFLICT \(protocol, source_key\) DO UPDATE`).
		WithArgs("aas", "MaxRotationSpeed", "maxRotationSpeed", []byte(`{"type":"round","decimals":2}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveRule(context.Background(), transformer.ProtocolAAS, "MaxRotationSpeed", transformer.MappingRule{
		TargetName: "maxRotationSpeed",
		Transform:  &transformer.Transform{Type: transformer.TransformRound, Decimals: &decimals},
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO mapping_rules`).
		WithArgs("generic", "raw", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveRule(context.Background(), transformer.ProtocolGeneric, "raw", transformer.MappingRule{}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS mapping_rules`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
