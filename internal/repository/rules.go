package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

// RulesTable 映射规则表
const RulesTable = "mapping_rules"

// RuleRepository 映射规则仓库
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository 创建映射规则仓库
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建规则表（可重复执行）
func (r *RuleRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + RulesTable + ` (
			protocol    TEXT NOT NULL,
			source_key  TEXT NOT NULL,
			target_name TEXT,
			transform   JSONB,
			enabled     BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (protocol, source_key)
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create mapping rules table: %w", err)
	}
	return nil
}

// LoadRules 加载全部启用的规则，按协议分组
// 协议名无法识别或 transform 无法解析的行记录警告后跳过
func (r *RuleRepository) LoadRules(ctx context.Context) (map[transformer.Protocol]transformer.RuleSet, error) {
	query := `
		SELECT
			protocol,
			source_key,
			target_name,
			transform
		FROM ` + RulesTable + `
		WHERE enabled = TRUE
		ORDER BY protocol, source_key
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping rules: %w", err)
	}
	defer rows.Close()

	out := make(map[transformer.Protocol]transformer.RuleSet)
	for rows.Next() {
		var (
			protocolName, sourceKey string
			targetName              sql.NullString
			transform               []byte
		)
		if err := rows.Scan(&protocolName, &sourceKey, &targetName, &transform); err != nil {
			return nil, fmt.Errorf("failed to scan mapping rule: %w", err)
		}

		protocol, err := transformer.ParseProtocol(protocolName)
		if err != nil {
			r.logger.Warn("Skipping mapping rule with unknown protocol",
				zap.String("protocol", protocolName),
				zap.String("source_key", sourceKey),
			)
			continue
		}
		rule, err := toMappingRule(targetName, transform)
		if err != nil {
			r.logger.Warn("Skipping malformed mapping rule",
				zap.String("protocol", protocolName),
				zap.String("source_key", sourceKey),
				zap.Error(err),
			)
			continue
		}

		if out[protocol] == nil {
			out[protocol] = transformer.RuleSet{}
		}
		out[protocol][sourceKey] = rule
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mapping rules: %w", err)
	}
	return out, nil
}

// GetRule 获取单条规则
func (r *RuleRepository) GetRule(ctx context.Context, protocol transformer.Protocol, sourceKey string) (*transformer.MappingRule, error) {
	query := `
		SELECT
			target_name,
			transform
		FROM ` + RulesTable + `
		WHERE protocol = $1
		  AND source_key = $2
		  AND enabled = TRUE
		LIMIT 1
	`

	var (
		targetName sql.NullString
		transform  []byte
	)
	err := r.db.QueryRowContext(ctx, query, string(protocol), sourceKey).Scan(&targetName, &transform)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mapping rule not found: protocol=%s, source_key=%s: %w", protocol, sourceKey, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query mapping rule: %w", err)
	}

	rule, err := toMappingRule(targetName, transform)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// SaveRule 写入或覆盖一条规则
func (r *RuleRepository) SaveRule(ctx context.Context, protocol transformer.Protocol, sourceKey string, rule transformer.MappingRule) error {
	var transform any
	if rule.Transform != nil {
		b, err := json.Marshal(rule.Transform)
		if err != nil {
			return fmt.Errorf("failed to encode transform: %w", err)
		}
		transform = b
	}
	var targetName any
	if rule.TargetName != "" {
		targetName = rule.TargetName
	}

	query := `
		INSERT INTO ` + RulesTable + ` (protocol, source_key, target_name, transform, enabled)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (protocol, source_key) DO UPDATE
		SET target_name = EXCLUDED.target_name,
		    transform = EXCLUDED.transform,
		    enabled = TRUE
	`
	if _, err := r.db.ExecContext(ctx, query, string(protocol), sourceKey, targetName, transform); err != nil {
		return fmt.Errorf("failed to save mapping rule: %w", err)
	}
	return nil
}

func toMappingRule(targetName sql.NullString, transform []byte) (transformer.MappingRule, error) {
	rule := transformer.MappingRule{}
	if targetName.Valid {
		rule.TargetName = targetName.String
	}
	if len(transform) > 0 {
		var t transformer.Transform
		if err := json.Unmarshal(transform, &t); err != nil {
			return rule, fmt.Errorf("failed to decode transform: %w", err)
		}
		rule.Transform = &t
	}
	return rule, nil
}
