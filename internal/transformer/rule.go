package transformer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// TransformType 值变换类型
type TransformType string

const (
	TransformScale     TransformType = "scale"
	TransformOffset    TransformType = "offset"
	TransformRound     TransformType = "round"
	TransformToString  TransformType = "toString"
	TransformToNumber  TransformType = "toNumber"
	TransformToBoolean TransformType = "toBoolean"
	TransformMap       TransformType = "map"
)

// Transform 值变换定义
type Transform struct {
	Type         TransformType  `json:"type" yaml:"type"`
	Factor       *float64       `json:"factor,omitempty" yaml:"factor,omitempty"`
	OffsetAmount *float64       `json:"offsetAmount,omitempty" yaml:"offsetAmount,omitempty"`
	Decimals     *int           `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Mapping      map[string]any `json:"mapping,omitempty" yaml:"mapping,omitempty"`
}

// MappingRule 单个源属性的映射规则（配置，不是运行时状态）
type MappingRule struct {
	TargetName string     `json:"targetName,omitempty" yaml:"targetName,omitempty"`
	Transform  *Transform `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// RuleSet 源属性名 -> 规则
type RuleSet map[string]MappingRule

// Merge 返回合并后的规则集，override 中的同名规则覆盖 base
func (rs RuleSet) Merge(override RuleSet) RuleSet {
	out := make(RuleSet, len(rs)+len(override))
	for k, v := range rs {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// AttributeResult 规则应用结果
type AttributeResult struct {
	Name  string
	Value any
}

// ApplyTransform 对单个值执行变换（纯函数）
func ApplyTransform(value any, t *Transform) (any, error) {
	if t == nil {
		return value, nil
	}

	switch t.Type {
	case TransformScale:
		f, err := numeric(value)
		if err != nil {
			return nil, err
		}
		factor := 1.0
		if t.Factor != nil {
			factor = *t.Factor
		}
		return f * factor, nil

	case TransformOffset:
		f, err := numeric(value)
		if err != nil {
			return nil, err
		}
		offset := 0.0
		if t.OffsetAmount != nil {
			offset = *t.OffsetAmount
		}
		return f + offset, nil

	case TransformRound:
		f, err := numeric(value)
		if err != nil {
			return nil, err
		}
		decimals := 0
		if t.Decimals != nil {
			decimals = *t.Decimals
		}
		if decimals < 0 {
			return nil, fmt.Errorf("negative decimals: %d", decimals)
		}
		p := math.Pow(10, float64(decimals))
		return math.Floor(f*p+0.5) / p, nil

	case TransformToString:
		return stringify(value), nil

	case TransformToNumber:
		return toNumber(value)

	case TransformToBoolean:
		return toBoolean(value)

	case TransformMap:
		if t.Mapping == nil {
			return nil, fmt.Errorf("map transform without mapping table")
		}
		if mapped, ok := t.Mapping[stringify(value)]; ok {
			return mapped, nil
		}
		return value, nil
	}

	return nil, fmt.Errorf("unknown transform type: %q", t.Type)
}

// RuleEngine 规则引擎：改名 + 值变换
// 变换失败时记录日志和计数，返回原值，单条坏规则不会中断整个载荷的映射
type RuleEngine struct {
	protocol Protocol
	logger   *zap.Logger
	metrics  *Metrics
	failures atomic.Int64
}

// NewRuleEngine 创建规则引擎
func NewRuleEngine(protocol Protocol, logger *zap.Logger, metrics *Metrics) *RuleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleEngine{
		protocol: protocol,
		logger:   logger,
		metrics:  metrics,
	}
}

// Apply 对 (name, value) 应用 rules 中的规则
func (e *RuleEngine) Apply(name string, value any, rules RuleSet) AttributeResult {
	rule, ok := rules[name]
	if !ok {
		return AttributeResult{Name: name, Value: value}
	}
	return e.applyRule(name, value, rule)
}

func (e *RuleEngine) applyRule(name string, value any, rule MappingRule) AttributeResult {
	result := AttributeResult{Name: name, Value: value}
	if rule.TargetName != "" {
		result.Name = rule.TargetName
	}

	transformed, err := e.safeTransform(value, rule.Transform)
	if err != nil {
		e.failures.Add(1)
		transformName := ""
		if rule.Transform != nil {
			transformName = string(rule.Transform.Type)
		}
		e.metrics.recordTransformFailure(e.protocol, transformName)
		e.logger.Warn("Failed to apply transform, keeping original value",
			zap.String("protocol", string(e.protocol)),
			zap.String("attribute", name),
			zap.String("transform", transformName),
			zap.Error(err),
		)
		return result
	}

	result.Value = transformed
	return result
}

func (e *RuleEngine) safeTransform(value any, t *Transform) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return ApplyTransform(value, t)
}

// Failures 变换失败次数
func (e *RuleEngine) Failures() int64 {
	return e.failures.Load()
}

// numeric 将数值型的值转换为 float64
func numeric(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	}
	return 0, fmt.Errorf("cannot use %T as number", v)
}

func toNumber(v any) (any, error) {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", val)
		}
		return f, nil
	case bool:
		if val {
			return 1.0, nil
		}
		return 0.0, nil
	}
	return numeric(v)
}

func toBoolean(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to boolean", val)
		}
		return b, nil
	}
	f, err := numeric(v)
	if err != nil {
		return nil, err
	}
	return f != 0, nil
}

// stringify 值的字符串形式，也用作 map 变换的查找键
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return fmt.Sprint(val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
