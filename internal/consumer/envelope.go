package consumer

import (
	"encoding/json"
	"fmt"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

// Envelope Stream 消息 data 字段中的采集信封
type Envelope struct {
	Protocol   string          `json:"protocol"`
	SourceData any             `json:"source_data"`
	Context    EnvelopeContext `json:"context"`
}

// EnvelopeContext 映射提示，对应 transformer.MapContext
type EnvelopeContext struct {
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Host       string `json:"host,omitempty"`
	UnitID     string `json:"unitId,omitempty"`
	SourceID   string `json:"sourceId,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// MapContext 转成映射上下文，无法解析的时间戳忽略
func (c EnvelopeContext) MapContext() transformer.MapContext {
	return transformer.MapContext{
		DeviceID:   c.DeviceID,
		DeviceType: c.DeviceType,
		Topic:      c.Topic,
		Endpoint:   c.Endpoint,
		Host:       c.Host,
		UnitID:     c.UnitID,
		SourceID:   c.SourceID,
		Timestamp:  models.ParseTimestamp(c.Timestamp),
	}
}

// NewEnvelope 构造信封，mctx.Timestamp 为零值时不写时间戳
func NewEnvelope(protocol transformer.Protocol, sourceData any, mctx transformer.MapContext) Envelope {
	env := Envelope{
		Protocol:   string(protocol),
		SourceData: sourceData,
		Context: EnvelopeContext{
			DeviceID:   mctx.DeviceID,
			DeviceType: mctx.DeviceType,
			Topic:      mctx.Topic,
			Endpoint:   mctx.Endpoint,
			Host:       mctx.Host,
			UnitID:     mctx.UnitID,
			SourceID:   mctx.SourceID,
		},
	}
	if !mctx.Timestamp.IsZero() {
		env.Context.Timestamp = models.FormatTimestamp(mctx.Timestamp)
	}
	return env
}

// ParseEnvelope 从 Stream 消息字段解析信封（data 字段为 JSON 字符串）
func ParseEnvelope(values map[string]interface{}) (*Envelope, transformer.Protocol, error) {
	raw, ok := values["data"]
	if !ok {
		return nil, "", models.NewValidationError("data", "missing data field")
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, "", models.NewValidationError("data", fmt.Sprintf("unexpected type %T", raw))
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", models.NewValidationError("data", fmt.Sprintf("invalid JSON: %v", err))
	}

	protocol, err := transformer.ParseProtocol(env.Protocol)
	if err != nil || protocol == transformer.ProtocolAny {
		return nil, "", models.NewValidationError("protocol", fmt.Sprintf("unsupported protocol %q", env.Protocol))
	}
	if env.SourceData == nil {
		return nil, "", models.NewValidationError("source_data", "missing source data")
	}
	return &env, protocol, nil
}
