package transformer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// Protocol 映射器变体标签
type Protocol string

const (
	ProtocolOPCUA   Protocol = "opcua"   // 节点型遥测
	ProtocolModbus  Protocol = "modbus"  // 寄存器型遥测
	ProtocolMQTT    Protocol = "mqtt"    // topic/payload 遥测
	ProtocolAAS     Protocol = "aas"     // 资产管理壳 submodel
	ProtocolGeneric Protocol = "generic" // 通用 key-value

	// ProtocolAny 规则文件中适用于所有协议的键
	ProtocolAny Protocol = "*"
)

// Protocols 所有已支持的协议
var Protocols = []Protocol{ProtocolOPCUA, ProtocolModbus, ProtocolMQTT, ProtocolAAS, ProtocolGeneric}

// ParseProtocol 解析协议名称（大小写不敏感，允许常见别名）
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opcua", "opc-ua", "opc_ua":
		return ProtocolOPCUA, nil
	case "modbus", "modbus-tcp", "modbus_tcp":
		return ProtocolModbus, nil
	case "mqtt":
		return ProtocolMQTT, nil
	case "aas", "asset-administration-shell":
		return ProtocolAAS, nil
	case "generic", "http", "rest":
		return ProtocolGeneric, nil
	case "*":
		return ProtocolAny, nil
	}
	return "", fmt.Errorf("unknown protocol: %s", s)
}

// MapContext 调用方提供的映射提示
type MapContext struct {
	DeviceID   string    // 显式设备 id，优先级最高
	DeviceType string    // 显式设备类型
	Topic      string    // MQTT topic
	Endpoint   string    // OPC UA endpoint
	Host       string    // Modbus 主机
	UnitID     string    // Modbus unit id
	SourceID   string    // 通用来源标识
	Timestamp  time.Time // 观测时间（可选）
}

// Mapper 映射能力集合：validate / map / discover
type Mapper interface {
	Protocol() Protocol
	Validate(sourceData any) bool
	Map(sourceData any, mctx MapContext) []*models.Device
	Discover(sourceData any, mctx MapContext) []DeviceDescription
}

// MeasurementDescription 发现阶段的测量描述
type MeasurementDescription struct {
	ID       string                 `json:"id"`
	Type     models.MeasurementType `json:"type"`
	Metadata map[string]any         `json:"metadata,omitempty"`
}

// DeviceDescription 设备自动注册用的结构描述，不写入规范模型
type DeviceDescription struct {
	DeviceID     string                   `json:"deviceId"`
	DeviceType   string                   `json:"deviceType"`
	Protocol     Protocol                 `json:"protocol"`
	Measurements []MeasurementDescription `json:"measurements"`
	Metadata     map[string]any           `json:"metadata,omitempty"`
	DiscoveredAt time.Time                `json:"discoveredAt"`
}
