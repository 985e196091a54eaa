package models

// Entity 旧版实体（entity/relationship schema）
// 仅用于向后兼容的导入，通过 datamodel 的单向适配转换为 Device
type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Relationship 旧版关系
// Source/Target 只按 id 引用实体，不做存在性校验（允许悬空引用）
type Relationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AttributeValue 拆分旧版属性的 value-with-shape
// {"value": v, ...shape} 返回 v 和其余字段；裸值原样返回
func AttributeValue(attr any) (any, map[string]any) {
	shape, ok := attr.(map[string]any)
	if !ok {
		return attr, nil
	}
	value, hasValue := shape["value"]
	if !hasValue {
		return shape, nil
	}
	var rest map[string]any
	for k, v := range shape {
		if k == "value" {
			continue
		}
		if rest == nil {
			rest = make(map[string]any)
		}
		rest[k] = v
	}
	return value, rest
}
