package transformer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseRules 解析 YAML 规则配置
//
//	opcua:
//	  "ns=2;s=Temperature":
//	    targetName: temperature
//	    transform: {type: round, decimals: 1}
//	"*":
//	  status:
//	    transform: {type: map, mapping: {"0": "off", "1": "on"}}
func ParseRules(data []byte) (map[Protocol]RuleSet, error) {
	raw := map[string]RuleSet{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mapping rules: %w", err)
	}

	out := make(map[Protocol]RuleSet, len(raw))
	for name, rules := range raw {
		protocol, err := ParseProtocol(name)
		if err != nil {
			return nil, err
		}
		out[protocol] = out[protocol].Merge(rules)
	}
	return out, nil
}

// LoadRulesFile 从文件加载规则，path 为空时返回空配置
func LoadRulesFile(path string) (map[Protocol]RuleSet, error) {
	if path == "" {
		return map[Protocol]RuleSet{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping rules file: %w", err)
	}
	return ParseRules(data)
}
