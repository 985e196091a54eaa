package transformer

import (
	"sort"
	"sync"
)

// DiscoveryCache 映射器实例私有的发现缓存
// 生命周期与映射器实例一致，Clear 之后重新开始累积；不是全局单例
type DiscoveryCache struct {
	mu      sync.RWMutex
	devices map[string]DeviceDescription
}

// NewDiscoveryCache 创建发现缓存
func NewDiscoveryCache() *DiscoveryCache {
	return &DiscoveryCache{devices: make(map[string]DeviceDescription)}
}

// Put 记录（覆盖）一个设备描述
func (c *DiscoveryCache) Put(desc DeviceDescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[desc.DeviceID] = desc
}

// Get 按设备 id 获取描述
func (c *DiscoveryCache) Get(deviceID string) (DeviceDescription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc, ok := c.devices[deviceID]
	return desc, ok
}

// List 按设备 id 排序返回所有描述
func (c *DiscoveryCache) List() []DeviceDescription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DeviceDescription, 0, len(c.devices))
	for _, desc := range c.devices {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len 缓存中的设备数
func (c *DiscoveryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}

// Clear 清空缓存，返回清除的条目数
func (c *DiscoveryCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.devices)
	c.devices = make(map[string]DeviceDescription)
	return n
}
