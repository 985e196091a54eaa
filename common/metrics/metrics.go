package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterCounterVec 注册计数器；reg 为 nil 时只返回 c，已注册时复用已有的 collector
func RegisterCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}
