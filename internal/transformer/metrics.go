package transformer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/metrics"
)

// Metrics 映射层的 Prometheus 指标
type Metrics struct {
	payloads          *prometheus.CounterVec // protocol, result
	transformFailures *prometheus.CounterVec // protocol, transform
}

// NewMetrics 创建并注册映射层指标，registerer 为 nil 时只创建不注册
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udc",
			Subsystem: "transformer",
			Name:      "payloads_total",
			Help:      "Total number of source payloads handled by mappers",
		}, []string{"protocol", "result"}), // result: mapped, invalid, empty

		transformFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "udc",
			Subsystem: "transformer",
			Name:      "transform_failures_total",
			Help:      "Total number of attribute transforms that failed and passed the original value through",
		}, []string{"protocol", "transform"}),
	}

	var err error
	if m.payloads, err = metrics.RegisterCounterVec(registerer, m.payloads); err != nil {
		return nil, err
	}
	if m.transformFailures, err = metrics.RegisterCounterVec(registerer, m.transformFailures); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordPayload(protocol Protocol, result string) {
	if m == nil {
		return
	}
	m.payloads.WithLabelValues(string(protocol), result).Inc()
}

func (m *Metrics) recordTransformFailure(protocol Protocol, transform string) {
	if m == nil {
		return
	}
	m.transformFailures.WithLabelValues(string(protocol), transform).Inc()
}
