package repository

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/metrics"
)

// Metrics 存储层 prometheus 指标
type Metrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// NewMetrics 创建并注册存储指标；reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	operations, err := metrics.RegisterCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "udc",
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Storage operations by engine and operation.",
	}, []string{"engine", "op"}))
	if err != nil {
		return nil, err
	}

	errs, err := metrics.RegisterCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "udc",
		Subsystem: "storage",
		Name:      "errors_total",
		Help:      "Failed storage operations by engine and operation.",
	}, []string{"engine", "op"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{operations: operations, errors: errs}, nil
}

func (m *Metrics) recordOperation(engine, op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(engine, op).Inc()
}

func (m *Metrics) recordError(engine, op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(engine, op).Inc()
}
