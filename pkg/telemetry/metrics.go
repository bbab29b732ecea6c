package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names
const (
	MetricOrdersPlacedTotal  = "gateway_orders_placed_total"
	MetricOrdersFilledTotal  = "gateway_orders_filled_total"
	MetricOrdersFailedTotal  = "gateway_orders_failed_total"
	MetricOrderRetriesTotal  = "gateway_order_retries_total"
	MetricOrdersDuplicate    = "gateway_orders_duplicate_total"
	MetricOrdersActive       = "gateway_orders_active"
	MetricCircuitBreakerOpen = "gateway_circuit_breaker_open"
	MetricExecutionLatency   = "gateway_execution_latency_ms"
	MetricVolumeTotal        = "gateway_volume_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal  metric.Int64Counter
	OrdersFilledTotal  metric.Int64Counter
	OrdersFailedTotal  metric.Int64Counter
	OrderRetriesTotal  metric.Int64Counter
	OrdersDuplicate    metric.Int64Counter
	OrdersActive       metric.Int64ObservableGauge
	CircuitBreakerOpen metric.Int64ObservableGauge
	ExecutionLatency   metric.Float64Histogram
	VolumeTotal        metric.Float64Counter

	// State for observable gauges
	mu              sync.RWMutex
	activeOrdersMap map[string]int64
	cbOpenMap       map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments start
// as no-ops so components constructed before Setup can record safely; Setup
// re-initializes them against the real meter.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap: make(map[string]int64),
			cbOpenMap:       make(map[string]int64),
		}
		_ = globalMetrics.InitMetrics(noop.NewMeterProvider().Meter("execution_gateway"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to venues"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders fully filled"))
	if err != nil {
		return err
	}

	m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal, metric.WithDescription("Total orders that exhausted execution"))
	if err != nil {
		return err
	}

	m.OrderRetriesTotal, err = meter.Int64Counter(MetricOrderRetriesTotal, metric.WithDescription("Total placement retry attempts"))
	if err != nil {
		return err
	}

	m.OrdersDuplicate, err = meter.Int64Counter(MetricOrdersDuplicate, metric.WithDescription("Total duplicate submissions answered from the dedup index"))
	if err != nil {
		return err
	}

	m.VolumeTotal, err = meter.Float64Counter(MetricVolumeTotal, metric.WithDescription("Total filled volume in base asset"))
	if err != nil {
		return err
	}

	m.ExecutionLatency, err = meter.Float64Histogram(MetricExecutionLatency, metric.WithDescription("End-to-end order execution latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently tracked non-terminal orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitBreakerOpen, err = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for venue, val := range m.cbOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("venue", venue)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetCircuitBreakerOpen(venue string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[venue] = val
}

func (m *MetricsHolder) SetActiveOrders(venue string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[venue] = count
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}
