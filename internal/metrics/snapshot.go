package metrics

import (
	"fmt"

	dto "github.com/prometheus/client_model/go"
)

// Snapshot flattens the gathered metric families into name{labels} -> value
// pairs for the JSON metrics-summary endpoint.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			out[metricKey(family.GetName(), m)] = metricValue(family.GetType(), m)
		}
	}
	return out, nil
}

func metricKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	key := name + "{"
	for i, l := range labels {
		if i > 0 {
			key += ","
		}
		key += l.GetName() + "=" + l.GetValue()
	}
	return key + "}"
}

func metricValue(typ dto.MetricType, m *dto.Metric) float64 {
	switch typ {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	case dto.MetricType_SUMMARY:
		return float64(m.GetSummary().GetSampleCount())
	default:
		return m.GetUntyped().GetValue()
	}
}
