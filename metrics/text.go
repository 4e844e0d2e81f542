package metrics

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// WriteText dumps every metric in the registry to w in Prometheus text
// exposition format. Metric names have dots and dashes replaced with
// underscores and are prefixed with namespace when it is non-empty. Output
// is sorted by name.
func (r *Registry) WriteText(w io.Writer, namespace string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range sortedKeys(r.counters) {
		pn := promName(namespace, name)
		writeHeader(&b, pn, "counter", name)
		fmt.Fprintf(&b, "%s %d\n", pn, r.counters[name].Value())
	}
	for _, name := range sortedKeys(r.gauges) {
		pn := promName(namespace, name)
		writeHeader(&b, pn, "gauge", name)
		fmt.Fprintf(&b, "%s %d\n", pn, r.gauges[name].Value())
	}
	// Histograms: emit _count, _sum, _min, _max, _mean.
	for _, name := range sortedKeys(r.histograms) {
		s := r.histograms[name].Snapshot()
		pn := promName(namespace, name)
		writeHeader(&b, pn, "summary", name)
		fmt.Fprintf(&b, "%s_count %d\n", pn, s.Count)
		fmt.Fprintf(&b, "%s_sum %s\n", pn, formatFloat(s.Sum))
		if s.Count > 0 {
			fmt.Fprintf(&b, "%s_min %s\n", pn, formatFloat(s.Min))
			fmt.Fprintf(&b, "%s_max %s\n", pn, formatFloat(s.Max))
			fmt.Fprintf(&b, "%s_mean %s\n", pn, formatFloat(s.Mean()))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// promName converts a dot-separated metric name to Prometheus format.
func promName(namespace, name string) string {
	sanitized := strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(name)
	if namespace != "" {
		return namespace + "_" + sanitized
	}
	return sanitized
}

// formatFloat formats a float64 for Prometheus output, handling special values.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

func writeHeader(b *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)
}
