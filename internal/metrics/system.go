package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemReporter periodically samples resource usage (system-wide CPU,
// this process's heap and goroutines) and exposes it as Prometheus
// gauges. Grounded on
// go-server/internal/metrics/system.go's SystemMetrics (gopsutil CPU
// sampling with exponential smoothing, runtime.MemStats for heap).
type SystemReporter struct {
	cpuPercent prometheus.Gauge
	heapBytes  prometheus.Gauge
	goroutines prometheus.Gauge

	smoothed float64
}

// NewSystemReporter registers the system gauges.
func NewSystemReporter() *SystemReporter {
	return &SystemReporter{
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hub_process_cpu_percent",
			Help: "Smoothed system-wide CPU usage percentage.",
		}),
		heapBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hub_process_heap_bytes",
			Help: "Current heap allocation in bytes.",
		}),
		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hub_process_goroutines",
			Help: "Current goroutine count.",
		}),
	}
}

// Run samples every interval until ctx is canceled.
func (r *SystemReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

func (r *SystemReporter) sample() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		const alpha = 0.3
		if r.smoothed == 0 {
			r.smoothed = percents[0]
		} else {
			r.smoothed = alpha*percents[0] + (1-alpha)*r.smoothed
		}
		r.cpuPercent.Set(r.smoothed)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.heapBytes.Set(float64(mem.HeapAlloc))
	r.goroutines.Set(float64(runtime.NumGoroutine()))
}
