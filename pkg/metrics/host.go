package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is shared with the /health response
type HostStats = models.HostStats

// ReadHostStats samples CPU, load and memory. Fields that cannot be read
// on this platform are left zero.
func ReadHostStats() HostStats {
	s := HostStats{CPUCount: runtime.NumCPU()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryTotalBytes = vm.Total
		s.MemoryUsedBytes = vm.Used
		s.MemoryPercent = vm.UsedPercent
	}
	return s
}

// HostCollector exports ReadHostStats as gauges
type HostCollector struct {
	cpuPercent *prometheus.Desc
	load1      *prometheus.Desc
	memTotal   *prometheus.Desc
	memUsed    *prometheus.Desc
	read       func() HostStats
}

// NewHostCollector creates a host collector backed by gopsutil
func NewHostCollector() *HostCollector {
	return &HostCollector{
		cpuPercent: prometheus.NewDesc("oracle_host_cpu_percent", "Host CPU utilisation", nil, nil),
		load1:      prometheus.NewDesc("oracle_host_load1", "Host one minute load average", nil, nil),
		memTotal:   prometheus.NewDesc("oracle_host_memory_total_bytes", "Host memory size", nil, nil),
		memUsed:    prometheus.NewDesc("oracle_host_memory_used_bytes", "Host memory in use", nil, nil),
		read:       ReadHostStats,
	}
}

// Describe implements prometheus.Collector
func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuPercent
	ch <- c.load1
	ch <- c.memTotal
	ch <- c.memUsed
}

// Collect implements prometheus.Collector
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.read()
	ch <- prometheus.MustNewConstMetric(c.cpuPercent, prometheus.GaugeValue, s.CPUPercent)
	ch <- prometheus.MustNewConstMetric(c.load1, prometheus.GaugeValue, s.Load1)
	ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.GaugeValue, float64(s.MemoryTotalBytes))
	ch <- prometheus.MustNewConstMetric(c.memUsed, prometheus.GaugeValue, float64(s.MemoryUsedBytes))
}
