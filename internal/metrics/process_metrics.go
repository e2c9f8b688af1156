package metrics

import (
	"log/slog"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/taskmaster/internal/process"
)

// Resources is a point-in-time resource sample for one pid.
type Resources struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	MemoryVMS  uint64  `json:"memory_vms"`
	NumThreads int32   `json:"num_threads"`
	NumFDs     int32   `json:"num_fds,omitempty"` // Unix only
}

// Sample reads CPU and memory usage for pid with gopsutil.
func Sample(pid int) (Resources, error) {
	r := Resources{PID: pid}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return r, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return r, err
	}
	r.MemoryRSS = mem.RSS
	r.MemoryVMS = mem.VMS
	if cpu, err := p.CPUPercent(); err == nil {
		r.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		r.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			r.NumFDs = n
		}
	}
	return r, nil
}

// ResourceCollector is a prometheus.Collector that samples every live
// instance at scrape time. It reads the published status snapshot only.
type ResourceCollector struct {
	snapshot func() []process.Status
	logger   *slog.Logger

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
	fds     *prometheus.Desc
}

func NewResourceCollector(snapshot func() []process.Status, logger *slog.Logger) *ResourceCollector {
	if logger == nil {
		logger = slog.Default()
	}
	labels := []string{"program", "index"}
	return &ResourceCollector{
		snapshot: snapshot,
		logger:   logger,
		cpu: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "cpu_percent"),
			"CPU usage percentage of a managed process.", labels, nil),
		rss: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "memory_rss_bytes"),
			"Resident memory of a managed process.", labels, nil),
		threads: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "num_threads"),
			"Number of threads of a managed process.", labels, nil),
		fds: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "num_fds"),
			"Number of open file descriptors of a managed process (Unix only).", labels, nil),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
	ch <- c.fds
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.snapshot() {
		if st.PID <= 0 {
			continue
		}
		r, err := Sample(st.PID)
		if err != nil {
			c.logger.Debug("resource sample failed", "program", st.Name, "pid", st.PID, "error", err)
			continue
		}
		idx := strconv.Itoa(st.Index)
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, r.CPUPercent, st.Name, idx)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(r.MemoryRSS), st.Name, idx)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(r.NumThreads), st.Name, idx)
		if r.NumFDs > 0 {
			ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(r.NumFDs), st.Name, idx)
		}
	}
}
