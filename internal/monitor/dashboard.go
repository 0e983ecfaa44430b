package monitor

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSampleInterval = 30 * time.Second
	defaultRetention      = 24 * time.Hour
	defaultMaxSamples     = 2880
	recentMetricsLimit    = 10
	activeAlertsLimit     = 5
)

// SystemStatus is the overall health derived from threshold breaches.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusWarning  SystemStatus = "warning"
	StatusCritical SystemStatus = "critical"
)

func (s SystemStatus) rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	default:
		return 0
	}
}

// DashboardConfig controls sampling and health thresholds.
type DashboardConfig struct {
	Interval        time.Duration
	Retention       time.Duration
	MaxSamples      int
	QueueThreshold  int
	MemoryThreshold float64
	CPUThreshold    float64
	AlertThreshold  int
}

// DefaultDashboardConfig returns the stock dashboard settings.
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		Interval:        defaultSampleInterval,
		Retention:       defaultRetention,
		MaxSamples:      defaultMaxSamples,
		QueueThreshold:  1000,
		MemoryThreshold: 90,
		CPUThreshold:    90,
		AlertThreshold:  10,
	}
}

// Sample is one dashboard snapshot.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	ActiveSessions int       `json:"active_sessions"`
	QueueDepth     int       `json:"log_queue_size"`
	AlertCount     int       `json:"alerts_count"`
	MemoryPercent  *float64  `json:"memory_usage,omitempty"`
	CPUPercent     *float64  `json:"cpu_usage,omitempty"`
	Status         string    `json:"system_status"`
	Breaches       []string  `json:"breaches,omitempty"`
}

// DashboardData is the view rendered by status surfaces.
type DashboardData struct {
	SystemStatus  SystemStatus `json:"system_status"`
	CurrentTime   time.Time    `json:"current_time"`
	RecentMetrics []Sample     `json:"recent_metrics"`
	ActiveAlerts  []Alert      `json:"active_alerts"`
	Stats         Stats        `json:"stats"`
}

// Dashboard samples monitor and host state on its own ticker, independent of the
// log consumer.
type Dashboard struct {
	cfg      DashboardConfig
	monitor  *Monitor
	sessions func() int
	probe    HostProbe

	now func() time.Time

	mu      sync.RWMutex
	samples []Sample
	stopCh  chan struct{}
	stopped chan struct{}
	running bool
}

// NewDashboard creates a sampler. sessions reports the active-session count and probe
// may be nil when host metrics are unavailable.
func NewDashboard(cfg DashboardConfig, m *Monitor, sessions func() int, probe HostProbe) *Dashboard {
	def := DefaultDashboardConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.QueueThreshold <= 0 {
		cfg.QueueThreshold = def.QueueThreshold
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = def.MemoryThreshold
	}
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = def.CPUThreshold
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = def.AlertThreshold
	}
	return &Dashboard{
		cfg:      cfg,
		monitor:  m,
		sessions: sessions,
		probe:    probe,
		now:      time.Now,
	}
}

// Start launches the sampling loop.
func (d *Dashboard) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.stopCh = make(chan struct{})
	d.stopped = make(chan struct{})
	d.running = true
	go d.loop(d.stopCh, d.stopped)
	slog.Info("monitoring dashboard started", "interval", d.cfg.Interval.String())
}

// Stop halts the sampling loop.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stopCh := d.stopCh
	stopped := d.stopped
	d.running = false
	d.stopCh = nil
	d.stopped = nil
	d.mu.Unlock()

	close(stopCh)
	<-stopped
	slog.Info("monitoring dashboard stopped")
}

func (d *Dashboard) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			d.Collect()
		}
	}
}

// Collect takes one sample and prunes samples past retention or the cap.
func (d *Dashboard) Collect() Sample {
	now := d.now()
	s := Sample{Timestamp: now.UTC()}
	if d.sessions != nil {
		s.ActiveSessions = d.sessions()
	}
	if d.monitor != nil {
		s.QueueDepth = d.monitor.QueueDepth()
		s.AlertCount = d.monitor.AlertsSince(now.Add(-d.cfg.Retention))
	}
	if d.probe != nil {
		host := d.probe.Sample()
		if host.HasMemory {
			v := host.MemoryPercent
			s.MemoryPercent = &v
		}
		if host.HasCPU {
			v := host.CPUPercent
			s.CPUPercent = &v
		}
	}
	s.Breaches = d.breaches(s)
	status := statusFor(len(s.Breaches))
	s.Status = string(status)

	d.mu.Lock()
	d.samples = append(d.samples, s)
	cutoff := now.Add(-d.cfg.Retention)
	drop := 0
	for drop < len(d.samples) && d.samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(d.samples) - drop - d.cfg.MaxSamples; over > 0 {
		drop += over
	}
	if drop > 0 {
		d.samples = append([]Sample(nil), d.samples[drop:]...)
	}
	d.mu.Unlock()

	if d.monitor != nil {
		d.monitor.setSystemStatus(status)
	}
	if status != StatusHealthy {
		slog.Warn("system health degraded", "status", status, "breaches", s.Breaches)
	}
	return s
}

func (d *Dashboard) breaches(s Sample) []string {
	var out []string
	if s.QueueDepth > d.cfg.QueueThreshold {
		out = append(out, "log_queue_size")
	}
	if s.MemoryPercent != nil && *s.MemoryPercent > d.cfg.MemoryThreshold {
		out = append(out, "memory_usage")
	}
	if s.CPUPercent != nil && *s.CPUPercent > d.cfg.CPUThreshold {
		out = append(out, "cpu_usage")
	}
	if s.AlertCount > d.cfg.AlertThreshold {
		out = append(out, "alerts_count")
	}
	return out
}

func statusFor(breaches int) SystemStatus {
	switch {
	case breaches == 0:
		return StatusHealthy
	case breaches == 1:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// Samples returns the retained samples, oldest first.
func (d *Dashboard) Samples() []Sample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Sample(nil), d.samples...)
}

// Status returns the status of the latest sample, sampling once if none exists yet.
func (d *Dashboard) Status() SystemStatus {
	d.mu.RLock()
	n := len(d.samples)
	var last Sample
	if n > 0 {
		last = d.samples[n-1]
	}
	d.mu.RUnlock()
	if n == 0 {
		last = d.Collect()
	}
	return SystemStatus(last.Status)
}

// Data returns the dashboard view with the newest samples and alerts.
func (d *Dashboard) Data() DashboardData {
	status := d.Status()
	samples := d.Samples()
	if len(samples) > recentMetricsLimit {
		samples = samples[len(samples)-recentMetricsLimit:]
	}
	data := DashboardData{
		SystemStatus:  status,
		CurrentTime:   d.now().UTC(),
		RecentMetrics: samples,
		ActiveAlerts:  []Alert{},
	}
	if d.monitor != nil {
		data.ActiveAlerts = d.monitor.RecentAlerts(activeAlertsLimit)
		data.Stats = d.monitor.Stats()
	}
	return data
}
