package monitor

import "github.com/prometheus/client_golang/prometheus"

// collectors are registered on a caller-supplied registry so several monitors can coexist.
type collectors struct {
	events       *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	dropped      prometheus.Counter
	writeErrors  prometheus.Counter
	queueDepth   prometheus.Gauge
	systemStatus prometheus.Gauge
}

func newCollectors(reg prometheus.Registerer) (*collectors, error) {
	c := &collectors{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_events_total",
			Help: "Audit events consumed by the logging monitor",
		}, []string{"type", "level"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_alerts_total",
			Help: "Alerts raised by the logging monitor",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_events_dropped_total",
			Help: "Events dropped because the log queue was full",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_journal_write_errors_total",
			Help: "Failed journal appends",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_log_queue_depth",
			Help: "Events waiting in the log queue",
		}),
		systemStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_system_status",
			Help: "Dashboard status: 0 healthy, 1 warning, 2 critical",
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.events, c.alerts, c.dropped, c.writeErrors, c.queueDepth, c.systemStatus} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}
