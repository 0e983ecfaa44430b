package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MEKXH/warden/internal/audit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultQueueSize    = 10000
	defaultRecentAlerts = 1000
	flushPollInterval   = 5 * time.Millisecond
)

// Config controls the logging monitor.
type Config struct {
	QueueSize     int
	SlowExecution time.Duration
	RecentAlerts  int
	// Rules replaces DefaultRules when non-nil.
	Rules []AlertRule
}

// Stats is a point-in-time view of the monitor counters.
type Stats struct {
	QueueDepth int              `json:"queue_depth"`
	Processed  int64            `json:"processed"`
	Dropped    int64            `json:"dropped"`
	AlertCount int64            `json:"alert_count"`
	ByType     map[string]int64 `json:"by_type"`
}

// Monitor is the asynchronous audit sink. LogEvent never blocks: events go to a bounded
// queue drained by a single consumer goroutine. When the queue is full the oldest queued
// event is dropped and counted.
type Monitor struct {
	cfg     Config
	journal *audit.Journal
	rules   []AlertRule
	metrics *collectors
	now     func() time.Time

	queue   chan Event
	pending atomic.Int64

	mu           sync.Mutex
	processed    int64
	dropped      int64
	alertCount   int64
	byType       map[string]int64
	recentAlerts []Alert
	stopCh       chan struct{}
	stopped      chan struct{}
	running      bool
}

// New creates a monitor persisting to journal. A nil journal keeps events in memory only.
// Collectors are registered on reg when it is non-nil.
func New(cfg Config, journal *audit.Journal, reg prometheus.Registerer) (*Monitor, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RecentAlerts <= 0 {
		cfg.RecentAlerts = defaultRecentAlerts
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules(cfg.SlowExecution)
	}
	metrics, err := newCollectors(reg)
	if err != nil {
		return nil, fmt.Errorf("register monitor collectors: %w", err)
	}
	return &Monitor{
		cfg:     cfg,
		journal: journal,
		rules:   rules,
		metrics: metrics,
		now:     time.Now,
		queue:   make(chan Event, cfg.QueueSize),
		byType:  make(map[string]int64),
	}, nil
}

// LogEvent enqueues an event and returns it. It never waits on the consumer.
func (m *Monitor) LogEvent(eventType, agentType, sessionID string, data map[string]any, level Severity) Event {
	payload := make(map[string]any, len(data))
	maps.Copy(payload, data)
	ev := Event{
		Timestamp: m.now().UTC(),
		ID:        uuid.NewString(),
		Type:      eventType,
		AgentType: agentType,
		SessionID: sessionID,
		Level:     level,
		Data:      payload,
		Category:  CategoryOf(eventType),
	}
	m.enqueue(ev)
	return ev
}

func (m *Monitor) enqueue(ev Event) {
	m.pending.Add(1)
	for {
		select {
		case m.queue <- ev:
			m.metrics.queueDepth.Set(float64(len(m.queue)))
			return
		default:
		}
		select {
		case old := <-m.queue:
			m.pending.Add(-1)
			m.mu.Lock()
			m.dropped++
			m.mu.Unlock()
			m.metrics.dropped.Inc()
			slog.Warn("log queue full, dropped oldest event", "event_type", old.Type, "session_id", old.SessionID)
		default:
		}
	}
}

// IsRunning reports whether the consumer goroutine is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start launches the consumer goroutine.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.stopCh = make(chan struct{})
	m.stopped = make(chan struct{})
	m.running = true
	go m.consume(m.stopCh, m.stopped)
	slog.Info("logging monitor started", "queue_size", m.cfg.QueueSize)
}

// Stop drains the queue and halts the consumer.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	stopped := m.stopped
	m.running = false
	m.stopCh = nil
	m.stopped = nil
	m.mu.Unlock()

	close(stopCh)
	<-stopped
	slog.Info("logging monitor stopped")
}

// Flush waits until every event enqueued so far has been consumed.
func (m *Monitor) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for m.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (m *Monitor) consume(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case ev := <-m.queue:
			m.handle(ev)
		case <-stopCh:
			for {
				select {
				case ev := <-m.queue:
					m.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) handle(ev Event) {
	defer m.pending.Add(-1)

	if m.journal != nil {
		if err := m.journal.Append(audit.SessionStream(ev.SessionID), ev); err != nil {
			m.metrics.writeErrors.Inc()
			slog.Error("failed to persist audit event", "event_id", ev.ID, "error", err)
		}
	}
	mirror(ev)

	var raised []Alert
	for _, alertType := range Evaluate(m.rules, ev) {
		alert := Alert{
			ID:        uuid.NewString(),
			Timestamp: m.now().UTC(),
			Type:      alertType,
			Event:     ev,
			Status:    AlertActive,
		}
		if m.journal != nil {
			if err := m.journal.Append(audit.StreamAlerts, alert); err != nil {
				m.metrics.writeErrors.Inc()
				slog.Error("failed to persist alert", "alert_id", alert.ID, "error", err)
			}
		}
		m.metrics.alerts.WithLabelValues(alertType).Inc()
		slog.Warn("alert raised", "alert_type", alertType, "event_type", ev.Type, "session_id", ev.SessionID)
		raised = append(raised, alert)
	}

	m.metrics.events.WithLabelValues(ev.Type, ev.Level.String()).Inc()
	m.metrics.queueDepth.Set(float64(len(m.queue)))

	m.mu.Lock()
	m.processed++
	m.byType[ev.Type]++
	m.alertCount += int64(len(raised))
	m.recentAlerts = append(m.recentAlerts, raised...)
	if over := len(m.recentAlerts) - m.cfg.RecentAlerts; over > 0 {
		m.recentAlerts = append([]Alert(nil), m.recentAlerts[over:]...)
	}
	m.mu.Unlock()
}

func mirror(ev Event) {
	attrs := []any{"event_type", ev.Type, "agent_type", ev.AgentType, "session_id", ev.SessionID}
	switch {
	case ev.Level >= SeverityError:
		slog.Error("audit event", attrs...)
	case ev.Level == SeverityWarning:
		slog.Warn("audit event", attrs...)
	case ev.Level == SeverityInfo:
		slog.Info("audit event", attrs...)
	default:
		slog.Debug("audit event", attrs...)
	}
}

// QueueDepth returns the number of events waiting for the consumer.
func (m *Monitor) QueueDepth() int {
	return len(m.queue)
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		QueueDepth: len(m.queue),
		Processed:  m.processed,
		Dropped:    m.dropped,
		AlertCount: m.alertCount,
		ByType:     maps.Clone(m.byType),
	}
}

// RecentAlerts returns up to n of the newest alerts, oldest first.
func (m *Monitor) RecentAlerts(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if n > 0 && len(m.recentAlerts) > n {
		start = len(m.recentAlerts) - n
	}
	return append([]Alert{}, m.recentAlerts[start:]...)
}

// AlertsSince counts alerts raised at or after t.
func (m *Monitor) AlertsSince(t time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := len(m.recentAlerts) - 1; i >= 0; i-- {
		if m.recentAlerts[i].Timestamp.Before(t) {
			break
		}
		count++
	}
	return count
}

// SessionEvents reads the persisted log of one session.
func (m *Monitor) SessionEvents(sessionID string) ([]Event, error) {
	if m.journal == nil {
		return nil, nil
	}
	events, err := audit.ReadAll[Event](m.journal, audit.SessionStream(sessionID))
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Category = CategoryOf(events[i].Type)
	}
	return events, nil
}

// Alerts reads every persisted alert.
func (m *Monitor) Alerts() ([]Alert, error) {
	if m.journal == nil {
		return nil, nil
	}
	return audit.ReadAll[Alert](m.journal, audit.StreamAlerts)
}

func (m *Monitor) setSystemStatus(s SystemStatus) {
	m.metrics.systemStatus.Set(float64(s.rank()))
}
