package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MEKXH/warden/internal/audit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *audit.Journal) {
	t.Helper()
	journal := audit.NewJournal(t.TempDir())
	m, err := New(cfg, journal, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return m, journal
}

func TestMonitor_PersistsEveryEventInProducerOrder(t *testing.T) {
	m, _ := newTestMonitor(t, Config{})
	m.Start()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			session := fmt.Sprintf("session-%d", p)
			for i := 0; i < perProducer; i++ {
				m.LogEvent(EventActionExecuted, "coder", session, map[string]any{"seq": i}, SeverityInfo)
			}
		}(p)
	}
	wg.Wait()
	m.Stop()

	for p := 0; p < producers; p++ {
		events, err := m.SessionEvents(fmt.Sprintf("session-%d", p))
		if err != nil {
			t.Fatalf("SessionEvents error: %v", err)
		}
		if len(events) != perProducer {
			t.Fatalf("producer %d: expected %d records, got %d", p, perProducer, len(events))
		}
		for i, ev := range events {
			seq, _ := ev.Data["seq"].(float64)
			if int(seq) != i {
				t.Fatalf("producer %d: record %d has seq %v", p, i, ev.Data["seq"])
			}
			if ev.Level != SeverityInfo {
				t.Fatalf("unexpected level %s", ev.Level)
			}
		}
	}

	stats := m.Stats()
	if stats.Processed != producers*perProducer {
		t.Fatalf("expected %d processed, got %d", producers*perProducer, stats.Processed)
	}
	if stats.ByType[EventActionExecuted] != producers*perProducer {
		t.Fatalf("unexpected per-type count: %v", stats.ByType)
	}
}

func TestMonitor_DropsOldestWhenFull(t *testing.T) {
	m, _ := newTestMonitor(t, Config{QueueSize: 2})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.LogEvent(EventActionExecuted, "coder", "s1", map[string]any{"seq": i}, SeverityInfo)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LogEvent blocked with no consumer running")
	}

	if got := m.Stats().Dropped; got != 3 {
		t.Fatalf("expected 3 dropped, got %d", got)
	}
	if got := testutil.ToFloat64(m.metrics.dropped); got != 3 {
		t.Fatalf("expected dropped counter 3, got %v", got)
	}

	m.Start()
	m.Stop()
	events, err := m.SessionEvents("s1")
	if err != nil {
		t.Fatalf("SessionEvents error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(events))
	}
	if seq, _ := events[0].Data["seq"].(float64); seq != 3 {
		t.Fatalf("expected oldest surviving seq 3, got %v", events[0].Data["seq"])
	}
}

func TestMonitor_RaisesAlerts(t *testing.T) {
	m, _ := newTestMonitor(t, Config{})
	m.Start()

	m.LogEvent(EventAuthorizationDenied, "web_surfer", "s1", map[string]any{"reason": "insufficient_permissions"}, SeverityWarning)
	m.LogEvent(EventPromptBlocked, "web_surfer", "s1", map[string]any{"threat_level": "high"}, SeverityWarning)
	m.LogEvent(EventActionExecuted, "coder", "s1", nil, SeverityCritical)
	m.LogEvent(EventPerformanceSample, "coder", "s1", map[string]any{"execution_time": 301.0}, SeverityInfo)
	m.LogEvent(EventPerformanceSample, "coder", "s1", map[string]any{"execution_time": 120}, SeverityInfo)
	m.LogEvent(EventActionExecuted, "coder", "s1", nil, SeverityInfo)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	m.Stop()

	alerts, err := m.Alerts()
	if err != nil {
		t.Fatalf("Alerts error: %v", err)
	}
	want := []string{AlertSecurityEvent, AlertCriticalEvent, AlertPerformanceIssue}
	if len(alerts) != len(want) {
		t.Fatalf("expected %d alerts, got %d: %+v", len(want), len(alerts), alerts)
	}
	for i, a := range alerts {
		if a.Type != want[i] {
			t.Fatalf("alert %d: expected %s, got %s", i, want[i], a.Type)
		}
		if a.Status != AlertActive {
			t.Fatalf("alert %d: expected active status", i)
		}
		if a.Event.ID == "" {
			t.Fatalf("alert %d: missing originating event", i)
		}
	}
	if got := m.Stats().AlertCount; got != 3 {
		t.Fatalf("expected alert count 3, got %d", got)
	}
	if recent := m.RecentAlerts(2); len(recent) != 2 || recent[1].Type != AlertPerformanceIssue {
		t.Fatalf("unexpected recent alerts: %+v", recent)
	}
}

func TestEvaluate_RuleTable(t *testing.T) {
	rules := DefaultRules(5 * time.Minute)
	cases := []struct {
		name string
		ev   Event
		want []string
	}{
		{"info action", Event{Type: EventActionExecuted, Category: CategoryAction, Level: SeverityInfo}, nil},
		{"critical security", Event{Type: EventPromptBlocked, Category: CategorySecurity, Level: SeverityCritical}, []string{AlertCriticalEvent, AlertSecurityEvent}},
		{"slow", Event{Category: CategoryPerformance, Data: map[string]any{"execution_time": 300.5}}, []string{AlertPerformanceIssue}},
		{"exactly threshold", Event{Category: CategoryPerformance, Data: map[string]any{"execution_time": 300}}, nil},
		{"not a number", Event{Category: CategoryPerformance, Data: map[string]any{"execution_time": "slow"}}, nil},
	}
	for _, tc := range cases {
		got := Evaluate(rules, tc.ev)
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	if CategoryOf(EventAuthorizationDenied) != CategoryAccess {
		t.Fatal("authorization_denied should be an access event")
	}
	if CategoryOf(EventPromptBlocked) != CategorySecurity {
		t.Fatal("prompt_blocked should be a security event")
	}
	if CategoryOf("custom_security_scan") != CategorySecurity {
		t.Fatal("unregistered security type should map to security")
	}
	if CategoryOf("nightly_performance_check") != CategoryPerformance {
		t.Fatal("unregistered performance type should map to performance")
	}
	if CategoryOf("something_else") != CategoryGeneral {
		t.Fatal("unknown type should map to general")
	}
}

func TestNew_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(Config{}, nil, reg); err != nil {
		t.Fatalf("first New error: %v", err)
	}
	if _, err := New(Config{}, nil, reg); err == nil {
		t.Fatal("expected error registering collectors twice on one registry")
	}
}
