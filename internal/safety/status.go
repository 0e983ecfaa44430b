package safety

import "github.com/MEKXH/warden/internal/monitor"

// Components reports which parts of the pipeline are enabled.
type Components struct {
	Isolation       bool `json:"isolation"`
	Oversight       bool `json:"oversight"`
	ThreatDetection bool `json:"threat_detection"`
	AccessControl   bool `json:"access_control"`
	Logging         bool `json:"logging"`
}

// StatusSnapshot is the safety status view.
type StatusSnapshot struct {
	SystemStatus     monitor.SystemStatus `json:"system_status"`
	ActiveSessions   int                  `json:"active_sessions"`
	SecurityLevel    string               `json:"security_level"`
	Components       Components           `json:"components_enabled"`
	RecentMetrics    []monitor.Sample     `json:"recent_metrics"`
	ActiveAlerts     []monitor.Alert      `json:"active_alerts"`
	PendingOversight int                  `json:"pending_oversight"`
	Stats            monitor.Stats        `json:"stats"`
}

// Status returns the current safety status.
func (s *System) Status() StatusSnapshot {
	data := s.dashboard.Data()
	snap := StatusSnapshot{
		SystemStatus:   data.SystemStatus,
		ActiveSessions: s.ActiveSessions(),
		SecurityLevel:  string(s.cfg.SecurityLevel),
		Components: Components{
			Isolation:       s.isolation != nil,
			Oversight:       s.oversight != nil,
			ThreatDetection: true,
			AccessControl:   true,
			Logging:         true,
		},
		RecentMetrics: data.RecentMetrics,
		ActiveAlerts:  data.ActiveAlerts,
		Stats:         data.Stats,
	}
	if snap.RecentMetrics == nil {
		snap.RecentMetrics = []monitor.Sample{}
	}
	if s.oversight != nil {
		snap.PendingOversight = len(s.oversight.Pending())
	}
	return snap
}
