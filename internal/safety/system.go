package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/isolation"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/MEKXH/warden/internal/threat"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionDenied  = errors.New("session not authorized")
	ErrInvalidRequest = errors.New("invalid request")
)

// System chains the safety components into one per-session pipeline. Session state
// is owned here.
type System struct {
	cfg       Config
	journal   *audit.Journal
	monitor   *monitor.Monitor
	dashboard *monitor.Dashboard
	detector  *threat.Detector
	access    *access.Manager
	oversight *oversight.Protocol
	isolation isolation.Provider
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	running  bool
}

// New builds every component. Misconfiguration fails here, never per request.
func New(cfg Config, deps Deps) (*System, error) {
	cfg = cfg.withDefaults()
	level, err := isolation.ParseSecurityLevel(string(cfg.SecurityLevel))
	if err != nil {
		return nil, err
	}
	cfg.SecurityLevel = level

	s := &System{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}

	if cfg.Workspace != "" {
		s.journal = audit.NewJournal(cfg.Workspace)
	}
	s.monitor, err = monitor.New(cfg.Monitor, s.journal, deps.Registerer)
	if err != nil {
		return nil, err
	}

	s.detector, err = threat.NewDetector(cfg.Threat)
	if err != nil {
		return nil, fmt.Errorf("create threat detector: %w", err)
	}

	var accessStore *access.Store
	if cfg.Workspace != "" {
		accessStore = access.NewStore(cfg.Workspace)
	}
	s.access, err = access.NewManager(cfg.Access, accessStore, deps.Credentials, s.monitor)
	if err != nil {
		return nil, fmt.Errorf("create access manager: %w", err)
	}

	if cfg.EnableOversight {
		var store *oversight.Store
		if cfg.Workspace != "" {
			store = oversight.NewStore(cfg.Workspace)
		}
		s.oversight, err = oversight.New(cfg.Oversight, store, deps.Notifier, s.monitor)
		if err != nil {
			return nil, fmt.Errorf("create oversight protocol: %w", err)
		}
	}

	switch {
	case deps.Isolation != nil:
		s.isolation = deps.Isolation
	case cfg.EnableIsolation:
		if cfg.Workspace == "" {
			return nil, fmt.Errorf("%w: isolation requires a workspace", ErrInvalidRequest)
		}
		s.isolation = isolation.NewLocalProvider(filepath.Join(cfg.Workspace, "environments"), cfg.IsolationPolicies)
	}

	probe := deps.Probe
	if probe == nil {
		if proc, err := monitor.NewProcProbe(); err == nil {
			probe = proc
		} else {
			slog.Debug("host probe unavailable", "error", err)
		}
	}
	s.dashboard = monitor.NewDashboard(cfg.Dashboard, s.monitor, s.ActiveSessions, probe)

	slog.Info("safety system initialized",
		"security_level", string(cfg.SecurityLevel),
		"isolation", s.isolation != nil,
		"oversight", s.oversight != nil)
	return s, nil
}

// Start launches the background loops.
func (s *System) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.monitor.Start()
	s.dashboard.Start()
	if s.oversight != nil {
		s.oversight.Start()
	}
}

// Close cleans up every session and stops the background workers. Queued events are
// persisted before Close returns.
func (s *System) Close() {
	for _, sess := range s.Sessions() {
		s.CleanupSession(context.Background(), sess.ID)
	}

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning {
		return
	}

	if s.oversight != nil {
		s.oversight.Stop()
	}
	s.dashboard.Stop()
	s.monitor.Stop()
}

// ActiveSessions returns the number of live sessions.
func (s *System) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sessions returns the live sessions, oldest first.
func (s *System) Sessions() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *System) Monitor() *monitor.Monitor { return s.monitor }
func (s *System) Dashboard() *monitor.Dashboard { return s.dashboard }
func (s *System) Detector() *threat.Detector { return s.detector }
func (s *System) Access() *access.Manager { return s.access }
func (s *System) Journal() *audit.Journal { return s.journal }

// Oversight returns nil when oversight is disabled.
func (s *System) Oversight() *oversight.Protocol { return s.oversight }
