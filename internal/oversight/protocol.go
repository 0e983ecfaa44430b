package oversight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MEKXH/warden/internal/monitor"
	"github.com/google/uuid"
)

const (
	defaultTimeout        = 30 * time.Minute
	defaultNotifyTimeout  = 10 * time.Second
	defaultSweepInterval  = 30 * time.Second
	defaultCompletedLimit = 1000
)

var (
	ErrInvalidRequest  = errors.New("invalid oversight request")
	ErrInvalidDecision = errors.New("invalid oversight decision")
	ErrNotFound        = errors.New("oversight request not found")
	ErrNotPending      = errors.New("oversight request is not pending")
)

// Notifier is told about every request that needs a human. Failures are logged only.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// EventLogger receives audit events. *monitor.Monitor satisfies it.
type EventLogger interface {
	LogEvent(eventType, agentType, sessionID string, data map[string]any, level monitor.Severity) monitor.Event
}

// Config controls the oversight protocol.
type Config struct {
	DefaultTimeout time.Duration
	NotifyTimeout  time.Duration
	SweepInterval  time.Duration
	CompletedLimit int
	Risk           RiskConfig
}

type pendingEntry struct {
	req  Request
	done chan struct{}
}

// Protocol owns the pending and completed request sets.
type Protocol struct {
	cfg      Config
	store    *Store
	notifier Notifier
	events   EventLogger
	now      func() time.Time

	mu             sync.Mutex
	pending        map[string]*pendingEntry
	completed      map[string]Request
	completedOrder []string
	stopCh         chan struct{}
	stopped        chan struct{}
	running        bool
}

// New creates a protocol. Pending requests found in store are restored and keep their
// original deadlines. Collaborators may be nil.
func New(cfg Config, store *Store, notifier Notifier, events EventLogger) (*Protocol, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.CompletedLimit <= 0 {
		cfg.CompletedLimit = defaultCompletedLimit
	}
	cfg.Risk = cfg.Risk.withDefaults()

	p := &Protocol{
		cfg:       cfg,
		store:     store,
		notifier:  notifier,
		events:    events,
		now:       time.Now,
		pending:   make(map[string]*pendingEntry),
		completed: make(map[string]Request),
	}
	if store == nil {
		return p, nil
	}

	requests, err := store.Load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	for _, req := range requests {
		if req.Resolved() {
			p.addCompletedLocked(req)
			continue
		}
		req.Decision = DecisionPending
		p.pending[req.ID] = &pendingEntry{req: req, done: make(chan struct{})}
	}
	return p, nil
}

// RequestOversight creates a request. Low-risk requests come back already approved;
// everything else is pending and the notifier is fired in the background.
func (p *Protocol) RequestOversight(ctx context.Context, in CreateInput) (Request, error) {
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return Request{}, fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	if in.Timeout <= 0 {
		in.Timeout = p.cfg.DefaultTimeout
	}
	level, score := p.cfg.Risk.Assess(in)
	now := p.now().UTC()

	req := Request{
		ID:          "oversight-" + uuid.NewString()[:8],
		Type:        in.Type,
		AgentType:   strings.TrimSpace(in.AgentType),
		Description: strings.TrimSpace(in.Description),
		RiskLevel:   level,
		RiskScore:   score,
		Context:     maps.Clone(in.Context),
		Timeout:     in.Timeout,
		CreatedAt:   now,
		Decision:    DecisionPending,
	}

	p.mu.Lock()
	if level == RiskLow {
		req.Decision = DecisionApprove
		req.DecisionReason = ReasonAutoApproved
		req.DecidedBy = SystemDecider
		req.DecidedAt = now
		p.addCompletedLocked(req)
	} else {
		p.pending[req.ID] = &pendingEntry{req: req, done: make(chan struct{})}
	}
	p.persistLocked()
	p.mu.Unlock()

	if req.Resolved() {
		p.logDecision(req)
		return cloneRequest(req), nil
	}

	p.logEvent(monitor.EventOversightRequested, req, monitor.SeverityWarning)
	slog.Info("oversight requested", "id", req.ID, "type", req.Type, "risk", req.RiskLevel.String())
	if p.notifier != nil {
		go p.notify(ctx, cloneRequest(req))
	}
	return cloneRequest(req), nil
}

func (p *Protocol) notify(ctx context.Context, req Request) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.NotifyTimeout)
	defer cancel()
	if err := p.notifier.Notify(notifyCtx, req); err != nil {
		slog.Warn("oversight notification failed", "id", req.ID, "error", err)
	}
}

// Decide resolves a pending request. Only the first decision wins.
func (p *Protocol) Decide(id string, decision Decision, in DecisionInput) (Request, error) {
	decision, err := ParseDecision(string(decision))
	if err != nil {
		return Request{}, err
	}
	decidedBy := strings.TrimSpace(in.DecidedBy)
	if decidedBy == "" {
		decidedBy = "operator"
	}
	id = strings.TrimSpace(id)

	p.mu.Lock()
	entry, ok := p.pending[id]
	if !ok {
		_, done := p.completed[id]
		p.mu.Unlock()
		if done {
			return Request{}, fmt.Errorf("%w: %s", ErrNotPending, id)
		}
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	req := entry.req
	req.Decision = decision
	req.DecisionReason = strings.TrimSpace(in.Reason)
	req.DecidedBy = decidedBy
	req.DecidedAt = p.now().UTC()
	if decision == DecisionModify {
		req.Modifications = maps.Clone(in.Modifications)
	}
	p.resolveLocked(entry, req)
	p.persistLocked()
	p.mu.Unlock()

	p.logDecision(req)
	return cloneRequest(req), nil
}

// WaitForDecision blocks until id is resolved or its deadline passes, in which case the
// timeout fallback is applied. Cancelling ctx leaves the request pending.
func (p *Protocol) WaitForDecision(ctx context.Context, id string) (Request, error) {
	p.mu.Lock()
	if req, ok := p.completed[id]; ok {
		p.mu.Unlock()
		return cloneRequest(req), nil
	}
	entry, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	done := entry.done
	remaining := entry.req.Deadline().Sub(p.now())
	p.mu.Unlock()

	if remaining <= 0 {
		return p.expire(id)
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-done:
		req, _ := p.Get(id)
		return req, nil
	case <-timer.C:
		return p.expire(id)
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// expire applies the timeout fallback to id if it is still pending.
func (p *Protocol) expire(id string) (Request, error) {
	p.mu.Lock()
	entry, ok := p.pending[id]
	if !ok {
		req, done := p.completed[id]
		p.mu.Unlock()
		if !done {
			return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return cloneRequest(req), nil
	}
	req := p.timeoutLocked(entry)
	p.persistLocked()
	p.mu.Unlock()

	p.logDecision(req)
	return cloneRequest(req), nil
}

// ExpirePending applies the timeout fallback to every pending request past its deadline.
func (p *Protocol) ExpirePending() []Request {
	now := p.now()

	p.mu.Lock()
	var expired []Request
	for _, entry := range p.pending {
		if now.Before(entry.req.Deadline()) {
			continue
		}
		expired = append(expired, p.timeoutLocked(entry))
	}
	if len(expired) > 0 {
		p.persistLocked()
	}
	p.mu.Unlock()

	sortByCreated(expired)
	for _, req := range expired {
		p.logDecision(req)
	}
	return expired
}

// High and Critical fail closed; Low and Medium fail open.
func (p *Protocol) timeoutLocked(entry *pendingEntry) Request {
	req := entry.req
	if req.RiskLevel >= RiskHigh {
		req.Decision = DecisionReject
		req.DecisionReason = ReasonTimeoutRejected
	} else {
		req.Decision = DecisionApprove
		req.DecisionReason = ReasonTimeoutApproved
	}
	req.DecidedBy = SystemDecider
	req.DecidedAt = p.now().UTC()
	req.TimedOut = true
	p.resolveLocked(entry, req)
	return req
}

func (p *Protocol) resolveLocked(entry *pendingEntry, req Request) {
	delete(p.pending, req.ID)
	p.addCompletedLocked(req)
	close(entry.done)
}

func (p *Protocol) addCompletedLocked(req Request) {
	if _, ok := p.completed[req.ID]; !ok {
		p.completedOrder = append(p.completedOrder, req.ID)
	}
	p.completed[req.ID] = req
	for len(p.completedOrder) > p.cfg.CompletedLimit {
		delete(p.completed, p.completedOrder[0])
		p.completedOrder = p.completedOrder[1:]
	}
}

// Store failures are logged; the in-memory sets stay authoritative.
func (p *Protocol) persistLocked() {
	if p.store == nil {
		return
	}
	all := make([]Request, 0, len(p.pending)+len(p.completed))
	for _, entry := range p.pending {
		all = append(all, entry.req)
	}
	for _, id := range p.completedOrder {
		all = append(all, p.completed[id])
	}
	sortByCreated(all)
	if err := p.store.Save(all); err != nil {
		slog.Warn("failed to persist oversight requests", "error", err)
	}
}

// Get returns a request from either set.
func (p *Protocol) Get(id string) (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.pending[id]; ok {
		return cloneRequest(entry.req), true
	}
	if req, ok := p.completed[id]; ok {
		return cloneRequest(req), true
	}
	return Request{}, false
}

// Pending returns pending requests, oldest first.
func (p *Protocol) Pending() []Request {
	p.mu.Lock()
	out := make([]Request, 0, len(p.pending))
	for _, entry := range p.pending {
		out = append(out, cloneRequest(entry.req))
	}
	p.mu.Unlock()

	sortByCreated(out)
	return out
}

// Completed returns resolved requests in resolution order.
func (p *Protocol) Completed() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Request, 0, len(p.completedOrder))
	for _, id := range p.completedOrder {
		out = append(out, cloneRequest(p.completed[id]))
	}
	return out
}

// IsRunning returns true when the timeout sweeper is active.
func (p *Protocol) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the timeout sweeper, which resolves requests nobody is waiting on.
func (p *Protocol) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.stopCh = make(chan struct{})
	p.stopped = make(chan struct{})
	p.running = true

	go p.loop(p.stopCh, p.stopped)
	slog.Info("oversight sweeper started", "interval", p.cfg.SweepInterval.String())
}

// Stop halts the sweeper.
func (p *Protocol) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh := p.stopCh
	stopped := p.stopped
	p.running = false
	p.mu.Unlock()

	close(stopCh)
	<-stopped
}

func (p *Protocol) loop(stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if expired := p.ExpirePending(); len(expired) > 0 {
				slog.Info("expired oversight requests", "count", len(expired))
			}
		}
	}
}

func (p *Protocol) logDecision(req Request) {
	level := monitor.SeverityInfo
	if req.Decision == DecisionReject {
		level = monitor.SeverityWarning
	}
	p.logEvent(monitor.EventOversightDecided, req, level)
}

func (p *Protocol) logEvent(eventType string, req Request, level monitor.Severity) {
	if p.events == nil {
		return
	}
	data := map[string]any{
		"request_id": req.ID,
		"type":       req.Type,
		"risk_level": req.RiskLevel.String(),
		"risk_score": req.RiskScore,
		"decision":   string(req.Decision),
	}
	if req.Resolved() {
		data["reason"] = req.DecisionReason
		data["decided_by"] = req.DecidedBy
		data["timed_out"] = req.TimedOut
	}
	sessionID, _ := req.Context["session_id"].(string)
	p.events.LogEvent(eventType, req.AgentType, sessionID, data, level)
}

func cloneRequest(req Request) Request {
	req.Context = maps.Clone(req.Context)
	req.Modifications = maps.Clone(req.Modifications)
	return req
}

func sortByCreated(requests []Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}
