package access

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MEKXH/warden/internal/monitor"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []monitor.Event
}

func (r *recordingLogger) LogEvent(eventType, agentType, sessionID string, data map[string]any, level monitor.Severity) monitor.Event {
	ev := monitor.Event{Type: eventType, AgentType: agentType, SessionID: sessionID, Data: data, Level: level}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return ev
}

func (r *recordingLogger) ofType(eventType string) []monitor.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []monitor.Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestManager(t *testing.T, cfg Config, creds CredentialValidator) (*Manager, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	m, err := NewManager(cfg, NewStore(t.TempDir()), creds, logger)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m, logger
}

func TestAuthorize_NoEntryIsInsufficient(t *testing.T) {
	m, _ := newTestManager(t, Config{
		DefaultAgents: map[string]Permissions{
			"coder": {"repo": {Level: LevelWrite}},
		},
	}, nil)

	for _, agent := range []string{"coder", "web_surfer", "unknown"} {
		for _, action := range []string{"read", "write", "execute", "delete", "create_environment"} {
			d := m.Authorize(agent, action, "database", nil)
			if d.Authorized {
				t.Fatalf("%s/%s: expected denial", agent, action)
			}
			if d.Reason != ReasonInsufficientPermissions {
				t.Fatalf("%s/%s: expected %s, got %s", agent, action, ReasonInsufficientPermissions, d.Reason)
			}
		}
	}
}

func TestAuthorize_LevelComparison(t *testing.T) {
	m, _ := newTestManager(t, Config{
		DefaultAgents: map[string]Permissions{
			"coder": {
				"repo":   {Level: LevelWrite},
				Wildcard: {Level: LevelRead},
			},
		},
	}, nil)

	cases := []struct {
		action, resource string
		want             bool
	}{
		{"read", "repo", true},
		{"write", "repo", true},
		{"modify", "repo", true},
		{"execute", "repo", false},
		{"delete", "repo", false},
		{"read", "docs", true},
		{"write", "docs", false},
		{"deploy", "repo", false},
	}
	for _, tc := range cases {
		d := m.Authorize("coder", tc.action, tc.resource, nil)
		if d.Authorized != tc.want {
			t.Fatalf("%s on %s: expected authorized=%v, got %+v", tc.action, tc.resource, tc.want, d)
		}
	}
}

func TestAuthorize_ExplicitActionEntries(t *testing.T) {
	m, _ := newTestManager(t, Config{
		DefaultAgents: map[string]Permissions{
			"orchestrator": {
				"qa_system": {Level: LevelRead, Actions: map[string]bool{"create_environment": true, "read": false}},
				Wildcard:    {Level: LevelAdmin, Actions: map[string]bool{"delete": false}},
			},
		},
	}, nil)

	if d := m.Authorize("orchestrator", "create_environment", "qa_system", nil); !d.Authorized {
		t.Fatalf("expected explicit grant, got %+v", d)
	}
	if d := m.Authorize("orchestrator", "read", "qa_system", nil); d.Authorized {
		t.Fatal("expected explicit resource denial to win over level")
	}
	if d := m.Authorize("orchestrator", "delete", "logs", nil); d.Authorized {
		t.Fatal("expected explicit wildcard denial to win over admin level")
	}
	if d := m.Authorize("orchestrator", "write", "logs", nil); !d.Authorized {
		t.Fatalf("expected wildcard admin level to allow write, got %+v", d)
	}
}

func TestAuthorize_PolicyViolations(t *testing.T) {
	m, logger := newTestManager(t, Config{
		DefaultAgents: map[string]Permissions{
			"computer_terminal": {Wildcard: {Level: LevelAdmin}},
		},
	}, nil)
	clock := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	prod, err := m.CreatePolicy(PolicyInput{
		Name:  "protect-production",
		Rules: Rules{ForbiddenResourcePrefixes: []string{"prod/"}},
	})
	if err != nil {
		t.Fatalf("CreatePolicy error: %v", err)
	}
	limits, err := m.CreatePolicy(PolicyInput{
		Name:  "bounded-batches",
		Rules: Rules{Actions: []string{"delete"}, Limits: map[string]float64{"batch_size": 100}},
	})
	if err != nil {
		t.Fatalf("CreatePolicy error: %v", err)
	}
	if _, err := m.CreatePolicy(PolicyInput{
		Name:     "disabled",
		Rules:    Rules{ForbiddenActions: []string{"read"}},
		Disabled: true,
	}); err != nil {
		t.Fatalf("CreatePolicy error: %v", err)
	}

	d := m.Authorize("computer_terminal", "write", "prod/db", map[string]any{"session_id": "s1"})
	if d.Authorized || d.Reason != ReasonPolicyViolation || d.ViolatedPolicy != prod.ID {
		t.Fatalf("expected violation of %s, got %+v", prod.ID, d)
	}

	d = m.Authorize("computer_terminal", "delete", "staging/db", map[string]any{"batch_size": 500})
	if d.Authorized || d.ViolatedPolicy != limits.ID {
		t.Fatalf("expected limit violation, got %+v", d)
	}

	d = m.Authorize("computer_terminal", "delete", "staging/db", map[string]any{"batch_size": 50})
	if !d.Authorized {
		t.Fatalf("expected grant under limit, got %+v", d)
	}
	if len(d.AppliedPolicies) != 2 || d.AppliedPolicies[0] != prod.ID || d.AppliedPolicies[1] != limits.ID {
		t.Fatalf("unexpected applied policies: %v", d.AppliedPolicies)
	}

	if d := m.Authorize("computer_terminal", "read", "staging/db", nil); !d.Authorized {
		t.Fatalf("disabled policy must not deny, got %+v", d)
	}

	denied := logger.ofType(monitor.EventAuthorizationDenied)
	if len(denied) != 2 {
		t.Fatalf("expected 2 denial events, got %d", len(denied))
	}
	if denied[0].SessionID != "s1" || denied[0].Data["violated_policy"] != prod.ID {
		t.Fatalf("unexpected denial event: %+v", denied[0])
	}
	if granted := logger.ofType(monitor.EventAuthorizationGranted); len(granted) != 2 {
		t.Fatalf("expected 2 grant events, got %d", len(granted))
	}
}

func TestAuthorize_PermittedActions(t *testing.T) {
	m, _ := newTestManager(t, Config{
		DefaultAgents: map[string]Permissions{"coder": {Wildcard: {Level: LevelAdmin}}},
		Policies: []PolicyInput{{
			Name:  "logs-read-only",
			Rules: Rules{PermittedActions: map[string][]string{"logs": {"read"}}},
		}},
	}, nil)

	if d := m.Authorize("coder", "read", "logs", nil); !d.Authorized {
		t.Fatalf("expected read on logs, got %+v", d)
	}
	if d := m.Authorize("coder", "write", "logs", nil); d.Authorized || d.Reason != ReasonPolicyViolation {
		t.Fatalf("expected policy violation, got %+v", d)
	}
	if d := m.Authorize("coder", "write", "repo", nil); !d.Authorized {
		t.Fatalf("expected write on repo, got %+v", d)
	}
}

type countingCredentials struct {
	calls int
	user  string
	pass  string
}

func (c *countingCredentials) ValidateCredentials(username, secret string) bool {
	c.calls++
	return username == c.user && secret == c.pass
}

func TestAuthenticate_LockoutWindow(t *testing.T) {
	creds := &countingCredentials{user: "qa_admin", pass: "correct"}
	m, logger := newTestManager(t, Config{}, creds)
	base := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = base.Add(time.Duration(i) * time.Minute)
		res := m.Authenticate("qa_admin", "wrong")
		if res.Success || res.Reason != ReasonInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid_credentials, got %+v", i, res)
		}
	}

	calls := creds.calls
	now = base.Add(10 * time.Minute)
	res := m.Authenticate("qa_admin", "correct")
	if res.Success || res.Reason != ReasonAccountLocked {
		t.Fatalf("expected account_locked, got %+v", res)
	}
	if creds.calls != calls {
		t.Fatal("credential store consulted while locked")
	}

	now = base.Add(30*time.Minute - time.Second)
	if res := m.Authenticate("qa_admin", "correct"); res.Reason != ReasonAccountLocked {
		t.Fatalf("expected still locked, got %+v", res)
	}

	// the first failure leaves the window exactly one lockout duration later
	now = base.Add(30 * time.Minute)
	res = m.Authenticate("qa_admin", "correct")
	if !res.Success {
		t.Fatalf("expected success after window, got %+v", res)
	}
	if res.Session == nil || !res.Session.ExpiresAt.Equal(now.Add(8*time.Hour)) {
		t.Fatalf("unexpected session: %+v", res.Session)
	}

	if events := logger.ofType(monitor.EventAuthentication); len(events) != 6 {
		t.Fatalf("expected 6 authentication events, got %d", len(events))
	}
}

type slowCredentials struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *slowCredentials) ValidateCredentials(username, secret string) bool {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return false
}

func TestAuthenticate_ConcurrentGuessesRespectLockout(t *testing.T) {
	creds := &slowCredentials{delay: 20 * time.Millisecond}
	m, _ := newTestManager(t, Config{MaxFailedAttempts: 3}, creds)

	var (
		wg     sync.WaitGroup
		locked atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := m.Authenticate("bob", "guess"); res.Reason == ReasonAccountLocked {
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := creds.calls.Load(); got != 3 {
		t.Fatalf("expected the credential store to be consulted 3 times, got %d", got)
	}
	if got := locked.Load(); got != 47 {
		t.Fatalf("expected 47 locked rejections, got %d", got)
	}
	if res := m.Authenticate("bob", "guess"); res.Reason != ReasonAccountLocked {
		t.Fatalf("expected account to stay locked, got %+v", res)
	}
}

func TestAuthenticate_TwoFailuresDoNotLock(t *testing.T) {
	creds := &countingCredentials{user: "op", pass: "pw"}
	m, _ := newTestManager(t, Config{}, creds)
	m.Authenticate("op", "x")
	m.Authenticate("op", "y")
	if res := m.Authenticate("op", "pw"); !res.Success {
		t.Fatalf("expected success after two failures, got %+v", res)
	}
}

func TestAuthenticate_SignedToken(t *testing.T) {
	creds := CredentialFunc(func(u, s string) bool { return u == "op" && s == "pw" })
	m, _ := newTestManager(t, Config{
		TokenSecret:  "test-secret",
		DefaultUsers: map[string]Permissions{"op": {"qa_system": {Level: LevelExecute}}},
	}, creds)
	now := time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	res := m.Authenticate("op", "pw")
	if !res.Success || res.Session.Token == "" {
		t.Fatalf("expected signed session, got %+v", res)
	}
	if res.Session.Permissions["qa_system"].Level != LevelExecute {
		t.Fatalf("expected permission snapshot, got %+v", res.Session.Permissions)
	}

	claims, err := m.VerifyToken(res.Session.Token)
	if err != nil {
		t.Fatalf("VerifyToken error: %v", err)
	}
	if claims.Subject != "op" || claims.ID != res.Session.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	now = now.Add(9 * time.Hour)
	if _, err := m.VerifyToken(res.Session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
	if _, err := m.VerifyToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestCreatePolicy_Validation(t *testing.T) {
	m, _ := newTestManager(t, Config{}, nil)
	bad := []PolicyInput{
		{Name: "", Rules: Rules{ForbiddenActions: []string{"delete"}}},
		{Name: "empty"},
		{Name: "blank-entry", Rules: Rules{ForbiddenActions: []string{" "}}},
	}
	for _, in := range bad {
		if _, err := m.CreatePolicy(in); !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("policy %q: expected ErrInvalidPolicy, got %v", in.Name, err)
		}
	}
	p, err := m.CreatePolicy(PolicyInput{Name: "ok", Rules: Rules{ForbiddenActions: []string{"delete"}}})
	if err != nil {
		t.Fatalf("CreatePolicy error: %v", err)
	}
	if len(p.ID) != len("policy-")+8 {
		t.Fatalf("unexpected policy id %q", p.ID)
	}
	if _, err := m.SetPolicyEnabled("policy-missing", false); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestManager_PersistsAcrossReload(t *testing.T) {
	workspace := t.TempDir()
	m, err := NewManager(Config{}, NewStore(workspace), nil, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	p, err := m.CreatePolicy(PolicyInput{Name: "no-delete", Rules: Rules{ForbiddenActions: []string{"delete"}}})
	if err != nil {
		t.Fatalf("CreatePolicy error: %v", err)
	}
	if err := m.UpdateAgentPermissions("file_surfer", Permissions{"logs": {Level: LevelRead}}); err != nil {
		t.Fatalf("UpdateAgentPermissions error: %v", err)
	}
	if err := m.UpdateAgentPermissions("file_surfer", Permissions{"docs": {Level: LevelWrite}}); err != nil {
		t.Fatalf("UpdateAgentPermissions error: %v", err)
	}
	if _, err := m.SetPolicyEnabled(p.ID, false); err != nil {
		t.Fatalf("SetPolicyEnabled error: %v", err)
	}

	reloaded, err := NewManager(Config{
		DefaultAgents: map[string]Permissions{"file_surfer": {Wildcard: {Level: LevelAdmin}}},
	}, NewStore(workspace), nil, nil)
	if err != nil {
		t.Fatalf("NewManager reload error: %v", err)
	}
	got, ok := reloaded.Policy(p.ID)
	if !ok || got.Enabled {
		t.Fatalf("expected persisted disabled policy, got %+v (found=%v)", got, ok)
	}
	perms := reloaded.AgentPermissions("file_surfer")
	if perms["logs"].Level != LevelRead || perms["docs"].Level != LevelWrite {
		t.Fatalf("unexpected merged permissions: %+v", perms)
	}
	if _, ok := perms[Wildcard]; ok {
		t.Fatal("config defaults must not override stored permissions")
	}
}

func TestConfiguredPoliciesAreSeededOnce(t *testing.T) {
	workspace := t.TempDir()
	cfg := Config{Policies: []PolicyInput{{Name: "no-delete", Rules: Rules{ForbiddenActions: []string{"delete"}}}}}
	first, err := NewManager(cfg, NewStore(workspace), nil, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	second, err := NewManager(cfg, NewStore(workspace), nil, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	a, b := first.ListPolicies(), second.ListPolicies()
	if len(a) != 1 || len(b) != 1 || a[0].ID != b[0].ID {
		t.Fatalf("expected one stable seeded policy, got %v and %v", a, b)
	}

	if _, err := NewManager(Config{Policies: []PolicyInput{{Name: "broken"}}}, nil, nil, nil); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected startup failure for invalid policy, got %v", err)
	}
}

func TestRequiredLevel(t *testing.T) {
	cases := map[string]PermissionLevel{
		"read":    LevelRead,
		"write":   LevelWrite,
		"modify":  LevelWrite,
		"execute": LevelExecute,
		"delete":  LevelAdmin,
		"launch":  LevelAdmin,
	}
	for action, want := range cases {
		if got := RequiredLevel(action); got != want {
			t.Fatalf("RequiredLevel(%q) = %s, want %s", action, got, want)
		}
	}
}
