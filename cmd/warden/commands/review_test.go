package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/warden/internal/oversight"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeReviewClient struct {
	pending []oversight.Request
	decided []decisionBody
	ids     []string
	err     error
}

func (f *fakeReviewClient) Pending(context.Context) ([]oversight.Request, error) {
	return f.pending, f.err
}

func (f *fakeReviewClient) Decide(_ context.Context, id string, body decisionBody) (oversight.Request, error) {
	if f.err != nil {
		return oversight.Request{}, f.err
	}
	f.ids = append(f.ids, id)
	f.decided = append(f.decided, body)
	return oversight.Request{ID: id, Decision: oversight.Decision(body.Decision)}, nil
}

func sampleRequests(now time.Time) []oversight.Request {
	return []oversight.Request{
		{ID: "oversight-aaaa1111", Type: "data_deletion", AgentType: "file_surfer", RiskLevel: oversight.RiskHigh,
			CreatedAt: now, Timeout: 30 * time.Minute, Decision: oversight.DecisionPending,
			Context: map[string]any{"resource": "reports"}},
		{ID: "oversight-bbbb2222", Type: "security_change", AgentType: "coder", RiskLevel: oversight.RiskCritical,
			CreatedAt: now, Timeout: 30 * time.Minute, Decision: oversight.DecisionPending},
	}
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestReviewModel_ApproveSelected(t *testing.T) {
	now := time.Now()
	client := &fakeReviewClient{pending: sampleRequests(now)}
	m := newReviewModel(client, "alice")

	updated, _ := m.Update(pendingMsg{requests: client.pending})
	m = updated.(reviewModel)
	if len(m.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(m.requests))
	}

	updated, cmd := m.Update(keyPress('a'))
	m = updated.(reviewModel)
	if cmd == nil {
		t.Fatal("expected a decision command")
	}
	msg := cmd()
	dm, ok := msg.(decidedMsg)
	if !ok {
		t.Fatalf("expected decidedMsg, got %T", msg)
	}
	if len(client.ids) != 1 || client.ids[0] != "oversight-aaaa1111" {
		t.Fatalf("unexpected decided ids: %v", client.ids)
	}
	if client.decided[0].Decision != "approve" || client.decided[0].DecidedBy != "alice" {
		t.Fatalf("unexpected body: %+v", client.decided[0])
	}

	updated, cmd = m.Update(dm)
	m = updated.(reviewModel)
	if cmd == nil {
		t.Fatal("expected a refresh after deciding")
	}
	if !strings.Contains(m.View(), "oversight-aaaa1111 approve") {
		t.Fatalf("status line missing from view:\n%s", m.View())
	}
}

func TestReviewModel_RejectAndEscalate(t *testing.T) {
	client := &fakeReviewClient{pending: sampleRequests(time.Now())}
	m := newReviewModel(client, "bob")
	updated, _ := m.Update(pendingMsg{requests: client.pending})
	m = updated.(reviewModel)

	_, cmd := m.Update(keyPress('r'))
	cmd()
	_, cmd = m.Update(keyPress('e'))
	cmd()

	if len(client.decided) != 2 || client.decided[0].Decision != "reject" || client.decided[1].Decision != "escalate" {
		t.Fatalf("unexpected decisions: %+v", client.decided)
	}
}

func TestReviewModel_EmptyQueueAndErrors(t *testing.T) {
	client := &fakeReviewClient{}
	m := newReviewModel(client, "")
	if m.operator != "operator" {
		t.Fatalf("expected default operator, got %q", m.operator)
	}

	if _, cmd := m.Update(keyPress('a')); cmd != nil {
		t.Fatal("approve with nothing selected should be a no-op")
	}
	if !strings.Contains(m.View(), "Nothing to review") {
		t.Fatalf("unexpected empty view:\n%s", m.View())
	}

	updated, _ := m.Update(pendingMsg{err: errors.New("gateway down")})
	m = updated.(reviewModel)
	if !strings.Contains(m.View(), "gateway down") {
		t.Fatalf("error not shown:\n%s", m.View())
	}
}

func TestReviewModel_QuitAndHelp(t *testing.T) {
	m := newReviewModel(&fakeReviewClient{}, "alice")

	updated, _ := m.Update(keyPress('?'))
	m = updated.(reviewModel)
	if !m.help.ShowAll {
		t.Fatal("expected full help after ?")
	}
	if !strings.Contains(m.View(), "escalate") {
		t.Fatalf("help should list escalate:\n%s", m.View())
	}

	_, cmd := m.Update(keyPress('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}
