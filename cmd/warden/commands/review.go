package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/oversight"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const reviewRefreshInterval = 5 * time.Second

// reviewClient is the part of the gateway API the review queue needs.
type reviewClient interface {
	Pending(ctx context.Context) ([]oversight.Request, error)
	Decide(ctx context.Context, id string, body decisionBody) (oversight.Request, error)
}

func NewReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Interactively approve or reject pending oversight requests",
		RunE:  runReview,
	}
	cmd.Flags().String("by", defaultOperator(), "Decision maker")
	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	by, _ := cmd.Flags().GetString("by")

	m := newReviewModel(newGatewayClient(cfg.Gateway), strings.TrimSpace(by))
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

type reviewKeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Approve  key.Binding
	Reject   key.Binding
	Escalate key.Binding
	Refresh  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k reviewKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Approve, k.Reject, k.Escalate, k.Help, k.Quit}
}

func (k reviewKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Approve, k.Reject, k.Escalate},
		{k.Refresh, k.Help, k.Quit},
	}
}

func defaultReviewKeys() reviewKeyMap {
	return reviewKeyMap{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Approve:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
		Reject:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reject")),
		Escalate: key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "escalate")),
		Refresh:  key.NewBinding(key.WithKeys("f5", "ctrl+r"), key.WithHelp("ctrl+r", "refresh")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type pendingMsg struct {
	requests []oversight.Request
	err      error
}

type decidedMsg struct {
	request oversight.Request
	err     error
}

type refreshTickMsg time.Time

type reviewModel struct {
	client   reviewClient
	operator string
	keys     reviewKeyMap
	help     help.Model
	table    table.Model
	requests []oversight.Request
	status   string
	err      error
	now      func() time.Time
}

func newReviewModel(client reviewClient, operator string) reviewModel {
	if operator == "" {
		operator = "operator"
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 18},
			{Title: "TYPE", Width: 22},
			{Title: "AGENT", Width: 18},
			{Title: "RISK", Width: 9},
			{Title: "EXPIRES", Width: 9},
			{Title: "DESCRIPTION", Width: 36},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#8E4EC6"))
	t.SetStyles(styles)

	return reviewModel{
		client:   client,
		operator: operator,
		keys:     defaultReviewKeys(),
		help:     help.New(),
		table:    t,
		now:      time.Now,
	}
}

func (m reviewModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), refreshTick())
}

func (m reviewModel) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		reqs, err := client.Pending(ctx)
		return pendingMsg{requests: reqs, err: err}
	}
}

func (m reviewModel) decide(decision oversight.Decision) tea.Cmd {
	req, ok := m.selected()
	if !ok {
		return nil
	}
	client := m.client
	body := decisionBody{
		Decision:  string(decision),
		Reason:    "decided in review queue",
		DecidedBy: m.operator,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, err := client.Decide(ctx, req.ID, body)
		return decidedMsg{request: out, err: err}
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(reviewRefreshInterval, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

func (m reviewModel) selected() (oversight.Request, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.requests) {
		return oversight.Request{}, false
	}
	return m.requests[i], true
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		case key.Matches(msg, m.keys.Approve):
			return m, m.decide(oversight.DecisionApprove)
		case key.Matches(msg, m.keys.Reject):
			return m, m.decide(oversight.DecisionReject)
		case key.Matches(msg, m.keys.Escalate):
			return m, m.decide(oversight.DecisionEscalate)
		}

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case pendingMsg:
		m.err = msg.err
		if msg.err == nil {
			m.setRequests(msg.requests)
		}
		return m, nil

	case decidedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("%s %s", msg.request.ID, msg.request.Decision)
		return m, m.fetch()

	case refreshTickMsg:
		return m, tea.Batch(m.fetch(), refreshTick())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *reviewModel) setRequests(reqs []oversight.Request) {
	m.requests = reqs
	now := m.now()
	rows := make([]table.Row, 0, len(reqs))
	for _, r := range reqs {
		rows = append(rows, table.Row{
			r.ID,
			r.Type,
			r.AgentType,
			r.RiskLevel.String(),
			remaining(r, now),
			r.Description,
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m reviewModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Oversight Review (%d pending)", len(m.requests))))
	b.WriteString("\n")

	if len(m.requests) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render("  Nothing to review."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
		if req, ok := m.selected(); ok && len(req.Context) > 0 {
			b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(contextLine(req.Context)))
			b.WriteString("\n")
		}
	}

	switch {
	case m.err != nil:
		b.WriteString(lipgloss.NewStyle().Foreground(dangerColor).Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(lipgloss.NewStyle().Foreground(okColor).Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func contextLine(ctx map[string]any) string {
	parts := make([]string, 0, len(ctx))
	for _, k := range slices.Sorted(maps.Keys(ctx)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ctx[k]))
	}
	return "  " + truncate(strings.Join(parts, " "), 110)
}
