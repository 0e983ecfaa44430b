package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Warden safety status",
		RunE:  runStatus,
	}
	cmd.Flags().Bool("markdown", false, "Render the status as markdown")
	cmd.Flags().Bool("json", false, "Print the raw status snapshot")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, workspacePath, err := loadWorkspace()
	if err != nil {
		return err
	}
	asMarkdown, _ := cmd.Flags().GetBool("markdown")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithTimeout(commandContext(cmd), 5*time.Second)
	defer cancel()
	snap, statusErr := newGatewayClient(cfg.Gateway).Status(ctx)

	out := cmd.OutOrStdout()
	if statusErr != nil {
		fmt.Fprint(out, renderOffline(cfg, workspacePath, statusErr))
		return nil
	}

	switch {
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case asMarkdown:
		return printMarkdown(out, statusMarkdown(snap))
	default:
		fmt.Fprint(out, renderStatus(snap))
		return nil
	}
}

func printMarkdown(w io.Writer, md string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	rendered, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}

func renderStatus(snap safety.StatusSnapshot) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Warden Status"))
	b.WriteString("\n")

	status := string(snap.SystemStatus)
	statusStyle := lipgloss.NewStyle().Bold(true)
	if c := riskColor(status); c != nil {
		statusStyle = statusStyle.Foreground(c)
	}
	b.WriteString(labeled("System", statusStyle.Render(status)) + "\n")
	b.WriteString(labeled("Security level", snap.SecurityLevel) + "\n")
	b.WriteString(labeled("Active sessions", fmt.Sprint(snap.ActiveSessions)) + "\n")
	b.WriteString(labeled("Pending oversight", fmt.Sprint(snap.PendingOversight)) + "\n")
	b.WriteString(labeled("Log queue", fmt.Sprintf("%d (processed %d, dropped %d)",
		snap.Stats.QueueDepth, snap.Stats.Processed, snap.Stats.Dropped)) + "\n")

	b.WriteString(sectionStyle.Render("Components") + "\n")
	for _, c := range componentList(snap.Components) {
		state := lipgloss.NewStyle().Foreground(mutedColor).Render("disabled")
		if c.enabled {
			state = lipgloss.NewStyle().Foreground(okColor).Render("enabled")
		}
		b.WriteString(labeled(c.name, state) + "\n")
	}

	if len(snap.ActiveAlerts) > 0 {
		b.WriteString("\n")
		rows := make([][]string, 0, len(snap.ActiveAlerts))
		for _, a := range snap.ActiveAlerts {
			rows = append(rows, []string{
				a.Timestamp.Local().Format("2006-01-02 15:04:05"),
				a.Type,
				a.Event.Type,
				a.Event.AgentType,
			})
		}
		b.WriteString(renderTable("Active Alerts", []column{
			{"TIME", 20}, {"ALERT", 18}, {"EVENT", 26}, {"AGENT", 18},
		}, rows, nil))
	}
	b.WriteString("\n")
	return b.String()
}

type component struct {
	name    string
	enabled bool
}

func componentList(c safety.Components) []component {
	return []component{
		{"Threat detection", c.ThreatDetection},
		{"Access control", c.AccessControl},
		{"Human oversight", c.Oversight},
		{"Isolation", c.Isolation},
		{"Audit logging", c.Logging},
	}
}

// statusMarkdown renders the snapshot for glamour.
func statusMarkdown(snap safety.StatusSnapshot) string {
	var b strings.Builder
	b.WriteString("# Warden Status\n\n")
	fmt.Fprintf(&b, "- **System:** %s\n", snap.SystemStatus)
	fmt.Fprintf(&b, "- **Security level:** %s\n", snap.SecurityLevel)
	fmt.Fprintf(&b, "- **Active sessions:** %d\n", snap.ActiveSessions)
	fmt.Fprintf(&b, "- **Pending oversight:** %d\n", snap.PendingOversight)
	fmt.Fprintf(&b, "- **Events processed:** %d (dropped %d)\n\n", snap.Stats.Processed, snap.Stats.Dropped)

	b.WriteString("## Components\n\n| Component | Enabled |\n|---|---|\n")
	for _, c := range componentList(snap.Components) {
		fmt.Fprintf(&b, "| %s | %t |\n", c.name, c.enabled)
	}

	if n := len(snap.RecentMetrics); n > 0 {
		last := snap.RecentMetrics[n-1]
		b.WriteString("\n## Latest Sample\n\n")
		fmt.Fprintf(&b, "- Taken: %s\n", last.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "- Queue depth: %d\n", last.QueueDepth)
		fmt.Fprintf(&b, "- Alerts (last hour): %d\n", last.AlertCount)
		if last.MemoryPercent != nil {
			fmt.Fprintf(&b, "- Memory: %.1f%%\n", *last.MemoryPercent)
		}
		if last.CPUPercent != nil {
			fmt.Fprintf(&b, "- CPU: %.1f%%\n", *last.CPUPercent)
		}
	}

	if len(snap.ActiveAlerts) > 0 {
		b.WriteString("\n## Active Alerts\n\n| Time | Alert | Event | Agent |\n|---|---|---|---|\n")
		for _, a := range snap.ActiveAlerts {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				a.Timestamp.Format(time.RFC3339), a.Type, a.Event.Type, a.Event.AgentType)
		}
	}
	return b.String()
}

// renderOffline summarizes the local configuration when no gateway answers.
func renderOffline(cfg *config.Config, workspacePath string, cause error) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Warden Status"))
	b.WriteString("\n")

	configPath := strings.TrimSpace(configFile)
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	b.WriteString(labeled("Gateway", lipgloss.NewStyle().Foreground(warnColor).Render("not reachable")) + "\n")
	b.WriteString(labeled("", cause.Error()) + "\n")
	b.WriteString(labeled("Config", configPath+" "+existsLabel(configPath)) + "\n")
	b.WriteString(labeled("Workspace", workspacePath+" "+existsLabel(workspacePath)) + "\n")
	b.WriteString(labeled("Security level", cfg.Safety.SecurityLevel) + "\n")
	b.WriteString(labeled("Isolation", onOff(cfg.Safety.EnableIsolation)) + "\n")
	b.WriteString(labeled("Human oversight", onOff(cfg.Safety.EnableOversight)) + "\n")
	b.WriteString(labeled("Oversight timeout", (time.Duration(cfg.Oversight.TimeoutSeconds)*time.Second).String()) + "\n")
	b.WriteString(labeled("Agents", fmt.Sprint(len(cfg.Access.Agents))) + "\n")
	auth := "no token (open)"
	if cfg.Gateway.Token != "" {
		auth = "token configured"
	}
	b.WriteString(labeled("Gateway auth", auth) + "\n")
	b.WriteString("\n  Start the gateway with 'warden run'.\n\n")
	return b.String()
}

func existsLabel(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "(ok)"
	}
	return "(missing)"
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
