package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/notify"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func NewOversightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oversight",
		Short: "Review pending human oversight requests",
	}

	cmd.AddCommand(
		newOversightListCmd(),
		newOversightShowCmd(),
		newOversightDecisionCmd("approve", oversight.DecisionApprove, "Approve a pending request"),
		newOversightDecisionCmd("reject", oversight.DecisionReject, "Reject a pending request"),
		newOversightDecisionCmd("modify", oversight.DecisionModify, "Approve a request with modifications"),
		newOversightDecisionCmd("escalate", oversight.DecisionEscalate, "Escalate a request beyond this operator"),
	)

	return cmd
}

func newOversightListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending oversight requests",
		RunE:  runOversightList,
	}
}

func newOversightShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one oversight request",
		Args:  cobra.ExactArgs(1),
		RunE:  runOversightShow,
	}
}

func newOversightDecisionCmd(use string, decision oversight.Decision, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOversightDecision(cmd, args[0], decision)
		},
	}
	cmd.Flags().String("by", defaultOperator(), "Decision maker")
	cmd.Flags().String("reason", "", "Decision reason")
	if decision == oversight.DecisionModify {
		cmd.Flags().String("changes", "", "Modifications as a JSON object")
		_ = cmd.MarkFlagRequired("changes")
	}
	return cmd
}

func runOversightList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(commandContext(cmd), 10*time.Second)
	defer cancel()

	requests, err := newGatewayClient(cfg.Gateway).Pending(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(requests) == 0 {
		fmt.Fprintln(out, "No pending oversight requests.")
		return nil
	}
	fmt.Fprint(out, renderOversightTable(requests, time.Now()))
	return nil
}

func renderOversightTable(requests []oversight.Request, now time.Time) string {
	rows := make([][]string, 0, len(requests))
	colors := make([]lipgloss.TerminalColor, 0, len(requests))
	for _, r := range requests {
		rows = append(rows, []string{
			r.ID,
			r.Type,
			r.AgentType,
			r.RiskLevel.String(),
			remaining(r, now),
			r.Description,
		})
		colors = append(colors, riskColor(r.RiskLevel.String()))
	}
	return renderTable("Pending Oversight", []column{
		{"ID", 18}, {"TYPE", 22}, {"AGENT", 18}, {"RISK", 9}, {"EXPIRES", 9}, {"DESCRIPTION", 40},
	}, rows, colors) + "\n"
}

func remaining(r oversight.Request, now time.Time) string {
	left := r.Deadline().Sub(now)
	if left <= 0 {
		return "expired"
	}
	return left.Round(time.Second).String()
}

func runOversightShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(commandContext(cmd), 10*time.Second)
	defer cancel()

	req, err := newGatewayClient(cfg.Gateway).Get(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, notify.FormatRequest(req))
	if req.Resolved() {
		fmt.Fprintf(out, "\nDecision: %s by %s (%s)\n", req.Decision, req.DecidedBy, req.DecisionReason)
	}
	return nil
}

func runOversightDecision(cmd *cobra.Command, id string, decision oversight.Decision) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	by, _ := cmd.Flags().GetString("by")
	reason, _ := cmd.Flags().GetString("reason")
	body := decisionBody{
		Decision:  string(decision),
		Reason:    strings.TrimSpace(reason),
		DecidedBy: strings.TrimSpace(by),
	}
	if decision == oversight.DecisionModify {
		raw, _ := cmd.Flags().GetString("changes")
		if err := json.Unmarshal([]byte(raw), &body.Modifications); err != nil {
			return fmt.Errorf("--changes must be a JSON object: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 10*time.Second)
	defer cancel()
	req, err := newGatewayClient(cfg.Gateway).Decide(ctx, id, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Oversight %s: %s.\n", req.ID, req.Decision)
	return nil
}

func defaultOperator() string {
	for _, key := range []string{"WARDEN_OPERATOR", "USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "operator"
}
