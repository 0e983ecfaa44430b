package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/oversight"
)

// Log writes oversight requests to the process log.
type Log struct{}

func (Log) Notify(_ context.Context, req oversight.Request) error {
	slog.Warn("oversight decision required",
		"request_id", req.ID,
		"type", req.Type,
		"agent_type", req.AgentType,
		"risk_level", req.RiskLevel.String(),
		"deadline", req.Deadline().Format(time.RFC3339))
	return nil
}

// Multi fans a request out to every notifier. All are tried.
type Multi []oversight.Notifier

func (m Multi) Notify(ctx context.Context, req oversight.Request) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatRequest renders a request as light markdown.
func FormatRequest(req oversight.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Oversight required** `%s`\n", req.ID)
	fmt.Fprintf(&b, "Type: %s\n", req.Type)
	if req.AgentType != "" {
		fmt.Fprintf(&b, "Agent: %s\n", req.AgentType)
	}
	fmt.Fprintf(&b, "Risk: **%s** (score %d)\n", req.RiskLevel, req.RiskScore)
	if req.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Description)
	}
	fmt.Fprintf(&b, "Deadline: %s\n", req.Deadline().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Decide with `warden oversight approve %s` or `warden oversight reject %s`", req.ID, req.ID)
	return b.String()
}
