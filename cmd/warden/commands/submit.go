package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MEKXH/warden/internal/safety"
	"github.com/spf13/cobra"
)

func NewSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an action to a running gateway",
		Long: `Submit an action to a running gateway. The call blocks while the action waits
for human oversight.`,
		RunE: runSubmit,
	}
	cmd.Flags().String("agent", "", "Agent type")
	cmd.Flags().String("action", "", "Action type")
	cmd.Flags().String("resource", "", "Target resource (default from config)")
	cmd.Flags().String("payload", "", "Payload screened by the threat detector")
	cmd.Flags().String("command", "", "Command to run in the isolated environment")
	cmd.Flags().StringToString("context", nil, "Extra context as key=value pairs")
	cmd.Flags().Bool("json", false, "Print the raw decision")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := submitRequest(cmd)
	if err != nil {
		return err
	}

	// oversight can hold the request far longer than the default client timeout
	client := newGatewayClient(cfg.Gateway)
	client.http.Timeout = 0

	res, err := client.Submit(commandContext(cmd), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprint(out, formatSubmitResult(res))
	return nil
}

func submitRequest(cmd *cobra.Command) (safety.ActionRequest, error) {
	agent, _ := cmd.Flags().GetString("agent")
	action, _ := cmd.Flags().GetString("action")
	resource, _ := cmd.Flags().GetString("resource")
	payload, _ := cmd.Flags().GetString("payload")
	command, _ := cmd.Flags().GetString("command")
	extra, _ := cmd.Flags().GetStringToString("context")

	req := safety.ActionRequest{
		AgentType:  strings.TrimSpace(agent),
		ActionType: strings.TrimSpace(action),
		Resource:   strings.TrimSpace(resource),
		Payload:    payload,
		Context:    map[string]any{},
	}
	for k, v := range extra {
		switch strings.ToLower(v) {
		case "true":
			req.Context[k] = true
		case "false":
			req.Context[k] = false
		default:
			req.Context[k] = v
		}
	}
	if strings.TrimSpace(command) != "" {
		req.Context["command"] = command
	}
	return req, req.Validate()
}

func formatSubmitResult(res safety.SubmitResult) string {
	var b strings.Builder
	status := string(res.Result.Status)
	if status == "" {
		status = string(safety.StatusBlocked)
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	if res.Result.ActionID != "" {
		fmt.Fprintf(&b, "Action: %s\n", res.Result.ActionID)
	}
	fmt.Fprintf(&b, "Authorized: %t\n", res.Authorized)
	if res.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", res.Reason)
	}
	if len(res.AppliedPolicies) > 0 {
		fmt.Fprintf(&b, "Policies: %s\n", strings.Join(res.AppliedPolicies, ", "))
	}
	if o := res.Result.Checks.Oversight; o != nil {
		fmt.Fprintf(&b, "Oversight: %s %s (%s)\n", o.ID, o.Decision, o.DecisionReason)
	}
	if exec := res.Result.Execution; exec != nil {
		fmt.Fprintf(&b, "Exit code: %d (%s)\n", exec.ExitCode, exec.Duration)
		if out := strings.TrimSpace(exec.Stdout); out != "" {
			fmt.Fprintf(&b, "\n%s\n", out)
		}
	}
	return b.String()
}
