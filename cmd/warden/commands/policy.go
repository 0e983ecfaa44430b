package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/audit"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const restartHint = "Restart 'warden run' to apply the change to a running gateway."

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage access control policies",
	}

	cmd.AddCommand(
		newPolicyListCmd(),
		newPolicyCreateCmd(),
		newPolicyImportCmd(),
		newPolicyToggleCmd("enable", true),
		newPolicyToggleCmd("disable", false),
		newPolicyDeleteCmd(),
	)

	return cmd
}

func newPolicyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policies",
		RunE:  runPolicyList,
	}
}

func newPolicyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a policy",
		RunE:  runPolicyCreate,
	}
	cmd.Flags().String("name", "", "Policy name")
	cmd.Flags().String("description", "", "Policy description")
	cmd.Flags().StringSlice("resources", nil, "Resources (or prefixes ending in /) the policy applies to")
	cmd.Flags().StringSlice("actions", nil, "Actions the policy applies to")
	cmd.Flags().StringSlice("agents", nil, "Agent types the policy applies to")
	cmd.Flags().StringSlice("forbid-actions", nil, "Actions that are always denied")
	cmd.Flags().StringSlice("forbid-prefixes", nil, "Resource prefixes that are always denied")
	cmd.Flags().StringToString("limit", nil, "Numeric context limits as key=max")
	cmd.Flags().Bool("disabled", false, "Create the policy disabled")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPolicyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a YAML policy bundle",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyImport,
	}
}

func newPolicyToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccessManager(func(m *access.Manager) error {
				p, err := m.SetPolicyEnabled(args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Policy %s (%s) %sd.\n%s\n", p.ID, p.Name, use, restartHint)
				return nil
			})
		},
	}
}

func newPolicyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccessManager(func(m *access.Manager) error {
				if err := m.DeletePolicy(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Policy %s deleted.\n%s\n", args[0], restartHint)
				return nil
			})
		},
	}
}

// withAccessManager opens the workspace access store. Changes are audited through a
// short-lived monitor that is drained before returning.
func withAccessManager(fn func(*access.Manager) error) error {
	cfg, workspacePath, err := loadWorkspace()
	if err != nil {
		return err
	}
	mon, err := monitor.New(monitor.Config{}, audit.NewJournal(workspacePath), nil)
	if err != nil {
		return err
	}
	mon.Start()
	defer mon.Stop()

	accessCfg, err := buildAccessConfig(cfg.Access)
	if err != nil {
		return err
	}
	m, err := access.NewManager(accessCfg, access.NewStore(workspacePath), nil, mon)
	if err != nil {
		return err
	}
	return fn(m)
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	return withAccessManager(func(m *access.Manager) error {
		policies := m.ListPolicies()
		out := cmd.OutOrStdout()
		if len(policies) == 0 {
			fmt.Fprintln(out, "No policies.")
			return nil
		}
		fmt.Fprint(out, renderPolicyTable(policies))
		return nil
	})
}

func renderPolicyTable(policies []access.Policy) string {
	rows := make([][]string, 0, len(policies))
	colors := make([]lipgloss.TerminalColor, 0, len(policies))
	for _, p := range policies {
		state := "enabled"
		var color lipgloss.TerminalColor = okColor
		if !p.Enabled {
			state = "disabled"
			color = mutedColor
		}
		rows = append(rows, []string{p.ID, p.Name, state, describeRules(p.Rules)})
		colors = append(colors, color)
	}
	return renderTable("Policies", []column{
		{"ID", 16}, {"NAME", 24}, {"STATUS", 9}, {"RULES", 60},
	}, rows, colors) + "\n"
}

func describeRules(r access.Rules) string {
	var parts []string
	add := func(label string, values []string) {
		if len(values) > 0 {
			parts = append(parts, label+"="+strings.Join(values, ","))
		}
	}
	add("resources", r.Resources)
	add("actions", r.Actions)
	add("agents", r.AgentTypes)
	add("forbid", r.ForbiddenActions)
	add("forbid_prefix", r.ForbiddenResourcePrefixes)
	for resource, actions := range r.PermittedActions {
		add("permit["+resource+"]", actions)
	}
	for k, v := range r.Limits {
		parts = append(parts, fmt.Sprintf("%s<=%g", k, v))
	}
	return strings.Join(parts, " ")
}

func runPolicyCreate(cmd *cobra.Command, args []string) error {
	in, err := policyInputFromFlags(cmd)
	if err != nil {
		return err
	}
	return withAccessManager(func(m *access.Manager) error {
		p, err := m.CreatePolicy(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Policy %s (%s) created.\n%s\n", p.ID, p.Name, restartHint)
		return nil
	})
}

func policyInputFromFlags(cmd *cobra.Command) (access.PolicyInput, error) {
	name, _ := cmd.Flags().GetString("name")
	description, _ := cmd.Flags().GetString("description")
	resources, _ := cmd.Flags().GetStringSlice("resources")
	actions, _ := cmd.Flags().GetStringSlice("actions")
	agents, _ := cmd.Flags().GetStringSlice("agents")
	forbidActions, _ := cmd.Flags().GetStringSlice("forbid-actions")
	forbidPrefixes, _ := cmd.Flags().GetStringSlice("forbid-prefixes")
	limitFlags, _ := cmd.Flags().GetStringToString("limit")
	disabled, _ := cmd.Flags().GetBool("disabled")

	in := access.PolicyInput{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Disabled:    disabled,
		Rules: access.Rules{
			Resources:                 resources,
			Actions:                   actions,
			AgentTypes:                agents,
			ForbiddenActions:          forbidActions,
			ForbiddenResourcePrefixes: forbidPrefixes,
		},
	}
	if len(limitFlags) > 0 {
		in.Rules.Limits = make(map[string]float64, len(limitFlags))
		for k, raw := range limitFlags {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return access.PolicyInput{}, fmt.Errorf("invalid --limit %s=%s: %w", k, raw, err)
			}
			in.Rules.Limits[k] = v
		}
	}
	return in, nil
}

func runPolicyImport(cmd *cobra.Command, args []string) error {
	bundle, err := access.LoadBundle(args[0])
	if err != nil {
		return err
	}
	return withAccessManager(func(m *access.Manager) error {
		created, err := m.ApplyBundle(bundle)
		if err != nil {
			return fmt.Errorf("import stopped after %d policies: %w", len(created), err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d policies, %d agent grants, %d user grants.\n",
			len(created), len(bundle.Agents), len(bundle.Users))
		for _, p := range created {
			fmt.Fprintf(out, "  %s %s\n", p.ID, p.Name)
		}
		fmt.Fprintln(out, restartHint)
		return nil
	})
}
