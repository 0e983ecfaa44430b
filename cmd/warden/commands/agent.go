package commands

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MEKXH/warden/internal/access"
	"github.com/spf13/cobra"
)

func NewAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agent permissions",
	}

	cmd.AddCommand(
		newAgentListCmd(),
		newAgentGrantCmd(),
	)

	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agent permissions",
		RunE:  runAgentList,
	}
}

func newAgentGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <agent> <resource>",
		Short: "Grant an agent a permission level on a resource",
		Args:  cobra.ExactArgs(2),
		RunE:  runAgentGrant,
	}
	cmd.Flags().String("level", "read", "Permission level (none|read|write|execute|admin)")
	cmd.Flags().StringSlice("allow", nil, "Actions explicitly allowed")
	cmd.Flags().StringSlice("deny", nil, "Actions explicitly denied")
	return cmd
}

func runAgentList(cmd *cobra.Command, args []string) error {
	return withAccessManager(func(m *access.Manager) error {
		var rows [][]string
		for _, agent := range m.Agents() {
			perms := m.AgentPermissions(agent)
			for _, resource := range slices.Sorted(maps.Keys(perms)) {
				p := perms[resource]
				rows = append(rows, []string{agent, resource, p.Level.String(), describeActions(p.Actions)})
			}
		}
		out := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintln(out, "No agent permissions.")
			return nil
		}
		fmt.Fprint(out, renderTable("Agent Permissions", []column{
			{"AGENT", 20}, {"RESOURCE", 24}, {"LEVEL", 8}, {"ACTIONS", 40},
		}, rows, nil)+"\n")
		return nil
	})
}

func describeActions(actions map[string]bool) string {
	parts := make([]string, 0, len(actions))
	for _, a := range slices.Sorted(maps.Keys(actions)) {
		sign := "+"
		if !actions[a] {
			sign = "-"
		}
		parts = append(parts, sign+a)
	}
	return strings.Join(parts, " ")
}

func runAgentGrant(cmd *cobra.Command, args []string) error {
	agent, resource := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	perm, err := grantFromFlags(cmd)
	if err != nil {
		return err
	}
	return withAccessManager(func(m *access.Manager) error {
		if err := m.UpdateAgentPermissions(agent, access.Permissions{resource: perm}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Granted %s %s on %s.\n%s\n", agent, perm.Level, resource, restartHint)
		return nil
	})
}

func grantFromFlags(cmd *cobra.Command) (access.ResourcePermission, error) {
	levelRaw, _ := cmd.Flags().GetString("level")
	allow, _ := cmd.Flags().GetStringSlice("allow")
	deny, _ := cmd.Flags().GetStringSlice("deny")

	level, err := access.ParseLevel(levelRaw)
	if err != nil {
		return access.ResourcePermission{}, err
	}
	perm := access.ResourcePermission{Level: level}
	if len(allow)+len(deny) > 0 {
		perm.Actions = make(map[string]bool, len(allow)+len(deny))
		for _, a := range allow {
			perm.Actions[strings.TrimSpace(a)] = true
		}
		for _, a := range deny {
			perm.Actions[strings.TrimSpace(a)] = false
		}
	}
	return perm, nil
}
