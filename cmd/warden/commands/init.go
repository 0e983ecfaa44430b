package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEKXH/warden/internal/config"
	"github.com/spf13/cobra"
)

const examplePolicyBundle = `# Example policy bundle. Import with: warden policy import <file>
policies:
  - name: no-production-writes
    description: Agents may not write or delete under production resources
    rules:
      forbidden_resource_prefixes: ["production/"]
      actions: ["write", "delete", "modify"]
  - name: bounded-downloads
    description: Cap download size for the web surfer
    rules:
      agent_types: ["web_surfer"]
      limits:
        max_download_mb: 50
agents:
  reviewer:
    qa_system:
      level: read
`

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Warden configuration and workspace",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := strings.TrimSpace(configFile)
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	cfg := config.DefaultConfig()
	workspacePath := cfg.WorkspacePath()

	dirs := []string{
		filepath.Dir(configPath),
		workspacePath,
		filepath.Join(workspacePath, "state"),
		filepath.Join(workspacePath, "logs"),
		filepath.Join(workspacePath, "environments"),
		filepath.Join(workspacePath, "policies"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := config.SaveFile(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	examplePath := filepath.Join(workspacePath, "policies", "example.yaml")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		_ = os.WriteFile(examplePath, []byte(examplePolicyBundle), 0644)
	}

	fmt.Printf("Warden initialized!\n")
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Workspace: %s\n", workspacePath)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Review agent permissions in %s\n", configPath)
	fmt.Printf("2. Import policies: warden policy import %s\n", examplePath)
	fmt.Printf("3. Run 'warden run' to start the gateway\n")

	return nil
}
