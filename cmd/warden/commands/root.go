package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/MEKXH/warden/internal/config"
	"github.com/spf13/cobra"
)

var (
	logLevelOverride string
	configFile       string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - safety middleware for agent actions",
		Long: `Warden screens agent actions before they run: prompt threat detection,
access control, human oversight and an audit trail, behind one HTTP gateway.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, cmd.Name() == "review")
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $WARDEN_HOME/config.json)")

	cmd.AddCommand(
		NewInitCmd(),
		NewRunCmd(),
		NewStatusCmd(),
		NewAnalyzeCmd(),
		NewSubmitCmd(),
		NewOversightCmd(),
		NewReviewCmd(),
		NewPolicyCmd(),
		NewAgentCmd(),
		NewLoginCmd(),
		NewHashSecretCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// loadConfig honours --config, falling back to the default location.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(configFile); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadWorkspace loads config and resolves the workspace directory.
func loadWorkspace() (*config.Config, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, "", fmt.Errorf("invalid workspace: %w", err)
	}
	return cfg, workspacePath, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
