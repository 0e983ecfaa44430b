package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/spf13/cobra"
)

func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against a running gateway and print a session token",
		Long: `Authenticate against a running gateway. The printed token can replace the static
gateway token as a bearer credential; oversight decisions made with it are attributed
to the user. Pass --secret - to read the secret from stdin.`,
		RunE: runLogin,
	}
	cmd.Flags().String("user", "", "Username")
	cmd.Flags().String("secret", "-", "Secret, or - to read it from stdin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	user, _ := cmd.Flags().GetString("user")
	secret, err := secretFlag(cmd)
	if err != nil {
		return err
	}

	session, err := newGatewayClient(cfg.Gateway).Login(commandContext(cmd), strings.TrimSpace(user), secret)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if session.Token == "" {
		fmt.Fprintf(out, "Authenticated %s (session %s). The gateway issues no tokens; set access.token_secret.\n", session.Username, session.ID)
		return nil
	}
	fmt.Fprintf(out, "Authenticated %s until %s\n%s\n", session.Username, session.ExpiresAt.Local().Format(time.RFC3339), session.Token)
	return nil
}

func NewHashSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-secret",
		Short: "Print a bcrypt hash for access.credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}
			hash, err := access.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().String("secret", "-", "Secret, or - to read it from stdin")
	return cmd
}

// secretFlag reads --secret, taking the first stdin line for "-".
func secretFlag(cmd *cobra.Command) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret != "-" {
		return secret, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
