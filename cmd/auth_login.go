package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var loginOTP string

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the configured service",
	Long: `Log in to the configured service through the Fedora OpenID dance.

The credentials are exchanged directly with the identity provider; the
service itself never sees the password. On success the session cookie is
cached and reused by every later invocation.

Examples:
  fedclient auth login -u jdoe                  # Prompt for the password
  fedclient auth login -u jdoe -p -             # Read the password from stdin
  fedclient auth login -u jdoe --otp 123456`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginOTP, "otp", "", "One-time password, if the account has one enrolled")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	if authUsername == "" {
		return fmt.Errorf("a username is required: pass --username")
	}

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	password := authPassword
	if password == "" || password == "-" {
		if password != "-" {
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s: ", authUsername)
		}
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	c, err := newBaseClient(cfg, authUsername, password)
	if err != nil {
		return err
	}

	if _, err := c.Login(cmd.Context(), authUsername, password, loginOTP); err != nil {
		return err
	}

	authPrint("Logged in to %s as %s\n", cfg.BaseURL, authUsername)
	return nil
}
