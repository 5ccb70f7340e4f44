package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fedclient/pkg/oidc"
)

var (
	tokenScopes         []string
	tokenNonInteractive bool
)

// tokenCmd represents the token command group
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage OpenID Connect bearer tokens",
	Long: `Manage the OpenID Connect bearer tokens used by token-authenticated
services.

Tokens are cached per application and reused while the identity provider
still accepts them; expired ones are refreshed in place. When nothing in the
cache fits, a browser-based authorization flow obtains a new one.

Examples:
  fedclient token get                            # Token with the default scopes
  fedclient token get --scopes read,write        # Token covering extra scopes
  fedclient token get --non-interactive          # Never open a browser
  fedclient token clear                          # Forget every cached token`,
}

// tokenGetCmd represents the token get command
var tokenGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print an access token covering the requested scopes",
	Long: `Print an access token covering the requested scopes to stdout.

The output is the bare token, suitable for command substitution:

  curl -H "Authorization: Bearer $(fedclient token get)" ...`,
	RunE: runTokenGet,
}

// tokenClearCmd represents the token clear command
var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget all cached tokens for this application",
	RunE:  runTokenClear,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenGetCmd)
	tokenCmd.AddCommand(tokenClearCmd)

	tokenGetCmd.Flags().StringSliceVar(&tokenScopes, "scopes", nil, "Scopes the token must cover, besides openid")
	tokenGetCmd.Flags().BoolVar(&tokenNonInteractive, "non-interactive", false, "Fail instead of opening a browser")
}

func runTokenGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	manager, err := newTokenManager(cfg)
	if err != nil {
		return err
	}

	scopes := tokenScopes
	if len(scopes) == 0 {
		scopes = cfg.OIDC.Scopes
	}

	token, err := manager.GetToken(cmd.Context(), scopes, !tokenNonInteractive)
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("no token available for scopes %v without a browser flow", scopes)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
	return nil
}

func runTokenClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	store, err := oidc.NewStore(cfg.CacheDir, cfg.OIDC.App)
	if err != nil {
		return err
	}

	entries := store.List()
	for _, e := range entries {
		if err := store.Delete(e.UUID); err != nil {
			return fmt.Errorf("failed to remove token %s: %w", e.UUID, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached token(s).\n", len(entries))
	return nil
}
