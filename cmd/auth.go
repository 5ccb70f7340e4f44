package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fedclient/pkg/fedora"
	"fedclient/pkg/session"
)

var (
	authUsername string
	authPassword string
	authQuiet    bool
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage cookie sessions for Fedora services",
	Long: `Manage cookie-session authentication for Fedora services.

The auth command group logs in through the Fedora OpenID dance, shows the
cached session state, and discards sessions. Sessions are cached on disk and
reused by every later invocation until they expire or are logged out.

Examples:
  fedclient auth login -u jdoe             # Log in, prompting for the password
  fedclient auth whoami -u jdoe            # Show the cached session state
  fedclient auth logout -u jdoe            # Drop the session locally and remotely`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the cached session",
	Long: `Drop the session for the configured service.

The server is told to end the session, best effort, and the local session
cache entry is removed either way. The next authenticated call will log in
again.

Examples:
  fedclient auth logout -u jdoe
  fedclient auth logout -u jdoe --base-url https://admin.fedoraproject.org/pkgdb`,
	RunE: runAuthLogout,
}

// authWhoamiCmd represents the auth whoami command
var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the cached session state",
	Long: `Show whether a cached session exists for the configured service.

Examples:
  fedclient auth whoami -u jdoe`,
	RunE: runAuthWhoami,
}

// authPrint prints output only if the --quiet flag is not set.
func authPrint(format string, args ...interface{}) {
	if !authQuiet {
		fmt.Printf(format, args...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authWhoamiCmd)

	authCmd.PersistentFlags().StringVarP(&authUsername, "username", "u", "", "Fedora account name")
	authCmd.PersistentFlags().StringVarP(&authPassword, "password", "p", "", "Password (prompted when omitted)")
	authCmd.PersistentFlags().BoolVarP(&authQuiet, "quiet", "q", false, "Suppress non-essential output")
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	c, err := newBaseClient(cfg, authUsername, "")
	if err != nil {
		return err
	}

	if !c.HasCookies() {
		authPrint("No cached session for %s.\n", cfg.BaseURL)
		return nil
	}

	c.Logout(cmd.Context())
	authPrint("Logged out from %s\n", cfg.BaseURL)
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("no service configured: set base_url in config.yaml or pass --base-url")
	}

	store := session.NewStore(cfg.CacheDir)
	id := fedora.Identity{BaseURL: ensureTrailingSlash(cfg.BaseURL), Username: authUsername}

	cookies := store.Load(id)
	if len(cookies) == 0 {
		authPrint("Not logged in to %s\n", cfg.BaseURL)
		authPrint("\nTo log in, run:\n")
		authPrint("  fedclient auth login -u %s\n", authUsername)
		return &fedora.LoginRequiredError{}
	}

	fmt.Printf("Service:   %s\n", cfg.BaseURL)
	if authUsername != "" {
		fmt.Printf("Username:  %s\n", authUsername)
	}
	fmt.Printf("Session:   cached (%d cookie(s))\n", len(cookies))
	fmt.Printf("Cache:     %s\n", store.Path())
	return nil
}

func ensureTrailingSlash(u string) string {
	if len(u) > 0 && u[len(u)-1] != '/' {
		return u + "/"
	}
	return u
}
