package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"fedclient/internal/config"
	"fedclient/pkg/fedora"
	"fedclient/pkg/logging"
)

// Exit codes for CLI commands. These follow common conventions so scripts
// can distinguish "you need to log in" from "the call failed".
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the login or token flow failed.
	ExitCodeAuthFailed = 3
)

// Global flags shared by every subcommand.
var (
	configPath   string
	flagBaseURL  string
	flagVerbose  bool
	flagInsecure bool
	flagTimeout  int
	flagRetries  int
)

// rootCmd represents the base command for the fedclient application.
var rootCmd = &cobra.Command{
	Use:   "fedclient",
	Short: "Talk to Fedora services from the command line",
	Long: `fedclient is a command-line client for Fedora account-backed services.

It manages both authentication flavors the services speak: cookie sessions
established through the Fedora OpenID login dance, and OpenID Connect bearer
tokens obtained through a browser flow. Sessions and tokens are cached under
the user's home directory and reused across invocations.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if flagVerbose {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, os.Stderr)
	},
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It is called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "fedclient version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var loginRequired *fedora.LoginRequiredError
	if errors.As(err, &loginRequired) {
		return ExitCodeAuthRequired
	}

	var authErr *fedora.AuthError
	if errors.As(err, &authErr) {
		return ExitCodeAuthFailed
	}

	var untrusted *fedora.UntrustedIdentityProviderError
	if errors.As(err, &untrusted) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "Service base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagInsecure, "insecure", false, "Skip TLS verification (testing only)")
	rootCmd.PersistentFlags().IntVar(&flagTimeout, "timeout", config.DefaultTimeout, "Per-request timeout in seconds")
	rootCmd.PersistentFlags().IntVar(&flagRetries, "retries", config.DefaultRetries, "Retries for transient failures, -1 for unbounded")
}
