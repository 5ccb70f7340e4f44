package cmd

import (
	"fmt"
	"os"
	"time"

	"fedclient/internal/config"
	"fedclient/pkg/client"
	"fedclient/pkg/oidc"
)

// loadConfiguration reads config.yaml and lays the global flags over it.
// Flags only win when the user actually set them, so a config file value is
// not clobbered by a flag default.
func loadConfiguration() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := rootCmd.PersistentFlags()
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	if flagInsecure {
		cfg.Insecure = true
	}
	if flags.Changed("timeout") {
		cfg.Timeout = flagTimeout
	}
	if flags.Changed("retries") {
		cfg.Retries = flagRetries
	}
	return cfg, nil
}

// clientOptions translates the effective configuration into client options.
func clientOptions(cfg config.Config) []client.Option {
	opts := []client.Option{
		client.WithTimeout(time.Duration(cfg.Timeout) * time.Second),
		client.WithRetries(cfg.Retries),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, client.WithUserAgent(cfg.UserAgent))
	}
	if cfg.Insecure {
		opts = append(opts, client.WithInsecure())
	}
	if cfg.CacheDir != "" {
		opts = append(opts, client.WithCacheDir(cfg.CacheDir))
	}
	if cfg.IdPRoot != "" {
		opts = append(opts, client.WithIdPRoot(cfg.IdPRoot))
	}
	if flagVerbose {
		opts = append(opts, client.WithDebug())
	}
	return opts
}

// newBaseClient builds a cookie-session client for the configured service.
func newBaseClient(cfg config.Config, username, password string) (*client.BaseClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no service configured: set base_url in config.yaml or pass --base-url")
	}
	opts := clientOptions(cfg)
	if username != "" {
		opts = append(opts, client.WithCredentials(username, password))
	}
	return client.New(cfg.BaseURL, opts...)
}

// newTokenManager builds the OpenID Connect token manager from the
// configuration.
func newTokenManager(cfg config.Config) (*oidc.Manager, error) {
	if cfg.OIDC.ClientID == "" {
		return nil, fmt.Errorf("no OIDC client configured: set oidc.client_id in config.yaml")
	}
	return oidc.NewManager(oidc.ManagerConfig{
		IdPURL:       cfg.OIDC.IdPURL,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		App:          cfg.OIDC.App,
		CacheDir:     cfg.CacheDir,
		Out:          os.Stdout,
	})
}
