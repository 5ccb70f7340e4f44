package config

// Config is the top-level structure of config.yaml.
type Config struct {
	// BaseURL is the service talked to when no --base-url flag is given.
	BaseURL string `yaml:"base_url,omitempty"`

	// UserAgent overrides the library's default User-Agent.
	UserAgent string `yaml:"useragent,omitempty"`

	// Insecure disables TLS verification. Testing only.
	Insecure bool `yaml:"insecure,omitempty"`

	// Timeout is the per-attempt request timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// Retries is how often transient failures are retried. Negative means
	// without bound.
	Retries int `yaml:"retries,omitempty"`

	// CacheDir overrides where sessions and tokens are cached.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// IdPRoot is the trusted OpenID identity provider for cookie logins.
	IdPRoot string `yaml:"idp_root,omitempty"`

	OIDC OIDCConfig `yaml:"oidc,omitempty"`
}

// OIDCConfig configures the OpenID Connect token flow.
type OIDCConfig struct {
	// IdPURL is the provider the authorization-code flow runs against.
	IdPURL string `yaml:"idp_url,omitempty"`

	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// App names the token cache file; different apps never share tokens.
	App string `yaml:"app,omitempty"`

	// Scopes requested on top of openid.
	Scopes []string `yaml:"scopes,omitempty"`
}
