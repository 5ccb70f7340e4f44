package config

// Default values applied before the file is read. Retries and timeout
// mirror the library defaults so a flagless, fileless run behaves the same
// as a plain library client.
const (
	DefaultIdPRoot = "https://id.fedoraproject.org/"
	DefaultOIDCIdP = "https://id.fedoraproject.org/openidc"
	DefaultApp     = "fedclient"
	DefaultTimeout = 120
	DefaultRetries = 0
)

// GetDefaultConfig returns the configuration used when no config.yaml
// exists.
func GetDefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
		IdPRoot: DefaultIdPRoot,
		OIDC: OIDCConfig{
			IdPURL: DefaultOIDCIdP,
			App:    DefaultApp,
		},
	}
}
