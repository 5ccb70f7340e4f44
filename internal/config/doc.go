// Package config loads the CLI's configuration file.
//
// Configuration lives in a single YAML file, config.yaml, inside the user's
// config directory (~/.config/fedclient by default). A missing file is not
// an error: defaults apply and everything can still be set per invocation
// with flags. A malformed file is an error, silently ignoring it would make
// typos invisible.
package config
