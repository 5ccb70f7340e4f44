package client

import (
	"net/http"
	"time"
)

// Version is reported in the default User-Agent.
const Version = "0.1.0"

// Defaults for the envelope. Overridable per client via options and per
// call via Request fields.
const (
	DefaultTimeout    = 120 * time.Second
	DefaultRetries    = 0
	DefaultRetrySleep = 5 * time.Second

	// DefaultSessionCookie is the session cookie the Fedora services roll.
	DefaultSessionCookie = "tg-visit"

	// DefaultIdPRoot is the trusted identity provider for the OpenID
	// dance.
	DefaultIdPRoot = "https://id.fedoraproject.org/"
)

type options struct {
	userAgent     string
	debug         bool
	insecure      bool
	retries       int
	timeout       time.Duration
	retrySleep    time.Duration
	username      string
	password      string
	cacheSession  bool
	cacheDir      string
	sessionCookie string
	idpRoot       string
	tgFormatJSON  bool
	interactive   bool
	transport     http.RoundTripper
}

func defaultOptions() options {
	return options{
		userAgent:     "Fedora fedclient/" + Version,
		retries:       DefaultRetries,
		timeout:       DefaultTimeout,
		retrySleep:    DefaultRetrySleep,
		cacheSession:  true,
		sessionCookie: DefaultSessionCookie,
		idpRoot:       DefaultIdPRoot,
		interactive:   true,
	}
}

// Option configures a client facade.
type Option func(*options)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithDebug enables request/response debug logging.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithInsecure disables TLS verification. Testing only; the production
// default verifies.
func WithInsecure() Option {
	return func(o *options) { o.insecure = true }
}

// WithRetries sets the default retry count for transient failures.
// Negative means retry without bound.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetrySleep sets the pause between retries.
func WithRetrySleep(d time.Duration) Option {
	return func(o *options) { o.retrySleep = d }
}

// WithCredentials provides the username and password used for login and
// transparent re-login.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithSessionCache controls whether sessions are persisted across
// invocations. On by default.
func WithSessionCache(enabled bool) Option {
	return func(o *options) { o.cacheSession = enabled }
}

// WithCacheDir overrides the session cache directory. Mainly for tests.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

// WithSessionCookie overrides the session cookie name.
func WithSessionCookie(name string) Option {
	return func(o *options) { o.sessionCookie = name }
}

// WithIdPRoot overrides the trusted identity provider URL prefix.
func WithIdPRoot(root string) Option {
	return func(o *options) { o.idpRoot = root }
}

// WithTGFormatJSON adds tg_format=json to every request, coercing legacy
// TurboGears endpoints into answering JSON.
func WithTGFormatJSON() Option {
	return func(o *options) { o.tgFormatJSON = true }
}

// WithNonInteractive forbids flows that need a human: no browser is opened
// and no authorization URL is printed. Calls that would need one fail with
// an auth error instead.
func WithNonInteractive() Option {
	return func(o *options) { o.interactive = false }
}

// WithTransport overrides the HTTP transport. Mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}
