package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"fedclient/pkg/csrf"
	"fedclient/pkg/fedora"
	"fedclient/pkg/openid"
	"fedclient/pkg/session"
)

// BaseClient talks to a Fedora service with a cookie session established
// through the OpenID login dance. Sessions persist across invocations via
// the session cache unless that is switched off.
//
// A BaseClient is safe for concurrent use; login and session replacement are
// serialized internally.
type BaseClient struct {
	baseURL string
	opts    options
	env     *envelope
	engine  *openid.Engine
	cache   *session.Store
	log     *slog.Logger

	mu       sync.Mutex
	jar      *swappableJar
	username string
}

// swappableJar is the one Jar the http.Client ever sees. http.Client.Do
// reads its Jar field unsynchronized, so session replacement swaps the jar
// behind this wrapper instead of reassigning the field.
type swappableJar struct {
	mu    sync.Mutex
	inner http.CookieJar
}

func (s *swappableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	jar := s.inner
	s.mu.Unlock()
	jar.SetCookies(u, cookies)
}

func (s *swappableJar) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	jar := s.inner
	s.mu.Unlock()
	return jar.Cookies(u)
}

func (s *swappableJar) swap(jar http.CookieJar) {
	s.mu.Lock()
	s.inner = jar
	s.mu.Unlock()
}

// New creates a client for the service at baseURL. A trailing slash is added
// if missing. With session caching enabled (the default), a previously
// cached session for the configured username is picked up immediately.
func New(baseURL string, opt ...Option) (*BaseClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}

	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create cookie jar: %w", err)
	}
	jar := &swappableJar{inner: inner}

	c := &BaseClient{
		baseURL:  baseURL,
		opts:     opts,
		jar:      jar,
		username: opts.username,
		log:      slog.Default(),
	}
	c.env = &envelope{
		baseURL: baseURL,
		client:  &http.Client{Jar: jar, Transport: transportFor(opts)},
		opts:    opts,
		log:     c.log,
	}
	c.engine = openid.NewEngine(openid.Config{
		BaseURL:   baseURL,
		IdPRoot:   opts.idpRoot,
		UserAgent: opts.userAgent,
		Insecure:  opts.insecure,
		Transport: opts.transport,
	})

	if opts.cacheSession {
		c.cache = session.NewStore(opts.cacheDir)
		c.loadCachedSession()
	}
	return c, nil
}

// Login runs the OpenID dance with the given credentials and installs the
// resulting session. It returns the IdP's response document the way the
// service's own login endpoint would.
func (c *BaseClient) Login(ctx context.Context, username, password, otp string) (map[string]any, error) {
	res, err := c.engine.Login(ctx, username, password, otp)
	if err != nil {
		// A failed dance invalidates whatever session was cached for
		// this identity.
		c.mu.Lock()
		c.username = username
		c.mu.Unlock()
		c.clearSession()
		return nil, err
	}

	c.mu.Lock()
	c.username = username
	c.setCookies(res.Cookies)
	c.mu.Unlock()

	c.persistSession()
	return res.Response, nil
}

// Logout tells the service to drop the session, best effort, then discards
// the local cookies and the cached entry. It never fails on the server's
// account.
func (c *BaseClient) Logout(ctx context.Context) {
	if c.HasCookies() {
		req := &Request{Path: "logout", Verb: http.MethodPost, Auth: AuthSession}
		if _, err := c.env.send(ctx, req, c.authorizeSession, nil); err != nil {
			c.log.Debug("server-side logout failed, discarding session anyway",
				"base_url", c.baseURL,
				"error", err.Error(),
			)
		}
	}
	c.clearSession()
}

// HasCookies reports whether a session cookie for the service is currently
// held.
func (c *BaseClient) HasCookies() bool {
	return c.sessionID() != ""
}

// SendRequest issues one call through the request envelope. For AuthSession
// a missing session triggers a login with the configured credentials first,
// and a session the server rejects is replaced by exactly one re-login
// before the failure surfaces.
func (c *BaseClient) SendRequest(ctx context.Context, req *Request) (map[string]any, error) {
	var authorize func(*http.Request) error
	var reauth func(context.Context) error

	switch req.Auth {
	case AuthNone:
	case AuthSession:
		if !c.HasCookies() {
			if err := c.relogin(ctx); err != nil {
				return nil, err
			}
		}
		authorize = c.authorizeSession
		reauth = c.relogin
	case AuthBasic:
		if c.opts.username == "" {
			return nil, &fedora.AuthError{Message: "basic auth requires credentials"}
		}
		authorize = func(r *http.Request) error {
			r.SetBasicAuth(c.opts.username, c.opts.password)
			return nil
		}
	case AuthPassword:
		if c.opts.username == "" || c.opts.password == "" {
			return nil, &fedora.AuthError{Message: "password auth requires credentials"}
		}
		params := make(map[string]string, len(req.Params)+3)
		for k, v := range req.Params {
			params[k] = v
		}
		params["user_name"] = c.opts.username
		params["password"] = c.opts.password
		params["login"] = "Login"
		withCreds := *req
		withCreds.Params = params
		req = &withCreds
	case AuthBearer:
		return nil, fmt.Errorf("bearer auth requires an OIDCClient")
	default:
		return nil, fmt.Errorf("unknown auth mode %d", req.Auth)
	}

	before := c.sessionID()
	doc, err := c.env.send(ctx, req, authorize, reauth)

	// The jar picks up a rolled session cookie by itself; mirror it into
	// the cache so the next invocation sees it too.
	if after := c.sessionID(); after != "" && after != before {
		c.persistSession()
	}
	return doc, err
}

// authorizeSession stamps the request URL with the CSRF token derived from
// the current session. The cookie itself travels via the jar.
func (c *BaseClient) authorizeSession(r *http.Request) error {
	id := c.sessionID()
	if id == "" {
		return nil
	}
	stamped, err := csrf.InjectURL(r.URL.String(), csrf.Token(id))
	if err != nil {
		return err
	}
	u, err := url.Parse(stamped)
	if err != nil {
		return err
	}
	r.URL = u
	return nil
}

// relogin replaces a missing or rejected session using the configured
// credentials. Without credentials there is nothing to retry with.
func (c *BaseClient) relogin(ctx context.Context) error {
	if c.opts.username == "" || c.opts.password == "" {
		return &fedora.AuthError{Message: "no credentials"}
	}
	c.clearSession()
	_, err := c.Login(ctx, c.opts.username, c.opts.password, "")
	return err
}

func (c *BaseClient) identity() fedora.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fedora.Identity{BaseURL: c.baseURL, Username: c.username}
}

// sessionID returns the value of the session cookie currently in the jar,
// or empty.
func (c *BaseClient) sessionID() string {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cookie := range c.jar.Cookies(base) {
		if cookie.Name == c.opts.sessionCookie {
			return cookie.Value
		}
	}
	return ""
}

// loadCachedSession seeds the jar from the session cache.
func (c *BaseClient) loadCachedSession() {
	cached := c.cache.Load(fedora.Identity{BaseURL: c.baseURL, Username: c.username})
	if len(cached) == 0 {
		return
	}
	cookies := make([]*http.Cookie, 0, len(cached))
	for _, sc := range cached {
		cookies = append(cookies, &http.Cookie{Name: sc.Name, Value: sc.Value})
	}

	c.mu.Lock()
	c.setCookies(cookies)
	c.mu.Unlock()

	c.log.Debug("resumed cached session", "base_url", c.baseURL, "username", c.username)
}

// persistSession writes the jar's current cookies for the service to the
// cache.
func (c *BaseClient) persistSession() {
	if c.cache == nil {
		return
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}

	c.mu.Lock()
	var cookies []session.Cookie
	for _, cookie := range c.jar.Cookies(base) {
		cookies = append(cookies, session.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	id := fedora.Identity{BaseURL: c.baseURL, Username: c.username}
	c.mu.Unlock()

	c.cache.Save(id, cookies)
}

// clearSession drops the live cookies and the cached entry.
func (c *BaseClient) clearSession() {
	id := c.identity()

	if jar, err := cookiejar.New(nil); err == nil {
		c.jar.swap(jar)
	}

	if c.cache != nil {
		c.cache.Forget(id)
	}
}

// setCookies installs cookies for the service into the jar. Caller holds
// c.mu.
func (c *BaseClient) setCookies(cookies []*http.Cookie) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(base, cookies)
}

func transportFor(opts options) http.RoundTripper {
	if opts.transport != nil {
		return opts.transport
	}
	if opts.insecure {
		slog.Warn("TLS verification disabled")
		return &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- explicit test-only opt-in
		}
	}
	return http.DefaultTransport
}
