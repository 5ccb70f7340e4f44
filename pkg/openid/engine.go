package openid

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"fedclient/pkg/fedora"
)

// Form constants understood by the Fedora IdP.
const (
	authModule = "fedoauth.auth.fas.Auth_FAS"
	authFlow   = "fedora"
)

// State tracks the progress of one login attempt.
type State int

const (
	// StateNoSession means no login is in progress or the last one failed.
	StateNoSession State = iota

	// StateAwaitingIdP means the IdP has been discovered and the
	// credential POST is next.
	StateAwaitingIdP

	// StateAwaitingReturn means the IdP accepted the credentials and the
	// return_to POST is next.
	StateAwaitingReturn

	// StateHaveSession means the dance completed and session cookies were
	// harvested.
	StateHaveSession
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateAwaitingIdP:
		return "awaiting_idp"
	case StateAwaitingReturn:
		return "awaiting_return"
	case StateHaveSession:
		return "have_session"
	default:
		return "unknown"
	}
}

// Config configures a login engine.
type Config struct {
	// BaseURL is the service being logged into, with a trailing slash.
	BaseURL string

	// IdPRoot is the trusted identity provider URL prefix. A login
	// response that references any other provider is rejected.
	IdPRoot string

	// UserAgent is sent on every request of the dance.
	UserAgent string

	// Insecure disables TLS verification. Testing only; the production
	// default verifies.
	Insecure bool

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Result is the outcome of a successful login.
type Result struct {
	// Cookies is the harvested session cookie set for the service.
	Cookies []*http.Cookie

	// Response is the IdP's response document, returned to the caller the
	// way the service's own login endpoint would return it.
	Response map[string]any
}

// Engine exchanges (username, password) for a session against a known IdP.
// An Engine is not safe for concurrent use; it belongs to one client facade.
type Engine struct {
	cfg   Config
	state State
}

// NewEngine creates a login engine for the given service and IdP.
func NewEngine(cfg Config) *Engine {
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	return &Engine{cfg: cfg}
}

// State returns the engine's current position in the login dance.
func (e *Engine) State() State {
	return e.state
}

// Login runs the full dance. The otp parameter is reserved and currently
// ignored. On any failure the engine returns to StateNoSession and the
// caller must treat its cached session as gone.
func (e *Engine) Login(ctx context.Context, username, password, otp string) (*Result, error) {
	_ = otp

	res, err := e.login(ctx, username, password)
	if err != nil {
		e.state = StateNoSession
		return nil, err
	}
	e.state = StateHaveSession
	return res, nil
}

func (e *Engine) login(ctx context.Context, username, password string) (*Result, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create cookie jar: %w", err)
	}

	var chain []*url.URL
	client := &http.Client{
		Jar:       jar,
		Transport: e.transport(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			chain = append(chain, req.URL)
			return nil
		},
	}

	e.state = StateNoSession

	idpURL, params, err := e.discover(ctx, client, &chain)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(idpURL, strings.TrimSuffix(e.cfg.IdPRoot, "/")) {
		return nil, &fedora.UntrustedIdentityProviderError{URL: idpURL}
	}
	e.state = StateAwaitingIdP

	idpResponse, err := e.checkIDSetup(ctx, client, idpURL, params, username, password)
	if err != nil {
		return nil, err
	}
	e.state = StateAwaitingReturn

	if err := e.postReturnTo(ctx, client, idpResponse); err != nil {
		return nil, err
	}

	base, err := url.Parse(e.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", e.cfg.BaseURL, err)
	}

	slog.Debug("login dance completed",
		"base_url", e.cfg.BaseURL,
		"username", username,
	)

	return &Result{
		Cookies:  jar.Cookies(base),
		Response: idpResponse,
	}, nil
}

// discover fetches the service login endpoint and works out which IdP to
// talk to and with which OpenID parameters. A JSON body naming server_url is
// preferred; otherwise the last redirect belonging to the IdP host carries
// the parameters in its query string.
func (e *Engine) discover(ctx context.Context, client *http.Client, chain *[]*url.URL) (string, url.Values, error) {
	loginURL := e.cfg.BaseURL + "login"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Accept", "application/json")
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, &fedora.ServerError{URL: loginURL, Status: -1, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, &fedora.ServerError{URL: loginURL, Status: resp.StatusCode, Reason: err.Error()}
	}

	// JSON wins over the redirect chain when both are present.
	var doc map[string]any
	if jsonErr := json.Unmarshal(body, &doc); jsonErr == nil {
		if serverURL, ok := doc["server_url"].(string); ok && serverURL != "" {
			params := url.Values{}
			for k, v := range doc {
				if k == "server_url" {
					continue
				}
				if s, ok := v.(string); ok {
					params.Set(k, s)
				}
			}
			return strings.TrimSuffix(serverURL, "/"), params, nil
		}
	}

	// Walk the recorded redirects, last IdP-owned one wins. The final
	// response URL counts as the end of the chain.
	urls := append(*chain, resp.Request.URL)
	idpHost := ""
	if u, err := url.Parse(e.cfg.IdPRoot); err == nil {
		idpHost = u.Host
	}
	for i := len(urls) - 1; i >= 0; i-- {
		u := urls[i]
		if u.Host != idpHost {
			continue
		}
		return u.Scheme + "://" + u.Host, u.Query(), nil
	}

	return "", nil, &fedora.ServerError{
		URL:    loginURL,
		Status: resp.StatusCode,
		Reason: "login endpoint returned neither a server_url nor an IdP redirect",
	}
}

// checkIDSetup POSTs the harvested parameters plus the credentials to the
// IdP's API endpoint. A non-2xx answer here is fatal and never retried.
func (e *Engine) checkIDSetup(ctx context.Context, client *http.Client, idpURL string, params url.Values, username, password string) (map[string]any, error) {
	apiURL := idpURL + "/api/v1/"

	form := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("auth_module", authModule)
	form.Set("auth_flow", authFlow)
	form.Set("openid.mode", "checkid_setup")

	resp, err := e.postForm(ctx, client, apiURL, form)
	if err != nil {
		return nil, &fedora.ServerError{URL: apiURL, Status: -1, Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fedora.ServerError{URL: apiURL, Status: resp.StatusCode, Reason: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &fedora.ServerError{URL: apiURL, Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	var doc struct {
		Success  bool              `json:"success"`
		Message  string            `json:"message"`
		Response map[string]string `json:"response"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &fedora.ServerError{URL: apiURL, Status: resp.StatusCode, Reason: "malformed IdP response: " + err.Error()}
	}

	if !doc.Success {
		return nil, &fedora.AuthError{Message: doc.Message}
	}

	response := make(map[string]any, len(doc.Response))
	for k, v := range doc.Response {
		response[k] = v
	}
	return response, nil
}

// postReturnTo POSTs the IdP's response to its embedded return_to URL. The
// cookies the client's jar accumulates across this step's redirects are the
// new session.
func (e *Engine) postReturnTo(ctx context.Context, client *http.Client, idpResponse map[string]any) error {
	returnTo, _ := idpResponse["openid.return_to"].(string)
	if returnTo == "" {
		return &fedora.ServerError{URL: e.cfg.BaseURL, Status: -1, Reason: "IdP response carries no openid.return_to"}
	}

	form := url.Values{}
	for k, v := range idpResponse {
		if s, ok := v.(string); ok {
			form.Set(k, s)
		}
	}

	resp, err := e.postForm(ctx, client, returnTo, form)
	if err != nil {
		return &fedora.ServerError{URL: returnTo, Status: -1, Reason: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &fedora.ServerError{URL: returnTo, Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (e *Engine) postForm(ctx context.Context, client *http.Client, rawurl string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawurl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	return client.Do(req)
}

func (e *Engine) transport() http.RoundTripper {
	if e.cfg.Transport != nil {
		return e.cfg.Transport
	}
	if e.cfg.Insecure {
		slog.Warn("TLS verification disabled for login", "base_url", e.cfg.BaseURL)
		return &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- explicit test-only opt-in
		}
	}
	return http.DefaultTransport
}
