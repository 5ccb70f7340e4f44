package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"fedclient/pkg/fedora"
)

// DefaultWaitTimeout bounds how long the interactive flow waits for the
// user to finish in the browser.
const DefaultWaitTimeout = 10 * time.Minute

// ManagerConfig configures a token manager.
type ManagerConfig struct {
	// IdPURL is the identity provider base URL. The manager only ever
	// considers cached tokens issued by this IdP.
	IdPURL string

	ClientID     string
	ClientSecret string

	// App names the token cache file (oidc_<app>.json).
	App string

	// CacheDir overrides the user cache directory. Mainly for tests.
	CacheDir string

	// Ports are the loopback callback ports to try, default {12345, 23456}.
	Ports []int

	// HTTPClient overrides the client used for IdP calls.
	HTTPClient *http.Client

	// Out receives the authorization URL so the user can open it by hand.
	// Defaults to stdout.
	Out io.Writer

	// OpenBrowser launches the user's browser; best-effort. Defaults to
	// OpenBrowser. Set to a no-op in tests.
	OpenBrowser func(string) error

	// WaitTimeout bounds the interactive browser wait. Defaults to
	// DefaultWaitTimeout.
	WaitTimeout time.Duration
}

// Manager obtains and maintains bearer tokens whose scope set satisfies a
// caller's request.
type Manager struct {
	cfg   ManagerConfig
	store *Store
	http  *http.Client

	// validated records, for this process lifetime, the uuids of entries
	// the IdP has already confirmed active, so repeated requests skip
	// introspection.
	mu        sync.Mutex
	validated map[string]struct{}
}

// NewManager creates a token manager backed by the on-disk cache.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.App == "" {
		return nil, fmt.Errorf("oidc: application identifier is required")
	}
	cfg.IdPURL = strings.TrimSuffix(cfg.IdPURL, "/")

	store, err := NewStore(cfg.CacheDir, cfg.App)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.OpenBrowser == nil {
		cfg.OpenBrowser = OpenBrowser
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}

	return &Manager{
		cfg:       cfg,
		store:     store,
		http:      httpClient,
		validated: make(map[string]struct{}),
	}, nil
}

// Store exposes the backing cache, mainly for tests and the CLI.
func (m *Manager) Store() *Store {
	return m.store
}

// GetToken returns a token covering the requested scopes, or nil when none
// is available and interactive acquisition is disallowed.
//
// Cached entries are only considered when their IdP matches the configured
// one and their scope set covers the request. Fresh entries are preferred;
// an expired entry is still tried as a fallback, with the IdP's
// introspection endpoint deciding whether it is actually usable.
func (m *Manager) GetToken(ctx context.Context, scopes []string, allowInteractive bool) (*oauth2.Token, error) {
	var fresh, possible []*Entry
	now := time.Now()
	for _, e := range m.store.List() {
		if e.IdP != m.cfg.IdPURL || !e.Covers(scopes) {
			continue
		}
		if e.Fresh(now) {
			fresh = append(fresh, e)
		} else {
			possible = append(possible, e)
		}
	}

	for _, e := range append(fresh, possible...) {
		if m.isValidated(e.UUID) {
			return e.Token(), nil
		}

		active, err := m.introspect(ctx, e.AccessToken)
		if err != nil {
			slog.Warn("token introspection failed, skipping entry",
				"idp", m.cfg.IdPURL,
				"uuid", e.UUID,
				"error", err.Error(),
			)
			continue
		}
		if active {
			m.markValidated(e.UUID)
			return e.Token(), nil
		}

		refreshed, err := m.refresh(ctx, e)
		if err != nil {
			slog.Debug("token refresh failed, deleting entry",
				"idp", m.cfg.IdPURL,
				"uuid", e.UUID,
				"error", err.Error(),
			)
			if derr := m.store.Delete(e.UUID); derr != nil {
				slog.Warn("cannot delete stale token entry", "uuid", e.UUID, "error", derr.Error())
			}
			continue
		}
		m.markValidated(e.UUID)
		return refreshed.Token(), nil
	}

	if !allowInteractive {
		return nil, nil
	}
	entry, err := m.interactive(ctx, scopes)
	if err != nil {
		return nil, err
	}
	return entry.Token(), nil
}

// ReportTokenIssue handles a caller's report that the server rejected this
// token. The owning entry is refreshed; if the refresh fails the entry is
// deleted. Returns the replacement token, or nil when the entry is gone.
func (m *Manager) ReportTokenIssue(ctx context.Context, accessToken string) (*oauth2.Token, error) {
	var target *Entry
	for _, e := range m.store.List() {
		if e.AccessToken == accessToken && e.IdP == m.cfg.IdPURL {
			target = e
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	m.unmarkValidated(target.UUID)

	refreshed, err := m.refresh(ctx, target)
	if err != nil {
		if derr := m.store.Delete(target.UUID); derr != nil {
			slog.Warn("cannot delete rejected token entry", "uuid", target.UUID, "error", derr.Error())
		}
		return nil, nil
	}
	return refreshed.Token(), nil
}

func (m *Manager) isValidated(uuid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.validated[uuid]
	return ok
}

func (m *Manager) markValidated(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validated[uuid] = struct{}{}
}

func (m *Manager) unmarkValidated(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.validated, uuid)
}

// introspect asks the IdP whether the token is active.
func (m *Manager) introspect(ctx context.Context, token string) (bool, error) {
	form := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"token":         {token},
	}

	body, err := m.postForm(ctx, m.cfg.IdPURL+"/TokenInfo", form)
	if err != nil {
		return false, err
	}

	var doc struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, fmt.Errorf("malformed introspection response: %w", err)
	}
	return doc.Active, nil
}

// tokenResponse is the IdP's answer at the token endpoint, for both the
// authorization_code and refresh_token grants.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	IDToken          string `json:"id_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// refresh exchanges the entry's refresh token for a new token pair and
// rewrites the entry in place.
func (m *Manager) refresh(ctx context.Context, e *Entry) (*Entry, error) {
	form := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {e.RefreshToken},
	}

	body, err := m.postForm(ctx, m.cfg.IdPURL+"/Token", form)
	if err != nil {
		return nil, err
	}

	var doc tokenResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}
	if doc.Error != "" {
		return nil, fmt.Errorf("refresh rejected: %s %s", doc.Error, doc.ErrorDescription)
	}
	if doc.AccessToken == "" {
		return nil, fmt.Errorf("refresh response carries no access token")
	}

	updated := *e
	updated.AccessToken = doc.AccessToken
	if doc.RefreshToken != "" {
		updated.RefreshToken = doc.RefreshToken
	}
	if doc.TokenType != "" {
		updated.TokenType = doc.TokenType
	}
	updated.ExpiresAt = float64(time.Now().Unix() + int64(doc.ExpiresIn))

	err = m.store.Update(func(entries map[string]*Entry) {
		entries[updated.UUID] = &updated
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("token refreshed", "idp", m.cfg.IdPURL, "uuid", updated.UUID)
	return &updated, nil
}

// interactive runs the authorization-code flow through the user's browser.
func (m *Manager) interactive(ctx context.Context, scopes []string) (*Entry, error) {
	state, err := generateState()
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.WaitTimeout)
	defer cancel()

	srv, redirectURI, err := startCallbackServer(waitCtx, m.cfg.Ports)
	if err != nil {
		return nil, err
	}
	defer srv.stop()

	authURL := m.authorizationURL(scopes, redirectURI, state)

	fmt.Fprintf(m.cfg.Out, "Please open the following URL in your browser and log in:\n\n  %s\n\n", authURL)
	if err := m.cfg.OpenBrowser(authURL); err != nil {
		slog.Debug("cannot open browser, user must open the URL manually", "error", err.Error())
	}

	result, err := srv.wait(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("waiting for authorization callback: %w", err)
	}
	if result.State != state {
		return nil, &fedora.AuthError{Message: "authorization state mismatch"}
	}
	if result.Error != "" {
		msg := result.Error
		if result.ErrorDescription != "" {
			msg += ": " + result.ErrorDescription
		}
		return nil, &fedora.AuthError{Message: msg}
	}

	return m.exchangeCode(ctx, result.Code, redirectURI, scopes)
}

// authorizationURL builds the IdP authorization request for the scopes.
func (m *Manager) authorizationURL(scopes []string, redirectURI, state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {m.cfg.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid " + strings.Join(scopes, " ")},
		"state":         {state},
		"response_mode": {"query"},
	}
	return m.cfg.IdPURL + "/Authorization?" + params.Encode()
}

// exchangeCode trades the authorization code for tokens and stores the new
// cache entry.
func (m *Manager) exchangeCode(ctx context.Context, code, redirectURI string, scopes []string) (*Entry, error) {
	form := url.Values{
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}

	body, err := m.postForm(ctx, m.cfg.IdPURL+"/Token", form)
	if err != nil {
		return nil, err
	}

	var doc tokenResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}
	if doc.Error != "" {
		return nil, &fedora.AuthError{Message: doc.Error + " " + doc.ErrorDescription}
	}
	if doc.AccessToken == "" {
		return nil, fmt.Errorf("token response carries no access token")
	}

	entry := &Entry{
		UUID:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		IdP:          m.cfg.IdPURL,
		Subject:      idTokenSubject(doc.IDToken),
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		TokenType:    doc.TokenType,
		ExpiresAt:    float64(time.Now().Unix() + int64(doc.ExpiresIn)),
		Scopes:       append([]string{"openid"}, scopes...),
	}

	if err := m.store.Update(func(entries map[string]*Entry) {
		entries[entry.UUID] = entry
	}); err != nil {
		return nil, err
	}
	m.markValidated(entry.UUID)

	slog.Info("new token acquired",
		"idp", m.cfg.IdPURL,
		"subject", entry.Subject,
		"scopes", entry.Scopes,
	)
	return entry, nil
}

// postForm POSTs a form to the IdP and returns the body of a 2xx response.
func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// idTokenSubject extracts the sub claim from an ID token without verifying
// the signature. The subject is informational cache metadata; trust in the
// token itself comes from the TLS channel to the IdP that issued it.
func idTokenSubject(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// generateState produces the random state value linking the authorization
// response back to this request.
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
