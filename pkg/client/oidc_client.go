package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"fedclient/pkg/fedora"
	"fedclient/pkg/oidc"
)

// OIDCClient talks to a Fedora service with bearer tokens managed by an
// oidc.Manager. Tokens come from the manager's cache, get refreshed or
// replaced through it, and a token the server rejects is reported back so
// the cache stays honest.
type OIDCClient struct {
	env     *envelope
	manager *oidc.Manager
	scopes  []string
	opts    options
	log     *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewOIDC creates a bearer-token client for the service at baseURL. All
// requests ask the manager for a token covering the given scopes.
func NewOIDC(baseURL string, manager *oidc.Manager, scopes []string, opt ...Option) (*OIDCClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}

	c := &OIDCClient{
		manager: manager,
		scopes:  scopes,
		opts:    opts,
		log:     slog.Default(),
	}
	c.env = &envelope{
		baseURL: baseURL,
		client:  &http.Client{Transport: transportFor(opts)},
		opts:    opts,
		log:     c.log,
	}
	return c, nil
}

// SendRequest issues one call through the request envelope. For AuthBearer
// the manager supplies the token; if the server rejects it, the rejection is
// reported to the manager and the call is retried once with whatever
// replacement the manager comes up with.
func (c *OIDCClient) SendRequest(ctx context.Context, req *Request) (map[string]any, error) {
	if req.Auth == AuthNone {
		return c.env.send(ctx, req, nil, nil)
	}
	if req.Auth != AuthBearer {
		return nil, fmt.Errorf("auth mode %d requires a BaseClient", req.Auth)
	}

	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	authorize := func(r *http.Request) error {
		r.Header.Set("Authorization", token.Type()+" "+token.AccessToken)
		return nil
	}
	reauth := func(ctx context.Context) error {
		replacement, err := c.reportRejected(ctx, token.AccessToken)
		if err != nil {
			return err
		}
		token = replacement
		return nil
	}
	return c.env.send(ctx, req, authorize, reauth)
}

// currentToken returns the cached token for this client, asking the manager
// for one when none is held or the held one has expired.
func (c *OIDCClient) currentToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token, nil
	}
	token, err := c.manager.GetToken(ctx, c.scopes, c.opts.interactive)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, &fedora.AuthError{Message: "no OpenID Connect token available"}
	}
	c.token = token
	return token, nil
}

// reportRejected hands a server-rejected token back to the manager and
// returns its replacement. With no replacement the auth failure is final.
func (c *OIDCClient) reportRejected(ctx context.Context, rejected string) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = nil

	replacement, err := c.manager.ReportTokenIssue(ctx, rejected)
	if err != nil {
		return nil, err
	}
	if replacement == nil {
		replacement, err = c.manager.GetToken(ctx, c.scopes, c.opts.interactive)
		if err != nil {
			return nil, err
		}
	}
	if replacement == nil {
		return nil, &fedora.AuthError{Message: "server rejected the token and no replacement is available"}
	}

	c.log.Debug("replaced rejected bearer token")
	c.token = replacement
	return replacement, nil
}
