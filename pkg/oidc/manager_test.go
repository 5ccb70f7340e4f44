package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idpFixture is a fake IdP covering introspection, refresh, and code
// exchange.
type idpFixture struct {
	server *httptest.Server

	introspections int
	refreshes      int
	exchanges      int

	activeTokens map[string]bool
	refreshFails bool
	idToken      string
}

func newIdPFixture(t *testing.T) *idpFixture {
	t.Helper()
	f := &idpFixture{activeTokens: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("/TokenInfo", func(w http.ResponseWriter, r *http.Request) {
		f.introspections++
		assert.NoError(t, r.ParseForm())
		active := f.activeTokens[r.PostForm.Get("token")]
		_ = json.NewEncoder(w).Encode(map[string]bool{"active": active})
	})
	mux.HandleFunc("/Token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			f.refreshes++
			if f.refreshFails {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "refreshed-at",
				"refresh_token": "refreshed-rt",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "authorization_code":
			f.exchanges++
			assert.NotEmpty(t, r.PostForm.Get("code"))
			assert.NotEmpty(t, r.PostForm.Get("redirect_uri"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "fresh-at",
				"refresh_token": "fresh-rt",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"id_token":      f.idToken,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *idpFixture) manager(t *testing.T, ports ...int) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		IdPURL:       f.server.URL,
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		App:          "testapp",
		CacheDir:     t.TempDir(),
		Ports:        ports,
		Out:          io.Discard,
		OpenBrowser:  func(string) error { return nil },
	})
	require.NoError(t, err)
	return m
}

func seed(t *testing.T, m *Manager, entries ...*Entry) {
	t.Helper()
	require.NoError(t, m.store.Update(func(cached map[string]*Entry) {
		for _, e := range entries {
			cached[e.UUID] = e
		}
	}))
}

func TestGetToken_ExpiredEntryStillCandidate(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)
	now := time.Now().Unix()

	// One fresh entry that does not cover the request, one expired entry
	// that does: the expired one must be tried, via introspection.
	seed(t, m,
		&Entry{UUID: "fresh", IdP: f.server.URL, AccessToken: "fresh-read",
			Scopes: []string{"openid", "read"}, ExpiresAt: float64(now + 60)},
		&Entry{UUID: "stale", IdP: f.server.URL, AccessToken: "stale-rw",
			Scopes: []string{"openid", "read", "write"}, ExpiresAt: float64(now - 10)},
	)
	f.activeTokens["stale-rw"] = true

	token, err := m.GetToken(context.Background(), []string{"read", "write"}, false)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "stale-rw", token.AccessToken)
	assert.Equal(t, 1, f.introspections, "expired candidate must be introspected")
}

func TestGetToken_PrefersFreshOverExpired(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m,
		&Entry{UUID: "stale", IdP: f.server.URL, AccessToken: "stale-at",
			Scopes: []string{"openid", "read"}, ExpiresAt: float64(now - 10)},
		&Entry{UUID: "fresh", IdP: f.server.URL, AccessToken: "fresh-at",
			Scopes: []string{"openid", "read"}, ExpiresAt: float64(now + 60)},
	)
	f.activeTokens["fresh-at"] = true

	token, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "fresh-at", token.AccessToken)
	assert.True(t, token.Valid(), "a fresh entry must convert to a valid token")
}

func TestGetToken_WrongIdPNotACandidate(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m, &Entry{UUID: "other", IdP: "https://other-idp.example.com",
		AccessToken: "other-at", Scopes: []string{"openid", "read"},
		ExpiresAt: float64(now + 60)})

	token, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Zero(t, f.introspections)
}

func TestGetToken_ValidatedEntrySkipsIntrospection(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m, &Entry{UUID: "e1", IdP: f.server.URL, AccessToken: "at",
		Scopes: []string{"openid", "read"}, ExpiresAt: float64(now + 60)})
	f.activeTokens["at"] = true

	_, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.introspections)

	// Second call within the same process: no further introspection.
	token, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, 1, f.introspections)
}

func TestGetToken_InactiveTokenIsRefreshed(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m, &Entry{UUID: "e1", IdP: f.server.URL, AccessToken: "dead-at",
		RefreshToken: "rt", Scopes: []string{"openid", "read"},
		ExpiresAt: float64(now + 60)})

	token, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "refreshed-at", token.AccessToken)
	assert.Equal(t, "refreshed-rt", token.RefreshToken)
	assert.True(t, token.Expiry.After(time.Now()), "refresh must carry the new expiry")
	assert.Equal(t, 1, f.refreshes)

	// The cache entry was rewritten in place.
	listed := m.store.List()
	require.Len(t, listed, 1)
	assert.Equal(t, "refreshed-at", listed[0].AccessToken)
	assert.Equal(t, "refreshed-rt", listed[0].RefreshToken)
	assert.Greater(t, listed[0].ExpiresAt, float64(now))
}

func TestGetToken_RefreshFailureDeletesEntry(t *testing.T) {
	f := newIdPFixture(t)
	f.refreshFails = true
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m, &Entry{UUID: "e1", IdP: f.server.URL, AccessToken: "dead-at",
		RefreshToken: "rt", Scopes: []string{"openid", "read"},
		ExpiresAt: float64(now + 60)})

	token, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Empty(t, m.store.List())
}

func TestGetToken_NoMatchNonInteractiveReturnsNothing(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)

	token, err := m.GetToken(context.Background(), []string{"read"}, false)
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestReportTokenIssue_RefreshReplaces(t *testing.T) {
	f := newIdPFixture(t)
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m, &Entry{UUID: "e1", IdP: f.server.URL, AccessToken: "rejected-at",
		RefreshToken: "rt", Scopes: []string{"openid"}, ExpiresAt: float64(now + 60)})

	replacement, err := m.ReportTokenIssue(context.Background(), "rejected-at")
	require.NoError(t, err)
	require.NotNil(t, replacement)
	assert.Equal(t, "refreshed-at", replacement.AccessToken)
}

func TestReportTokenIssue_RefreshFailureDeletes(t *testing.T) {
	f := newIdPFixture(t)
	f.refreshFails = true
	m := f.manager(t)
	now := time.Now().Unix()

	seed(t, m, &Entry{UUID: "e1", IdP: f.server.URL, AccessToken: "rejected-at",
		RefreshToken: "rt", Scopes: []string{"openid"}, ExpiresAt: float64(now + 60)})

	replacement, err := m.ReportTokenIssue(context.Background(), "rejected-at")
	require.NoError(t, err)
	assert.Nil(t, replacement)
	assert.Empty(t, m.store.List())
}

func TestInteractiveFlow(t *testing.T) {
	f := newIdPFixture(t)

	// Unsigned-but-well-formed ID token so the subject lands in the cache
	// entry.
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	f.idToken = idToken

	m := f.manager(t, 18231, 18232)

	// Stand in for the browser: follow the authorization URL's
	// redirect_uri straight back with a code.
	m.cfg.OpenBrowser = func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "test-client", q.Get("client_id"))
		assert.Equal(t, "openid read", q.Get("scope"))
		assert.Equal(t, "query", q.Get("response_mode"))

		go func() {
			cb := fmt.Sprintf("%s?code=auth-code&state=%s",
				q.Get("redirect_uri"), url.QueryEscape(q.Get("state")))
			resp, err := http.Get(cb)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	token, err := m.GetToken(context.Background(), []string{"read"}, true)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "fresh-at", token.AccessToken)
	assert.Equal(t, 1, f.exchanges)

	listed := m.store.List()
	require.Len(t, listed, 1)
	assert.Equal(t, "alice", listed[0].Subject)
	assert.ElementsMatch(t, []string{"openid", "read"}, listed[0].Scopes)
	assert.Equal(t, f.server.URL, listed[0].IdP)
}
