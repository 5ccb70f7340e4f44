package openid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedclient/pkg/fedora"
)

// loginFixture wires a fake service and a fake IdP together.
type loginFixture struct {
	service *httptest.Server
	idp     *httptest.Server

	idpCalls     int
	returnCalls  int
	lastUsername string
	lastPassword string
	idpHandler   func(w http.ResponseWriter, r *http.Request)
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	f := &loginFixture{}

	idpMux := http.NewServeMux()
	idpMux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		f.idpCalls++
		if f.idpHandler != nil {
			f.idpHandler(w, r)
			return
		}
		assert.NoError(t, r.ParseForm())
		f.lastUsername = r.PostForm.Get("username")
		f.lastPassword = r.PostForm.Get("password")
		assert.Equal(t, "fedoauth.auth.fas.Auth_FAS", r.PostForm.Get("auth_module"))
		assert.Equal(t, "checkid_setup", r.PostForm.Get("openid.mode"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success": true, "message": "", "response": {
			"openid.return_to": %q,
			"openid.sig": "sig-value"
		}}`, f.service.URL+"/return")
	})
	f.idp = httptest.NewServer(idpMux)
	t.Cleanup(f.idp.Close)

	svcMux := http.NewServeMux()
	svcMux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"server_url":   f.idp.URL,
			"openid.realm": f.service.URL,
		})
	})
	svcMux.HandleFunc("/return", func(w http.ResponseWriter, r *http.Request) {
		f.returnCalls++
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "sig-value", r.PostForm.Get("openid.sig"))
		http.SetCookie(w, &http.Cookie{Name: "tg-visit", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	f.service = httptest.NewServer(svcMux)
	t.Cleanup(f.service.Close)

	return f
}

func (f *loginFixture) engine() *Engine {
	return NewEngine(Config{
		BaseURL: f.service.URL + "/",
		IdPRoot: f.idp.URL,
	})
}

func TestEngine_FreshLogin(t *testing.T) {
	f := newLoginFixture(t)
	e := f.engine()

	res, err := e.Login(context.Background(), "alice", "pw", "")
	require.NoError(t, err)

	assert.Equal(t, "alice", f.lastUsername)
	assert.Equal(t, "pw", f.lastPassword)
	assert.Equal(t, 1, f.returnCalls)
	assert.Equal(t, StateHaveSession, e.State())

	var visit string
	for _, c := range res.Cookies {
		if c.Name == "tg-visit" {
			visit = c.Value
		}
	}
	assert.Equal(t, "abc", visit)
}

func TestEngine_DiscoveryViaRedirectChain(t *testing.T) {
	f := newLoginFixture(t)

	// Replace the JSON discovery with a redirect to the IdP carrying the
	// OpenID parameters in its query string.
	svcMux := http.NewServeMux()
	svcMux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, f.idp.URL+"/openid?openid.realm="+f.service.URL, http.StatusFound)
	})
	svcMux.HandleFunc("/return", func(w http.ResponseWriter, r *http.Request) {
		f.returnCalls++
		http.SetCookie(w, &http.Cookie{Name: "tg-visit", Value: "abc", Path: "/"})
	})
	redirSvc := httptest.NewServer(svcMux)
	t.Cleanup(redirSvc.Close)
	f.service = redirSvc

	e := NewEngine(Config{BaseURL: redirSvc.URL + "/", IdPRoot: f.idp.URL})

	res, err := e.Login(context.Background(), "alice", "pw", "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.idpCalls)
	assert.NotEmpty(t, res.Cookies)
}

func TestEngine_UntrustedIdP(t *testing.T) {
	f := newLoginFixture(t)
	e := NewEngine(Config{
		BaseURL: f.service.URL + "/",
		IdPRoot: "https://id.fedoraproject.org/",
	})

	_, err := e.Login(context.Background(), "alice", "pw", "")

	var untrusted *fedora.UntrustedIdentityProviderError
	require.ErrorAs(t, err, &untrusted)
	assert.Equal(t, 0, f.idpCalls, "credentials must never reach an untrusted IdP")
	assert.Equal(t, StateNoSession, e.State())
}

func TestEngine_BadCredentials(t *testing.T) {
	f := newLoginFixture(t)
	f.idpHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success": false, "message": "invalid credentials", "response": {}}`)
	}
	e := f.engine()

	_, err := e.Login(context.Background(), "alice", "wrong", "")

	var authErr *fedora.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid credentials", authErr.Message)
	assert.Equal(t, StateNoSession, e.State())
}

func TestEngine_IdPFailureIsFatalServerError(t *testing.T) {
	f := newLoginFixture(t)
	f.idpHandler = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	e := f.engine()

	_, err := e.Login(context.Background(), "alice", "pw", "")

	var srvErr *fedora.ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusInternalServerError, srvErr.Status)
	assert.Equal(t, 1, f.idpCalls, "IdP errors are never retried")
}
