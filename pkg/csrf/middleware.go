package csrf

import (
	"context"
	"net/http"
	"strings"
)

// DefaultCookieName is the session cookie checked by the middleware.
const DefaultCookieName = "tg-visit"

// loginDoneHeader is set by handlers via LoginDone and consumed by the
// middleware before the response leaves the server. It never reaches the
// client.
const loginDoneHeader = "X-Csrf-Login-Done"

type ctxKey int

const badCSRFKey ctxKey = iota

// MiddlewareConfig configures the server-side CSRF check.
type MiddlewareConfig struct {
	// CookieName is the session cookie to verify against.
	// Defaults to "tg-visit".
	CookieName string

	// LoginPath is exempt from verification, so that the login handler can
	// be reached by a client that does not hold a token yet.
	LoginPath string
}

// Middleware verifies the _csrf_token of every inbound request against the
// token derived from the session cookie.
//
// The token is read from the query string first, then from the form body,
// and stripped from both so it never leaks into application parameters. On
// a missing or wrong token the request's identity is cleared (the session
// cookie is removed before the application sees the request) and the request
// context is flagged; the application can check IsBadCSRF to render a
// "click to re-authenticate" page.
//
// When a handler marks a response with LoginDone, an outgoing redirect's
// Location header is rewritten to carry the freshly derived token.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := extractToken(r)

			if c, err := r.Cookie(cookieName); err == nil && r.URL.Path != cfg.LoginPath {
				expected := Token(c.Value)
				if provided != expected {
					clearSessionCookie(r, cookieName)
					r = r.WithContext(context.WithValue(r.Context(), badCSRFKey, true))
				}
			}

			lw := &loginAwareWriter{
				ResponseWriter: w,
				request:        r,
				cookieName:     cookieName,
			}
			next.ServeHTTP(lw, r)
		})
	}
}

// IsBadCSRF reports whether the middleware cleared the request's identity
// because its token was absent or wrong.
func IsBadCSRF(ctx context.Context) bool {
	v, _ := ctx.Value(badCSRFKey).(bool)
	return v
}

// LoginDone marks the response as the result of a just-completed login, so
// the middleware rewrites the redirect Location to include the new token.
func LoginDone(w http.ResponseWriter) {
	w.Header().Set(loginDoneHeader, "1")
}

// extractToken pulls _csrf_token out of the request, query string first,
// then form body, removing it from both.
func extractToken(r *http.Request) string {
	var token string

	q := r.URL.Query()
	if vs, ok := q[ParamName]; ok {
		if len(vs) > 0 {
			token = vs[0]
		}
		q.Del(ParamName)
		r.URL.RawQuery = q.Encode()
	}

	// Only urlencoded bodies are inspected; other content types pass
	// through unread.
	ct := r.Header.Get("Content-Type")
	if r.Method == http.MethodPost && strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			if vs, ok := r.PostForm[ParamName]; ok {
				if token == "" && len(vs) > 0 {
					token = vs[0]
				}
				r.PostForm.Del(ParamName)
				r.Form.Del(ParamName)
			}
		}
	}

	return token
}

// clearSessionCookie removes the named cookie from the inbound request so
// the application sees no authenticated user.
func clearSessionCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		r.AddCookie(c)
	}
}

// loginAwareWriter rewrites the Location header of a just-logged-in redirect
// to carry the token for the new session.
type loginAwareWriter struct {
	http.ResponseWriter
	request    *http.Request
	cookieName string
	wrote      bool
}

func (w *loginAwareWriter) WriteHeader(status int) {
	if !w.wrote {
		w.wrote = true
		w.rewriteLocation()
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *loginAwareWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *loginAwareWriter) rewriteLocation() {
	h := w.Header()
	if h.Get(loginDoneHeader) == "" {
		return
	}
	h.Del(loginDoneHeader)

	location := h.Get("Location")
	if location == "" {
		return
	}

	sid := w.sessionID()
	if sid == "" {
		return
	}
	if rewritten, err := InjectURL(location, Token(sid)); err == nil {
		h.Set("Location", rewritten)
	}
}

// sessionID finds the session identifier for the response: the cookie the
// handler just set, or failing that the one the request arrived with.
func (w *loginAwareWriter) sessionID() string {
	for _, line := range w.Header().Values("Set-Cookie") {
		if c, err := http.ParseSetCookie(line); err == nil && c.Name == w.cookieName {
			return c.Value
		}
	}
	if c, err := w.request.Cookie(w.cookieName); err == nil {
		return c.Value
	}
	return ""
}
