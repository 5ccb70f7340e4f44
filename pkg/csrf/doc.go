// Package csrf implements the token scheme that binds state-changing
// requests to an authenticated session.
//
// The token is a pure function of the session identifier, so any holder of
// the session cookie can recompute it, and rotating the session necessarily
// rotates the token. The token adds no authentication value by itself: its
// point is that a third-party site can make a browser send the cookie but
// cannot read the cookie to derive the token, so forged cross-site requests
// arrive without it.
//
// The client side injects the token into outbound URLs (see Token and
// InjectURL); the server side validates it with Middleware.
package csrf
