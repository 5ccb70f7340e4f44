// Package client is the public surface of the library: the request envelope
// that issues every HTTP call, and the two facades built on it.
//
// BaseClient speaks the cookie-session (OpenID) flavor: it logs in through
// the IdP dance, keeps the session cookie in a live jar backed by the
// on-disk session cache, and stamps every authenticated URL with the CSRF
// token derived from the session. OIDCClient speaks the bearer-token flavor
// backed by the oidc token manager. The two share the envelope and nothing
// else.
//
// The envelope owns all retry, timeout, and error-classification policy:
// timeouts and 5xx answers are retried with a fixed sleep, auth failures
// trigger exactly one re-login before surfacing, and application-level
// errors in the decoded JSON become typed AppErrors.
package client
