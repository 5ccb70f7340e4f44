// Package oidc acquires, caches, refreshes, and selects OAuth2 bearer
// tokens for the OpenID-Connect variant of the client.
//
// Tokens live in a JSON cache file shared across processes under an advisory
// file lock. Selection is scope-driven: a cached token is a candidate for a
// request exactly when it was issued by the configured IdP and its scope set
// covers the requested one. Fresh tokens win over expired ones, but an
// expired token is still offered as a fallback because expiry timestamps are
// advisory — the IdP's introspection endpoint has the final word.
//
// When no cached token fits and interactive acquisition is allowed, the
// manager runs the authorization-code flow: it binds a loopback HTTP server,
// points the user's browser at the IdP, and exchanges the returned code.
package oidc
