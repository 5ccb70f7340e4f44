package oidc

import (
	"time"

	"golang.org/x/oauth2"
)

// Entry is one cached access/refresh token pair with its metadata.
type Entry struct {
	// UUID identifies the entry inside the cache file. It is the map key
	// on disk, not part of the serialized value.
	UUID string `json:"-"`

	// IdP is the issuing identity provider's URL.
	IdP string `json:"idp"`

	// Subject is the authenticated principal, from the ID token's sub
	// claim when one was issued.
	Subject string `json:"subject"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`

	// ExpiresAt is advisory wall-clock expiry, in seconds since the
	// epoch. A token may be rejected before it and may still work after.
	ExpiresAt float64 `json:"expires_at"`

	// Scopes is the set of scopes the token was granted.
	Scopes []string `json:"scopes"`
}

// Fresh reports whether the entry's advisory expiry lies in the future.
func (e *Entry) Fresh(now time.Time) bool {
	return e.ExpiresAt > float64(now.Unix())
}

// Covers reports whether the entry's scope set is a superset of the
// requested scopes.
func (e *Entry) Covers(scopes []string) bool {
	have := make(map[string]struct{}, len(e.Scopes))
	for _, s := range e.Scopes {
		have[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// Token converts the entry to an oauth2.Token.
func (e *Entry) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		TokenType:    e.TokenType,
		Expiry:       time.Unix(int64(e.ExpiresAt), 0),
	}
}
