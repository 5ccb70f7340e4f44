package csrf

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
)

// ParamName is the query/form parameter that carries the token.
const ParamName = "_csrf_token"

// Token derives the CSRF token for a session identifier: the hex-encoded
// SHA-1 of the identifier as an ASCII string. An empty identifier yields an
// empty token.
func Token(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := sha1.Sum([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}

// InjectURL returns rawurl with the token set as its _csrf_token query
// parameter. Any prior _csrf_token is replaced, never duplicated.
func InjectURL(rawurl, token string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(ParamName, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
