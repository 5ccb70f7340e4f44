package fedora

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_Key(t *testing.T) {
	a := Identity{BaseURL: "https://admin.example.com/pkgdb/", Username: "alice"}
	b := Identity{BaseURL: "https://admin.example.com/pkgdb/", Username: "bob"}
	other := Identity{BaseURL: "https://bodhi.example.com/", Username: "alice"}

	assert.NotEqual(t, a.Key(), b.Key(), "distinct users must not collide")
	assert.NotEqual(t, a.Key(), other.Key(), "distinct services must not collide")

	anonymous := Identity{BaseURL: "https://admin.example.com/pkgdb/"}
	assert.NotEqual(t, a.Key(), anonymous.Key())
}

func TestErrorsImplementServiceError(t *testing.T) {
	for _, err := range []ServiceError{
		&AuthError{Message: "bad password"},
		&UntrustedIdentityProviderError{URL: "https://evil.example.com"},
		&ServerError{URL: "https://x", Status: 503, Reason: "down"},
		&AppError{Name: "IntegrityError", Message: "duplicate"},
		&LoginRequiredError{},
	} {
		assert.NotEmpty(t, err.Error())
	}
}

func TestErrorsAreDistinguishable(t *testing.T) {
	var err error = &ServerError{URL: "https://x", Status: -1, Reason: "timeout after 30s"}

	var serverErr *ServerError
	assert.True(t, errors.As(err, &serverErr))
	assert.Equal(t, -1, serverErr.Status)

	var authErr *AuthError
	assert.False(t, errors.As(err, &authErr))
}

func TestAuthError_EmptyMessage(t *testing.T) {
	assert.Equal(t, "authentication failed", (&AuthError{}).Error())
	assert.Equal(t, "authentication failed: expired", (&AuthError{Message: "expired"}).Error())
}

func TestAccountInfo_Membership(t *testing.T) {
	account := &AccountInfo{
		UserID:   1234,
		Username: "alice",
		Groups: map[string]struct{}{
			"packager": {},
		},
		Permissions: map[string]struct{}{
			"commit": {},
		},
	}

	assert.True(t, account.InGroup("packager"))
	assert.False(t, account.InGroup("infra"))
	assert.True(t, account.HasPermission("commit"))
	assert.False(t, account.HasPermission("admin"))

	var empty AccountInfo
	assert.False(t, empty.InGroup("packager"))
	assert.False(t, empty.HasPermission("commit"))
}
