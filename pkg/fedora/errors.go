package fedora

import "fmt"

// ServiceError is implemented by every error the library surfaces.
type ServiceError interface {
	error
	serviceError()
}

// AuthError reports invalid credentials, a session that stayed expired after
// one re-login attempt, or missing credentials on a call that requires them.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return "authentication failed: " + e.Message
}

func (e *AuthError) serviceError() {}

// UntrustedIdentityProviderError reports a login response that referenced an
// identity provider outside the configured allow-list. It is fatal and never
// retried.
type UntrustedIdentityProviderError struct {
	URL string
}

func (e *UntrustedIdentityProviderError) Error() string {
	return fmt.Sprintf("untrusted identity provider: %s", e.URL)
}

func (e *UntrustedIdentityProviderError) serviceError() {}

// ServerError reports a non-auth HTTP failure after all retries, a timeout,
// or a response body that could not be decoded. Status is -1 for timeouts.
type ServerError struct {
	URL    string
	Status int
	Reason string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error at %s (status %d): %s", e.URL, e.Status, e.Reason)
}

func (e *ServerError) serviceError() {}

// AppError carries a server-side application exception. Name preserves the
// server's own exception name (e.g. "IntegrityError") so callers can dispatch
// on it.
type AppError struct {
	Name    string
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *AppError) serviceError() {}

// LoginRequiredError reports that an operation needs an established session
// and none exists. Callers fix it by logging in.
type LoginRequiredError struct{}

func (e *LoginRequiredError) Error() string {
	return "login required"
}

func (e *LoginRequiredError) serviceError() {}
