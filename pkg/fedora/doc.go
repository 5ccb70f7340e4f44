// Package fedora holds the types shared by every part of the client:
// the error taxonomy, the Identity that keys cached credentials, and the
// AccountInfo record returned by the account system.
//
// The error types form a closed taxonomy. Everything the library surfaces
// implements ServiceError, so callers can distinguish library failures from
// plain transport errors with a single errors.As check and then dispatch on
// the concrete type.
package fedora
