// Package openid drives the browser-less OpenID login dance against the
// Fedora identity provider.
//
// The flow has three legs: discover the IdP from the service's login
// endpoint (either a JSON body naming the server or a redirect chain ending
// at the IdP), POST the credentials to the IdP's API endpoint, and POST the
// IdP's signed response back to the service's return_to URL. The cookies
// accumulated during that last leg are the session.
package openid
