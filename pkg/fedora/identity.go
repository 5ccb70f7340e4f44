package fedora

// Identity names one principal against one service. It keys the session
// cache: distinct principals against the same service never collide, and the
// same principal against different services never shares credentials.
//
// Username is empty before login (anonymous).
type Identity struct {
	BaseURL  string
	Username string
}

// Key returns the string under which cached credentials for this identity
// are stored.
func (id Identity) Key() string {
	return id.BaseURL + ":" + id.Username
}
