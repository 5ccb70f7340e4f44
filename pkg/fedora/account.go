package fedora

// AccountInfo is the user record returned by the account system. The fields
// are explicit so that a missing field is detectable when the record is
// decoded, not when it is first used.
type AccountInfo struct {
	UserID      int                 `json:"id"`
	Username    string              `json:"username"`
	DisplayName string              `json:"human_name"`
	Email       string              `json:"email"`
	Groups      map[string]struct{} `json:"-"`
	Permissions map[string]struct{} `json:"-"`
	CLADone     bool                `json:"cla_done"`
}

// InGroup reports whether the account belongs to the named group.
func (a *AccountInfo) InGroup(name string) bool {
	_, ok := a.Groups[name]
	return ok
}

// HasPermission reports whether the account holds the named permission.
func (a *AccountInfo) HasPermission(name string) bool {
	_, ok := a.Permissions[name]
	return ok
}
