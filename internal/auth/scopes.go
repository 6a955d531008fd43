package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeDiscoverRead  = "discovery:read"
	ScopeDiscoverWrite = "discovery:write"
)

// AllScopes defines the full set of scopes requested by API clients.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeDiscoverRead,
	ScopeDiscoverWrite,
}
