package model

import "time"

// ScopeConnect gates every authenticated messaging flow and is required on
// any token that wants broker credentials.
const ScopeConnect = "/messaging/connect"

// Token is the validated API token projection this service consumes. Tokens
// are issued and refreshed upstream; from here they are read-only.
type Token struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	ClientID  string     `json:"client_id"`
	Scopes    []string   `json:"scopes"`
	RefreshAt *time.Time `json:"refresh_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HasScope reports whether the token carries the given scope id.
func (t *Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
