package model

import "time"

// MessagingCredential is an ephemeral broker username/password pair derived
// from an API token. The plaintext secret is returned to the caller exactly
// once at issuance; only its keyed hash is stored.
type MessagingCredential struct {
	ID            string     `json:"id"`
	SecretHash    string     `json:"-"`
	AccountID     string     `json:"account_id"`
	ClientID      string     `json:"client_id"`
	OriginTokenID *string    `json:"origin_token_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpireAt      *time.Time `json:"expire_at,omitempty"`
	Scopes        []string   `json:"scopes"`
	MultiUse      bool       `json:"multi_use"`
	Used          bool       `json:"used"`
}

// HasScope reports whether the credential carries the given scope id.
func (c *MessagingCredential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the credential's expiry has passed at the given time.
// Credentials without an expiry never expire.
func (c *MessagingCredential) Expired(now time.Time) bool {
	return c.ExpireAt != nil && !c.ExpireAt.After(now)
}
