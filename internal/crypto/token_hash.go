package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenHash computes the keyed hash stored for API tokens and credential
// secrets: hex(HMAC-SHA256(key, token)). The same function validates both, so
// a hash computed for an unknown username is indistinguishable from a real one.
func TokenHash(key []byte, token string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashEqual compares two token hashes in constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
