package platform

import "crypto/rand"

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TokenLength is the fixed length of credential ids and secrets.
const TokenLength = 32

// NewToken returns a fixed-length random token suitable for credential ids
// and one-time secrets.
func NewToken() string {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = tokenAlphabet[b[i]%byte(len(tokenAlphabet))]
	}
	return string(b)
}
