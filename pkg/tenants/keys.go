package tenants

import (
	"crypto/rand"
	"encoding/hex"
)

// NewKey returns a 64-hex-char high-entropy token for tenant key material.
func NewKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // the platform CSPRNG failing is not recoverable
	}
	return hex.EncodeToString(b)
}
