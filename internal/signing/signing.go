// Package signing implements the HMAC helper behind file-store blob
// addresses. A signature binds one storage key, so an address stays valid for
// as long as the secret does.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for a storage key.
func (s *Signer) Sign(key string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("blob:" + key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one in constant
// time.
func (s *Signer) Validate(key, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(s.Sign(key)), []byte(signature))
}
