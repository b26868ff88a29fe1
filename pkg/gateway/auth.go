package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Sigap-Signature"

// Authenticator verifies shared-secret signatures. An empty secret disables
// verification.
type Authenticator struct {
	sharedSecret string
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(sharedSecret string) *Authenticator {
	return &Authenticator{sharedSecret: sharedSecret}
}

// Enabled reports whether requests must be signed
func (a *Authenticator) Enabled() bool {
	return a.sharedSecret != ""
}

// Sign returns the hex HMAC-SHA256 of payload
func (a *Authenticator) Sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks signature against payload
func (a *Authenticator) Verify(payload []byte, signature string) bool {
	if !a.Enabled() {
		return true
	}
	if signature == "" {
		return false
	}

	expected := a.Sign(payload)

	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
