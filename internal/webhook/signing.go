package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces the HMAC-SHA256 signature receivers use to authenticate
// delivery bodies.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. An empty secret disables signing.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Enabled reports whether deliveries will carry a signature header.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// Sign returns the hex signature over the exact delivery body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature against the expected value in constant time.
func (s *Signer) Verify(body []byte, signature string) bool {
	expected := s.Sign(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
