package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// PasswordGate checks a shared password against either a bcrypt hash or a
// plain configured value. The hash wins when both are set.
type PasswordGate struct {
	hash  []byte
	plain string
}

func NewPasswordGate(plain, hash string) *PasswordGate {
	gate := &PasswordGate{plain: plain}
	if hash != "" {
		gate.hash = []byte(hash)
	}
	return gate
}

// Configured reports whether any password is set.
func (g *PasswordGate) Configured() bool {
	return g != nil && (len(g.hash) > 0 || g.plain != "")
}

// Check reports whether candidate matches. An unconfigured gate matches
// nothing.
func (g *PasswordGate) Check(candidate string) bool {
	if !g.Configured() || candidate == "" {
		return false
	}
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(g.plain), []byte(candidate)) == 1
}

// HashPassword produces a bcrypt hash suitable for the *_PASSWORD_HASH settings.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
