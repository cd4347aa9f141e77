// Package auth issues and checks the capabilities that guard host-only and
// admin-only operations.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"training-sync-service/internal/domain"
)

const (
	defaultTokenTTL = 12 * time.Hour
	defaultIssuer   = "trainsync"
	secretSize      = 32
)

var errMissingSubjectClaim = errors.New("subject claim must be provided")

// HostTokensConfig configures the host capability issuer.
type HostTokensConfig struct {
	// SigningSecret signs tokens; empty generates a process-local secret.
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// HostTokens issues HS256 tokens whose subject is the session code they
// grant write access to.
type HostTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

func NewHostTokens(cfg HostTokensConfig) (*HostTokens, error) {
	secret := append([]byte(nil), cfg.SigningSecret...)
	if len(secret) == 0 {
		secret = make([]byte, secretSize)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &HostTokens{secret: secret, issuer: issuer, ttl: ttl, clock: clock}, nil
}

// Issue signs a token granting host authority over code.
func (h *HostTokens) Issue(code string) (string, error) {
	if code == "" {
		return "", errMissingSubjectClaim
	}
	now := h.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   code,
		Issuer:    h.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

// Verify checks that token is a valid, unexpired grant for code. Every
// failure wraps domain.ErrForbidden.
func (h *HostTokens) Verify(token, code string) error {
	if token == "" {
		return fmt.Errorf("%w: missing host token", domain.ErrForbidden)
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return h.secret, nil
		},
		jwt.WithIssuer(h.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrForbidden, err)
	}
	if claims.Subject != code {
		return fmt.Errorf("%w: token issued for another session", domain.ErrForbidden)
	}
	return nil
}
