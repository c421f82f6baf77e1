// Package oauthstate issues and verifies the signed state parameter of the account linking flow.
package oauthstate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/linhptit/strava-webhook-vercel/internal/redact"
)

// DefaultTTL bounds how long an athlete may take on the Strava consent screen.
const DefaultTTL = 10 * time.Minute

const issuer = "strava-webhook-relay"

var (
	// ErrMissingState is returned when no state was supplied.
	ErrMissingState = errors.New("missing oauth state")
	// ErrInvalidState wraps parsing and validation errors.
	ErrInvalidState = errors.New("invalid oauth state")
)

// Signer issues short-lived HS256 state tokens.
type Signer struct {
	secret redact.Secret
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner constructs a Signer. A non-positive ttl falls back to DefaultTTL.
func NewSigner(secret redact.Secret, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue returns a new signed state carrying a random nonce.
func (s *Signer) Issue() (string, error) {
	if s.secret.Empty() {
		return "", errors.New("oauth state secret is not configured")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret.Reveal()))
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return token, nil
}

// Verify validates signature, issuer and expiry of a state token.
func (s *Signer) Verify(state string) error {
	state = strings.TrimSpace(state)
	if state == "" {
		return ErrMissingState
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.secret.Reveal()), nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return ErrInvalidState
	}
	return nil
}
