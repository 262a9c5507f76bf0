// Package jwt issues and verifies actor tokens.
// The actor id in a verified token becomes last_modified_by and the change
// log actor of every write made with it.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "rollcall"

// ErrInvalidToken is returned for tokens that fail verification
var ErrInvalidToken = errors.New("invalid token")

// Claims represents actor token claims
type Claims struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service provides token generation and validation
type Service struct {
	now    func() time.Time
	secret []byte
	ttl    time.Duration
}

// NewService creates a new JWT service
// secret should be a cryptographically secure random string
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		now:    time.Now,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// WithClock overrides the time source (tests)
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue creates a signed token for an actor
func (s *Service) Issue(actorID, name string) (string, int64, error) {
	if actorID == "" {
		return "", 0, fmt.Errorf("actor id cannot be empty")
	}

	now := s.now()
	claims := Claims{
		ActorID: actorID,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return token, int64(s.ttl.Seconds()), nil
}

// Validate parses and verifies a token
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ActorID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
