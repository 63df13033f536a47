// Package auth issues and verifies dashboard session tokens. A session is
// an HS256 JWT carrying the user id, handed out in exchange for a valid
// bearer credential.
package auth

import (
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the owning user.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

type Sessions struct {
	secret []byte
	ttl    time.Duration
	clock  quartz.Clock
}

func NewSessions(secret string, ttl time.Duration, clock quartz.Clock) *Sessions {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue signs a session for userID and returns it with its expiry.
func (s *Sessions) Issue(userID string) (string, time.Time, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expires, nil
}

// UserID verifies tokenString and returns its user. Expired sessions give
// common.ErrTokenExpired, anything else common.ErrInvalidToken.
func (s *Sessions) UserID(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time { return s.clock.Now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.UserID, nil
}
