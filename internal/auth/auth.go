package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents JWT claims issued at login. UserID duplicates the subject
// for clients that read the payload directly.
type Claims struct {
	UserID int64 `json:"userId"`
	Role   Role  `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 JWT for the user valid for the configured TTL.
func (s *Service) IssueToken(u User) (string, time.Time, error) {
	if u.ID <= 0 {
		return "", time.Time{}, errors.New("user id is required")
	}
	role := u.Role
	if !role.Valid() {
		role = RoleUser
	}

	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		UserID: u.ID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken verifies signature, algorithm, issuer and expiry and returns the claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	sub, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || sub <= 0 {
		return errors.New("subject missing")
	}
	if claims.UserID != 0 && claims.UserID != sub {
		return errors.New("subject mismatch")
	}
	claims.UserID = sub
	if !claims.Role.Valid() {
		return fmt.Errorf("unknown role %q", claims.Role)
	}
	return nil
}
