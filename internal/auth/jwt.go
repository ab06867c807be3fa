package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles known to the ledger.
const (
	RoleFaculty = "faculty"
	RoleStudent = "student"
)

// Token kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload. Subject is the user id.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	jwt.RegisteredClaims
}

// IsFaculty reports whether the holder may manage sessions.
func (c Claims) IsFaculty() bool { return c.Role == RoleFaculty }

// ValidRole reports whether role is one the ledger issues tokens for.
func ValidRole(role string) bool {
	return role == RoleFaculty || role == RoleStudent
}

// Issue issues signed access and refresh tokens for a user.
func Issue(subject, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if subject == "" {
		return TokenPair{}, errors.New("subject required")
	}
	if !ValidRole(role) {
		return TokenPair{}, fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	accessToken, err := sign(subject, role, KindAccess, issuer, key, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(subject, role, KindRefresh, issuer, key, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func sign(subject, role, kind, issuer, key string, now, exp time.Time) (string, error) {
	claims := Claims{
		Subject: subject,
		Role:    role,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
