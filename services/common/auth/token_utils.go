package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Roles carried in the "role" claim.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleCitizen = "citizen"
)

var ErrSecretNotConfigured = errors.New("JWT secret not configured")

// StaffClaims are the claims of an HS256 token issued to municipal staff by
// the identity provider.
type StaffClaims struct {
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// ParseAndValidateToken parses an HS256 token signed with secret and returns
// its claims. The subject must be present and the role must be known.
func ParseAndValidateToken(tokenStr string, secret []byte) (*StaffClaims, error) {
	if len(secret) == 0 {
		return nil, ErrSecretNotConfigured
	}

	claims := &StaffClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	claims.Role = strings.ToLower(strings.TrimSpace(claims.Role))
	if !ValidRole(claims.Role) {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// IssueToken signs a staff token. Used by tooling and tests.
func IssueToken(secret []byte, subject, role, department string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretNotConfigured
	}
	now := time.Now()
	claims := StaffClaims{
		Role:       role,
		Department: department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStaff, RoleCitizen:
		return true
	}
	return false
}
