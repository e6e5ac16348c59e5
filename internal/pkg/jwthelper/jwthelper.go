package jwthelper

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingScope = errors.New("token has no hospital scope")
)

// Claims carries the operator identity. Name is the display name written to
// performed_by; HospitalScopeID bounds every read and write.
type Claims struct {
	Name            string `json:"name"`
	HospitalScopeID string `json:"hospital_scope_id"`
	jwt.RegisteredClaims
}

func GenerateToken(key []byte, subject, name, scopeID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:            name,
		HospitalScopeID: scopeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("token.SignedString -> %w", err)
	}

	return signed, nil
}

func ParseToken(key []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.HospitalScopeID == "" {
		return nil, ErrMissingScope
	}

	return claims, nil
}
