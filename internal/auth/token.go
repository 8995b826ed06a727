package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/clip-service/internal/domain"
)

// TokenManager handles issuing and validating JWT tokens. Guest and
// permanent identities share the same signing scheme; the kind claim is the
// only authoritative source for the caller's role.
type TokenManager struct {
	secret   []byte
	ttl      time.Duration
	guestTTL time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes, guestTTLDays int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	if guestTTLDays <= 0 {
		guestTTLDays = 180
	}
	return &TokenManager{
		secret:   []byte(secret),
		ttl:      time.Duration(ttlMinutes) * time.Minute,
		guestTTL: time.Duration(guestTTLDays) * 24 * time.Hour,
	}
}

// Claims describes JWT payload.
type Claims struct {
	IdentityID string              `json:"sub"`
	Kind       domain.IdentityKind `json:"kind"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs a JWT for the identity. Guest tokens live
// much longer than account tokens so an unauthenticated install keeps its
// products across browser restarts.
func (tm *TokenManager) GenerateToken(identityID string, kind domain.IdentityKind) (string, time.Time, error) {
	ttl := tm.ttl
	if kind == domain.IdentityKindGuest {
		ttl = tm.guestTTL
	}
	expiresAt := time.Now().Add(ttl)
	claims := &Claims{
		IdentityID: identityID,
		Kind:       kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if !claims.Kind.Valid() {
		return nil, errors.New("unknown identity kind")
	}
	return claims, nil
}
