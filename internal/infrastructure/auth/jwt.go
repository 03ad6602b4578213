// Package auth verifies and issues HS256 bearer tokens for API callers.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of issued tokens
const DefaultTokenTTL = 72 * time.Hour

// Claims carries the actor identity inside a token. The subject is the
// actor code.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// JWTProvider implements port.IdentityProvider with shared-secret tokens
type JWTProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  port.Clock
}

var _ port.IdentityProvider = (*JWTProvider)(nil)

// NewJWTProvider creates a provider signing with secret. A zero ttl uses
// DefaultTokenTTL.
func NewJWTProvider(secret, issuer string, ttl time.Duration, clock port.Clock) (*JWTProvider, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTProvider{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// Issue signs a token for actor
func (p *JWTProvider) Issue(actor entity.Actor) (string, error) {
	if actor.Code == "" {
		return "", errs.Validation("actor code is required")
	}

	now := p.clock.Now()
	claims := Claims{
		Name: actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   actor.Code,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Verify parses a token and returns the actor it names
func (p *JWTProvider) Verify(ctx context.Context, tokenString string) (*entity.Actor, error) {
	if tokenString == "" {
		return nil, errs.Unauthorized("bearer token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.Wrap(err, errs.KindUnauthorized, "token expired")
		}
		return nil, errs.Wrap(err, errs.KindUnauthorized, "invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errs.Unauthorized("invalid token")
	}

	return &entity.Actor{Code: claims.Subject, Name: claims.Name}, nil
}
