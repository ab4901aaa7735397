// Package auth resolves bearer tokens to user ids. The Provider interface
// keeps the rest of the system independent of how tokens are minted;
// JWTProvider is the single concrete implementation for now.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Provider is the external authentication collaborator.
type Provider interface {
	// CurrentUser validates a token and returns the user id it carries.
	CurrentUser(ctx context.Context, token string) (string, error)
	// IssueToken mints a token for the given user id.
	IssueToken(userID string) (string, error)
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTProvider signs and validates HS256 tokens.
type JWTProvider struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTProvider(secret string, ttl time.Duration) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), ttl: ttl}
}

func (p *JWTProvider) IssueToken(userID string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

func (p *JWTProvider) CurrentUser(_ context.Context, tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
