// Package identity verifies bearer tokens into caller identities. The rest
// of the system depends only on the Verifier interface; the JWT details stay
// here.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/identityctx"
	"go.uber.org/fx"
)

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
)

type Verifier interface {
	Verify(ctx context.Context, token string) (identityctx.Identity, error)
}

type jwtVerifier struct {
	secret []byte
}

func NewJWTVerifier(cfg config.Config) (Verifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		return nil, errors.New("jwt verifier requires a signing secret")
	}
	return &jwtVerifier{secret: []byte(secret)}, nil
}

type claims struct {
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func (v *jwtVerifier) Verify(_ context.Context, token string) (identityctx.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return identityctx.Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return identityctx.Identity{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || strings.TrimSpace(c.Subject) == "" {
		return identityctx.Identity{}, ErrInvalidToken
	}

	return identityctx.Identity{
		AccountID: c.Subject,
		Email:     c.Email,
		Admin:     c.Admin,
	}, nil
}

var Module = fx.Module("identity",
	fx.Provide(NewJWTVerifier),
)
