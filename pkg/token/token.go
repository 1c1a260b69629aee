// Package token issues HS256-signed JWTs for local callers.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/token-sidecar/pkg/faults"
	"github.com/Mindburn-Labs/token-sidecar/pkg/secrets"
)

const (
	// DefaultSubject is the subject issued by the /my-token endpoint.
	DefaultSubject = "user123"
	// DefaultMessage accompanies every issued token.
	DefaultMessage = "JWT token generated successfully"
)

// DefaultExpiry is a fixed far-future expiry (2033-05-18). It is a demo
// policy and not a substitute for short-lived tokens.
var DefaultExpiry = time.Unix(2000000000, 0).UTC()

// Claims are the signed claims: only sub and exp are set.
type Claims struct {
	jwt.RegisteredClaims
}

// Response is the JSON body returned to callers.
type Response struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Issuer signs tokens with the secret from Source.
type Issuer struct {
	Source    secrets.Source
	ExpiresAt time.Time
	Message   string
}

// NewIssuer creates an issuer with the default expiry and message.
func NewIssuer(src secrets.Source) *Issuer {
	return &Issuer{
		Source:    src,
		ExpiresAt: DefaultExpiry,
		Message:   DefaultMessage,
	}
}

// Issue signs a token for subject. Failures are request faults.
func (i *Issuer) Issue(ctx context.Context, subject string) (*Response, error) {
	if subject == "" {
		return nil, faults.New(faults.Request, "issue token", errors.New("subject is required"))
	}

	key, err := i.key(ctx)
	if err != nil {
		return nil, faults.New(faults.Request, "issue token", err)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(i.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return nil, faults.New(faults.Request, "issue token", fmt.Errorf("sign: %w", err))
	}

	return &Response{
		Token:     signed,
		ExpiresAt: i.ExpiresAt.Unix(),
		UserID:    subject,
		Message:   i.Message,
	}, nil
}

// Verify parses a token signed by this issuer's secret.
func (i *Issuer) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	key, err := i.key(ctx)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func (i *Issuer) key(ctx context.Context) ([]byte, error) {
	if i.Source == nil {
		return nil, errors.New("no secret source configured")
	}
	key, err := i.Source.Secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("load signing secret: %w", err)
	}
	if len(key) == 0 {
		return nil, secrets.ErrEmptySecret
	}
	return key, nil
}
