package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims represents the claims accepted in bearer tokens
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// TokenValidator validates HS256 tokens signed with a tenant secret and,
// when a key set is attached, RS256 tokens issued by an external provider
type TokenValidator struct {
	secret   []byte
	keys     *KeySet
	issuer   string
	audience string
	now      func() time.Time
}

// NewTokenValidator creates a validator. Empty issuer or audience are not
// checked. An empty secret disables HS256.
func NewTokenValidator(secret, issuer, audience string, now func() time.Time) *TokenValidator {
	if now == nil {
		now = time.Now
	}
	return &TokenValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      now,
	}
}

// WithKeySet enables RS256 tokens verified against keys
func (v *TokenValidator) WithKeySet(keys *KeySet) *TokenValidator {
	v.keys = keys
	return v
}

func (v *TokenValidator) methods() []string {
	var m []string
	if len(v.secret) > 0 {
		m = append(m, jwt.SigningMethodHS256.Alg())
	}
	if v.keys != nil {
		m = append(m, jwt.SigningMethodRS256.Alg())
	}
	return m
}

// Validate parses and verifies a token and returns its claims
func (v *TokenValidator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	methods := v.methods()
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no verification key configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return v.secret, nil
		case *jwt.SigningMethodRSA:
			kid, ok := token.Header["kid"].(string)
			if !ok {
				return nil, errors.New("kid header not found")
			}
			return v.keys.Key(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return claims, nil
}
