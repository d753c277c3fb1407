// Package auth verifies bearer tokens and carries the caller's claims.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chartpilot/analysis-engine/internal/models"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("invalid token")
)

// Config configures token verification. An empty secret disables auth.
type Config struct {
	Secret string `yaml:"secret" env:"SECRET"`
	Issuer string `yaml:"issuer" env:"ISSUER"`
}

// Claims are the token fields the engine reads. Subject is the quota subject.
type Claims struct {
	Tier models.Tier `json:"tier,omitempty"`

	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier. Enabled reports false when the secret is empty.
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// Enabled reports whether tokens are required.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Sign issues a token for claims, filling in issue time, expiry and issuer.
func (v *Verifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil && ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses token and checks its signature, expiry and issuer.
func (v *Verifier) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("token has no subject"))
	}
	return *c, nil
}

// verifyHeader checks an Authorization header value.
func (v *Verifier) verifyHeader(header string) (Claims, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return Claims{}, ErrMissingToken
	}
	return v.Verify(strings.TrimSpace(token))
}

type claimsKey struct{}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Subject resolves the quota subject for a request. Verified claims win over
// the requested value, which is only honoured when auth is disabled.
func Subject(ctx context.Context, requested string) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return strings.TrimSpace(requested)
}
