package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// verifyTimeout bounds a single trust-anchored verification round trip,
// including any JWKS refresh it triggers.
const verifyTimeout = 5 * time.Second

// TrustAnchoredVerifier verifies bearer tokens against an Auth0-style JWKS
// endpoint. External key-fetch calls are wrapped in a circuit breaker so a
// degraded identity provider fails fast instead of stalling every AUTH
// frame behind it.
type TrustAnchoredVerifier struct {
	validator *Validator
	cb        *gobreaker.CircuitBreaker
}

// NewTrustAnchoredVerifier builds a verifier backed by the JWKS endpoint at
// the given Auth0 domain/audience.
func NewTrustAnchoredVerifier(ctx context.Context, domain, audience string) (*TrustAnchoredVerifier, error) {
	v, err := NewValidator(ctx, domain, audience)
	if err != nil {
		return nil, fmt.Errorf("construct trust-anchored verifier: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-verifier",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn(context.Background(), "circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &TrustAnchoredVerifier{validator: v, cb: cb}, nil
}

// Verify validates token against the JWKS trust anchor and returns the
// Principal it names. clientDisplayName, if non-empty after trimming,
// overrides the display name carried by the token; otherwise the token's
// name or email claim is used.
func (t *TrustAnchoredVerifier) Verify(ctx context.Context, token string, clientDisplayName string) (types.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := t.cb.Execute(func() (interface{}, error) {
			return t.validator.ValidateToken(token)
		})
		done <- outcome{result: result, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		return types.Principal{}, fmt.Errorf("identity verification timed out: %w", ctx.Err())
	}
	result, err := o.result, o.err
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.Principal{}, fmt.Errorf("identity verifier unavailable: %w", err)
		}
		return types.Principal{}, fmt.Errorf("token rejected: %w", err)
	}

	claims := result.(*CustomClaims)
	displayName := firstNonEmpty(strings.TrimSpace(clientDisplayName), claims.Name, claims.Email)

	return types.Principal{
		UserID:      types.UserIDType(claims.Subject),
		DisplayName: types.DisplayNameType(displayName),
		PhotoURL:    claims.Picture,
	}, nil
}

// DevelopmentVerifier bypasses signature verification entirely: it decodes
// the JWT's claims without checking them, or synthesizes a fresh identity
// when the token isn't a JWT at all. Only for local development and tests.
type DevelopmentVerifier struct {
	mock *MockValidator
}

// NewDevelopmentVerifier returns a verifier that never rejects a connection.
func NewDevelopmentVerifier() *DevelopmentVerifier {
	return &DevelopmentVerifier{mock: &MockValidator{}}
}

// Verify always succeeds. If token decodes as a JWT, its sub/name/email
// claims are used; otherwise a random identity is synthesized so that two
// unauthenticated connections are never mistaken for the same user.
func (d *DevelopmentVerifier) Verify(_ context.Context, token string, clientDisplayName string) (types.Principal, error) {
	if token == "" {
		return types.Principal{
			UserID:      types.UserIDType(uuid.NewString()),
			DisplayName: types.DisplayNameType(firstNonEmpty(strings.TrimSpace(clientDisplayName), "Dev User")),
		}, nil
	}

	claims, _ := d.mock.ValidateToken(token)
	displayName := firstNonEmpty(strings.TrimSpace(clientDisplayName), claims.Name, claims.Email, "Dev User")
	return types.Principal{
		UserID:      types.UserIDType(claims.Subject),
		DisplayName: types.DisplayNameType(displayName),
		PhotoURL:    claims.Picture,
	}, nil
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
