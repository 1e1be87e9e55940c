package auth

import (
	"errors"
	"fmt"
)

// Operation is a class of request the service authorizes separately.
type Operation string

const (
	// OpConvert is POST /create.
	OpConvert Operation = "convert"
	// OpHistory is the /v1/jobs read API, whose records expose target URLs.
	OpHistory Operation = "history"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

// Guard decides per operation whether a caller may proceed. Operations not
// marked anonymous need a token accepted by the validator, and the scope
// configured for them if any. With no validator, non-anonymous operations
// are closed to everyone.
type Guard struct {
	validator Validator
	scopes    map[Operation]string
	anonymous map[Operation]bool
}

type GuardOption func(*Guard)

// RequireScope makes op require scope in addition to a valid token.
func RequireScope(op Operation, scope string) GuardOption {
	return func(g *Guard) {
		if scope != "" {
			g.scopes[op] = scope
		}
	}
}

// AllowAnonymous lets callers without a token perform op.
func AllowAnonymous(op Operation) GuardOption {
	return func(g *Guard) { g.anonymous[op] = true }
}

func NewGuard(v Validator, opts ...GuardOption) *Guard {
	g := &Guard{
		validator: v,
		scopes:    make(map[Operation]string),
		anonymous: make(map[Operation]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasProvider reports whether tokens are checked at all.
func (g *Guard) HasProvider() bool {
	return g != nil && g.validator != nil
}

// Anonymous reports whether op is open to callers without a token.
func (g *Guard) Anonymous(op Operation) bool {
	return g == nil || g.anonymous[op]
}

// Authorize checks token for op. Claims are nil for anonymous access. A token
// presented for an anonymous operation is still validated when a validator is
// configured, so bad credentials are never silently ignored.
func (g *Guard) Authorize(token string, op Operation) (*Claims, error) {
	if g == nil {
		return nil, nil
	}
	if g.validator == nil {
		if g.anonymous[op] {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s is disabled without an auth provider", ErrForbidden, op)
	}
	if token == "" {
		if g.anonymous[op] {
			return nil, nil
		}
		return nil, ErrUnauthenticated
	}

	claims, err := g.validator.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if scope, ok := g.scopes[op]; ok && !claims.HasScope(scope) {
		return nil, fmt.Errorf("%w: %s requires scope %q", ErrForbidden, op, scope)
	}
	return claims, nil
}
