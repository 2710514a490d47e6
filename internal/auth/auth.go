// Package auth verifies that an operation was authorized by an identity.
//
// The core state machines never inspect credentials themselves; they call a
// Verifier with the identity an operation claims to act as. Production wiring
// uses GrantVerifier, which validates signed identity grants carried on the
// request context. Tests use Static.
package auth

import (
	"context"
	"strings"

	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
)

// Verifier confirms the current call was authorized by identity.
type Verifier interface {
	Verify(ctx context.Context, identity string) error
}

// Static is a Verifier that always returns Err. A zero Static allows everyone.
type Static struct {
	Err error
}

// Verify implements Verifier.
func (s Static) Verify(_ context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return apperrors.New(apperrors.CodeIdentityRequired, "identity is required")
	}
	return s.Err
}

type grantContextKey struct{}

// WithGrant attaches a serialized identity grant to the context.
func WithGrant(ctx context.Context, grant string) context.Context {
	return context.WithValue(ctx, grantContextKey{}, grant)
}

// GrantFromContext returns the identity grant attached to the context, if any.
func GrantFromContext(ctx context.Context) string {
	grant, _ := ctx.Value(grantContextKey{}).(string)
	return grant
}
