package port

import (
	"context"
	"time"

	"github.com/garyjia/finflow/internal/domain/entity"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IdentityProvider verifies a bearer token and yields the acting identity.
// Invalid or expired tokens fail with errs.ErrUnauthorized.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (*entity.Actor, error)
}
