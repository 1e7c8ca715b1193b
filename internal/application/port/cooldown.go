package port

import (
	"context"
	"time"
)

// CooldownStore durable cooldown markers keyed by feed name.
type CooldownStore interface {
	// Until expiry of the marker for source; ok is false when none is set.
	Until(ctx context.Context, source string) (until time.Time, ok bool, err error)
	Set(ctx context.Context, source string, until time.Time) error
}
