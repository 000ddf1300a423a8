package clock

import "time"

// Clock provides time to the application.
// Stores, the idempotency gate and the expiry sweep all read time through it so
// tests can control expiry deterministically.
type Clock interface {
	Now() time.Time
}
