package port

import "time"

// Clock time source for the trading loop; tests inject a fake.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
