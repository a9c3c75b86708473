package engine

import "time"

// Clock supplies processing time. Activity dates fall back to it when the
// source document carries no timestamp, and ledger records are stamped with
// it on commit.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
