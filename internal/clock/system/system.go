// Package system provides wall-clock time sources.
package system

import "time"

// Clock implements archive.Clock using the UTC wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Reruns with a Fixed clock produce the
// same report file name.
type Fixed struct {
	At time.Time
}

// Now returns f.At in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
