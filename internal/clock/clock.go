// Package clock abstracts the time source so submission rate limiting and
// entry timestamps can be driven deterministically in tests.
package clock

import "time"

// A Clock supplies the current time and timer primitives.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the wall clock. Now always reports UTC so stored timestamps do not
// depend on the host timezone.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
