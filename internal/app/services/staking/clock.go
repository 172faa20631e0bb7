package staking

import "time"

// Clock supplies the wall-clock time used for stake timestamps and lock checks.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads the host clock.
var SystemClock Clock = systemClock{}
