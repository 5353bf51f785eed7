// Package clock provides the microsecond time base used by the pulse
// generator.
package clock

import "time"

// Clock is a monotonically increasing microsecond counter. The value
// wraps around at 2^32 like a microcontroller micros() timer; callers
// compare timestamps with unsigned subtraction.
type Clock interface {
	Micros() uint32
}

// System is a Clock backed by the Go monotonic clock.
type System struct {
	start time.Time
}

// NewSystem returns a Clock counting from now.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) Micros() uint32 {
	return uint32(time.Since(s.start).Microseconds())
}

// Elapsed returns the microseconds between since and now, correct across
// one counter wraparound.
func Elapsed(now, since uint32) uint32 {
	return now - since
}
