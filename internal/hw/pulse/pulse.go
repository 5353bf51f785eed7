// Package pulse generates non-blocking CW/CCW pulse trains for a servo
// driver in pulse-direction mode.
package pulse

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cjeanneret/servoctl/internal/debug"
	"github.com/cjeanneret/servoctl/internal/hw/clock"
	"github.com/cjeanneret/servoctl/internal/hw/gpio"
	"go.uber.org/multierr"
)

// ErrZeroFrequency is returned by Start when asked for a 0 Hz pulse train.
var ErrZeroFrequency = errors.New("pulse frequency must be > 0")

// Direction selects the output line a session pulses.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// State is the lifecycle of a pulse session.
type State int

const (
	Idle State = iota
	Running
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the hardware configuration for the pulse outputs.
type Config struct {
	ForwardPin int
	ReversePin int
	EnablePin  int // driver ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
}

// Generator emits a fixed number of pulses on one of two lines. Update
// performs at most one half-cycle transition per call and never waits.
type Generator struct {
	gpio  gpio.Driver
	clock clock.Clock
	cfg   Config

	state     State
	direction Direction
	emitted   atomic.Uint32
	requested uint32
	interval  uint32 // half-cycle, microseconds
	high      bool
	last      uint32
}

// New configures both pulse lines as outputs driven low. The generator
// starts Idle.
func New(g gpio.Driver, clk clock.Clock, cfg Config) (*Generator, error) {
	for _, pin := range []int{cfg.ForwardPin, cfg.ReversePin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup pulse pin %d: %w", pin, err)
		}
	}

	p := &Generator{
		gpio:     g,
		clock:    clk,
		cfg:      cfg,
		interval: 10,
	}

	// ENABLE is active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup enable pin %d: %w", cfg.EnablePin, err)
		}
		if err := g.WritePin(cfg.EnablePin, gpio.Low); err != nil { // enable by default
			return nil, err
		}
	}

	if err := p.Stop(); err != nil {
		return nil, err
	}
	return p, nil
}

// HalfCycle returns the half-cycle interval in microseconds for a pulse
// frequency, floored at 1µs.
func HalfCycle(freqHz uint32) uint32 {
	interval := 1_000_000 / (uint64(freqHz) * 2)
	if interval < 1 {
		return 1
	}
	return uint32(interval)
}

// Start begins a session of count pulses at freqHz. Any session in
// progress is stopped first. A zero count completes immediately without
// touching the lines.
func (p *Generator) Start(dir Direction, count, freqHz uint32) error {
	if err := p.Stop(); err != nil {
		return err
	}
	if freqHz == 0 {
		return ErrZeroFrequency
	}

	p.direction = dir
	p.emitted.Store(0)
	p.requested = count
	p.interval = HalfCycle(freqHz)
	p.high = false
	p.last = p.clock.Micros()

	if count == 0 {
		p.setState(Complete)
		return nil
	}

	debug.Trace("Pulse: start %d pulses %s, half-cycle %dµs", count, dir, p.interval)
	p.setState(Running)
	return nil
}

// Stop drives both lines low and returns to Idle, whatever the state.
// The state changes even if a write fails.
func (p *Generator) Stop() error {
	err := multierr.Combine(
		p.gpio.WritePin(p.cfg.ForwardPin, gpio.Low),
		p.gpio.WritePin(p.cfg.ReversePin, gpio.Low),
	)
	p.high = false
	p.setState(Idle)
	return err
}

// Update advances the running session by at most one half-cycle.
func (p *Generator) Update() error {
	if p.state != Running {
		return nil
	}

	now := p.clock.Micros()
	if clock.Elapsed(now, p.last) < p.interval {
		return nil
	}
	p.last = now

	pin := p.activePin()
	if p.high {
		p.high = false
		if err := p.gpio.WritePin(pin, gpio.Low); err != nil {
			return err
		}
		// a pulse counts on its falling edge
		if p.emitted.Add(1) >= p.requested {
			err := p.Stop()
			p.setState(Complete)
			return err
		}
		return nil
	}

	p.high = true
	return p.gpio.WritePin(pin, gpio.High)
}

func (p *Generator) activePin() int {
	if p.direction == Reverse {
		return p.cfg.ReversePin
	}
	return p.cfg.ForwardPin
}

func (p *Generator) setState(s State) {
	if p.state != s {
		debug.Transition("pulse", p.state, s)
		p.state = s
	}
}

// State returns the session state.
func (p *Generator) State() State {
	return p.state
}

// Count returns the pulses emitted in the current session.
func (p *Generator) Count() uint32 {
	return p.emitted.Load()
}

// Requested returns the pulse count of the current session.
func (p *Generator) Requested() uint32 {
	return p.requested
}

// Direction returns the direction of the current session.
func (p *Generator) Direction() Direction {
	return p.direction
}

// Interval returns the half-cycle interval in microseconds.
func (p *Generator) Interval() uint32 {
	return p.interval
}

// Enable turns on the motor driver (ENABLE=LOW).
func (p *Generator) Enable() error {
	if p.cfg.EnablePin <= 0 {
		return nil
	}
	return p.gpio.WritePin(p.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). The servo freewheels.
func (p *Generator) Disable() error {
	if p.cfg.EnablePin <= 0 {
		return nil
	}
	return p.gpio.WritePin(p.cfg.EnablePin, gpio.High)
}
