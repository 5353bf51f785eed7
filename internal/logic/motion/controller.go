package motion

import (
	"fmt"
	"math"

	"github.com/cjeanneret/servoctl/internal/debug"
	"github.com/cjeanneret/servoctl/internal/hw/pulse"
	"github.com/cjeanneret/servoctl/internal/logic/geometry"
)

// Defaults for the steering servo.
const (
	DefaultMaxAngle    = 45.0   // degrees either side of center
	DefaultTolerance   = 0.5    // degrees
	DefaultPulseFreqHz = 100000 // 5µs half-cycle
	DefaultMinBurst    = 10
	DefaultMaxBurst    = 1000
)

// Pulser is the pulse train output driven by the controller.
type Pulser interface {
	Start(dir pulse.Direction, count, freqHz uint32) error
	Stop() error
	Update() error
	State() pulse.State
}

// PositionSensor reports the actuator angle.
type PositionSensor interface {
	Angle() float64
	AngleToCount(angle float64) int32
	Reset()
}

// State is the lifecycle of a positioning target.
type State int

const (
	Idle State = iota
	Moving
	Arrived
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Moving:
		return "MOVING"
	case Arrived:
		return "ARRIVED"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the controller tuning. Zero fields take the defaults.
type Config struct {
	MaxAngle    float64
	Tolerance   float64
	PulseFreqHz uint32
	MinBurst    uint32
	MaxBurst    uint32
}

func (c Config) withDefaults() Config {
	if c.MaxAngle <= 0 {
		c.MaxAngle = DefaultMaxAngle
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.PulseFreqHz == 0 {
		c.PulseFreqHz = DefaultPulseFreqHz
	}
	if c.MinBurst == 0 {
		c.MinBurst = DefaultMinBurst
	}
	if c.MaxBurst == 0 {
		c.MaxBurst = DefaultMaxBurst
	}
	if c.MaxBurst < c.MinBurst {
		c.MaxBurst = c.MinBurst
	}
	return c
}

// action is what one Update step does while Moving.
type action int

const (
	actionArrive action = iota
	actionWait
	actionBurst
)

// decide picks the next action. Tolerance is checked before the pulse
// session so an in-flight burst never delays arrival.
func decide(errorDeg, tolerance float64, ps pulse.State) action {
	if math.Abs(errorDeg) < tolerance {
		return actionArrive
	}
	if ps == pulse.Running {
		return actionWait
	}
	return actionBurst
}

// Controller drives a single steering axis to a target angle with
// fixed-size pulse bursts, re-measuring the error after every burst.
// It does not own the pulser or the sensor.
type Controller struct {
	pulse  Pulser
	sensor PositionSensor
	cfg    Config

	target float64
	state  State
	bursts int
}

func NewController(p Pulser, s PositionSensor, cfg Config) *Controller {
	return &Controller{
		pulse:  p,
		sensor: s,
		cfg:    cfg.withDefaults(),
		target: 0,
		state:  Idle,
	}
}

// SetTargetAngle clamps angle to ±MaxAngle and starts moving toward it,
// replacing any previous target, including after an emergency stop.
func (c *Controller) SetTargetAngle(angle float64) {
	clamped := geometry.Clamp(angle, -c.cfg.MaxAngle, c.cfg.MaxAngle)
	if clamped != angle {
		debug.Verbose("Controller: target %.3f° clamped to %.3f°", angle, clamped)
	}
	c.target = clamped
	c.bursts = 0
	c.setState(Moving)
}

// Update runs one control step. It is a no-op unless Moving.
func (c *Controller) Update() error {
	if c.state != Moving {
		return nil
	}

	if err := c.pulse.Update(); err != nil {
		return fmt.Errorf("pulse update: %w", err)
	}

	errorDeg := c.target - c.sensor.Angle()

	switch decide(errorDeg, c.cfg.Tolerance, c.pulse.State()) {
	case actionArrive:
		return c.arrive(errorDeg)
	case actionWait:
		return nil
	default:
		return c.burst(errorDeg)
	}
}

func (c *Controller) arrive(errorDeg float64) error {
	err := c.pulse.Stop()
	c.setState(Arrived)
	debug.Info("Arrived at %.3f° (target %.3f°, error %.3f°, %d bursts)", c.sensor.Angle(), c.target, errorDeg, c.bursts)
	return err
}

func (c *Controller) burst(errorDeg float64) error {
	dir := pulse.Reverse
	if errorDeg > 0 {
		dir = pulse.Forward
	}
	n := c.BurstSize(errorDeg)

	c.bursts++
	debug.Burst(n, dir.String(), errorDeg)
	if err := c.pulse.Start(dir, n, c.cfg.PulseFreqHz); err != nil {
		return fmt.Errorf("start burst: %w", err)
	}
	return nil
}

// BurstSize returns the pulse count issued for an angular error: the
// error in encoder counts, clamped to [MinBurst, MaxBurst].
func (c *Controller) BurstSize(errorDeg float64) uint32 {
	counts := int64(c.sensor.AngleToCount(math.Abs(errorDeg)))
	if counts < int64(c.cfg.MinBurst) {
		return c.cfg.MinBurst
	}
	if counts > int64(c.cfg.MaxBurst) {
		return c.cfg.MaxBurst
	}
	return uint32(counts)
}

// Homing stops pulsing and defines the current position as zero. It does
// not look for a physical reference.
func (c *Controller) Homing() error {
	err := c.pulse.Stop()
	c.sensor.Reset()
	c.target = 0
	c.bursts = 0
	c.setState(Idle)
	return err
}

// EmergencyStop stops pulsing and latches Error. Only SetTargetAngle
// leaves Error.
func (c *Controller) EmergencyStop() error {
	err := c.pulse.Stop()
	c.setState(Error)
	debug.Info("Emergency stop at %.3f°", c.sensor.Angle())
	return err
}

func (c *Controller) setState(s State) {
	if c.state != s {
		debug.Transition("controller", c.state, s)
	}
	c.state = s
}

// TargetAngle returns the clamped target.
func (c *Controller) TargetAngle() float64 {
	return c.target
}

// CurrentAngle returns the sensor angle.
func (c *Controller) CurrentAngle() float64 {
	return c.sensor.Angle()
}

// State returns the controller state.
func (c *Controller) State() State {
	return c.state
}

// Bursts returns the number of bursts issued for the current target.
func (c *Controller) Bursts() int {
	return c.bursts
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}
