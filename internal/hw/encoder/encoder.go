// Package encoder decodes a two-channel quadrature encoder into a signed
// position count.
package encoder

import (
	"fmt"
	"sync/atomic"

	"github.com/cjeanneret/servoctl/internal/debug"
	"github.com/cjeanneret/servoctl/internal/hw/gpio"
	"github.com/cjeanneret/servoctl/internal/logic/geometry"
)

// Config holds the hardware configuration for the encoder.
type Config struct {
	PinA int
	PinB int
	PPR  int // counts per revolution after decoding, 0 = geometry.DefaultPPR
}

// lut maps (previous phase << 2 | current phase) to a count increment.
// Same-state and double-bit transitions carry no information and count 0.
var lut = [16]int8{
	0,  // 00 -> 00 still
	+1, // 00 -> 01
	-1, // 00 -> 10
	0,  // 00 -> 11 skipped
	-1, // 01 -> 00
	0,  // 01 -> 01 still
	0,  // 01 -> 10 skipped
	+1, // 01 -> 11
	+1, // 10 -> 00
	0,  // 10 -> 01 skipped
	0,  // 10 -> 10 still
	-1, // 10 -> 11
	0,  // 11 -> 00 skipped
	-1, // 11 -> 01
	+1, // 11 -> 10
	0,  // 11 -> 11 still
}

// Decoder tracks the position of a quadrature encoder by polling its two
// phase lines. Update must run faster than the fastest phase transition;
// a skipped transition is lost, not slowed.
//
// count and offset are atomics so a sampler running from another
// goroutine can share them with the reading side.
type Decoder struct {
	gpio  gpio.Driver
	cfg   Config
	scale geometry.Scale

	prev   uint8
	count  atomic.Int32
	offset atomic.Int32
}

// New configures both phase lines as pulled-up inputs and seeds the
// previous phase from a first sample. Count and offset start at zero.
func New(g gpio.Driver, cfg Config) (*Decoder, error) {
	if err := g.SetupPin(cfg.PinA, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup encoder pin A: %w", err)
	}
	if err := g.SetupPin(cfg.PinB, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup encoder pin B: %w", err)
	}

	d := &Decoder{
		gpio:  g,
		cfg:   cfg,
		scale: geometry.NewScale(cfg.PPR),
	}

	state, err := d.sample()
	if err != nil {
		return nil, err
	}
	d.prev = state

	debug.Verbose("Encoder: pins A=%d B=%d, %d counts/rev, initial phase %02b", cfg.PinA, cfg.PinB, d.scale.PPR(), state)
	return d, nil
}

func (d *Decoder) sample() (uint8, error) {
	a, err := d.gpio.ReadPin(d.cfg.PinA)
	if err != nil {
		return 0, fmt.Errorf("read encoder pin A: %w", err)
	}
	b, err := d.gpio.ReadPin(d.cfg.PinB)
	if err != nil {
		return 0, fmt.Errorf("read encoder pin B: %w", err)
	}

	var state uint8
	if a == gpio.High {
		state |= 0b10
	}
	if b == gpio.High {
		state |= 0b01
	}
	return state, nil
}

// Update samples both lines once and applies the table increment for the
// transition since the previous sample.
func (d *Decoder) Update() error {
	now, err := d.sample()
	if err != nil {
		return err
	}

	if delta := lut[d.prev<<2|now]; delta != 0 {
		d.count.Add(int32(delta))
	}
	d.prev = now
	return nil
}

// RawCount returns the cumulative count since New.
func (d *Decoder) RawCount() int32 {
	return d.count.Load()
}

// Count returns the count relative to the current zero reference.
func (d *Decoder) Count() int32 {
	return d.count.Load() - d.offset.Load()
}

// Reset makes the current position the zero reference.
func (d *Decoder) Reset() {
	d.offset.Store(d.count.Load())
}

// SetOffset sets the zero reference to an arbitrary raw count.
func (d *Decoder) SetOffset(offset int32) {
	d.offset.Store(offset)
}

// Offset returns the current zero reference.
func (d *Decoder) Offset() int32 {
	return d.offset.Load()
}

// CountToAngle converts a count to degrees.
func (d *Decoder) CountToAngle(count int32) float64 {
	return d.scale.CountToAngle(count)
}

// AngleToCount converts degrees to counts, truncating toward zero.
func (d *Decoder) AngleToCount(angle float64) int32 {
	return d.scale.AngleToCount(angle)
}

// Angle returns the current angle relative to the zero reference.
func (d *Decoder) Angle() float64 {
	return d.CountToAngle(d.Count())
}
