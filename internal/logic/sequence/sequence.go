package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/servoctl/internal/debug"
	"github.com/cjeanneret/servoctl/internal/logic/motion"
	"golang.org/x/time/rate"
)

var (
	// ErrTimeout is returned when a target is not reached in time.
	ErrTimeout = errors.New("move timed out")

	// ErrEmergencyStop is returned when the controller latched ERROR.
	ErrEmergencyStop = errors.New("controller in emergency stop")
)

// Sampler is polled to track the actuator position.
type Sampler interface {
	Update() error
}

// Options tune the polling loop.
type Options struct {
	SamplesPerStep int           // encoder samples per controller step, min 1
	PollInterval   time.Duration // pause between iterations, 0 = busy loop
	ReportInterval time.Duration // position log period, 0 = never
}

// Runner is the cooperative main loop: it samples the encoder and steps
// the controller from a single goroutine, so the two never run
// concurrently.
type Runner struct {
	sampler Sampler
	ctrl    *motion.Controller
	opts    Options
	report  *rate.Sometimes
}

func NewRunner(s Sampler, c *motion.Controller, opts Options) *Runner {
	if opts.SamplesPerStep < 1 {
		opts.SamplesPerStep = 1
	}
	r := &Runner{
		sampler: s,
		ctrl:    c,
		opts:    opts,
	}
	if opts.ReportInterval > 0 {
		r.report = &rate.Sometimes{Interval: opts.ReportInterval}
	}
	return r
}

// Params defines a steering sequence.
type Params struct {
	Home    bool          // zero the encoder at the current position first
	Targets []float64     // degrees, visited in order
	Dwell   time.Duration // pause after each arrival
	Timeout time.Duration // per target, 0 = none
}

// Step runs one loop iteration.
func (r *Runner) Step() error {
	for i := 0; i < r.opts.SamplesPerStep; i++ {
		if err := r.sampler.Update(); err != nil {
			return fmt.Errorf("sample encoder: %w", err)
		}
	}
	return r.ctrl.Update()
}

// MoveTo sets a target and polls until the controller arrives. On
// cancellation, timeout or a loop error the controller is emergency
// stopped.
func (r *Runner) MoveTo(ctx context.Context, target float64, timeout time.Duration) error {
	r.ctrl.SetTargetAngle(target)
	debug.Live("Moving to %.3f° (from %.3f°)", r.ctrl.TargetAngle(), r.ctrl.CurrentAngle())

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		select {
		case <-ctx.Done():
			r.abort()
			return ctx.Err()
		default:
		}

		if err := r.Step(); err != nil {
			r.abort()
			return err
		}

		switch r.ctrl.State() {
		case motion.Arrived:
			return nil
		case motion.Error:
			return ErrEmergencyStop
		case motion.Idle:
			return errors.New("controller left MOVING without arriving")
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			r.abort()
			return fmt.Errorf("%w: target %.3f°, at %.3f° after %v", ErrTimeout, r.ctrl.TargetAngle(), r.ctrl.CurrentAngle(), timeout)
		}

		if r.report != nil {
			r.report.Do(func() {
				debug.Live("Position %.3f° target %.3f° (%d bursts)", r.ctrl.CurrentAngle(), r.ctrl.TargetAngle(), r.ctrl.Bursts())
			})
		}

		if r.opts.PollInterval > 0 {
			time.Sleep(r.opts.PollInterval)
		}
	}
}

// Run performs the sequence: optional homing, then every target in order.
func (r *Runner) Run(ctx context.Context, p Params) error {
	if p.Home {
		debug.Live("Homing: current position becomes 0°")
		if err := r.ctrl.Homing(); err != nil {
			return fmt.Errorf("homing: %w", err)
		}
	}

	for i, target := range p.Targets {
		debug.Verbose("Target %d/%d: %.3f°", i+1, len(p.Targets), target)
		if err := r.MoveTo(ctx, target, p.Timeout); err != nil {
			return fmt.Errorf("target %d (%.3f°): %w", i+1, target, err)
		}

		if p.Dwell > 0 && i < len(p.Targets)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Dwell):
			}
		}
	}
	return nil
}

func (r *Runner) abort() {
	if err := r.ctrl.EmergencyStop(); err != nil {
		debug.Error(fmt.Errorf("emergency stop: %w", err))
	}
}
