package sequence

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/servoctl/internal/hw/encoder"
	"github.com/cjeanneret/servoctl/internal/hw/gpio"
	"github.com/cjeanneret/servoctl/internal/hw/pulse"
	"github.com/cjeanneret/servoctl/internal/logic/motion"
)

const (
	pinA   = 5
	pinB   = 6
	fwdPin = 20
	revPin = 21
)

// autoClock advances one microsecond per read.
type autoClock struct{ now uint32 }

func (c *autoClock) Micros() uint32 {
	c.now++
	return c.now
}

type rig struct {
	drv    *gpio.MockDriver
	dec    *encoder.Decoder
	ctrl   *motion.Controller
	runner *Runner
}

// newRig wires the real decoder, generator and controller over a mock
// driver. With loopback false the encoder never moves.
func newRig(t *testing.T, loopback bool) *rig {
	t.Helper()
	var lb *gpio.Loopback
	if loopback {
		lb = &gpio.Loopback{Forward: fwdPin, Reverse: revPin, PhaseA: pinA, PhaseB: pinB}
	}
	drv := gpio.NewMockDriver(lb)

	dec, err := encoder.New(drv, encoder.Config{PinA: pinA, PinB: pinB, PPR: 12000})
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}
	gen, err := pulse.New(drv, &autoClock{}, pulse.Config{ForwardPin: fwdPin, ReversePin: revPin})
	if err != nil {
		t.Fatalf("pulse.New: %v", err)
	}
	ctrl := motion.NewController(gen, dec, motion.Config{})
	return &rig{
		drv:    drv,
		dec:    dec,
		ctrl:   ctrl,
		runner: NewRunner(dec, ctrl, Options{SamplesPerStep: 2, ReportInterval: time.Millisecond}),
	}
}

func TestRun_VisitsTargetsInOrder(t *testing.T) {
	r := newRig(t, true)

	err := r.runner.Run(context.Background(), Params{
		Targets: []float64{15, -20, 60},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.ctrl.State() != motion.Arrived {
		t.Errorf("state = %v, want ARRIVED", r.ctrl.State())
	}
	// 60° is clamped to 45°
	if math.Abs(r.ctrl.CurrentAngle()-45) >= 0.5 {
		t.Errorf("final angle = %v, want 45 ± 0.5", r.ctrl.CurrentAngle())
	}
	if r.drv.Level(fwdPin) != gpio.Low || r.drv.Level(revPin) != gpio.Low {
		t.Error("pulse outputs should be LOW after the sequence")
	}
}

func TestRun_HomeDefinesZero(t *testing.T) {
	r := newRig(t, true)
	if err := r.runner.MoveTo(context.Background(), 10, 0); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	raw := r.dec.RawCount()

	if err := r.runner.Run(context.Background(), Params{Home: true, Targets: []float64{5}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.dec.Offset() != raw {
		t.Errorf("offset = %d, want the raw count %d at homing", r.dec.Offset(), raw)
	}
	// 5° past the homed position is ~15° of raw travel
	if got := r.dec.CountToAngle(r.dec.RawCount()); math.Abs(got-15) >= 1 {
		t.Errorf("raw angle = %v, want about 15", got)
	}
}

func TestMoveTo_CancelledContext(t *testing.T) {
	r := newRig(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.runner.MoveTo(ctx, 30, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if r.ctrl.State() != motion.Error {
		t.Errorf("state = %v, want ERROR after cancellation", r.ctrl.State())
	}
}

func TestMoveTo_TimeoutWhenEncoderStalls(t *testing.T) {
	r := newRig(t, false)

	err := r.runner.MoveTo(context.Background(), 20, 200*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if r.ctrl.State() != motion.Error {
		t.Errorf("state = %v, want ERROR after timeout", r.ctrl.State())
	}
	if r.ctrl.Bursts() < 2 {
		t.Errorf("bursts = %d, a stalled axis should keep re-issuing bursts", r.ctrl.Bursts())
	}
	if r.drv.Level(fwdPin) != gpio.Low {
		t.Error("forward line should be LOW after the timeout stop")
	}
}

func TestMoveTo_EmergencyStopDuringMove(t *testing.T) {
	r := newRig(t, true)
	r.runner = NewRunner(&stopAfter{Sampler: r.dec, n: 50, ctrl: r.ctrl}, r.ctrl, Options{})

	err := r.runner.MoveTo(context.Background(), 30, 0)
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("err = %v, want ErrEmergencyStop", err)
	}
}

func TestMoveTo_SamplerError(t *testing.T) {
	r := newRig(t, true)
	boom := errors.New("encoder unplugged")
	r.runner = NewRunner(failingSampler{boom}, r.ctrl, Options{})

	err := r.runner.MoveTo(context.Background(), 10, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if r.ctrl.State() != motion.Error {
		t.Errorf("state = %v, want ERROR", r.ctrl.State())
	}
}

func TestRun_CancelDuringDwell(t *testing.T) {
	r := newRig(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.runner.Run(ctx, Params{Targets: []float64{1, 2}, Dwell: time.Hour})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewRunner_MinimumOneSample(t *testing.T) {
	r := newRig(t, true)
	s := &countingSampler{}
	runner := NewRunner(s, r.ctrl, Options{SamplesPerStep: 0})

	if err := runner.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if s.n != 1 {
		t.Errorf("samples per step = %d, want 1", s.n)
	}
}

type failingSampler struct{ err error }

func (f failingSampler) Update() error { return f.err }

type countingSampler struct{ n int }

func (c *countingSampler) Update() error {
	c.n++
	return nil
}

// stopAfter triggers an emergency stop after n samples.
type stopAfter struct {
	Sampler
	n    int
	ctrl *motion.Controller
}

func (s *stopAfter) Update() error {
	s.n--
	if s.n == 0 {
		_ = s.ctrl.EmergencyStop()
	}
	return s.Sampler.Update()
}
