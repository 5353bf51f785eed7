package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/servoctl/internal/config"
	"github.com/cjeanneret/servoctl/internal/debug"
	"github.com/cjeanneret/servoctl/internal/hw/clock"
	"github.com/cjeanneret/servoctl/internal/hw/encoder"
	"github.com/cjeanneret/servoctl/internal/hw/gpio"
	"github.com/cjeanneret/servoctl/internal/hw/pulse"
	"github.com/cjeanneret/servoctl/internal/logic/motion"
	"github.com/cjeanneret/servoctl/internal/logic/sequence"
)

func main() {
	// CLI flags
	targets := &targetsFlag{}
	flag.Var(targets, "target", "target angle in degrees; repeat or comma-separate for a sequence (e.g. -target 10,-10,0)")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	home := flag.Bool("home", false, "define the current position as 0° before moving")
	dwellMs := flag.Int("dwell_ms", -1, "override pause between targets in ms (-1 = config)")
	timeoutMs := flag.Int("timeout_ms", -1, "override per-target timeout in ms (0 = none, -1 = config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateTargets(targets.values); err != nil {
		log.Fatalf("invalid target: %v", err)
	}
	applyOverrides(cfg, *dwellMs, *timeoutMs)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO, &gpio.Loopback{
		Forward: cfg.Pulse.ForwardPin,
		Reverse: cfg.Pulse.ReversePin,
		PhaseA:  cfg.Encoder.PinA,
		PhaseB:  cfg.Encoder.PinB,
	})
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	if err := run(ctx, cfg, gpioDriver, clock.NewSystem(), sequence.Params{
		Home:    *home,
		Targets: targets.values,
		Dwell:   cfg.Dwell(),
		Timeout: cfg.MoveTimeout(),
	}); err != nil {
		debug.Error(err)
		log.Printf("sequence failed: %v", err)
		// os.Exit skips deferred calls
		cancel()
		_ = gpioDriver.Close()
		os.Exit(1)
	}
}

// run builds the decoder, generator and controller on g and executes the
// sequence.
func run(ctx context.Context, cfg *config.Config, g gpio.Driver, clk clock.Clock, p sequence.Params) error {
	debug.Step(2, "Initializing encoder")
	dec, err := encoder.New(g, encoder.Config{
		PinA: cfg.Encoder.PinA,
		PinB: cfg.Encoder.PinB,
		PPR:  cfg.Encoder.PPR,
	})
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}
	debug.PrintStruct("Encoder config", cfg.Encoder)

	debug.Step(3, "Initializing pulse generator")
	gen, err := pulse.New(g, clk, pulse.Config{
		ForwardPin: cfg.Pulse.ForwardPin,
		ReversePin: cfg.Pulse.ReversePin,
		EnablePin:  cfg.Pulse.EnablePin,
	})
	if err != nil {
		return fmt.Errorf("init pulse generator: %w", err)
	}
	debug.PrintStruct("Pulse config", cfg.Pulse)
	defer func() {
		if err := gen.Stop(); err != nil {
			debug.Error(fmt.Errorf("stop pulse generator: %w", err))
		}
		_ = gen.Disable()
	}()

	debug.Step(4, "Creating position controller")
	ctrl := motion.NewController(gen, dec, motion.Config{
		MaxAngle:    cfg.Control.MaxSteeringAngleDeg,
		Tolerance:   cfg.Control.AngleToleranceDeg,
		PulseFreqHz: cfg.Control.PulseFreqHz,
		MinBurst:    cfg.Control.MinBurst,
		MaxBurst:    cfg.Control.MaxBurst,
	})
	debug.PrintStruct("Control config", ctrl.Config())

	runner := sequence.NewRunner(dec, ctrl, sequence.Options{
		SamplesPerStep: cfg.Runner.SamplesPerStep,
		PollInterval:   cfg.PollInterval(),
		ReportInterval: cfg.ReportInterval(),
	})

	debug.Summary("Steering Sequence")
	debug.Info("Targets: %v (home=%v, dwell=%v, timeout=%v)", p.Targets, p.Home, p.Dwell, p.Timeout)

	start := time.Now()
	if err := runner.Run(ctx, p); err != nil {
		return err
	}

	debug.Info("Sequence complete in %v, final angle %.3f°", time.Since(start).Round(time.Millisecond), ctrl.CurrentAngle())
	return nil
}

// validateTargets rejects non-finite angles. Finite out-of-range angles
// are accepted; the controller clamps them.
func validateTargets(targets []float64) error {
	for _, t := range targets {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("target angle must be finite, got %g", t)
		}
	}
	return nil
}

// applyOverrides mutates cfg with CLI overrides. Negative values mean "use config".
func applyOverrides(cfg *config.Config, dwellMs, timeoutMs int) {
	if dwellMs >= 0 {
		cfg.Runner.DwellMs = dwellMs
	}
	if timeoutMs >= 0 {
		cfg.Runner.MoveTimeoutMs = timeoutMs
	}
}

// targetsFlag implements flag.Value for -target: each use appends one or
// more comma-separated angles.
type targetsFlag struct {
	values []float64
}

func (f *targetsFlag) String() string {
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (f *targetsFlag) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty angle in %q", s)
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return err
		}
		f.values = append(f.values, v)
	}
	return nil
}
