package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/servoctl/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up resistor enabled
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input-pullup"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// Loopback wires the pulse outputs of a MockDriver back into simulated
// quadrature encoder lines: every falling edge on Forward advances the
// encoder by one count, every falling edge on Reverse moves it back one.
type Loopback struct {
	Forward int
	Reverse int
	PhaseA  int
	PhaseB  int
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test), looped back
// when lb is non-nil.
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool, lb *Loopback) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(lb), nil
	}
	return NewRPiRealDriver()
}

// quadrature phases in forward order, A in the high bit.
var phaseSeq = [4]uint8{0b00, 0b01, 0b11, 0b10}

// MockDriver is a development implementation that keeps pin levels in
// memory and, with a Loopback, simulates an encoder coupled to the
// pulse outputs.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	modes  map[int]PinMode
	lb     *Loopback
	phase  int // index into phaseSeq
	steps  int64
}

// NewMockDriver returns an in-memory driver. lb may be nil.
func NewMockDriver(lb *Loopback) *MockDriver {
	m := &MockDriver{
		levels: make(map[int]Level),
		modes:  make(map[int]PinMode),
		lb:     lb,
	}
	if lb != nil {
		m.applyPhase()
	}
	return m
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	if _, ok := m.levels[pin]; !ok && mode == InputPullUp {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.levels[pin]
	m.levels[pin] = level

	if m.lb != nil && prev == High && level == Low {
		switch pin {
		case m.lb.Forward:
			m.advance(1)
		case m.lb.Reverse:
			m.advance(-1)
		}
	}
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.levels[pin]
	debug.GPIO("ReadPin", pin, l)
	return l, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

// Level returns the last level written to (or simulated on) pin.
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// Steps returns the net number of simulated encoder steps.
func (m *MockDriver) Steps() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps
}

func (m *MockDriver) advance(delta int) {
	m.phase = (m.phase + delta + len(phaseSeq)) % len(phaseSeq)
	m.steps += int64(delta)
	m.applyPhase()
}

func (m *MockDriver) applyPhase() {
	p := phaseSeq[m.phase]
	m.levels[m.lb.PhaseA] = p&0b10 != 0
	m.levels[m.lb.PhaseB] = p&0b01 != 0
}
