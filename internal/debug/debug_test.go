package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

type name string

func (n name) String() string { return string(n) }

func withOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
		SetOutput(os.Stdout)
	})
	return &buf
}

func TestInit_OffProducesNothing(t *testing.T) {
	buf := withOutput(t, LevelOff)

	Info("hello %d", 1)
	Live("live")
	Error(errors.New("boom"))

	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestLevels_Filtering(t *testing.T) {
	cases := []struct {
		name  string
		level int
		log   func()
		want  string
	}{
		{"info_at_info", LevelInfo, func() { Info("target %d", 10) }, "[INFO] target 10"},
		{"live_at_live", LevelLive, func() { Burst(12, "forward", 1.5) }, "Burst: 12 pulses (forward)"},
		{"verbose_at_verbose", LevelVerbose, func() { Transition("controller", name("IDLE"), name("MOVING")) }, "controller: IDLE -> MOVING"},
		{"trace_at_trace", LevelTrace, func() { GPIO("WritePin", 17, true) }, "[GPIO] WritePin pin=17 value=true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := withOutput(t, tc.level)
			tc.log()
			if !strings.Contains(buf.String(), tc.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tc.want)
			}
		})
	}
}

func TestLevels_BelowThresholdSuppressed(t *testing.T) {
	buf := withOutput(t, LevelInfo)

	Live("live")
	Verbose("verbose")
	Trace("trace")
	GPIO("ReadPin", 5, nil)

	if buf.Len() != 0 {
		t.Errorf("expected lower-priority messages suppressed, got %q", buf.String())
	}
}

func TestIsEnabled(t *testing.T) {
	withOutput(t, LevelLive)
	if !IsEnabled(LevelInfo) || !IsEnabled(LevelLive) {
		t.Error("info and live should be enabled at level 2")
	}
	if IsEnabled(LevelVerbose) {
		t.Error("verbose should be disabled at level 2")
	}
	if Level() != LevelLive {
		t.Errorf("Level() = %d, want %d", Level(), LevelLive)
	}
}
