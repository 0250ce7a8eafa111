// Unit tests for the error types
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestHostErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *HostError
		want string
	}{
		{"plain", New(ErrCapture, "no data"), "[CAPTURE] no data"},
		{"position", TriggerParseError(2, 7, "unexpected ')'"), "[TRIGGER_PARSE] 2:7: unexpected ')'"},
		{"option", ConfigValidationError("clock", "sample-rate", "too fast"),
			"[CONFIG_VALIDATION:sample-rate] option 'sample-rate' in section 'clock': too fast"},
		{"section", New(ErrConfigSection, "section not found").SetSection("device"),
			"[CONFIG_SECTION:device] section not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsWalksWrappedErrors(t *testing.T) {
	base := DeviceIOError("identify", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("capture: %w", base)

	if !Is(wrapped, ErrDeviceIO) {
		t.Error("Is should find the code through fmt wrapping")
	}
	if Is(wrapped, ErrDeviceSetup) {
		t.Error("Is matched the wrong code")
	}
	if !stderrors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("the cause should stay reachable")
	}
	if Is(nil, ErrDeviceIO) || Is(io.EOF, ErrDeviceIO) {
		t.Error("Is matched an unrelated error")
	}
}

func TestCategories(t *testing.T) {
	if !IsConfig(SignalError("x:99", io.EOF)) {
		t.Error("signal errors are config errors")
	}
	if !IsCompile(StageExhaustedError("pattern")) || !IsCompile(TimingPrecisionWarning(1e-6, 3)) {
		t.Error("stage and precision problems are compile problems")
	}
	if !IsDevice(DeviceIdentifyError(0x41424344)) || IsDevice(New(ErrCapture, "x")) {
		t.Error("device category mismatch")
	}
}

func TestFatal(t *testing.T) {
	if TimingPrecisionWarning(1e-6, 3).Fatal() {
		t.Error("precision problems are warnings")
	}
	for _, e := range []*HostError{
		StageExhaustedError("delay"),
		DelayOverflowError("1s", 100000000),
		SerialWindowError("sda", 40),
	} {
		if !e.Fatal() {
			t.Errorf("%v should be fatal", e)
		}
		if _, ok := e.Context["samples"]; !ok && e.Code != ErrStageExhausted {
			t.Errorf("%v should carry the sample count", e)
		}
	}
	if !strings.Contains(DeviceIdentifyError(0x41424344).Error(), "0x41424344") {
		t.Error("identify error should show the reply")
	}
}
