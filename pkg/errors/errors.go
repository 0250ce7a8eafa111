// Unified error handling for the logic sniffer client
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import "fmt"

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"
	ErrConfigSignal     ErrorCode = "CONFIG_SIGNAL"

	// Trigger specification errors
	ErrTriggerParse ErrorCode = "TRIGGER_PARSE"

	// Trigger compilation problems
	ErrStageExhausted       ErrorCode = "TRIGGER_STAGE_EXHAUSTED"
	ErrDelayOverflow        ErrorCode = "TRIGGER_DELAY_OVERFLOW"
	ErrSerialWindowOverflow ErrorCode = "TRIGGER_SERIAL_WINDOW"
	ErrTimingPrecision      ErrorCode = "TRIGGER_TIMING_PRECISION"

	// Device errors
	ErrDevice         ErrorCode = "DEVICE"
	ErrDeviceIO       ErrorCode = "DEVICE_IO"
	ErrDeviceIdentify ErrorCode = "DEVICE_IDENTIFY"
	ErrDeviceSetup    ErrorCode = "DEVICE_SETUP"

	// Capture errors
	ErrCapture       ErrorCode = "CAPTURE"
	ErrCaptureOutput ErrorCode = "CAPTURE_OUTPUT"
)

// HostError is the unified error type for the client
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Line and Column locate the problem in a trigger specification
	Line   int
	Column int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("[%s] %d:%d: %s", e.Code, e.Line, e.Column, e.Message)
	case e.Option != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the problem prevents the result from being used.
// Timing precision problems are warnings only.
func (e *HostError) Fatal() bool {
	return e.Code != ErrTimingPrecision
}

// SetPosition sets the location in the trigger specification
func (e *HostError) SetPosition(line, column int) *HostError {
	e.Line = line
	e.Column = column
	return e
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Config errors

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// SignalError creates an error for an invalid signal definition
func SignalError(definition string, err error) *HostError {
	return Wrap(err, ErrConfigSignal, fmt.Sprintf("invalid signal definition '%s': %v", definition, err))
}

// Trigger errors

// TriggerParseError creates an error for a malformed trigger specification
func TriggerParseError(line, column int, reason string) *HostError {
	return New(ErrTriggerParse, reason).SetPosition(line, column)
}

// StageExhaustedError reports that more hardware stages were requested
// than are available
func StageExhaustedError(what string) *HostError {
	return New(ErrStageExhausted, fmt.Sprintf("%s requires more than the available number of hardware triggers", what))
}

// DelayOverflowError reports a delay beyond the 16-bit delay register
func DelayOverflowError(requested string, samples int64) *HostError {
	return New(ErrDelayOverflow, fmt.Sprintf("delay of %s (%d samples) exceeds hardware capabilities", requested, samples)).
		SetContext("samples", samples)
}

// SerialWindowError reports a serial pattern longer than the comparison window
func SerialWindowError(signal string, samples int) *HostError {
	return New(ErrSerialWindowOverflow, fmt.Sprintf("pattern sequence for signal %s extends for %d samples, more than 32", signal, samples)).
		SetContext("samples", samples)
}

// TimingPrecisionWarning reports a delay that cannot be represented within 10%
func TimingPrecisionWarning(seconds float64, samples int64) *HostError {
	return New(ErrTimingPrecision, fmt.Sprintf("time delay of %es, when converted to %d samples, differs from the desired delay by more than 10%%", seconds, samples)).
		SetContext("samples", samples)
}

// Device errors

// DeviceIOError wraps a transport failure during a device operation
func DeviceIOError(operation string, err error) *HostError {
	return Wrap(err, ErrDeviceIO, fmt.Sprintf("%s failed: %v", operation, err))
}

// DeviceIdentifyError reports an unexpected identification reply
func DeviceIdentifyError(got uint32) *HostError {
	return New(ErrDeviceIdentify, fmt.Sprintf("ident failed, device returned 0x%x", got))
}

// DeviceSetupError reports a configuration the device cannot run
func DeviceSetupError(reason string) *HostError {
	return New(ErrDeviceSetup, reason)
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if hostErr, ok := err.(*HostError); ok && hostErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation) ||
		Is(err, ErrConfigType) ||
		Is(err, ErrConfigSignal)
}

// IsCompile checks if error is a trigger compilation problem
func IsCompile(err error) bool {
	return Is(err, ErrStageExhausted) ||
		Is(err, ErrDelayOverflow) ||
		Is(err, ErrSerialWindowOverflow) ||
		Is(err, ErrTimingPrecision)
}

// IsDevice checks if error is a device error
func IsDevice(err error) bool {
	return Is(err, ErrDevice) ||
		Is(err, ErrDeviceIO) ||
		Is(err, ErrDeviceIdentify) ||
		Is(err, ErrDeviceSetup)
}
