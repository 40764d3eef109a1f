// Unified error handling for the quadruped host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Servo bus errors
	ErrBusOpen     ErrorCode = "BUS_OPEN"
	ErrBusIO       ErrorCode = "BUS_IO"
	ErrBusProtocol ErrorCode = "BUS_PROTOCOL"

	// Kinematics errors
	ErrIKUnreachable ErrorCode = "IK_UNREACHABLE"
	ErrIKConfig      ErrorCode = "IK_CONFIG"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or component context
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
	if e.Option != "" {
		return fmt.Sprintf("[%s] option '%s' in section '%s': %s",
			e.Code, e.Option, e.Section, e.Message)
	}
	if e.Section != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
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

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ConfigParseError creates an error for an unparsable config file
func ConfigParseError(path string, err error) *HostError {
	return Wrap(err, ErrConfigParse, fmt.Sprintf("could not parse config file '%s'", path))
}

// ConfigOptionError creates an error for a missing or invalid config option
func ConfigOptionError(section, option, reason string) *HostError {
	return New(ErrConfigOption, reason).SetSection(section).SetOption(option)
}

// ConfigValidationError creates an error for a config validation failure
func ConfigValidationError(section, reason string) *HostError {
	return New(ErrConfigValidation, reason).SetSection(section)
}

// BusOpenError creates an error for a failed bus open
func BusOpenError(device string, err error) *HostError {
	return Wrap(err, ErrBusOpen, fmt.Sprintf("could not open servo bus '%s'", device)).
		SetContext("device", device)
}

// BusIOError creates an error for a failed bus transaction
func BusIOError(operation string, err error) *HostError {
	return Wrap(err, ErrBusIO, fmt.Sprintf("bus %s failed", operation))
}

// BusProtocolError creates an error for a malformed frame
func BusProtocolError(reason string) *HostError {
	return New(ErrBusProtocol, reason)
}

// IKConfigError creates an error for invalid kinematics geometry
func IKConfigError(reason string) *HostError {
	return New(ErrIKConfig, reason)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeInitError creates an error for component initialization failure
func RuntimeInitError(component, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		SetSection(component)
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *HostError {
	if r := recover(); r != nil {
		switch x := r.(type) {
		case string:
			return RuntimeError(fmt.Sprintf("panic: %s", x))
		case runtime.Error:
			return RuntimeError(x.Error())
		case error:
			return RuntimeError(x.Error())
		default:
			return RuntimeError(fmt.Sprintf("panic: %v", x))
		}
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigParse) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsBus checks if error is a servo bus error
func IsBus(err error) bool {
	return Is(err, ErrBusOpen) ||
		Is(err, ErrBusIO) ||
		Is(err, ErrBusProtocol)
}
