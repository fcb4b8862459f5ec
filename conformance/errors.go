// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"fmt"

	"github.com/ossrs/go-oryx-lib/errors"
)

// ConfigurationError is a fatal error of configuration, like the missing endpoint,
// which aborts the run before any case.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (v *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid config %v, %v", v.Key, v.Reason)
}

// IsConfigurationError whether the root cause of err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigurationError)
	return ok
}

// ProtocolAssertionError is a response which diverges from the protocol, it fails
// the case with the expected and actual value.
type ProtocolAssertionError struct {
	Scope  Scope
	Method string
	// The asserted field, like "status" or a header name.
	Field    string
	Expected string
	Actual   string
}

func (v *ProtocolAssertionError) Error() string {
	return fmt.Sprintf("%v %v: %v expect %v, actual %v", v.Scope, v.Method, v.Field, v.Expected, v.Actual)
}

// IsProtocolAssertionError whether the root cause of err is a ProtocolAssertionError.
func IsProtocolAssertionError(err error) bool {
	_, ok := errors.Cause(err).(*ProtocolAssertionError)
	return ok
}

// UnsupportedFeature is an optional feature the resource does not implement, which
// is a valid outcome rather than a failure.
type UnsupportedFeature struct {
	Feature string
	Status  int
}

func (v *UnsupportedFeature) Error() string {
	return fmt.Sprintf("%v not supported, status=%v", v.Feature, v.Status)
}

// IsUnsupportedFeature whether the root cause of err is an UnsupportedFeature.
func IsUnsupportedFeature(err error) bool {
	_, ok := errors.Cause(err).(*UnsupportedFeature)
	return ok
}
