// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"context"
	"fmt"

	"github.com/ossrs/go-oryx-lib/errors"
)

// NegotiationError means the transport engine could not produce or accept an
// offer or answer, or a candidate never showed up. It fails the enclosing case.
type NegotiationError struct {
	// The negotiation step, like "create offer" or "wait candidate".
	Step string
	err  error
}

func newNegotiationError(err error, step string) error {
	return &NegotiationError{Step: step, err: err}
}

func (v *NegotiationError) Error() string {
	if v.err == nil {
		return fmt.Sprintf("negotiation failed at %v", v.Step)
	}
	return fmt.Sprintf("negotiation failed at %v, %v", v.Step, v.err)
}

func (v *NegotiationError) Unwrap() error {
	return v.err
}

// IsNegotiationError whether the root cause of err is a NegotiationError.
func IsNegotiationError(err error) bool {
	_, ok := errors.Cause(err).(*NegotiationError)
	return ok
}

// FilterContextError drops nil and context.Canceled errors, and returns the first
// remaining one wrapped with the descriptions of the others.
func FilterContextError(errs ...error) error {
	var filteredErrors []error

	for _, err := range errs {
		if err == nil || errors.Cause(err) == context.Canceled {
			continue
		}
		filteredErrors = append(filteredErrors, err)
	}

	if len(filteredErrors) == 0 {
		return nil
	}
	if len(filteredErrors) == 1 {
		return filteredErrors[0]
	}

	var descs []string
	for i, err := range filteredErrors[1:] {
		descs = append(descs, fmt.Sprintf("err #%d, %+v", i, err))
	}
	return errors.Wrapf(filteredErrors[0], "with %v", descs)
}
