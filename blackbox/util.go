// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT

//go:build blackbox

package blackbox

import (
	"flag"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"

	"github.com/wish-wg/resources/conformance"
	"github.com/wish-wg/resources/whip"
)

var whipLog *bool
var whipEndpoint *string
var whipToken *string
var whipCases *string
var whipTimeout *int
var whipCandidateTimeout *int

func prepareTest() (err error) {
	whipLog = flag.Bool("whip-log", false, "Whether enable the detail log")
	whipEndpoint = flag.String("whip-endpoint", os.Getenv("WHIP_ENDPOINT"), "The WHIP endpoint, default to WHIP_ENDPOINT")
	whipToken = flag.String("whip-token", os.Getenv("WHIP_TOKEN"), "The bearer token, default to WHIP_TOKEN")
	whipCases = flag.String("whip-case", "", "The cases to run, separated by comma, like resource-*")
	whipTimeout = flag.Int("whip-timeout", 10000, "For each case, the timeout in ms")
	whipCandidateTimeout = flag.Int("whip-candidate-timeout", 5000, "For each case, the timeout to wait for candidate in ms")

	// Parse user options.
	flag.Parse()

	if *whipEndpoint == "" {
		return &conformance.ConfigurationError{Key: "WHIP_ENDPOINT", Reason: "missing endpoint, use -whip-endpoint or env"}
	}

	return nil
}

// The config of driver from flags.
func newTestConfig() *conformance.Config {
	cfg := &conformance.Config{
		Endpoint:         *whipEndpoint,
		Token:            *whipToken,
		CaseTimeout:      time.Duration(*whipTimeout) * time.Millisecond,
		CandidateTimeout: time.Duration(*whipCandidateTimeout) * time.Millisecond,
		Parallel:         1,
		FPS:              25,
	}

	if *whipCases != "" {
		cfg.Cases = strings.Split(*whipCases, ",")
	}
	return cfg
}

// Filter the errors, ignore the context cancel, and unwrap the url error, for
// the server maybe down, no need for the detail stack.
func filterTestError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if r0, ok := errors.Cause(err).(*url.Error); ok {
			err = r0
		}
		filtered = append(filtered, err)
	}
	return whip.FilterContextError(filtered...)
}
