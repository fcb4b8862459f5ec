// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

func installSignals(ctx context.Context, cancel context.CancelFunc) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	go func() {
		for s := range sc {
			logger.Tf(ctx, "Got signal %v, skip the left cases", s)
			cancel()
		}
	}()
}

// Force to exit when the running cases are blocked after cancelled.
func installForceQuit(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return errors.Errorf("invalid force quit timeout %v", timeout)
	}

	go func() {
		<-ctx.Done()
		time.Sleep(timeout)
		logger.Wf(ctx, "Force to exit by timeout %v", timeout)
		os.Exit(1)
	}()
	return nil
}
