// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"

	"github.com/ossrs/go-oryx-lib/logger"
)

func handleGoPprof(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	go func() {
		logger.Tf(ctx, "Start Go pprof at %v", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Wf(ctx, "Ignore pprof err %+v", err)
		}
	}()
}
