// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/spf13/pflag"

	"github.com/wish-wg/resources/conformance"
	"github.com/wish-wg/resources/whip"
)

func main() {
	ctx := logger.WithContext(context.Background())
	logger.Tf(ctx, "%v/%v started", Signature(), Version())

	ctx, cancel := context.WithCancel(ctx)
	installSignals(ctx, cancel)

	// Exit non-zero for invalid config, or any case not passed.
	report, err := doMain(ctx)
	if err != nil {
		if conformance.IsConfigurationError(err) {
			logger.Ef(ctx, "main: %v", err)
			os.Exit(2)
		}
		logger.Ef(ctx, "main: %+v", err)
		os.Exit(-1)
	}

	if !report.OK() {
		logger.Wf(ctx, "%v failed, %v", Signature(), report)
		os.Exit(1)
	}

	logger.Tf(ctx, "%v done, %v", Signature(), report)
}

func doMain(ctx context.Context) (*conformance.Report, error) {
	if err := conformance.LoadEnvFile(ctx); err != nil {
		return nil, err
	}
	conformance.SetupDefaultEnv(ctx)

	cfg, err := conformance.NewConfigFromEnv()
	if err != nil {
		return nil, err
	}

	fl := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	cfg.RegisterFlags(fl)
	fl.Usage = func() {
		fmt.Printf("Usage: %v [Options]\n", os.Args[0])
		fmt.Printf("Options:\n%v", fl.FlagUsages())
		fmt.Printf("Cases:\n")
		for _, c := range conformance.Cases() {
			fmt.Printf("   %-20v %v\n", c.Name, c.Description)
		}
		fmt.Printf("\nFor example:\n")
		fmt.Printf("   %v -e http://localhost:1985/rtc/v1/whip/?app=live&stream=livestream\n", os.Args[0])
		fmt.Printf("   %v -e http://localhost:1985/rtc/v1/whip/ -c 'resource-*' --audio avatar.ogg --video avatar.h264 --fps 25\n", os.Args[0])
		fmt.Println()
	}
	_ = fl.Parse(os.Args[1:])

	whip.SetEngineVerbose(cfg.Verbose)
	// The info logs are discarded by default, such as the SDP.
	if cfg.Verbose {
		logger.Info = logger.NewLoggerPlus(log.New(os.Stdout, "[info] ", log.Ldate|log.Ltime|log.Lmicroseconds))
	}

	if err := installForceQuit(ctx, cfg.ForceQuitTimeout); err != nil {
		return nil, err
	}

	handleGoPprof(ctx, cfg.GoPprof)

	driver := conformance.NewDriver(cfg)

	if cfg.StatListen != "" {
		go func() {
			if err := conformance.RunStatServer(ctx, cfg.StatListen, driver); err != nil {
				logger.Wf(ctx, "Ignore stat server err %+v", err)
			}
		}()
	}

	report, err := driver.Run(ctx)
	if err != nil {
		return nil, err
	}

	for _, r := range report.Results {
		logger.Tf(ctx, "Case %v", r)
	}

	if cfg.Report != "" {
		if err := report.WriteFile(cfg.Report); err != nil {
			return nil, errors.Wrapf(err, "report")
		}
		logger.Tf(ctx, "Write report to %v", cfg.Report)
	}

	return report, nil
}
