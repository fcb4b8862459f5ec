// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"context"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/spf13/pflag"

	"github.com/wish-wg/resources/whip"
)

// Config of a conformance run, loaded from env and overwritten by flags.
type Config struct {
	// The WHIP endpoint to test, required.
	Endpoint string
	// The bearer token for the endpoint, optional.
	Token string
	// The cases to run, all cases if empty.
	Cases []string
	// The timeout of each case.
	CaseTimeout time.Duration
	// The timeout to wait for the first local candidate.
	CandidateTimeout time.Duration
	// The number of cases to run concurrently.
	Parallel int
	// The listen address of stat API, disabled if empty.
	StatListen string
	// The path to write JSON report, disabled if empty.
	Report string
	// The disk sources, silence if empty.
	AudioFile string
	VideoFile string
	FPS       int
	Verbose   bool
	// The timeout to force exit after cancelled.
	ForceQuitTimeout time.Duration
	// The listen address of Go pprof, disabled if empty.
	GoPprof string

	// For tests to bind sessions to a virtual network.
	SessionOptions []whip.SessionOptionFunc
	// For tests to observe the requests.
	ClientOptions []whip.ClientOptionFunc
}

// LoadEnvFile loads the environment variables from file. Note that we only use .env file.
func LoadEnvFile(ctx context.Context) error {
	if workDir, err := os.Getwd(); err != nil {
		return errors.Wrapf(err, "getpwd")
	} else {
		envFile := path.Join(workDir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Overload(envFile); err != nil {
				return errors.Wrapf(err, "load %v", envFile)
			}
			logger.Tf(ctx, "Load env from %v", envFile)
		}
	}

	return nil
}

// SetupDefaultEnv sets the default values of optional env.
func SetupDefaultEnv(ctx context.Context) {
	// The timeout of each case.
	setEnvDefault("WHIP_CASE_TIMEOUT", "10s")
	// The timeout to wait for the first candidate.
	setEnvDefault("WHIP_CANDIDATE_TIMEOUT", "5s")
	// Force to exit if the cases are not done after cancelled.
	setEnvDefault("WHIP_FORCE_QUIT_TIMEOUT", "30s")

	logger.If(ctx, "load .env as WHIP_ENDPOINT=%v, WHIP_TOKEN=%vB, "+
		"WHIP_CASE_TIMEOUT=%v, WHIP_CANDIDATE_TIMEOUT=%v, WHIP_FORCE_QUIT_TIMEOUT=%v, "+
		"WHIP_STAT_LISTEN=%v, WHIP_REPORT=%v, GO_PPROF=%v",
		envEndpoint(), len(envToken()),
		envCaseTimeout(), envCandidateTimeout(), envForceQuitTimeout(), envStatListen(), envReport(), envGoPprof(),
	)
}

func envEndpoint() string {
	return os.Getenv("WHIP_ENDPOINT")
}

func envToken() string {
	return os.Getenv("WHIP_TOKEN")
}

func envCaseTimeout() string {
	return os.Getenv("WHIP_CASE_TIMEOUT")
}

func envCandidateTimeout() string {
	return os.Getenv("WHIP_CANDIDATE_TIMEOUT")
}

func envForceQuitTimeout() string {
	return os.Getenv("WHIP_FORCE_QUIT_TIMEOUT")
}

func envGoPprof() string {
	return os.Getenv("GO_PPROF")
}

func envStatListen() string {
	return os.Getenv("WHIP_STAT_LISTEN")
}

func envReport() string {
	return os.Getenv("WHIP_REPORT")
}

func setEnvDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}

// NewConfigFromEnv builds the config from env, call SetupDefaultEnv first.
func NewConfigFromEnv() (*Config, error) {
	v := &Config{
		Endpoint: envEndpoint(), Token: envToken(),
		StatListen: envStatListen(), Report: envReport(), GoPprof: envGoPprof(),
		Parallel: 1, FPS: 25,
	}

	var err error
	if v.CaseTimeout, err = time.ParseDuration(envCaseTimeout()); err != nil {
		return nil, &ConfigurationError{Key: "WHIP_CASE_TIMEOUT", Reason: err.Error()}
	}
	if v.CandidateTimeout, err = time.ParseDuration(envCandidateTimeout()); err != nil {
		return nil, &ConfigurationError{Key: "WHIP_CANDIDATE_TIMEOUT", Reason: err.Error()}
	}
	if t := envForceQuitTimeout(); t != "" {
		if v.ForceQuitTimeout, err = time.ParseDuration(t); err != nil {
			return nil, &ConfigurationError{Key: "WHIP_FORCE_QUIT_TIMEOUT", Reason: err.Error()}
		}
	}

	return v, nil
}

// RegisterFlags binds the flags to config, the current values are the defaults.
func (v *Config) RegisterFlags(fl *pflag.FlagSet) {
	fl.StringVarP(&v.Endpoint, "endpoint", "e", v.Endpoint, "The WHIP endpoint URL, overwrites WHIP_ENDPOINT")
	fl.StringVar(&v.Token, "token", v.Token, "The bearer token of endpoint, overwrites WHIP_TOKEN")
	fl.StringSliceVarP(&v.Cases, "case", "c", v.Cases, "The cases to run, like endpoint-post or resource-*, all if empty")
	fl.DurationVarP(&v.CaseTimeout, "timeout", "t", v.CaseTimeout, "The timeout of each case")
	fl.DurationVar(&v.CandidateTimeout, "candidate-timeout", v.CandidateTimeout, "The timeout to wait for the first candidate")
	fl.IntVarP(&v.Parallel, "parallel", "p", v.Parallel, "The number of cases to run concurrently")
	fl.StringVar(&v.StatListen, "stat", v.StatListen, "The stat API listen address, like :8080")
	fl.StringVar(&v.Report, "report", v.Report, "The file to write the JSON report")
	fl.StringVar(&v.AudioFile, "audio", v.AudioFile, "The .ogg file to publish, silence if empty")
	fl.StringVar(&v.VideoFile, "video", v.VideoFile, "The .h264 file to publish, nothing if empty")
	fl.IntVar(&v.FPS, "fps", v.FPS, "The fps of the .h264 file")
	fl.StringVar(&v.GoPprof, "pprof", v.GoPprof, "The Go pprof listen address, like localhost:6060, overwrites GO_PPROF")
	fl.BoolVarP(&v.Verbose, "verbose", "v", v.Verbose, "Whether output the verbose logs, like SDP")
}

// Validate the config, returns a ConfigurationError if invalid.
func (v *Config) Validate() error {
	if v.Endpoint == "" {
		return &ConfigurationError{Key: "WHIP_ENDPOINT", Reason: "missing endpoint"}
	}
	if u, err := url.Parse(v.Endpoint); err != nil {
		return &ConfigurationError{Key: "WHIP_ENDPOINT", Reason: err.Error()}
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Key: "WHIP_ENDPOINT", Reason: "scheme should be http or https, actual " + u.Scheme}
	}

	if v.CaseTimeout <= 0 {
		return &ConfigurationError{Key: "timeout", Reason: "should >0, actual " + v.CaseTimeout.String()}
	}
	if v.CandidateTimeout <= 0 {
		return &ConfigurationError{Key: "candidate-timeout", Reason: "should >0, actual " + v.CandidateTimeout.String()}
	}
	if v.Parallel <= 0 {
		return &ConfigurationError{Key: "parallel", Reason: "should >0"}
	}

	if v.AudioFile != "" && !strings.HasSuffix(v.AudioFile, ".ogg") {
		return &ConfigurationError{Key: "audio", Reason: "should be .ogg, actual " + v.AudioFile}
	}
	if v.VideoFile != "" && !strings.HasSuffix(v.VideoFile, ".h264") {
		return &ConfigurationError{Key: "video", Reason: "should be .h264, actual " + v.VideoFile}
	}
	if v.VideoFile != "" && v.FPS <= 0 {
		return &ConfigurationError{Key: "fps", Reason: "should >0 for video"}
	}

	if v.StatListen != "" && !strings.Contains(v.StatListen, ":") {
		v.StatListen = ":" + v.StatListen
	}

	for _, name := range v.Cases {
		if len(matchCases(name)) == 0 {
			return &ConfigurationError{Key: "case", Reason: "no case matches " + name}
		}
	}

	return nil
}

// The options for each session.
func (v *Config) sessionOptions() []whip.SessionOptionFunc {
	var sources []whip.MediaSourceOptionFunc
	if v.AudioFile != "" {
		sources = append(sources, whip.WithAudioFile(v.AudioFile))
	}
	if v.VideoFile != "" {
		sources = append(sources, whip.WithVideoFile(v.VideoFile, v.FPS))
	}

	options := []whip.SessionOptionFunc{whip.WithSource(sources...)}
	return append(options, v.SessionOptions...)
}
