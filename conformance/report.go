// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ossrs/go-oryx-lib/errors"
	ohttp "github.com/ossrs/go-oryx-lib/http"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wish-wg/resources/whip"
)

// Result is the outcome of a case.
type Result string

const (
	ResultPassed Result = "passed"
	ResultFailed Result = "failed"
	// The resource does not implement the optional feature, which is not a failure.
	ResultUnsupported Result = "unsupported"
	// The run is cancelled before the case starts.
	ResultSkipped Result = "skipped"
)

type CaseResult struct {
	Name     string        `json:"name"`
	Result   Result        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	// The local candidates gathered by the session, if any.
	Candidates int `json:"candidates"`
	// The media counters of the session, if any.
	Sink *whip.SinkStat `json:"sink,omitempty"`
}

func (v *CaseResult) String() string {
	if v.Error != "" {
		return fmt.Sprintf("%v %v in %v, %v", v.Name, v.Result, v.Duration, v.Error)
	}
	return fmt.Sprintf("%v %v in %v", v.Name, v.Result, v.Duration)
}

// Report is the results of a run, which is updated while cases are running.
type Report struct {
	RunID    string        `json:"run_id"`
	Endpoint string        `json:"endpoint"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Results  []*CaseResult `json:"results"`

	lock sync.Mutex
}

func NewReport(endpoint string) *Report {
	return &Report{RunID: uuid.NewString(), Endpoint: endpoint, Started: time.Now()}
}

func (v *Report) add(r *CaseResult) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.Results = append(v.Results, r)
}

func (v *Report) done() {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.Duration = time.Since(v.Started)
}

// Count the results by outcome.
func (v *Report) Count() map[Result]int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.countLocked()
}

// OK whether no case failed or skipped.
func (v *Report) OK() bool {
	counts := v.Count()
	return counts[ResultFailed] == 0 && counts[ResultSkipped] == 0
}

// Result of the case by name, nil if not run.
func (v *Report) Result(name string) *CaseResult {
	v.lock.Lock()
	defer v.lock.Unlock()

	for _, r := range v.Results {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (v *Report) String() string {
	counts := v.Count()
	return fmt.Sprintf("run=%v, passed=%v, failed=%v, unsupported=%v, skipped=%v",
		v.RunID, counts[ResultPassed], counts[ResultFailed], counts[ResultUnsupported], counts[ResultSkipped])
}

func (v *Report) MarshalJSON() ([]byte, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	type report Report
	return json.Marshal(&struct {
		*report
		Summary map[Result]int `json:"summary"`
	}{
		report:  (*report)(v),
		Summary: v.countLocked(),
	})
}

func (v *Report) countLocked() map[Result]int {
	counts := make(map[Result]int)
	for _, r := range v.Results {
		counts[r.Result]++
	}
	return counts
}

// WriteFile writes the report as JSON.
func (v *Report) WriteFile(p string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal report")
	}

	if err := ioutil.WriteFile(p, b, 0644); err != nil {
		return errors.Wrapf(err, "write %v", p)
	}
	return nil
}

// NewStatHandler serves the live report, the cases and the Prometheus metrics.
func NewStatHandler(ctx context.Context, d *Driver) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer, statCORS)

	r.Get("/api/v1/whip/report", func(w http.ResponseWriter, r *http.Request) {
		ohttp.WriteData(ctx, w, r, d.Report())
	})
	r.Get("/api/v1/whip/cases", func(w http.ResponseWriter, r *http.Request) {
		var names []string
		for _, c := range Cases() {
			names = append(names, c.Name)
		}
		ohttp.WriteData(ctx, w, r, names)
	})
	r.Get("/api/v1/whip/cases/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if res := d.Report().Result(name); res != nil {
			ohttp.WriteData(ctx, w, r, res)
			return
		}
		http.NotFound(w, r)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Always allow CORS, for the stat API is read-only and without credentials.
func statCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RunStatServer serves the stat API on listen, until ctx is done.
func RunStatServer(ctx context.Context, listen string, d *Driver) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return errors.Wrapf(err, "stat listen %v", listen)
	}

	srv := &http.Server{
		Handler: NewStatHandler(ctx, d),
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logger.Tf(ctx, "Stat listen at %v, api=/api/v1/whip/report, metrics=/metrics", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrapf(err, "stat serve")
	}
	return nil
}
