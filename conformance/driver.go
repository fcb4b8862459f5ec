// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"

	"github.com/wish-wg/resources/whip"
)

// The timeout to release a resource after the case is done.
const cleanupTimeout = 3 * time.Second

type caseFunc func(ctx context.Context, r *caseRun) error

// Case is a scenario against the endpoint, which builds its own session.
type Case struct {
	Name        string
	Description string
	run         caseFunc
}

var allCases []*Case

func init() {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPut} {
		allCases = append(allCases, &Case{
			Name:        "endpoint-405-" + method,
			Description: fmt.Sprintf("%v the endpoint is not allowed", method),
			run:         endpointNotAllowed(method),
		})
	}

	allCases = append(allCases, &Case{
		Name: "endpoint-options", Description: "OPTIONS the endpoint accepts SDP",
		run: endpointOptions,
	}, &Case{
		Name: "endpoint-post", Description: "POST an offer creates a resource",
		run: endpointPost,
	}, &Case{
		Name: "answer-recvonly", Description: "The answer only receives media",
		run: answerRecvonly,
	})

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut} {
		allCases = append(allCases, &Case{
			Name:        "resource-405-" + method,
			Description: fmt.Sprintf("%v the resource is not allowed", method),
			run:         resourceNotAllowed(method),
		})
	}

	allCases = append(allCases, &Case{
		Name: "resource-delete", Description: "DELETE the resource ends the session",
		run: resourceDelete,
	}, &Case{
		Name: "resource-trickle", Description: "PATCH a trickle fragment, or not supported",
		run: resourceTrickle,
	}, &Case{
		Name: "resource-restart", Description: "PATCH an ICE restart with fresh credentials, or not supported",
		run: resourceRestart,
	})
}

// Cases returns all cases in the order to run.
func Cases() []*Case {
	return append([]*Case(nil), allCases...)
}

// The cases whose name matches the pattern, like resource-* or endpoint-post.
func matchCases(pattern string) []*Case {
	var matched []*Case
	for _, c := range allCases {
		if ok, err := path.Match(pattern, c.Name); err == nil && ok {
			matched = append(matched, c)
		}
	}
	return matched
}

// Select the cases by patterns, in the order of all cases, all if no pattern.
func selectCases(patterns []string) []*Case {
	if len(patterns) == 0 {
		return Cases()
	}

	selected := make(map[string]bool)
	for _, pattern := range patterns {
		for _, c := range matchCases(pattern) {
			selected[c.Name] = true
		}
	}

	var cases []*Case
	for _, c := range allCases {
		if selected[c.Name] {
			cases = append(cases, c)
		}
	}
	return cases
}

// Driver runs the cases against a WHIP endpoint.
type Driver struct {
	cfg    *Config
	client *whip.Client
	report *Report
}

func NewDriver(cfg *Config) *Driver {
	options := []whip.ClientOptionFunc{whip.WithObserver(observeRequest)}
	if cfg.Token != "" {
		options = append(options, whip.WithToken(cfg.Token))
	}
	options = append(options, cfg.ClientOptions...)

	return &Driver{
		cfg:    cfg,
		client: whip.NewClient(options...),
		report: NewReport(cfg.Endpoint),
	}
}

// Report is the live report, which is updated during Run.
func (v *Driver) Report() *Report {
	return v.report
}

// Run validates the config then runs the selected cases. It returns a
// ConfigurationError before any case runs if the config is invalid. The cases
// not started when ctx is done are skipped.
func (v *Driver) Run(ctx context.Context) (*Report, error) {
	if err := v.cfg.Validate(); err != nil {
		return nil, err
	}

	cases := selectCases(v.cfg.Cases)
	logger.Tf(ctx, "Run %v cases against %v, parallel=%v, run=%v",
		len(cases), v.cfg.Endpoint, v.cfg.Parallel, v.report.RunID)

	var wg sync.WaitGroup
	defer wg.Wait()

	tokens := make(chan struct{}, v.cfg.Parallel)
	for _, c := range cases {
		select {
		case <-ctx.Done():
		case tokens <- struct{}{}:
		}

		if ctx.Err() != nil {
			r := &CaseResult{Name: c.Name, Result: ResultSkipped, Started: time.Now(), Error: ctx.Err().Error()}
			v.report.add(r)
			observeCase(r)
			continue
		}

		// Each case logs with its own cid, which is allocated before the goroutine.
		caseCtx := logger.WithContext(ctx)

		wg.Add(1)
		go func(ctx context.Context, c *Case) {
			defer wg.Done()
			defer func() { <-tokens }()

			r := v.runCase(ctx, c)
			v.report.add(r)
			observeCase(r)
		}(caseCtx, c)
	}

	wg.Wait()
	v.report.done()

	logger.Tf(ctx, "Run done, %v, cost=%v", v.report, v.report.Duration)
	return v.report, nil
}

func (v *Driver) runCase(ctx context.Context, c *Case) *CaseResult {
	ActiveCases.Inc()
	defer ActiveCases.Dec()

	r := &CaseResult{Name: c.Name, Started: time.Now()}
	logger.Tf(ctx, "Case %v start, %v", c.Name, c.Description)

	run := &caseRun{driver: v}
	err := func() error {
		caseCtx, cancel := context.WithTimeout(ctx, v.cfg.CaseTimeout)
		defer cancel()
		return c.run(caseCtx, run)
	}()

	run.close(ctx, r)
	r.Duration = time.Since(r.Started)

	if err == nil {
		r.Result = ResultPassed
		logger.Tf(ctx, "Case %v passed, cost=%v", c.Name, r.Duration)
	} else if IsUnsupportedFeature(err) {
		r.Result, r.Error = ResultUnsupported, err.Error()
		logger.Tf(ctx, "Case %v unsupported, %v", c.Name, err)
	} else {
		r.Result, r.Error = ResultFailed, err.Error()
		logger.Wf(ctx, "Case %v failed, cost=%v, err %+v", c.Name, r.Duration, err)
	}
	return r
}

// caseRun is the state of a running case, which owns at most one session.
type caseRun struct {
	driver  *Driver
	session *whip.Session
	// The response of POST, which creates the resource.
	created *whip.Response
	// The resource to release, empty if none or released.
	resourceURL string
}

// Send a request to the url, then check the response of method on scope.
func (v *caseRun) check(ctx context.Context, scope Scope, method string, req *whip.Request) (*whip.Response, error) {
	res, err := v.driver.client.Do(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "%v %v", scope, method)
	}

	expect, ok := Expect(scope, method)
	if !ok {
		return nil, errors.Errorf("no expectation for %v %v", scope, method)
	}

	return res, expect.Check(scope, method, res)
}

// Create a session and POST its offer to the endpoint, which must create the
// resource.
func (v *caseRun) publish(ctx context.Context) error {
	cfg := v.driver.cfg

	v.session = whip.NewSession(cfg.sessionOptions()...)
	offer, err := v.session.Begin(ctx)
	if err != nil {
		return errors.Wrapf(err, "begin session")
	}

	res, err := v.driver.client.Do(ctx, &whip.Request{
		Method: http.MethodPost, URL: cfg.Endpoint,
		ContentType: whip.ContentTypeSDP, Body: []byte(offer),
	})
	if err != nil {
		return errors.Wrapf(err, "publish")
	}
	v.created = res

	// Release the resource even if the response diverges.
	location := res.Header.Get("Location")
	if res.Status == http.StatusCreated && location != "" {
		if u, err := whip.ResolveLocation(cfg.Endpoint, location); err == nil {
			v.resourceURL = u
		}
	}

	expect, _ := Expect(ScopeEndpoint, http.MethodPost)
	if err := expect.Check(ScopeEndpoint, http.MethodPost, res); err != nil {
		return err
	}

	resourceURL, err := whip.ResolveLocation(cfg.Endpoint, location)
	if err != nil {
		return &ProtocolAssertionError{
			Scope: ScopeEndpoint, Method: http.MethodPost, Field: "Location",
			Expected: "URL", Actual: location,
		}
	}

	return v.session.MarkPublished(resourceURL, res.Header.Get("ETag"))
}

// Publish and apply the answer, so the session is ready for PATCH.
func (v *caseRun) negotiate(ctx context.Context) error {
	if err := v.publish(ctx); err != nil {
		return err
	}

	if err := v.session.ApplyAnswer(ctx, string(v.created.Body)); err != nil {
		return errors.Wrapf(err, "apply answer")
	}
	return nil
}

// Check the response of a PATCH, which is either supported with Accept-Patch in
// the response of POST, or not supported without it.
func (v *caseRun) checkPatch(scope Scope, method string, res *whip.Response) error {
	expect, _ := Expect(scope, method)
	acceptPatch := v.created.Header.Get("Accept-Patch")

	if res.Status >= 200 && res.Status < 300 {
		if !strings.EqualFold(acceptPatch, whip.ContentTypeTrickleICE) {
			return &ProtocolAssertionError{
				Scope: ScopeEndpoint, Method: http.MethodPost, Field: "Accept-Patch",
				Expected: whip.ContentTypeTrickleICE, Actual: acceptPatch,
			}
		}
		return expect.Check(scope, method, res)
	}

	err := expect.Check(scope, method, res)
	if IsUnsupportedFeature(err) && acceptPatch != "" {
		return &ProtocolAssertionError{
			Scope: ScopeEndpoint, Method: http.MethodPost, Field: "Accept-Patch",
			Expected: "absent", Actual: acceptPatch,
		}
	}
	return err
}

// Release the resource and the session, and collect the stat of session.
func (v *caseRun) close(ctx context.Context, r *CaseResult) {
	if v.resourceURL != "" {
		cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		defer cancel()

		if _, err := v.driver.client.Do(cleanupCtx, &whip.Request{
			Method: http.MethodDelete, URL: v.resourceURL,
		}); err != nil {
			logger.Wf(ctx, "Ignore delete %v err %+v", v.resourceURL, err)
		}
		v.resourceURL = ""
	}

	if v.session == nil {
		return
	}

	if err := v.session.End(); err != nil {
		logger.Wf(ctx, "Ignore end session err %+v", err)
	}

	candidates, stat := v.session.Candidates(), v.session.SinkStat()
	r.Candidates, r.Sink = len(candidates), &stat
	CandidatesTotal.Add(float64(len(candidates)))
	RTCPPacketsTotal.Add(float64(stat.RTCPPackets))
}

// The bodiless requests declare SDP too, like the POST of offer.
func sdpHeader() http.Header {
	return http.Header{"Content-Type": []string{whip.ContentTypeSDP}}
}

func endpointNotAllowed(method string) caseFunc {
	return func(ctx context.Context, r *caseRun) error {
		_, err := r.check(ctx, ScopeEndpoint, method, &whip.Request{
			Method: method, URL: r.driver.cfg.Endpoint, Header: sdpHeader(),
		})
		return err
	}
}

func endpointOptions(ctx context.Context, r *caseRun) error {
	_, err := r.check(ctx, ScopeEndpoint, http.MethodOptions, &whip.Request{
		Method: http.MethodOptions, URL: r.driver.cfg.Endpoint, Header: sdpHeader(),
	})
	return err
}

func endpointPost(ctx context.Context, r *caseRun) error {
	return r.negotiate(ctx)
}

func answerRecvonly(ctx context.Context, r *caseRun) error {
	if err := r.publish(ctx); err != nil {
		return err
	}

	answer, err := whip.DecodeAnswer(string(r.created.Body))
	if err != nil {
		return errors.Wrapf(err, "decode answer")
	}

	if len(answer.MediaDirections) == 0 {
		return &ProtocolAssertionError{
			Scope: ScopeEndpoint, Method: http.MethodPost, Field: "media",
			Expected: "audio and video", Actual: "none",
		}
	}

	for i, direction := range answer.MediaDirections {
		if direction != "recvonly" {
			return &ProtocolAssertionError{
				Scope: ScopeEndpoint, Method: http.MethodPost, Field: fmt.Sprintf("direction of media %v", i),
				Expected: "recvonly", Actual: direction,
			}
		}
	}
	return nil
}

func resourceNotAllowed(method string) caseFunc {
	return func(ctx context.Context, r *caseRun) error {
		if err := r.publish(ctx); err != nil {
			return err
		}

		_, err := r.check(ctx, ScopeResource, method, &whip.Request{
			Method: method, URL: r.session.ResourceURL(), Header: sdpHeader(),
		})
		return err
	}
}

func resourceDelete(ctx context.Context, r *caseRun) error {
	if err := r.negotiate(ctx); err != nil {
		return err
	}

	res, err := r.driver.client.Do(ctx, &whip.Request{
		Method: http.MethodDelete, URL: r.session.ResourceURL(),
	})
	if err != nil {
		return errors.Wrapf(err, "delete")
	}

	// Only the successful DELETE must be 200.
	if res.Status < 200 || res.Status >= 300 {
		logger.Tf(ctx, "Ignore delete failed, %v", res)
		return nil
	}
	r.resourceURL = ""

	expect, _ := Expect(ScopeResource, http.MethodDelete)
	return expect.Check(ScopeResource, http.MethodDelete, res)
}

func resourceTrickle(ctx context.Context, r *caseRun) error {
	if err := r.negotiate(ctx); err != nil {
		return err
	}

	fragment, err := func() (*whip.Fragment, error) {
		ctx, cancel := context.WithTimeout(ctx, r.driver.cfg.CandidateTimeout)
		defer cancel()
		return r.session.BeginTrickle(ctx)
	}()
	if err != nil {
		return errors.Wrapf(err, "begin trickle")
	}

	body, err := fragment.Marshal()
	if err != nil {
		return errors.Wrapf(err, "marshal trickle")
	}

	header := http.Header{}
	if etag := r.session.EntityTag(); etag != "" {
		header.Set("ETag", etag)
		header.Set("If-Match", etag)
	}

	res, err := r.driver.client.Do(ctx, &whip.Request{
		Method: http.MethodPatch, URL: r.session.ResourceURL(),
		ContentType: whip.ContentTypeTrickleICE, Header: header, Body: body,
	})
	if err != nil {
		return errors.Wrapf(err, "trickle")
	}

	if err := r.session.EndTrickle(); err != nil {
		return err
	}

	return r.checkPatch(ScopeResource, MethodTrickle, res)
}

func resourceRestart(ctx context.Context, r *caseRun) error {
	if err := r.negotiate(ctx); err != nil {
		return err
	}

	// Restart after the connectivity is in progress.
	if _, err := func() (*whip.Candidate, error) {
		ctx, cancel := context.WithTimeout(ctx, r.driver.cfg.CandidateTimeout)
		defer cancel()
		return r.session.WaitCandidate(ctx)
	}(); err != nil {
		return errors.Wrapf(err, "wait candidate")
	}

	fragment, err := r.session.BeginRestart(ctx)
	if err != nil {
		return errors.Wrapf(err, "begin restart")
	}

	body, err := fragment.Marshal()
	if err != nil {
		return errors.Wrapf(err, "marshal restart")
	}

	res, err := r.driver.client.Do(ctx, &whip.Request{
		Method: http.MethodPatch, URL: r.session.ResourceURL(),
		ContentType: whip.ContentTypeTrickleICE, Header: http.Header{"If-Match": []string{"*"}},
		Body: body,
	})
	if err != nil {
		return errors.Wrapf(err, "restart")
	}

	if res.Status < 200 || res.Status >= 300 {
		if err := r.session.AbortRestart(); err != nil {
			return err
		}
		return r.checkPatch(ScopeResource, MethodRestart, res)
	}

	if err := r.checkPatch(ScopeResource, MethodRestart, res); err != nil {
		return err
	}

	if err := r.session.ApplyRestart(ctx, string(res.Body), res.Header.Get("ETag")); err != nil {
		if errors.Cause(err) == whip.ErrStaleCredentials {
			return &ProtocolAssertionError{
				Scope: ScopeResource, Method: MethodRestart, Field: "ice credentials",
				Expected: "fresh", Actual: err.Error(),
			}
		}
		return errors.Wrapf(err, "apply restart")
	}
	return nil
}
