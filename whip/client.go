// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

// The default User-Agent of requests.
const DefaultUserAgent = "whip-conformance/1.0"

// Request is a raw HTTP request to the WHIP endpoint or resource.
type Request struct {
	Method string
	URL    string
	// The content type of body, ignored if no body.
	ContentType string
	// Extra headers, like ETag and If-Match.
	Header http.Header
	Body   []byte
}

// Response is a raw HTTP response with the whole body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (v *Response) String() string {
	return fmt.Sprintf("status=%v, type=%v, body=%vB", v.Status, v.Header.Get("Content-Type"), len(v.Body))
}

// ClientObserver is notified after each request, err is nil for any status.
type ClientObserver func(method string, status int, duration time.Duration, err error)

type ClientOptionFunc func(v *Client)

// WithToken sets the bearer token for WHIP authentication.
func WithToken(token string) ClientOptionFunc {
	return func(v *Client) {
		v.token = token
	}
}

func WithUserAgent(ua string) ClientOptionFunc {
	return func(v *Client) {
		v.userAgent = ua
	}
}

func WithHTTPClient(hc *http.Client) ClientOptionFunc {
	return func(v *Client) {
		v.hc = hc
	}
}

func WithObserver(observer ClientObserver) ClientOptionFunc {
	return func(v *Client) {
		v.observer = observer
	}
}

// Client sends requests once, without retry or redirect.
type Client struct {
	token     string
	userAgent string
	hc        *http.Client
	observer  ClientObserver
}

func NewClient(options ...ClientOptionFunc) *Client {
	v := &Client{
		userAgent: DefaultUserAgent,
		hc: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

func (v *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	starttime := time.Now()

	res, err := v.do(ctx, req)
	if v.observer != nil {
		var status int
		if res != nil {
			status = res.Status
		}
		v.observer(req.Method, status, time.Since(starttime), err)
	}

	return res, err
}

func (v *Client) do(ctx context.Context, req *Request) (*Response, error) {
	logger.If(ctx, "Request %v %v with %v", req.Method, req.URL, escapeSDP(string(req.Body)))
	logger.Tf(ctx, "Request %v %v with %v bytes", req.Method, req.URL, len(req.Body))

	r, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.Wrapf(err, "HTTP request %v %v", req.Method, req.URL)
	}

	for k, vs := range req.Header {
		for _, hv := range vs {
			r.Header.Add(k, hv)
		}
	}
	if len(req.Body) > 0 && req.ContentType != "" {
		r.Header.Set("Content-Type", req.ContentType)
	}
	if v.token != "" {
		r.Header.Set("Authorization", fmt.Sprintf("Bearer %v", v.token))
	}
	if v.userAgent != "" {
		r.Header.Set("User-Agent", v.userAgent)
	}

	res, err := v.hc.Do(r)
	if err != nil {
		return nil, errors.Wrapf(err, "Do HTTP request %v %v", req.Method, req.URL)
	}
	defer res.Body.Close()

	b, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "Read response of %v %v", req.Method, req.URL)
	}

	response := &Response{Status: res.StatusCode, Header: res.Header, Body: b}
	logger.If(ctx, "Response of %v %v is %v, %v", req.Method, req.URL, response, escapeSDP(string(b)))
	logger.Tf(ctx, "Response of %v %v is %v", req.Method, req.URL, response)

	return response, nil
}

// ResolveLocation resolves the Location of a created resource, which may be
// relative, against the endpoint.
func ResolveLocation(endpoint, location string) (string, error) {
	if location == "" {
		return "", errors.New("empty location")
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, "parse endpoint %v", endpoint)
	}

	ref, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(err, "parse location %v", location)
	}

	return base.ResolveReference(ref).String(), nil
}
