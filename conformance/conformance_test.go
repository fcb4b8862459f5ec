// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/webrtc/v3"

	"github.com/wish-wg/resources/whip"
)

var whipLog = flag.Bool("whip-log", false, "Whether enable the detail log")

func TestMain(m *testing.M) {
	flag.Parse()

	// Disable the logger during all tests.
	if !*whipLog {
		olw := logger.Switch(ioutil.Discard)
		defer func() {
			logger.Switch(olw)
		}()
	}

	os.Exit(m.Run())
}

// testLogWriter collects the logs, which are written by cases in parallel.
type testLogWriter struct {
	lock sync.Mutex
	b    strings.Builder
}

func (v *testLogWriter) Write(p []byte) (int, error) {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.b.Write(p)
}

func (v *testLogWriter) String() string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.b.String()
}

// The config to run cases against the test server, with sessions on vnet.
func newTestConfig(endpoint string) *Config {
	return &Config{
		Endpoint: endpoint, CaseTimeout: 10 * time.Second, CandidateTimeout: 5 * time.Second,
		Parallel: 1, FPS: 25,
		SessionOptions: []whip.SessionOptionFunc{whip.WithVNet("192.168.168.168")},
	}
}

// The behaviors of the test WHIP server.
type testServerConfig struct {
	// The status of trickle and restart PATCH, supported if zero.
	trickleStatus int
	restartStatus int
	// The status of the accepted trickle and restart PATCH, 204 and 200 if zero.
	trickleSuccess int
	restartSuccess int
	// Whether respond the restart without the fragment.
	emptyRestart bool
	// The status of DELETE, which keeps the resource unless 2xx. 200 if zero.
	deleteStatus int
	// Whether respond Accept-Patch for POST.
	acceptPatch bool
	// Whether respond the same credentials for restart.
	staleRestart bool
	// The header to omit in the response of POST.
	omitHeader string
	// Whether answer with sendrecv.
	sendrecv bool
}

// The fresh credentials of server for ICE restart.
var testFreshCredentials = &whip.ICECredentials{Ufrag: "n3w0", Pwd: "freshpassword0123456789a"}

type testResource struct {
	api    *whip.API
	pc     *webrtc.PeerConnection
	answer string
	etag   string
}

func (v *testResource) Close() {
	_ = v.pc.Close()
	_ = v.api.Close()
}

// testServer is a WHIP server which answers offers by pion on vnet.
type testServer struct {
	*httptest.Server
	conf testServerConfig

	lock      sync.Mutex
	nextID    int
	resources map[string]*testResource
	// The requests as "METHOD path".
	requests []string
	// The headers of requests by "METHOD path".
	headers map[string]http.Header
	// The trickle fragments received.
	fragments []*whip.Fragment
}

func newTestServer(conf testServerConfig) *testServer {
	v := &testServer{
		conf: conf, nextID: 123,
		resources: make(map[string]*testResource),
		headers:   make(map[string]http.Header),
	}

	r := chi.NewRouter()
	r.Use(v.record)
	r.Options("/whip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Post", whip.ContentTypeSDP)
	})
	r.Post("/whip", v.serveCreate)
	r.Delete("/resource/{id}", v.serveDelete)
	r.Patch("/resource/{id}", v.servePatch)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	v.Server = httptest.NewServer(r)
	return v
}

func (v *testServer) Endpoint() string {
	return v.URL + "/whip"
}

func (v *testServer) Close() {
	v.Server.Close()

	v.lock.Lock()
	defer v.lock.Unlock()
	for _, r := range v.resources {
		r.Close()
	}
}

func (v *testServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("%v %v", r.Method, r.URL.Path)

		v.lock.Lock()
		v.requests = append(v.requests, key)
		v.headers[key] = r.Header.Clone()
		v.lock.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (v *testServer) Requests() []string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return append([]string(nil), v.requests...)
}

func (v *testServer) Header(key string) http.Header {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.headers[key]
}

func (v *testServer) Resources() int {
	v.lock.Lock()
	defer v.lock.Unlock()
	return len(v.resources)
}

func (v *testServer) Fragments() []*whip.Fragment {
	v.lock.Lock()
	defer v.lock.Unlock()
	return append([]*whip.Fragment(nil), v.fragments...)
}

func (v *testServer) serveCreate(w http.ResponseWriter, r *http.Request) {
	b, err := ioutil.ReadAll(r.Body)
	if err != nil || r.Header.Get("Content-Type") != whip.ContentTypeSDP {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resource, err := v.answer(string(b))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v.lock.Lock()
	id := fmt.Sprintf("abc%v", v.nextID)
	v.nextID++
	v.resources[id] = resource
	v.lock.Unlock()

	w.Header().Set("Location", "/resource/"+id)
	w.Header().Set("ETag", resource.etag)
	w.Header().Set("Content-Type", whip.ContentTypeSDP)
	if v.conf.acceptPatch {
		w.Header().Set("Accept-Patch", whip.ContentTypeTrickleICE)
	}
	if v.conf.omitHeader != "" {
		w.Header().Del(v.conf.omitHeader)
	}

	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(resource.answer))
}

func (v *testServer) answer(offer string) (*testResource, error) {
	api, err := whip.NewAPI(whip.RegisterDefaultCodecs)
	if err != nil {
		return nil, err
	}

	if err := api.Setup("192.168.168.169"); err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		_ = api.Close()
		return nil, err
	}

	resource := &testResource{api: api, pc: pc, etag: `"v1"`}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: offer,
	}); err != nil {
		resource.Close()
		return nil, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		resource.Close()
		return nil, err
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		resource.Close()
		return nil, err
	}

	resource.answer = answer.SDP
	if v.conf.sendrecv {
		resource.answer = strings.ReplaceAll(answer.SDP, "a=recvonly", "a=sendrecv")
	}
	return resource, nil
}

func (v *testServer) resource(r *http.Request) *testResource {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.resources[chi.URLParam(r, "id")]
}

func (v *testServer) serveDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status := http.StatusOK
	if v.conf.deleteStatus != 0 {
		status = v.conf.deleteStatus
	}

	v.lock.Lock()
	resource, ok := v.resources[id]
	if ok && status >= 200 && status < 300 {
		delete(v.resources, id)
	} else {
		resource = nil
	}
	v.lock.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if resource != nil {
		resource.Close()
	}
	w.WriteHeader(status)
}

func (v *testServer) servePatch(w http.ResponseWriter, r *http.Request) {
	resource := v.resource(r)
	if resource == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	b, err := ioutil.ReadAll(r.Body)
	if err != nil || r.Header.Get("Content-Type") != whip.ContentTypeTrickleICE {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	if r.Header.Get("If-Match") == "*" {
		v.serveRestart(w, resource)
		return
	}

	if v.conf.trickleStatus != 0 {
		w.WriteHeader(v.conf.trickleStatus)
		return
	}

	if r.Header.Get("If-Match") != resource.etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	fragment, err := whip.UnmarshalFragment(b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v.lock.Lock()
	v.fragments = append(v.fragments, fragment)
	v.lock.Unlock()

	status := http.StatusNoContent
	if v.conf.trickleSuccess != 0 {
		status = v.conf.trickleSuccess
	}

	w.Header().Set("Content-Type", whip.ContentTypeTrickleICE)
	w.WriteHeader(status)
}

func (v *testServer) serveRestart(w http.ResponseWriter, resource *testResource) {
	if v.conf.restartStatus != 0 {
		w.WriteHeader(v.conf.restartStatus)
		return
	}

	credentials := testFreshCredentials
	if v.conf.staleRestart {
		sd, err := whip.ParseSessionDescription(resource.answer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		credentials, _ = whip.ExtractICECredentials(sd)
	}

	fragment, err := whip.EncodeRestart(credentials)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	b, err := fragment.Marshal()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if v.conf.emptyRestart {
		b = nil
	}

	status := http.StatusOK
	if v.conf.restartSuccess != 0 {
		status = v.conf.restartSuccess
	}

	w.Header().Set("Content-Type", whip.ContentTypeTrickleICE)
	w.Header().Set("ETag", `"v2"`)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
