// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wish-wg/resources/whip"
)

func newTestReport() *Report {
	report := NewReport("http://127.0.0.1/whip")
	report.add(&CaseResult{Name: "endpoint-options", Result: ResultPassed, Duration: time.Millisecond})
	report.add(&CaseResult{
		Name: "resource-trickle", Result: ResultUnsupported, Error: "resource PATCH(trickle) not supported, status=405",
		Candidates: 1, Sink: &whip.SinkStat{RTCPPackets: 3},
	})
	report.done()
	return report
}

func TestReport_Summary(t *testing.T) {
	report := newTestReport()
	require.NotEmpty(t, report.RunID)
	require.True(t, report.OK())
	require.Equal(t, map[Result]int{ResultPassed: 1, ResultUnsupported: 1}, report.Count())
	require.Equal(t, "resource-trickle", report.Result("resource-trickle").Name)
	require.Nil(t, report.Result("resource-restart"))
	require.Contains(t, report.String(), "passed=1, failed=0, unsupported=1, skipped=0")

	report.add(&CaseResult{Name: "endpoint-post", Result: ResultFailed})
	require.False(t, report.OK())
}

func TestReport_WriteFile(t *testing.T) {
	report := newTestReport()

	p := path.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteFile(p))

	b, err := ioutil.ReadFile(p)
	require.NoError(t, err)

	var obj struct {
		RunID   string         `json:"run_id"`
		Summary map[string]int `json:"summary"`
		Results []struct {
			Name   string `json:"name"`
			Result string `json:"result"`
			Error  string `json:"error"`
			Sink   *struct {
				RTCPPackets uint64 `json:"rtcp"`
			} `json:"sink"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(b, &obj))

	require.Equal(t, report.RunID, obj.RunID)
	require.Equal(t, map[string]int{"passed": 1, "unsupported": 1}, obj.Summary)
	require.Len(t, obj.Results, 2)
	require.Equal(t, "unsupported", obj.Results[1].Result)
	require.Contains(t, obj.Results[1].Error, "405")
	require.Nil(t, obj.Results[0].Sink)
	require.Equal(t, uint64(3), obj.Results[1].Sink.RTCPPackets)
}

func TestStatHandler(t *testing.T) {
	driver := NewDriver(newTestConfig("http://127.0.0.1/whip"))
	driver.report = newTestReport()

	server := httptest.NewServer(NewStatHandler(context.Background(), driver))
	defer server.Close()

	get := func(p string) (int, string) {
		res, err := http.Get(server.URL + p)
		require.NoError(t, err)
		defer res.Body.Close()

		b, err := ioutil.ReadAll(res.Body)
		require.NoError(t, err)
		return res.StatusCode, string(b)
	}

	status, body := get("/api/v1/whip/report")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, driver.Report().RunID)
	require.Contains(t, body, `"code"`)

	status, body = get("/api/v1/whip/cases")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "resource-restart")

	status, body = get("/api/v1/whip/cases/resource-trickle")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "unsupported")

	status, _ = get("/api/v1/whip/cases/resource-restart")
	require.Equal(t, http.StatusNotFound, status)

	observeRequest(http.MethodPost, http.StatusCreated, 10*time.Millisecond, nil)
	status, body = get("/metrics")
	require.Equal(t, http.StatusOK, status)
	require.True(t, strings.Contains(body, "whip_conformance_http_requests_total"))
}

func TestStatHandler_CORS(t *testing.T) {
	server := httptest.NewServer(NewStatHandler(context.Background(), NewDriver(newTestConfig("http://127.0.0.1/whip"))))
	defer server.Close()

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/v1/whip/report", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}
