// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveCases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whip_conformance_active_cases",
		Help: "Number of cases in progress",
	})
)

// Counters
var (
	CasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whip_conformance_cases_total",
		Help: "Total cases by name and result",
	}, []string{"case", "result"})
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whip_conformance_http_requests_total",
		Help: "Total requests to the endpoint and resources by method and status, status 0 for transport errors",
	}, []string{"method", "status"})
	CandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whip_conformance_candidates_total",
		Help: "Total local candidates gathered across all sessions",
	})
	RTCPPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whip_conformance_rtcp_packets_total",
		Help: "Total RTCP packets received from the server across all sessions",
	})
)

// Histograms
var (
	CaseLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whip_conformance_case_duration_ms",
		Help:    "Case duration in milliseconds by name",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
	}, []string{"case"})
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whip_conformance_http_request_duration_ms",
		Help:    "Request duration in milliseconds by method",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"method"})
)

// Observe a request, as the whip.ClientObserver.
func observeRequest(method string, status int, duration time.Duration, err error) {
	RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	RequestLatency.WithLabelValues(method).Observe(float64(duration.Milliseconds()))
}

func observeCase(r *CaseResult) {
	CasesTotal.WithLabelValues(r.Name, string(r.Result)).Inc()
	CaseLatency.WithLabelValues(r.Name).Observe(float64(r.Duration.Milliseconds()))
}
