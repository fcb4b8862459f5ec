// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package conformance

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/wish-wg/resources/whip"
)

// Scope is the HTTP resource under test.
type Scope string

const (
	// ScopeEndpoint is the WHIP endpoint, which creates resources.
	ScopeEndpoint Scope = "endpoint"
	// ScopeResource is the WHIP resource of a session, from the Location.
	ScopeResource Scope = "resource"
)

// The PATCH to a resource, by the kind of fragment.
const (
	MethodTrickle = "PATCH(trickle)"
	MethodRestart = "PATCH(restart)"
)

// HeaderExpectation is a required header, with any non-empty value if Value is empty.
type HeaderExpectation struct {
	Name  string
	Value string
}

// Expectation is the allowed response of a method on a scope.
type Expectation struct {
	Status  []int
	Headers []HeaderExpectation
	// The status which means the feature is not implemented, empty if mandatory.
	Unsupported []int
}

var methodNotAllowed = &Expectation{Status: []int{http.StatusMethodNotAllowed}}

var expectations = map[Scope]map[string]*Expectation{
	ScopeEndpoint: {
		http.MethodGet:  methodNotAllowed,
		http.MethodHead: methodNotAllowed,
		http.MethodPut:  methodNotAllowed,
		http.MethodOptions: {
			Status:  []int{http.StatusOK},
			Headers: []HeaderExpectation{{"Accept-Post", whip.ContentTypeSDP}},
		},
		http.MethodPost: {
			Status: []int{http.StatusCreated},
			Headers: []HeaderExpectation{
				{"Location", ""}, {"Content-Type", whip.ContentTypeSDP}, {"ETag", ""},
			},
		},
	},
	ScopeResource: {
		http.MethodGet:    methodNotAllowed,
		http.MethodHead:   methodNotAllowed,
		http.MethodPost:   methodNotAllowed,
		http.MethodPut:    methodNotAllowed,
		http.MethodDelete: {Status: []int{http.StatusOK}},
		MethodTrickle: {
			Status:      []int{http.StatusNoContent},
			Headers:     []HeaderExpectation{{"Content-Type", whip.ContentTypeTrickleICE}},
			Unsupported: []int{http.StatusMethodNotAllowed, http.StatusNotImplemented},
		},
		MethodRestart: {
			Status:      []int{http.StatusOK},
			Headers:     []HeaderExpectation{{"Content-Type", whip.ContentTypeTrickleICE}, {"ETag", ""}},
			Unsupported: []int{http.StatusMethodNotAllowed, http.StatusNotImplemented},
		},
	},
}

// Expect returns the expectation of method on scope.
func Expect(scope Scope, method string) (*Expectation, bool) {
	e, ok := expectations[scope][method]
	return e, ok
}

// Check the response, returns an UnsupportedFeature for the unsupported status,
// or a ProtocolAssertionError for the first divergence.
func (v *Expectation) Check(scope Scope, method string, res *whip.Response) error {
	if containsStatus(v.Unsupported, res.Status) {
		return &UnsupportedFeature{Feature: fmt.Sprintf("%v %v", scope, method), Status: res.Status}
	}

	if !containsStatus(v.Status, res.Status) {
		return &ProtocolAssertionError{
			Scope: scope, Method: method, Field: "status",
			Expected: fmt.Sprintf("%v", v.Status), Actual: fmt.Sprintf("%v", res.Status),
		}
	}

	for _, h := range v.Headers {
		actual := res.Header.Get(h.Name)
		if !matchHeader(h, actual) {
			expected := h.Value
			if expected == "" {
				expected = "present"
			}
			return &ProtocolAssertionError{
				Scope: scope, Method: method, Field: h.Name, Expected: expected, Actual: actual,
			}
		}
	}

	return nil
}

func matchHeader(h HeaderExpectation, actual string) bool {
	if h.Value == "" {
		return actual != ""
	}

	// Compare only the media type, the parameters like charset are allowed.
	if strings.EqualFold(h.Name, "Content-Type") {
		mt, _, err := mime.ParseMediaType(actual)
		return err == nil && strings.EqualFold(mt, h.Value)
	}

	return actual == h.Value
}

func containsStatus(status []int, s int) bool {
	for _, v := range status {
		if v == s {
			return true
		}
	}
	return false
}
