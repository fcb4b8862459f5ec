// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/webrtc/v3"
)

// ICEComponent is the ICE component of a candidate.
type ICEComponent string

const (
	ICEComponentRTP  ICEComponent = "rtp"
	ICEComponentRTCP ICEComponent = "rtcp"
)

// Wire is the numeric component in the candidate line, rtp is 0 and anything else is 1.
func (v ICEComponent) Wire() int {
	if v == ICEComponentRTP {
		return 0
	}
	return 1
}

// Candidate is a local ICE candidate, immutable once created.
type Candidate struct {
	Foundation string       `json:"foundation"`
	Component  ICEComponent `json:"component"`
	// The transport protocol in lowercase, like udp or tcp.
	Transport string `json:"transport"`
	Priority  uint32 `json:"priority"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	// The candidate type, like host, srflx, prflx or relay.
	Kind           string `json:"kind"`
	RelatedAddress string `json:"raddr,omitempty"`
	RelatedPort    int    `json:"rport,omitempty"`
	TCPType        string `json:"tcptype,omitempty"`
}

// NewCandidate converts a candidate gathered by the peer connection.
func NewCandidate(c *webrtc.ICECandidate) *Candidate {
	component := ICEComponentRTCP
	if c.Component == 1 {
		component = ICEComponentRTP
	}

	return &Candidate{
		Foundation: c.Foundation, Component: component,
		Transport: strings.ToLower(c.Protocol.String()), Priority: c.Priority,
		Address: c.Address, Port: int(c.Port), Kind: c.Typ.String(),
		RelatedAddress: c.RelatedAddress, RelatedPort: int(c.RelatedPort),
		TCPType: c.TCPType,
	}
}

func (v *Candidate) String() string {
	return fmt.Sprintf("%v %v:%v/%v", v.Kind, v.Address, v.Port, v.Transport)
}

// Marshal the value of the candidate attribute, without the "candidate:" prefix.
func (v *Candidate) Marshal() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%v %v %v %v %v %v typ %v",
		v.Foundation, v.Component.Wire(), v.Transport, v.Priority, v.Address, v.Port, v.Kind,
	))

	if v.RelatedAddress != "" {
		sb.WriteString(fmt.Sprintf(" raddr %v rport %v", v.RelatedAddress, v.RelatedPort))
	}
	if v.TCPType != "" {
		sb.WriteString(fmt.Sprintf(" tcptype %v", v.TCPType))
	}

	return sb.String()
}

// CandidateCollector buffers the local candidates of a session, in the order they
// are gathered. The first candidate wakes up all waiters.
type CandidateCollector struct {
	candidates []*Candidate
	lock       sync.Mutex

	// Closed when the first candidate is appended.
	first     chan struct{}
	firstOnce sync.Once
}

func NewCandidateCollector() *CandidateCollector {
	return &CandidateCollector{first: make(chan struct{})}
}

// OnCandidate is the handler for PeerConnection.OnICECandidate. The nil candidate
// which ends the gathering is ignored.
func (v *CandidateCollector) OnCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	v.Append(NewCandidate(c))
}

func (v *CandidateCollector) Append(c *Candidate) {
	if c == nil {
		return
	}

	v.lock.Lock()
	v.candidates = append(v.candidates, c)
	v.lock.Unlock()

	v.firstOnce.Do(func() {
		close(v.first)
	})
}

// Candidates returns a copy of all candidates.
func (v *CandidateCollector) Candidates() []*Candidate {
	v.lock.Lock()
	defer v.lock.Unlock()

	candidates := make([]*Candidate, len(v.candidates))
	copy(candidates, v.candidates)
	return candidates
}

// WaitFirst waits for the first candidate ever gathered. It is safe to call again,
// which returns the same candidate. When ctx is done before any candidate, it
// fails with a NegotiationError.
func (v *CandidateCollector) WaitFirst(ctx context.Context) (*Candidate, error) {
	select {
	case <-ctx.Done():
		return nil, newNegotiationError(errors.Wrap(ctx.Err(), "no candidate"), "wait candidate")
	case <-v.first:
	}

	v.lock.Lock()
	defer v.lock.Unlock()

	c := v.candidates[0]
	logger.If(ctx, "Got first candidate %v of %v", c, len(v.candidates))
	return c, nil
}
