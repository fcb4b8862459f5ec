// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestCandidate_Marshal(t *testing.T) {
	host := &Candidate{
		Foundation: "1", Component: ICEComponentRTP, Transport: "udp", Priority: 2130706431,
		Address: "192.168.1.10", Port: 5000, Kind: "host",
	}
	require.Equal(t, "1 0 udp 2130706431 192.168.1.10 5000 typ host", host.Marshal())

	srflx := &Candidate{
		Foundation: "2", Component: ICEComponentRTCP, Transport: "udp", Priority: 1694498815,
		Address: "1.2.3.4", Port: 6000, Kind: "srflx", RelatedAddress: "192.168.1.10", RelatedPort: 5000,
	}
	require.Equal(t, "2 1 udp 1694498815 1.2.3.4 6000 typ srflx raddr 192.168.1.10 rport 5000", srflx.Marshal())

	tcp := &Candidate{
		Foundation: "3", Component: ICEComponentRTP, Transport: "tcp", Priority: 1518280447,
		Address: "192.168.1.10", Port: 9, Kind: "host", TCPType: "active",
	}
	require.Equal(t, "3 0 tcp 1518280447 192.168.1.10 9 typ host tcptype active", tcp.Marshal())
}

func TestICEComponent_Wire(t *testing.T) {
	require.Equal(t, 0, ICEComponentRTP.Wire())
	require.Equal(t, 1, ICEComponentRTCP.Wire())
	require.Equal(t, 1, ICEComponent("").Wire())
}

func TestNewCandidate(t *testing.T) {
	c := NewCandidate(&webrtc.ICECandidate{
		Foundation: "4207795732", Priority: 2130706431, Address: "192.168.168.168",
		Protocol: webrtc.ICEProtocolUDP, Port: 50000, Typ: webrtc.ICECandidateTypeHost, Component: 1,
	})
	require.Equal(t, &Candidate{
		Foundation: "4207795732", Component: ICEComponentRTP, Transport: "udp", Priority: 2130706431,
		Address: "192.168.168.168", Port: 50000, Kind: "host",
	}, c)

	c = NewCandidate(&webrtc.ICECandidate{
		Protocol: webrtc.ICEProtocolTCP, Typ: webrtc.ICECandidateTypeSrflx, Component: 2,
		RelatedAddress: "10.0.0.1", RelatedPort: 9, TCPType: "passive",
	})
	require.Equal(t, ICEComponentRTCP, c.Component)
	require.Equal(t, "tcp", c.Transport)
	require.Equal(t, "srflx", c.Kind)
	require.Equal(t, "10.0.0.1", c.RelatedAddress)
	require.Equal(t, 9, c.RelatedPort)
	require.Equal(t, "passive", c.TCPType)
}

func TestCandidateCollector_WaitFirst(t *testing.T) {
	collector := NewCandidateCollector()

	// The end of gathering is ignored.
	collector.OnCandidate(nil)
	collector.Append(nil)
	require.Empty(t, collector.Candidates())

	first := &Candidate{Foundation: "1", Address: "192.168.1.10", Port: 1, Kind: "host"}
	second := &Candidate{Foundation: "2", Address: "192.168.1.10", Port: 2, Kind: "host"}

	var wg sync.WaitGroup
	defer wg.Wait()

	got := make(chan *Candidate, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			c, err := collector.WaitFirst(ctx)
			if err == nil {
				got <- c
			}
		}()
	}

	collector.Append(first)
	collector.Append(second)

	for i := 0; i < 2; i++ {
		select {
		case c := <-got:
			require.Equal(t, first, c)
		case <-time.After(3 * time.Second):
			t.Fatal("waiter not woken up")
		}
	}

	// Read again, always the first one.
	c, err := collector.WaitFirst(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, c)
	require.Equal(t, []*Candidate{first, second}, collector.Candidates())
}

func TestCandidateCollector_Timeout(t *testing.T) {
	collector := NewCandidateCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c, err := collector.WaitFirst(ctx)
	require.Nil(t, c)
	require.Error(t, err)
	require.True(t, IsNegotiationError(err))
	require.Contains(t, err.Error(), "wait candidate")
}
