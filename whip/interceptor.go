// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// SinkStat is the counters of a SinkInterceptor.
type SinkStat struct {
	// The RTP packets written by the local tracks.
	RTPPackets uint64 `json:"rtp"`
	// The RTCP packets from the server, like receiver reports and PLI.
	RTCPPackets uint64 `json:"rtcp"`
	// The PLI or FIR from the server.
	KeyframeRequests uint64 `json:"keyframe"`
}

func (v SinkStat) String() string {
	return fmt.Sprintf("rtp=%v, rtcp=%v, keyframe=%v", v.RTPPackets, v.RTCPPackets, v.KeyframeRequests)
}

// SinkInterceptor counts the media written by the session and the RTCP feedback
// from the server, then passes everything through.
type SinkInterceptor struct {
	rtpPackets       uint64
	rtcpPackets      uint64
	keyframeRequests uint64
	// Other common fields.
	BypassInterceptor
}

func NewSinkInterceptor() *SinkInterceptor {
	return &SinkInterceptor{}
}

// NewInterceptor implements interceptor.Factory, and the interceptor is shared by
// all peer connections of the API.
func (v *SinkInterceptor) NewInterceptor(id string) (interceptor.Interceptor, error) {
	return v, nil
}

func (v *SinkInterceptor) Stat() SinkStat {
	return SinkStat{
		RTPPackets:       atomic.LoadUint64(&v.rtpPackets),
		RTCPPackets:      atomic.LoadUint64(&v.rtcpPackets),
		KeyframeRequests: atomic.LoadUint64(&v.keyframeRequests),
	}
}

func (v *SinkInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return interceptor.RTPWriterFunc(func(header *rtp.Header, payload []byte, attributes interceptor.Attributes) (int, error) {
		atomic.AddUint64(&v.rtpPackets, 1)
		return writer.Write(header, payload, attributes)
	})
}

func (v *SinkInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attr, err := reader.Read(b, a)
		if err != nil {
			return n, attr, err
		}

		if pkts, err := rtcp.Unmarshal(b[:n]); err == nil {
			v.onRTCP(pkts)
		}
		return n, attr, nil
	})
}

func (v *SinkInterceptor) onRTCP(pkts []rtcp.Packet) {
	atomic.AddUint64(&v.rtcpPackets, uint64(len(pkts)))

	for _, pkt := range pkts {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			atomic.AddUint64(&v.keyframeRequests, 1)
		}
	}
}

// Do nothing.
type BypassInterceptor struct {
	interceptor.Interceptor
}

func (v *BypassInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return reader
}

func (v *BypassInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	return writer
}

func (v *BypassInterceptor) BindLocalStream(info *interceptor.StreamInfo, writer interceptor.RTPWriter) interceptor.RTPWriter {
	return writer
}

func (v *BypassInterceptor) UnbindLocalStream(info *interceptor.StreamInfo) {
}

func (v *BypassInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	return reader
}

func (v *BypassInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
}

func (v *BypassInterceptor) Close() error {
	return nil
}
