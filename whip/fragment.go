// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"strings"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/pion/ice/v2"
	"github.com/pion/sdp/v3"
)

// FragmentKind is the kind of trickle ICE SDP fragment.
type FragmentKind int

const (
	// FragmentTrickle carries the credentials and candidates for each media.
	FragmentTrickle FragmentKind = iota
	// FragmentRestart carries only the new credentials.
	FragmentRestart
)

func (v FragmentKind) String() string {
	switch v {
	case FragmentTrickle:
		return "trickle"
	case FragmentRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// MediaCandidate is a candidate for the media section identified by Media.
type MediaCandidate struct {
	Media     MediaID
	Candidate *Candidate
}

// Fragment is a WHIP PATCH body of type application/trickle-ice-sdpfrag.
type Fragment struct {
	Kind        FragmentKind
	Credentials ICECredentials
	// Empty for restart.
	PerMedia []MediaCandidate
}

// EncodeTrickle builds a trickle fragment, which maps the candidate to every
// media. The credentials and at least one media is required.
func EncodeTrickle(candidate *Candidate, mids []MediaID, credentials *ICECredentials) (*Fragment, error) {
	if !credentials.Valid() {
		return nil, errors.New("no ice credentials")
	}
	if len(mids) == 0 {
		return nil, errors.New("no media id")
	}
	if candidate == nil {
		return nil, errors.New("no candidate")
	}

	f := &Fragment{Kind: FragmentTrickle, Credentials: *credentials}
	for _, mid := range mids {
		f.PerMedia = append(f.PerMedia, MediaCandidate{Media: mid, Candidate: candidate})
	}
	return f, nil
}

// EncodeRestart builds a restart fragment with the new credentials.
func EncodeRestart(credentials *ICECredentials) (*Fragment, error) {
	if !credentials.Valid() {
		return nil, errors.New("no ice credentials")
	}
	return &Fragment{Kind: FragmentRestart, Credentials: *credentials}, nil
}

// Marshal the fragment to the wire format, which is a SDP without the session
// header lines, see https://www.rfc-editor.org/rfc/rfc8840#section-9
func (v *Fragment) Marshal() ([]byte, error) {
	sd := &sdp.SessionDescription{
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("ice-ufrag", v.Credentials.Ufrag),
			sdp.NewAttribute("ice-pwd", v.Credentials.Pwd),
		},
	}

	for _, mc := range v.PerMedia {
		kind := mc.Media.Kind
		if kind == "" {
			kind = "audio"
		}

		sd.MediaDescriptions = append(sd.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media: kind, Port: sdp.RangedPort{Value: 9},
				Protos: []string{"RTP", "AVP"}, Formats: []string{"0"},
			},
			Attributes: []sdp.Attribute{
				sdp.NewAttribute("mid", mc.Media.Mid),
				sdp.NewAttribute("candidate", mc.Candidate.Marshal()),
			},
		})
	}

	b, err := sd.Marshal()
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %v fragment", v.Kind)
	}

	var sb strings.Builder
	for _, line := range strings.Split(string(b), "\r\n") {
		if line == "" || isSessionHeaderLine(line) {
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	return []byte(sb.String()), nil
}

func isSessionHeaderLine(line string) bool {
	for _, prefix := range []string{"v=", "o=", "s=", "t="} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// The session header to make a fragment a parsable SDP.
const fragmentSessionHeader = "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

func parseSDPOrFragment(body string) (*sdp.SessionDescription, error) {
	body = strings.TrimLeft(body, " \r\n")
	if body == "" {
		return nil, errors.New("empty sdp")
	}
	if !strings.HasPrefix(body, "v=") {
		body = fragmentSessionHeader + body
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\r\n"
	}

	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %v", escapeSDP(body))
	}
	return sd, nil
}

// UnmarshalFragment parses a trickle or restart fragment. A fragment without any
// media is a restart fragment.
func UnmarshalFragment(body []byte) (*Fragment, error) {
	sd, err := parseSDPOrFragment(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse fragment")
	}

	credentials, ok := ExtractICECredentials(sd)
	if !ok {
		return nil, errors.Errorf("no ice credentials in %v", escapeSDP(string(body)))
	}

	f := &Fragment{Kind: FragmentRestart, Credentials: *credentials}
	for _, md := range sd.MediaDescriptions {
		f.Kind = FragmentTrickle

		mid, _ := md.Attribute("mid")
		for _, a := range md.Attributes {
			if a.Key != "candidate" {
				continue
			}

			c, err := unmarshalCandidate(a.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "parse candidate of mid=%v", mid)
			}
			f.PerMedia = append(f.PerMedia, MediaCandidate{
				Media: MediaID{Mid: mid, Kind: md.MediaName.Media}, Candidate: c,
			})
		}
	}

	return f, nil
}

func unmarshalCandidate(value string) (*Candidate, error) {
	ic, err := ice.UnmarshalCandidate(strings.TrimPrefix(value, "candidate:"))
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal %v", value)
	}

	component := ICEComponentRTCP
	if ic.Component() == 0 {
		component = ICEComponentRTP
	}

	c := &Candidate{
		Foundation: ic.Foundation(), Component: component,
		Transport: ic.NetworkType().NetworkShort(), Priority: ic.Priority(),
		Address: ic.Address(), Port: ic.Port(), Kind: ic.Type().String(),
		TCPType: ic.TCPType().String(),
	}
	if ra := ic.RelatedAddress(); ra != nil && ra.Address != "" {
		c.RelatedAddress, c.RelatedPort = ra.Address, ra.Port
	}
	// The ice package keeps the tcptype of host candidates only.
	if c.TCPType == "" {
		c.TCPType = tcpTypeOf(value)
	}
	return c, nil
}

func tcpTypeOf(value string) string {
	fields := strings.Fields(value)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "tcptype" {
			return fields[i+1]
		}
	}
	return ""
}

// Answer is the decoded SDP answer or restart fragment from the server.
type Answer struct {
	// The direction of each media section in order, empty if not specified.
	MediaDirections []string
	// The ICE credentials of the server, nil if not specified.
	Credentials *ICECredentials
}

// DecodeAnswer decodes a full SDP answer or a bare fragment.
func DecodeAnswer(text string) (*Answer, error) {
	sd, err := parseSDPOrFragment(text)
	if err != nil {
		return nil, errors.Wrap(err, "parse answer")
	}

	answer := &Answer{}
	for _, md := range sd.MediaDescriptions {
		answer.MediaDirections = append(answer.MediaDirections, directionOf(sd, md))
	}
	if c, ok := ExtractICECredentials(sd); ok {
		answer.Credentials = c
	}
	return answer, nil
}
