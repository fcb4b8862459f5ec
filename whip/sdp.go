// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"fmt"
	"strings"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/pion/sdp/v3"
)

const (
	// The content type of SDP offer and answer.
	ContentTypeSDP = "application/sdp"
	// The content type of trickle ICE and ICE restart fragments.
	ContentTypeTrickleICE = "application/trickle-ice-sdpfrag"
)

// ICECredentials is the ICE ufrag and pwd of one side of a session.
type ICECredentials struct {
	Ufrag string `json:"ufrag"`
	Pwd   string `json:"pwd"`
}

func (v *ICECredentials) String() string {
	return fmt.Sprintf("ufrag=%v, pwd=%vB", v.Ufrag, len(v.Pwd))
}

// Valid whether both ufrag and pwd are set.
func (v *ICECredentials) Valid() bool {
	return v != nil && v.Ufrag != "" && v.Pwd != ""
}

// Equals whether v and p share the ufrag or the pwd.
func (v *ICECredentials) Equals(p *ICECredentials) bool {
	if v == nil || p == nil {
		return false
	}
	return v.Ufrag == p.Ufrag || v.Pwd == p.Pwd
}

// MediaID identifies a media section by its mid, with the media kind of the m-line.
type MediaID struct {
	Mid  string `json:"mid"`
	Kind string `json:"kind"`
}

func (v MediaID) String() string {
	return fmt.Sprintf("%v/%v", v.Kind, v.Mid)
}

// ParseSessionDescription parses a complete SDP, like an offer or answer.
func ParseSessionDescription(text string) (*sdp.SessionDescription, error) {
	text = strings.TrimLeft(text, " \r\n")
	if !strings.HasPrefix(text, "v=") {
		return nil, errors.Errorf("not a sdp %v", escapeSDP(text))
	}

	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return nil, errors.Wrapf(err, "unmarshal sdp %v", escapeSDP(text))
	}
	return sd, nil
}

// ExtractICECredentials looks up the ICE credentials of sd: the session level
// attributes first, then the first media section.
//
// Only the first media section is checked, so a non-bundled session whose media
// sections carry different credentials yields the first section's ones.
func ExtractICECredentials(sd *sdp.SessionDescription) (*ICECredentials, bool) {
	if c, ok := credentialsOf(sd.Attribute); ok {
		return c, true
	}

	if len(sd.MediaDescriptions) == 0 {
		return nil, false
	}
	return credentialsOf(sd.MediaDescriptions[0].Attribute)
}

func credentialsOf(attribute func(key string) (string, bool)) (*ICECredentials, bool) {
	ufrag, ok := attribute("ice-ufrag")
	if !ok || ufrag == "" {
		return nil, false
	}

	pwd, ok := attribute("ice-pwd")
	if !ok || pwd == "" {
		return nil, false
	}

	return &ICECredentials{Ufrag: ufrag, Pwd: pwd}, true
}

// ExtractMediaIDs returns the media sections which declare a mid, in order.
func ExtractMediaIDs(sd *sdp.SessionDescription) []MediaID {
	var mids []MediaID
	for _, md := range sd.MediaDescriptions {
		if mid, ok := md.Attribute("mid"); ok && mid != "" {
			mids = append(mids, MediaID{Mid: mid, Kind: md.MediaName.Media})
		}
	}
	return mids
}

// The direction of media section, or the session level direction, or empty.
func directionOf(sd *sdp.SessionDescription, md *sdp.MediaDescription) string {
	for _, dir := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
		if _, ok := md.Attribute(dir); ok {
			return dir
		}
	}

	for _, dir := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
		if _, ok := sd.Attribute(dir); ok {
			return dir
		}
	}

	return ""
}

// Replace the ICE credentials at session level and in every media section.
func replaceICECredentials(sd *sdp.SessionDescription, c *ICECredentials) {
	replace := func(attrs []sdp.Attribute) {
		for i := range attrs {
			switch attrs[i].Key {
			case "ice-ufrag":
				attrs[i].Value = c.Ufrag
			case "ice-pwd":
				attrs[i].Value = c.Pwd
			}
		}
	}

	replace(sd.Attributes)
	for _, md := range sd.MediaDescriptions {
		replace(md.Attributes)
	}
}

func escapeSDP(sdp string) string {
	return strings.ReplaceAll(strings.ReplaceAll(sdp, "\r", "\\r"), "\n", "\\n")
}
