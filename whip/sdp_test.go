// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sdpOf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestExtractICECredentials_SessionLevel(t *testing.T) {
	sd, err := ParseSessionDescription(sdpOf(
		"v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0",
		"a=ice-ufrag:sess", "a=ice-pwd:sessionpassword",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111", "a=mid:0",
		"a=ice-ufrag:media", "a=ice-pwd:mediapassword",
	))
	require.NoError(t, err)

	c, ok := ExtractICECredentials(sd)
	require.True(t, ok)
	require.Equal(t, &ICECredentials{Ufrag: "sess", Pwd: "sessionpassword"}, c)
}

func TestExtractICECredentials_FirstMediaOnly(t *testing.T) {
	// Non-bundled sessions with different credentials per media are not modelled,
	// only the first media section is used.
	sd, err := ParseSessionDescription(sdpOf(
		"v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111", "a=mid:0",
		"a=ice-ufrag:first", "a=ice-pwd:firstpassword",
		"m=video 9 UDP/TLS/RTP/SAVPF 96", "a=mid:1",
		"a=ice-ufrag:second", "a=ice-pwd:secondpassword",
	))
	require.NoError(t, err)

	c, ok := ExtractICECredentials(sd)
	require.True(t, ok)
	require.Equal(t, "first", c.Ufrag)
	require.Equal(t, "firstpassword", c.Pwd)
}

func TestExtractICECredentials_NotInFirstMedia(t *testing.T) {
	sd, err := ParseSessionDescription(sdpOf(
		"v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111", "a=mid:0",
		"m=video 9 UDP/TLS/RTP/SAVPF 96", "a=mid:1",
		"a=ice-ufrag:second", "a=ice-pwd:secondpassword",
	))
	require.NoError(t, err)

	c, ok := ExtractICECredentials(sd)
	require.False(t, ok)
	require.Nil(t, c)
}

func TestExtractICECredentials_None(t *testing.T) {
	for _, text := range []string{
		sdpOf("v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0"),
		sdpOf("v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0", "a=ice-ufrag:only"),
		sdpOf("v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0", "m=audio 9 RTP/AVP 0", "a=ice-pwd:only"),
	} {
		sd, err := ParseSessionDescription(text)
		require.NoError(t, err)

		_, ok := ExtractICECredentials(sd)
		require.False(t, ok, text)
	}
}

func TestExtractMediaIDs(t *testing.T) {
	sd, err := ParseSessionDescription(sdpOf(
		"v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111", "a=mid:a0",
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel",
		"m=video 9 UDP/TLS/RTP/SAVPF 96", "a=mid:v1",
	))
	require.NoError(t, err)

	require.Equal(t, []MediaID{{Mid: "a0", Kind: "audio"}, {Mid: "v1", Kind: "video"}}, ExtractMediaIDs(sd))
}

func TestExtractMediaIDs_NoMedia(t *testing.T) {
	sd, err := ParseSessionDescription(sdpOf("v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0"))
	require.NoError(t, err)
	require.Empty(t, ExtractMediaIDs(sd))
}

func TestParseSessionDescription_Invalid(t *testing.T) {
	for _, text := range []string{"not a sdp", "", "\r\n", "a=ice-ufrag:u\r\na=ice-pwd:p\r\n"} {
		_, err := ParseSessionDescription(text)
		require.Error(t, err, "sdp %q", text)
	}

	// The leading blank lines are allowed.
	sd, err := ParseSessionDescription("\r\n" + sdpOf("v=0", "o=- 0 0 IN IP4 127.0.0.1", "s=-", "t=0 0"))
	require.NoError(t, err)
	require.Empty(t, sd.MediaDescriptions)
}

func TestICECredentials_Equals(t *testing.T) {
	c := &ICECredentials{Ufrag: "u", Pwd: "p"}
	require.True(t, c.Equals(&ICECredentials{Ufrag: "u", Pwd: "x"}))
	require.True(t, c.Equals(&ICECredentials{Ufrag: "x", Pwd: "p"}))
	require.False(t, c.Equals(&ICECredentials{Ufrag: "x", Pwd: "y"}))
	require.False(t, c.Equals(nil))

	var empty *ICECredentials
	require.False(t, empty.Valid())
	require.False(t, (&ICECredentials{Ufrag: "u"}).Valid())
}
