// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"context"
	"fmt"
	"sync"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/webrtc/v3"
)

// SessionState is the negotiation state of a WHIP session.
type SessionState int

const (
	SessionInit SessionState = iota
	SessionOffered
	SessionPublished
	SessionNegotiated
	SessionTrickling
	SessionRestarting
	SessionEnded
)

func (v SessionState) String() string {
	switch v {
	case SessionInit:
		return "init"
	case SessionOffered:
		return "offered"
	case SessionPublished:
		return "published"
	case SessionNegotiated:
		return "negotiated"
	case SessionTrickling:
		return "trickling"
	case SessionRestarting:
		return "restarting"
	case SessionEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(v))
	}
}

// StateError is an operation which is not allowed in the current state.
type StateError struct {
	Op    string
	State SessionState
}

func (v *StateError) Error() string {
	return fmt.Sprintf("%v not allowed in state %v", v.Op, v.State)
}

// ErrStaleCredentials means the server responds an ICE restart with the same
// credentials as before.
var ErrStaleCredentials = errors.New("stale ice credentials")

type SessionOptionFunc func(v *Session)

// WithVNet binds the session to a virtual network with the ip, for offline tests.
func WithVNet(ip string) SessionOptionFunc {
	return func(v *Session) {
		v.vnetIP = ip
	}
}

// WithCodecs overwrites the codecs to register, default to pion's default codecs.
func WithCodecs(init APIInitFunc) SessionOptionFunc {
	return func(v *Session) {
		v.codecs = init
	}
}

// WithSource sets the options of the media source, like disk files.
func WithSource(options ...MediaSourceOptionFunc) SessionOptionFunc {
	return func(v *Session) {
		v.sourceOptions = append(v.sourceOptions, options...)
	}
}

// Session is a WHIP publishing session, which owns the peer connection and tracks
// the negotiation with the WHIP resource. A session is used by one test case only,
// and must be released by End.
type Session struct {
	// The logging context.
	ctx context.Context

	vnetIP        string
	codecs        APIInitFunc
	sourceOptions []MediaSourceOptionFunc

	api    *API
	pc     *webrtc.PeerConnection
	source *MediaSource
	sink   *SinkInterceptor
	// The RTCP readers of senders.
	senders []*webrtc.RTPSender
	wg      sync.WaitGroup

	collector *CandidateCollector
	// The restart offer and its credentials, before the server accepts it.
	restartOffer *webrtc.SessionDescription
	restartLocal *ICECredentials

	lock        sync.Mutex
	state       SessionState
	resourceURL string
	entityTag   string
	local       *ICECredentials
	remote      *ICECredentials
	mids        []MediaID
	answer      string
}

func NewSession(options ...SessionOptionFunc) *Session {
	v := &Session{
		ctx:       context.Background(),
		codecs:    RegisterDefaultCodecs,
		sink:      NewSinkInterceptor(),
		collector: NewCandidateCollector(),
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

func (v *Session) State() SessionState {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.state
}

func (v *Session) ResourceURL() string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.resourceURL
}

func (v *Session) EntityTag() string {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.entityTag
}

// LocalCredentials is the ICE credentials of the current offer, nil if the offer
// carries none.
func (v *Session) LocalCredentials() *ICECredentials {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.local
}

// RemoteCredentials is the ICE credentials of the server, nil if unknown.
func (v *Session) RemoteCredentials() *ICECredentials {
	v.lock.Lock()
	defer v.lock.Unlock()
	return v.remote
}

func (v *Session) MediaIDs() []MediaID {
	v.lock.Lock()
	defer v.lock.Unlock()
	return append([]MediaID(nil), v.mids...)
}

func (v *Session) Candidates() []*Candidate {
	return v.collector.Candidates()
}

func (v *Session) SinkStat() SinkStat {
	return v.sink.Stat()
}

// Switch the state to to, if the current state is one of from.
func (v *Session) transit(op string, to SessionState, from ...SessionState) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	for _, state := range from {
		if v.state == state {
			v.state = to
			return nil
		}
	}
	return &StateError{Op: op, State: v.state}
}

// Begin creates the engine with a sendonly audio and video, then creates the
// offer and starts gathering candidates. It returns the offer SDP.
func (v *Session) Begin(ctx context.Context) (string, error) {
	v.lock.Lock()
	if v.state != SessionInit {
		defer v.lock.Unlock()
		return "", &StateError{Op: "begin", State: v.state}
	}
	v.ctx = ctx
	v.lock.Unlock()

	var err error
	if v.api, err = NewAPI(v.codecs); err != nil {
		return "", newNegotiationError(err, "create api")
	}

	if err = v.api.Setup(v.vnetIP, WithInterceptor(v.sink)); err != nil {
		return "", newNegotiationError(err, "setup api")
	}

	if v.pc, err = v.api.NewPeerConnection(webrtc.Configuration{}); err != nil {
		return "", newNegotiationError(err, "create pc")
	}

	if v.source, err = NewMediaSource(v.sourceOptions...); err != nil {
		return "", newNegotiationError(err, "create source")
	}

	// We only send, so never receive any audio or video.
	for _, track := range v.source.Tracks() {
		transceiver, err := v.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			return "", newNegotiationError(errors.Wrapf(err, "track %v", track.Kind()), "add transceiver")
		}
		v.senders = append(v.senders, transceiver.Sender())
	}

	v.pc.OnICECandidate(v.collector.OnCandidate)
	v.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Tf(ctx, "ICE state %v", state)
	})
	v.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Tf(ctx, "PC state %v", state)
	})

	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return "", newNegotiationError(err, "create offer")
	}

	sd, err := ParseSessionDescription(offer.SDP)
	if err != nil {
		return "", newNegotiationError(err, "parse offer")
	}

	// Fragments fail to encode without credentials, so it's not an error here.
	local, _ := ExtractICECredentials(sd)
	mids := ExtractMediaIDs(sd)

	// Start gathering candidates.
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return "", newNegotiationError(err, "set offer")
	}

	v.lock.Lock()
	v.local, v.mids = local, mids
	v.lock.Unlock()

	if err := v.transit("begin", SessionOffered, SessionInit); err != nil {
		return "", err
	}

	logger.Tf(ctx, "Session offered, %v, mids=%v", local, mids)
	logger.If(ctx, "Offer is %v", escapeSDP(offer.SDP))
	return offer.SDP, nil
}

// MarkPublished records the resource created by the server.
func (v *Session) MarkPublished(resourceURL, entityTag string) error {
	if err := v.transit("mark published", SessionPublished, SessionOffered); err != nil {
		return err
	}

	v.lock.Lock()
	v.resourceURL, v.entityTag = resourceURL, entityTag
	v.lock.Unlock()

	logger.Tf(v.ctx, "Session published, resource=%v, etag=%v", resourceURL, entityTag)
	return nil
}

// ApplyAnswer sets the answer of server as remote description, then starts
// publishing the media.
func (v *Session) ApplyAnswer(ctx context.Context, answer string) error {
	if state := v.State(); state != SessionPublished {
		return &StateError{Op: "apply answer", State: state}
	}

	var remote *ICECredentials
	if sd, err := ParseSessionDescription(answer); err == nil {
		remote, _ = ExtractICECredentials(sd)
	}

	if err := v.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: answer,
	}); err != nil {
		return newNegotiationError(err, "set answer")
	}

	v.lock.Lock()
	v.remote, v.answer = remote, answer
	v.lock.Unlock()

	if err := v.transit("apply answer", SessionNegotiated, SessionPublished); err != nil {
		return err
	}

	v.source.Start(v.ctx)

	// Drain the RTCP from the server, or the interceptors never see them.
	for _, sender := range v.senders {
		v.wg.Add(1)
		go func(sender *webrtc.RTPSender) {
			defer v.wg.Done()

			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}(sender)
	}

	logger.Tf(ctx, "Session negotiated, remote %v", remote)
	return nil
}

// BeginTrickle waits for the first candidate, and builds the trickle fragment for
// all media. Call EndTrickle after the PATCH.
func (v *Session) BeginTrickle(ctx context.Context) (*Fragment, error) {
	if err := v.transit("begin trickle", SessionTrickling, SessionNegotiated); err != nil {
		return nil, err
	}

	candidate, err := v.collector.WaitFirst(ctx)
	if err != nil {
		_ = v.transit("abort trickle", SessionNegotiated, SessionTrickling)
		return nil, err
	}

	fragment, err := EncodeTrickle(candidate, v.MediaIDs(), v.LocalCredentials())
	if err != nil {
		_ = v.transit("abort trickle", SessionNegotiated, SessionTrickling)
		return nil, errors.Wrapf(err, "encode trickle")
	}

	logger.Tf(ctx, "Session trickle %v for %v media", candidate, len(fragment.PerMedia))
	return fragment, nil
}

// WaitCandidate waits for the first local candidate, so the connectivity is in
// progress, for example before an ICE restart.
func (v *Session) WaitCandidate(ctx context.Context) (*Candidate, error) {
	return v.collector.WaitFirst(ctx)
}

func (v *Session) EndTrickle() error {
	return v.transit("end trickle", SessionNegotiated, SessionTrickling)
}

// BeginRestart asks the engine for an ICE restart offer with new local credentials,
// and builds the restart fragment. Then either ApplyRestart with the response of
// server, or AbortRestart if the server does not support it.
func (v *Session) BeginRestart(ctx context.Context) (*Fragment, error) {
	if err := v.transit("begin restart", SessionRestarting, SessionNegotiated); err != nil {
		return nil, err
	}

	fragment, err := v.createRestartOffer()
	if err != nil {
		_ = v.transit("abort restart", SessionNegotiated, SessionRestarting)
		return nil, err
	}

	logger.Tf(ctx, "Session restart with %v", &fragment.Credentials)
	return fragment, nil
}

func (v *Session) createRestartOffer() (*Fragment, error) {
	offer, err := v.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return nil, newNegotiationError(err, "create restart offer")
	}

	sd, err := ParseSessionDescription(offer.SDP)
	if err != nil {
		return nil, newNegotiationError(err, "parse restart offer")
	}

	local, ok := ExtractICECredentials(sd)
	if !ok {
		return nil, newNegotiationError(errors.New("no ice credentials"), "create restart offer")
	}

	fragment, err := EncodeRestart(local)
	if err != nil {
		return nil, errors.Wrapf(err, "encode restart")
	}

	v.restartOffer, v.restartLocal = &offer, local
	return fragment, nil
}

// IsFresh whether c is a new pair of credentials, which differs from both the
// current remote and local credentials.
func (v *Session) IsFresh(c *ICECredentials) bool {
	if !c.Valid() {
		return false
	}
	return !c.Equals(v.RemoteCredentials()) && !c.Equals(v.LocalCredentials())
}

// ApplyRestart applies the restart fragment responded by the server, which must
// carry fresh credentials. The entityTag is the new ETag of the resource.
func (v *Session) ApplyRestart(ctx context.Context, fragment, entityTag string) error {
	if state := v.State(); state != SessionRestarting {
		return &StateError{Op: "apply restart", State: state}
	}

	answer, err := DecodeAnswer(fragment)
	if err != nil {
		return errors.Wrapf(err, "decode restart")
	}
	if !v.IsFresh(answer.Credentials) {
		return errors.Wrapf(ErrStaleCredentials, "remote %v, local %v, got %v",
			v.RemoteCredentials(), v.LocalCredentials(), answer.Credentials)
	}

	v.lock.Lock()
	previous := v.answer
	v.lock.Unlock()

	sd, err := ParseSessionDescription(previous)
	if err != nil {
		return newNegotiationError(err, "parse previous answer")
	}
	replaceICECredentials(sd, answer.Credentials)

	b, err := sd.Marshal()
	if err != nil {
		return newNegotiationError(err, "marshal restart answer")
	}

	offer := v.restartOffer
	if err := v.pc.SetLocalDescription(*offer); err != nil {
		return newNegotiationError(err, "set restart offer")
	}
	if err := v.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: string(b),
	}); err != nil {
		return newNegotiationError(err, "set restart answer")
	}

	local := v.restartLocal

	v.lock.Lock()
	v.local, v.remote, v.answer = local, answer.Credentials, string(b)
	if entityTag != "" {
		v.entityTag = entityTag
	}
	v.restartOffer, v.restartLocal = nil, nil
	v.lock.Unlock()

	if err := v.transit("apply restart", SessionNegotiated, SessionRestarting); err != nil {
		return err
	}

	logger.Tf(ctx, "Session restarted, local %v, remote %v, etag=%v", local, answer.Credentials, entityTag)
	return nil
}

// AbortRestart gives up the restart when server does not support it. The pending
// restart offer is dropped and never applied.
func (v *Session) AbortRestart() error {
	v.restartOffer, v.restartLocal = nil, nil
	return v.transit("abort restart", SessionNegotiated, SessionRestarting)
}

// End stops the media and closes the engine. It's safe to call in any state, and
// only the first call releases the resources.
func (v *Session) End() error {
	v.lock.Lock()
	if v.state == SessionEnded {
		v.lock.Unlock()
		return nil
	}
	state := v.state
	v.state = SessionEnded
	v.lock.Unlock()

	var errs []error
	if v.source != nil {
		errs = append(errs, v.source.Close())
	}
	if v.pc != nil {
		errs = append(errs, v.pc.Close())
	}
	v.wg.Wait()
	if v.api != nil {
		errs = append(errs, v.api.Close())
	}

	logger.Tf(v.ctx, "Session ended from %v, %v, candidates=%v", state, v.sink.Stat(), len(v.Candidates()))
	return FilterContextError(errs...)
}
