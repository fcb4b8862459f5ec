// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/pion/ice/v2"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v2/vnet"
	"github.com/pion/webrtc/v3"
)

// The level of logs from the webrtc engine, warn by default.
var engineLogLevel = logging.LogLevelWarn

// SetEngineVerbose routes the debug logs of the webrtc engine.
func SetEngineVerbose(verbose bool) {
	if verbose {
		engineLogLevel = logging.LogLevelDebug
	} else {
		engineLogLevel = logging.LogLevelWarn
	}
}

func newEngineLoggerFactory() logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = engineLogLevel
	return lf
}

// The func to setup API, after the network is ready.
type APIOptionFunc func(api *API)

// API is the webrtc engine of a session, which owns the codecs, interceptors and
// an optional virtual network.
type API struct {
	// The api and settings.
	api           *webrtc.API
	registry      *interceptor.Registry
	mediaEngine   *webrtc.MediaEngine
	settingEngine *webrtc.SettingEngine
	// The vnet router, only for offline tests.
	router *vnet.Router
	// The network for api.
	network *vnet.Net
}

// The func to initialize API.
type APIInitFunc func(api *API) error

// RegisterDefaultCodecs registers the default codecs and interceptors of pion.
func RegisterDefaultCodecs(api *API) error {
	v := api

	if err := v.mediaEngine.RegisterDefaultCodecs(); err != nil {
		return errors.Wrap(err, "default codecs")
	}

	if err := webrtc.RegisterDefaultInterceptors(v.mediaEngine, v.registry); err != nil {
		return errors.Wrap(err, "default interceptors")
	}

	return nil
}

// RegisterMiniCodecs registers only opus and H.264, which is enough for publishing.
func RegisterMiniCodecs(api *API) error {
	v := api

	if err := v.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return errors.Wrap(err, "register opus")
	}

	videoRTCPFeedback := []webrtc.RTCPFeedback{{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"}}
	if err := v.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoRTCPFeedback,
		},
		PayloadType: 108,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return errors.Wrap(err, "register h264")
	}

	return nil
}

func NewAPI(inits ...APIInitFunc) (*API, error) {
	v := &API{}

	v.registry = &interceptor.Registry{}
	v.mediaEngine = &webrtc.MediaEngine{}
	v.settingEngine = &webrtc.SettingEngine{
		LoggerFactory: newEngineLoggerFactory(),
	}

	// Disable the mDNS to suppress the error:
	//		Failed to enable mDNS, continuing in mDNS disabled mode
	v.settingEngine.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)

	for _, setup := range inits {
		if setup == nil {
			continue
		}

		if err := setup(v); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// WithInterceptor registers an interceptor factory when setup.
func WithInterceptor(f interceptor.Factory) APIOptionFunc {
	return func(api *API) {
		api.registry.Add(f)
	}
}

func (v *API) Close() error {
	if v.router != nil {
		_ = v.router.Stop()
	}

	return nil
}

// Setup creates the webrtc api. When vnetClientIP is not empty, the api is bound
// to a private virtual network with that address, which never touches the host.
func (v *API) Setup(vnetClientIP string, options ...APIOptionFunc) error {
	setupVnet := func(vnetClientIP string) (err error) {
		if v.router, err = vnet.NewRouter(&vnet.RouterConfig{
			CIDR:          "0.0.0.0/0", // Accept all ip, no sub router.
			LoggerFactory: newEngineLoggerFactory(),
		}); err != nil {
			return errors.Wrapf(err, "create router for api")
		}

		if v.network, err = vnet.NewNet(&vnet.NetConfig{
			StaticIPs: []string{vnetClientIP},
		}); err != nil {
			return errors.Wrapf(err, "create network for api")
		}

		if err = v.router.AddNet(v.network); err != nil {
			return errors.Wrapf(err, "add network %v", vnetClientIP)
		}

		v.settingEngine.SetVNet(v.network)

		return v.router.Start()
	}
	if vnetClientIP != "" {
		if err := setupVnet(vnetClientIP); err != nil {
			return err
		}
	}

	// Apply options from params, for example, the RTCP sink.
	for _, setup := range options {
		setup(v)
	}

	v.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(v.mediaEngine),
		webrtc.WithInterceptorRegistry(v.registry),
		webrtc.WithSettingEngine(*v.settingEngine),
	)

	return nil
}

func (v *API) NewPeerConnection(configuration webrtc.Configuration) (*webrtc.PeerConnection, error) {
	if v.api == nil {
		return nil, errors.New("api not setup")
	}
	return v.api.NewPeerConnection(configuration)
}
