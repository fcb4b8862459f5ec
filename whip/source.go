// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/h264reader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// An opus frame of 20ms silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

type MediaSourceOptionFunc func(v *MediaSource)

// WithAudioFile publishes the opus in an ogg file instead of silence.
func WithAudioFile(source string) MediaSourceOptionFunc {
	return func(v *MediaSource) {
		v.audioFile = source
	}
}

// WithVideoFile publishes the H.264 annexb file at fps. Without a file, the video
// track sends nothing.
func WithVideoFile(source string, fps int) MediaSourceOptionFunc {
	return func(v *MediaSource) {
		v.videoFile, v.fps = source, fps
	}
}

// MediaSource is a sendonly audio and video track pair, which loops over the disk
// files or sends silence.
type MediaSource struct {
	audioFile string
	videoFile string
	fps       int

	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMediaSource(options ...MediaSourceOptionFunc) (*MediaSource, error) {
	v := &MediaSource{fps: 25}
	for _, opt := range options {
		opt(v)
	}

	if v.fps <= 0 {
		return nil, errors.Errorf("invalid fps %v", v.fps)
	}

	var err error
	if v.audio, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "whip",
	); err != nil {
		return nil, errors.Wrapf(err, "create audio track")
	}

	if v.video, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, "video", "whip",
	); err != nil {
		return nil, errors.Wrapf(err, "create video track")
	}

	return v, nil
}

// Tracks returns the audio and video track, in order.
func (v *MediaSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{v.audio, v.video}
}

// Start writing samples until Close. The samples are dropped until the tracks are
// bound to a negotiated transport.
func (v *MediaSource) Start(ctx context.Context) {
	if v.cancel != nil {
		return
	}
	ctx, v.cancel = context.WithCancel(ctx)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		if v.audioFile == "" {
			v.writeSilence(ctx)
			return
		}

		for ctx.Err() == nil {
			if err := v.readAudioFromDisk(ctx); err != nil {
				logger.Wf(ctx, "Ignore audio err %+v", err)
				return
			}
			logger.If(ctx, "EOF, restart ingest audio %v", v.audioFile)
		}
	}()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		if v.videoFile == "" {
			return
		}

		for ctx.Err() == nil {
			if err := v.readVideoFromDisk(ctx); err != nil {
				logger.Wf(ctx, "Ignore video err %+v", err)
				return
			}
			logger.If(ctx, "EOF, restart ingest video %v", v.videoFile)
		}
	}()
}

// Close stops writing and waits for the writers to quit. It's safe to call
// multiple times, or without Start.
func (v *MediaSource) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	return nil
}

func (v *MediaSource) writeSilence(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := v.audio.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}); err != nil {
			logger.Wf(ctx, "Ignore silence err %+v", err)
			return
		}
	}
}

func (v *MediaSource) readAudioFromDisk(ctx context.Context) error {
	f, err := os.Open(v.audioFile)
	if err != nil {
		return errors.Wrapf(err, "open file %v", v.audioFile)
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return errors.Wrapf(err, "open ogg %v", v.audioFile)
	}

	clock := newWallClock()
	var lastGranule uint64

	for ctx.Err() == nil {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read ogg")
		}

		// The amount of samples is the difference between the last and current timestamp
		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration(uint64(time.Millisecond) * 1000 * sampleCount / 48000)

		if err = v.audio.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			return errors.Wrapf(err, "write sample")
		}

		if d := clock.Tick(sampleDuration); d > 0 {
			time.Sleep(d)
		}
	}

	return nil
}

func (v *MediaSource) readVideoFromDisk(ctx context.Context) error {
	f, err := os.Open(v.videoFile)
	if err != nil {
		return errors.Wrapf(err, "open file %v", v.videoFile)
	}
	defer f.Close()

	h264, err := h264reader.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "open h264 %v", v.videoFile)
	}

	clock := newWallClock()
	sampleDuration := time.Duration(uint64(time.Millisecond) * 1000 / uint64(v.fps))
	for nn := 0; ctx.Err() == nil; nn++ {
		frame, err := h264.NextNAL()
		if err == io.EOF && nn == 0 {
			return errors.Errorf("no frame in %v", v.videoFile)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read h264")
		}

		// The SPS and PPS share the timestamp of the next frame.
		duration := sampleDuration
		if frame.UnitType == h264reader.NalUnitTypeSPS || frame.UnitType == h264reader.NalUnitTypePPS {
			duration = 0
		}

		if err = v.video.WriteSample(media.Sample{Data: frame.Data, Duration: duration}); err != nil {
			return errors.Wrapf(err, "write sample")
		}

		if d := clock.Tick(duration); d > 0 {
			time.Sleep(d)
		}
	}

	return nil
}

type wallClock struct {
	start    time.Time
	duration time.Duration
}

func newWallClock() *wallClock {
	return &wallClock{start: time.Now()}
}

// Tick returns how long to sleep to keep pace with the wall clock.
func (v *wallClock) Tick(d time.Duration) time.Duration {
	v.duration += d

	wc := time.Since(v.start)
	re := v.duration - wc
	if re > 30*time.Millisecond {
		return re
	}
	return 0
}
