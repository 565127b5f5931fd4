//go:build linux && cgo

package media

import (
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

var (
	pipelineOnce  sync.Once
	pipelineErr   error
	codecSelector *mediadevices.CodecSelector
	webrtcAPI     *webrtc.API
)

// initPipeline builds the VP8+Opus codec selector and the webrtc.API that
// shares its media engine. The peer connection and the capture pipeline must
// agree on codecs or AddTrack fails.
func initPipeline() error {
	pipelineOnce.Do(func() {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			pipelineErr = err
			return
		}
		vpxParams.BitRate = 1_500_000

		opusParams, err := opus.NewParams()
		if err != nil {
			pipelineErr = err
			return
		}

		codecSelector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)

		mediaEngine := &webrtc.MediaEngine{}
		codecSelector.Populate(mediaEngine)

		registry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
			pipelineErr = err
			return
		}

		webrtcAPI = webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
		)
	})
	return pipelineErr
}

// WebRTCAPI returns the webrtc.API whose codecs match the capture pipeline.
func WebRTCAPI() (*webrtc.API, error) {
	if err := initPipeline(); err != nil {
		return nil, err
	}
	return webrtcAPI, nil
}

func captureUserMedia() (audio, video Track, err error) {
	if err := initPipeline(); err != nil {
		return nil, nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only: MJPEG camera nodes can poison the VP8
			// encoder. Cap the resolution to keep encode latency sane.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 1280}
			c.Height = prop.IntRanged{Max: 720}
		},
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, nil, err
	}
	for _, t := range stream.GetTracks() {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			audio = t
		case webrtc.RTPCodecTypeVideo:
			video = t
		}
	}
	if audio == nil || video == nil {
		for _, t := range stream.GetTracks() {
			_ = t.Close()
		}
		return nil, nil, errors.New("stream missing audio or video track")
	}
	return audio, video, nil
}

func captureDisplayMedia() (Track, error) {
	if err := initPipeline(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Video: func(*mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("display stream has no video track")
	}
	return tracks[0], nil
}
