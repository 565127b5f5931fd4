//go:build !linux || !cgo

package media

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// WebRTCAPI builds a default-codec API. Capture via pion/mediadevices needs
// platform drivers (V4L2/malgo/X11) that only ship for Linux here; other
// platforms can still run the signaling and receive side.
func WebRTCAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func captureUserMedia() (Track, Track, error) {
	return nil, nil, ErrCaptureUnsupported
}

func captureDisplayMedia() (Track, error) {
	return nil, ErrCaptureUnsupported
}
