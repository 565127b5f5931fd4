// Package media acquires and owns the local capture tracks for one call:
// camera, microphone and the optional screen-share feed. Mute and screen
// share are track-level operations on already-negotiated senders; nothing
// here triggers SDP renegotiation.
package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCapture wraps camera/microphone acquisition failures (permission
	// denied, no device). The call must not proceed to negotiation on it.
	ErrCapture = errors.New("media capture failed")
	// ErrCaptureUnsupported is returned on platforms without a capture
	// driver.
	ErrCaptureUnsupported = errors.New("media capture unsupported on this platform")
	ErrNotAcquired        = errors.New("local media not acquired")
	ErrStopped            = errors.New("media controller stopped")
)

// Track is the controller's view of a local capture track. Satisfied by
// mediadevices.Track and by test fakes.
type Track interface {
	webrtc.TrackLocal
	OnEnded(func(error))
	Close() error
}

// Sender is the outbound half of a negotiated track, normally a
// *webrtc.RTPSender.
type Sender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// Controller owns local media for exactly one call session.
type Controller struct {
	mu sync.Mutex

	captureUser   func() (audio, video Track, err error)
	captureScreen func() (Track, error)

	audio  Track
	video  Track
	screen Track

	audioSender Sender
	videoSender Sender

	audioEnabled bool
	videoEnabled bool
	sharing      bool
	stopped      bool

	onShareEnded func()
}

func NewController() *Controller {
	return &Controller{
		captureUser:   captureUserMedia,
		captureScreen: captureDisplayMedia,
	}
}

// Acquire requests camera and microphone. Failure surfaces as a typed error;
// there is no silent receive-only fallback here because a call without local
// media must not reach negotiation.
func (c *Controller) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.audio != nil || c.video != nil {
		return nil
	}
	audio, video, err := c.captureUser()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}
	c.audio, c.video = audio, video
	c.audioEnabled, c.videoEnabled = true, true
	log.Info().Str("module", "media").Msg("local media acquired")
	return nil
}

// Tracks returns the outbound audio and video tracks for negotiation.
func (c *Controller) Tracks() (audio, video Track, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audio == nil || c.video == nil {
		return nil, nil, ErrNotAcquired
	}
	return c.audio, c.video, nil
}

// BindSenders attaches the negotiated senders so mute and screen share can
// swap tracks in place.
func (c *Controller) BindSenders(audio, video Sender) {
	c.mu.Lock()
	c.audioSender = audio
	c.videoSender = video
	c.mu.Unlock()
}

// ToggleAudio flips the microphone. The sender keeps its negotiated m-line;
// muting detaches the track so nothing is transmitted until unmute.
func (c *Controller) ToggleAudio() (enabled bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false, ErrStopped
	}
	if c.audio == nil {
		return false, ErrNotAcquired
	}
	c.audioEnabled = !c.audioEnabled
	if c.audioSender != nil {
		if c.audioEnabled {
			err = c.audioSender.ReplaceTrack(c.audio)
		} else {
			err = c.audioSender.ReplaceTrack(nil)
		}
	}
	return c.audioEnabled, err
}

// ToggleVideo flips the camera. While a screen share is active only the flag
// flips; the camera state takes effect again when the share stops.
func (c *Controller) ToggleVideo() (enabled bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false, ErrStopped
	}
	if c.video == nil {
		return false, ErrNotAcquired
	}
	c.videoEnabled = !c.videoEnabled
	if c.videoSender != nil && !c.sharing {
		if c.videoEnabled {
			err = c.videoSender.ReplaceTrack(c.video)
		} else {
			err = c.videoSender.ReplaceTrack(nil)
		}
	}
	return c.videoEnabled, err
}

// OnScreenShareEnded registers a callback fired when the share stops without
// an explicit toggle (the platform terminated the capture).
func (c *Controller) OnScreenShareEnded(fn func()) {
	c.mu.Lock()
	c.onShareEnded = fn
	c.mu.Unlock()
}

// StartScreenShare captures the display and swaps it onto the video sender.
// The camera track is retained for restore and the audio sender is untouched.
// On capture failure the camera stays active.
func (c *Controller) StartScreenShare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.videoSender == nil || c.video == nil {
		return ErrNotAcquired
	}
	if c.sharing {
		return nil
	}
	screen, err := c.captureScreen()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}
	if err := c.videoSender.ReplaceTrack(screen); err != nil {
		_ = screen.Close()
		return err
	}
	c.screen = screen
	c.sharing = true
	// The user can end the capture from the OS picker; that must follow the
	// same stop path as an explicit toggle or the sender dangles.
	screen.OnEnded(func(error) {
		stopped, err := c.stopShare()
		if err != nil || !stopped {
			return
		}
		c.mu.Lock()
		notify := c.onShareEnded
		c.mu.Unlock()
		if notify != nil {
			notify()
		}
	})
	log.Info().Str("module", "media").Msg("screen share started")
	return nil
}

// StopScreenShare restores the retained camera track on the video sender and
// releases the screen capture. Safe to call when no share is active.
func (c *Controller) StopScreenShare() error {
	_, err := c.stopShare()
	return err
}

// stopShare reports whether this call actually performed the stop, so the
// OnEnded path only notifies once.
func (c *Controller) stopShare() (bool, error) {
	c.mu.Lock()
	if !c.sharing {
		c.mu.Unlock()
		return false, nil
	}
	var restore webrtc.TrackLocal
	if c.videoEnabled {
		restore = c.video
	}
	if c.videoSender != nil {
		if err := c.videoSender.ReplaceTrack(restore); err != nil {
			c.mu.Unlock()
			return false, err
		}
	}
	screen := c.screen
	c.screen = nil
	c.sharing = false
	c.mu.Unlock()

	// Close outside the lock: the capture driver may fire OnEnded
	// synchronously from Close.
	if screen != nil {
		_ = screen.Close()
	}
	log.Info().Str("module", "media").Msg("screen share stopped")
	return true, nil
}

func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// StopAll releases every local track, camera and microphone hardware
// included. It runs on every teardown path and is idempotent.
func (c *Controller) StopAll() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	tracks := []Track{c.screen, c.audio, c.video}
	c.screen, c.audio, c.video = nil, nil, nil
	c.audioSender, c.videoSender = nil, nil
	c.sharing = false
	c.mu.Unlock()

	for _, t := range tracks {
		if t != nil {
			_ = t.Close()
		}
	}
	log.Info().Str("module", "media").Msg("local media released")
}
