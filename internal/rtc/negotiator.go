// Package rtc owns the per-call peer connection and the offer/answer/candidate
// negotiation state. A Negotiator lives for exactly one call session and is
// discarded on Close; it is never reused across sessions.
package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/domain"
)

type State int

const (
	StateNew State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateHaveLocalOffer:
		return "HAVE_LOCAL_OFFER"
	case StateHaveRemoteOffer:
		return "HAVE_REMOTE_OFFER"
	case StateStable:
		return "STABLE"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var (
	ErrClosed          = errors.New("negotiator closed")
	ErrUnexpectedState = errors.New("unexpected negotiation state")
)

// peer is the subset of *webrtc.PeerConnection the negotiator drives.
type peer interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(func(*webrtc.ICECandidate))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

type Config struct {
	STUNURLs     []string
	TURNURLs     []string
	TURNUsername string
	TURNPassword string
}

func (c Config) webrtcConfiguration() webrtc.Configuration {
	servers := []webrtc.ICEServer{}
	if len(c.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNURLs})
	}
	if len(c.TURNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNURLs,
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

type Negotiator struct {
	mu        sync.Mutex
	pc        peer
	room      domain.RoomID
	state     State
	remoteSet bool
	// Candidates that arrived before the remote description; drained in
	// arrival order as soon as it is set.
	pending []webrtc.ICECandidateInit

	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onClosed   func()
	closedOnce sync.Once
}

// New builds a Negotiator over a fresh PeerConnection. api carries the media
// engine whose codecs match the local capture pipeline; nil falls back to the
// pion defaults (receive-only use).
func New(cfg Config, api *webrtc.API, room domain.RoomID) (*Negotiator, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg.webrtcConfiguration())
	} else {
		pc, err = webrtc.NewPeerConnection(cfg.webrtcConfiguration())
	}
	if err != nil {
		return nil, err
	}
	return newWithPeer(pc, room), nil
}

func newWithPeer(pc peer, room domain.RoomID) *Negotiator {
	n := &Negotiator{pc: pc, room: room, state: StateNew}

	// Local candidates go to the peer as soon as they are gathered; candidate
	// generation is decoupled from the SDP exchange.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		n.mu.Lock()
		fn := n.onICE
		n.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		n.mu.Lock()
		fn := n.onTrack
		n.mu.Unlock()
		if fn != nil {
			fn(track, recv)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("room", string(n.room)).Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			n.mu.Lock()
			fn := n.onClosed
			n.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})
	return n
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// OnICECandidate sets the callback for newly gathered local candidates.
func (n *Negotiator) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	n.mu.Lock()
	n.onICE = fn
	n.mu.Unlock()
}

// OnRemoteTrack sets the callback invoked when remote media arrives.
func (n *Negotiator) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	n.mu.Lock()
	n.onTrack = fn
	n.mu.Unlock()
}

// OnClosed sets the callback for transport-level connection loss.
func (n *Negotiator) OnClosed(fn func()) {
	n.mu.Lock()
	n.onClosed = fn
	n.mu.Unlock()
}

// AddLocalTrack attaches a local track before the offer/answer exchange.
func (n *Negotiator) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return nil, ErrClosed
	}
	return n.pc.AddTrack(track)
}

// CreateOffer produces and installs the local offer. Only the participant
// already in the room offers (on peer-joined), so glare cannot happen.
func (n *Negotiator) CreateOffer() (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateNew {
		return webrtc.SessionDescription{}, ErrUnexpectedState
	}
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	n.state = StateHaveLocalOffer
	return offer, nil
}

// HandleOffer applies a remote offer, drains buffered candidates and returns
// the installed answer. A duplicate offer after STABLE resolves to
// ErrUnexpectedState so retransmissions are ignored by the caller.
func (n *Negotiator) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateNew {
		return webrtc.SessionDescription{}, ErrUnexpectedState
	}
	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	n.state = StateHaveRemoteOffer
	n.remoteSet = true
	if err := n.drainLocked(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	n.state = StateStable
	return answer, nil
}

// HandleAnswer applies the remote answer and drains buffered candidates.
func (n *Negotiator) HandleAnswer(answer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateHaveLocalOffer {
		return ErrUnexpectedState
	}
	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	n.remoteSet = true
	n.state = StateStable
	return n.drainLocked()
}

// AddRemoteCandidate applies the candidate now if the remote description is
// set, otherwise buffers it. Candidates routinely race the offer/answer
// exchange; none may be dropped.
func (n *Negotiator) AddRemoteCandidate(init webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return ErrClosed
	}
	if !n.remoteSet {
		n.pending = append(n.pending, init)
		return nil
	}
	return n.pc.AddICECandidate(init)
}

// drainLocked applies buffered candidates in their original arrival order.
func (n *Negotiator) drainLocked() error {
	for _, c := range n.pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	n.pending = nil
	return nil
}

// Close tears the peer connection down. CLOSED is terminal and irreversible;
// a new call always allocates a fresh Negotiator.
func (n *Negotiator) Close() {
	n.closedOnce.Do(func() {
		n.mu.Lock()
		n.state = StateClosed
		n.pending = nil
		pc := n.pc
		n.mu.Unlock()
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("room", string(n.room)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("room", string(n.room)).Msg("closed")
		}
	})
}

func (n *Negotiator) Closed() bool { return n.State() == StateClosed }
