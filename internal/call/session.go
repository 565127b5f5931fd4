// Package call drives one user's call lifecycle: ringing, negotiation,
// connected media and teardown. A Session lives for the whole app session and
// carries at most one active call at a time.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/channel"
	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/media"
	"github.com/studypair/callkit/internal/records"
	"github.com/studypair/callkit/internal/rtc"
	"github.com/studypair/callkit/internal/signal"
)

var (
	ErrBusy     = errors.New("another call is active")
	ErrNoCall   = errors.New("no active call")
	ErrBadState = errors.New("operation not allowed in this state")
	ErrNoMedia  = errors.New("local media not available")
)

const (
	defaultRingTimeout    = 35 * time.Second
	defaultReconnectGrace = 15 * time.Second
)

// Negotiator is the session's view of the per-call SDP/ICE machine.
type Negotiator interface {
	AddLocalTrack(track webrtc.TrackLocal) (media.Sender, error)
	CreateOffer() (webrtc.SessionDescription, error)
	HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	HandleAnswer(answer webrtc.SessionDescription) error
	AddRemoteCandidate(init webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnClosed(func())
	Close()
}

// Media is the session's view of local capture.
type Media interface {
	Acquire() error
	Tracks() (audio, video media.Track, err error)
	BindSenders(audio, video media.Sender)
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	StartScreenShare() error
	StopScreenShare() error
	OnScreenShareEnded(func())
	Sharing() bool
	StopAll()
}

type Config struct {
	Self domain.UserID

	RingTimeout    time.Duration
	ReconnectGrace time.Duration

	RTC rtc.Config
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = defaultRingTimeout
	}
	if out.ReconnectGrace <= 0 {
		out.ReconnectGrace = defaultReconnectGrace
	}
	return out
}

// pionNegotiator adapts *rtc.Negotiator to the Negotiator seam.
type pionNegotiator struct{ *rtc.Negotiator }

func (p pionNegotiator) AddLocalTrack(track webrtc.TrackLocal) (media.Sender, error) {
	sender, err := p.Negotiator.AddLocalTrack(track)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

// Session is the call state machine for one user. All transitions run under
// one mutex; channel handlers and app calls serialize through it.
type Session struct {
	cfg  Config
	ch   channel.Channel
	recs records.Synchronizer

	newNegotiator func(room domain.RoomID) (Negotiator, error)
	newMedia      func() Media
	now           func() time.Time

	mu    sync.Mutex
	cur   *domain.CallSession
	neg   Negotiator
	media Media

	ringTimer  *time.Timer
	graceTimer *time.Timer

	onState       func(domain.CallStatus)
	onIncoming    func(domain.CallSession)
	onRemoteTrack func(*webrtc.TrackRemote)
	onShareEnded  func()
}

func NewSession(cfg Config, ch channel.Channel, recs records.Synchronizer) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:  cfg,
		ch:   ch,
		recs: recs,
		newNegotiator: func(room domain.RoomID) (Negotiator, error) {
			api, err := media.WebRTCAPI()
			if err != nil {
				return nil, err
			}
			n, err := rtc.New(cfg.RTC, api, room)
			if err != nil {
				return nil, err
			}
			return pionNegotiator{n}, nil
		},
		newMedia: func() Media { return media.NewController() },
		now:      time.Now,
	}
	s.bindChannel()
	return s
}

func (s *Session) bindChannel() {
	s.ch.On(signal.TypeInvite, s.handleInvite)
	s.ch.On(signal.TypeAccept, s.handleAccept)
	s.ch.On(signal.TypeReject, s.handleReject)
	s.ch.On(signal.TypeBusy, s.handleBusy)
	s.ch.On(signal.TypeMissed, s.handleMissed)
	s.ch.On(signal.TypePeerJoined, s.handlePeerJoined)
	s.ch.On(signal.TypeOffer, s.handleOffer)
	s.ch.On(signal.TypeAnswer, s.handleAnswer)
	s.ch.On(signal.TypeCandidate, s.handleCandidate)
	s.ch.On(signal.TypeEnded, s.handleEnded)
	s.ch.OnDisconnect(s.handleDisconnect)
	s.ch.OnReconnect(s.handleReconnect)
}

// OnStateChange registers the app callback for lifecycle transitions.
func (s *Session) OnStateChange(fn func(domain.CallStatus)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnIncoming fires when a call rings in; the app answers with Accept or
// Reject.
func (s *Session) OnIncoming(fn func(domain.CallSession)) {
	s.mu.Lock()
	s.onIncoming = fn
	s.mu.Unlock()
}

// OnRemoteTrack fires for each remote media track.
func (s *Session) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	s.mu.Lock()
	s.onRemoteTrack = fn
	s.mu.Unlock()
}

// OnScreenShareEnded fires when the platform ends an active share without an
// explicit stop.
func (s *Session) OnScreenShareEnded(fn func()) {
	s.mu.Lock()
	s.onShareEnded = fn
	s.mu.Unlock()
}

// Status reports the current lifecycle state, IDLE when no call is active.
func (s *Session) Status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return domain.StatusIdle
	}
	return s.cur.Status
}

// Current returns a snapshot of the active call.
func (s *Session) Current() (domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return domain.CallSession{}, false
	}
	return *s.cur, true
}

// Initiate starts an outgoing call. The durable record is created first, then
// local media is acquired; a capture failure aborts before anything rings.
func (s *Session) Initiate(ctx context.Context, recipient domain.UserID, callType domain.CallType) (domain.CallSession, error) {
	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		return domain.CallSession{}, ErrBusy
	}
	// Hold the slot while the record and media come up.
	s.cur = &domain.CallSession{Status: domain.StatusIdle}
	s.mu.Unlock()

	res, err := s.recs.Initiate(ctx, s.cfg.Self, recipient, callType)
	if err != nil {
		s.clearSlot()
		return domain.CallSession{}, err
	}

	med := s.newMedia()
	if err := med.Acquire(); err != nil {
		s.finalizeAborted(ctx, res.CallID)
		s.clearSlot()
		return domain.CallSession{}, err
	}
	neg, err := s.setupNegotiation(med, res.RoomID)
	if err != nil {
		med.StopAll()
		s.finalizeAborted(ctx, res.CallID)
		s.clearSlot()
		return domain.CallSession{}, err
	}

	s.mu.Lock()
	s.cur = &domain.CallSession{
		CallID:      res.CallID,
		RoomID:      res.RoomID,
		CallerID:    s.cfg.Self,
		RecipientID: recipient,
		Type:        callType,
		Status:      domain.StatusRingingOut,
		StartedAt:   s.now(),
	}
	s.neg = neg
	s.media = med
	snap := *s.cur
	s.mu.Unlock()

	_ = s.ch.Send(signal.Message{
		Type:     signal.TypeInvite,
		CallID:   res.CallID,
		RoomID:   res.RoomID,
		From:     s.cfg.Self,
		To:       recipient,
		CallType: callType,
	})
	// The caller parks in the room first; the recipient's later join is what
	// triggers the offer on this side.
	_ = s.ch.JoinRoom(res.RoomID)
	s.armRingTimer(res.CallID, true)

	s.notifyState(domain.StatusRingingOut)
	log.Info().Str("module", "call").Str("call_id", string(res.CallID)).
		Str("recipient", string(recipient)).Str("type", string(callType)).Msg("outgoing call")
	return snap, nil
}

// Accept answers the ringing incoming call.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		return ErrNoCall
	}
	if s.cur.Status != domain.StatusRingingIn {
		s.mu.Unlock()
		return ErrBadState
	}
	snap := *s.cur
	s.mu.Unlock()

	med := s.newMedia()
	if err := med.Acquire(); err != nil {
		// Without local media the call cannot proceed; the caller hears a
		// reject rather than ringing out forever.
		_ = s.ch.Send(signal.Message{Type: signal.TypeReject, CallID: snap.CallID, From: s.cfg.Self, To: snap.CallerID})
		s.teardown(domain.StatusRejected)
		return err
	}
	neg, err := s.setupNegotiation(med, snap.RoomID)
	if err != nil {
		med.StopAll()
		_ = s.ch.Send(signal.Message{Type: signal.TypeReject, CallID: snap.CallID, From: s.cfg.Self, To: snap.CallerID})
		s.teardown(domain.StatusRejected)
		return err
	}

	s.mu.Lock()
	if s.cur == nil || s.cur.CallID != snap.CallID {
		s.mu.Unlock()
		neg.Close()
		med.StopAll()
		return ErrNoCall
	}
	s.stopTimersLocked()
	s.cur.Status = domain.StatusAccepted
	s.neg = neg
	s.media = med
	s.mu.Unlock()

	_ = s.ch.Send(signal.Message{Type: signal.TypeAccept, CallID: snap.CallID, RoomID: snap.RoomID, From: s.cfg.Self, To: snap.CallerID})
	_ = s.ch.JoinRoom(snap.RoomID)
	s.notifyState(domain.StatusAccepted)
	log.Info().Str("module", "call").Str("call_id", string(snap.CallID)).Msg("call accepted")
	return nil
}

// Reject declines the ringing incoming call.
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		return ErrNoCall
	}
	if s.cur.Status != domain.StatusRingingIn {
		s.mu.Unlock()
		return ErrBadState
	}
	snap := *s.cur
	s.mu.Unlock()

	_ = s.ch.Send(signal.Message{Type: signal.TypeReject, CallID: snap.CallID, From: s.cfg.Self, To: snap.CallerID})
	s.teardown(domain.StatusRejected)
	return nil
}

// Hangup ends the active call from this side. Cancelling an unanswered
// outgoing ring is a missed call on both sides, not an ended one.
func (s *Session) Hangup() error {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		return ErrNoCall
	}
	snap := *s.cur
	s.mu.Unlock()

	other := snap.RecipientID
	if !snap.Outgoing(s.cfg.Self) {
		other = snap.CallerID
	}
	if snap.Status == domain.StatusRingingOut {
		_ = s.ch.Send(signal.Message{Type: signal.TypeMissed, CallID: snap.CallID, From: s.cfg.Self, To: other})
		s.teardown(domain.StatusMissed)
		return nil
	}
	end := snap
	end.EndedAt = s.now()
	_ = s.ch.Send(signal.Message{
		Type:     signal.TypeEnded,
		CallID:   snap.CallID,
		RoomID:   snap.RoomID,
		From:     s.cfg.Self,
		To:       other,
		Duration: end.Duration(),
	})
	s.teardown(domain.StatusEnded)
	return nil
}

// ToggleAudio flips the microphone for the active call.
func (s *Session) ToggleAudio() (bool, error) {
	med := s.activeMedia()
	if med == nil {
		return false, ErrNoMedia
	}
	return med.ToggleAudio()
}

// ToggleVideo flips the camera for the active call.
func (s *Session) ToggleVideo() (bool, error) {
	med := s.activeMedia()
	if med == nil {
		return false, ErrNoMedia
	}
	return med.ToggleVideo()
}

// StartScreenShare swaps the outgoing video for a display capture.
func (s *Session) StartScreenShare() error {
	med := s.activeMedia()
	if med == nil {
		return ErrNoMedia
	}
	return med.StartScreenShare()
}

// StopScreenShare restores the camera on the outgoing video sender.
func (s *Session) StopScreenShare() error {
	med := s.activeMedia()
	if med == nil {
		return ErrNoMedia
	}
	return med.StopScreenShare()
}

func (s *Session) Sharing() bool {
	med := s.activeMedia()
	return med != nil && med.Sharing()
}

func (s *Session) activeMedia() Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// setupNegotiation builds the negotiator, attaches the local tracks and wires
// candidate/track/transport callbacks.
func (s *Session) setupNegotiation(med Media, room domain.RoomID) (Negotiator, error) {
	neg, err := s.newNegotiator(room)
	if err != nil {
		return nil, err
	}
	audio, video, err := med.Tracks()
	if err != nil {
		neg.Close()
		return nil, err
	}
	audioSender, err := neg.AddLocalTrack(audio)
	if err != nil {
		neg.Close()
		return nil, err
	}
	videoSender, err := neg.AddLocalTrack(video)
	if err != nil {
		neg.Close()
		return nil, err
	}
	med.BindSenders(audioSender, videoSender)
	med.OnScreenShareEnded(func() {
		s.mu.Lock()
		notify := s.onShareEnded
		s.mu.Unlock()
		if notify != nil {
			notify()
		}
	})

	neg.OnICECandidate(func(init webrtc.ICECandidateInit) {
		cand := signal.CandidateFromInit(init)
		_ = s.ch.Send(signal.Message{Type: signal.TypeCandidate, RoomID: room, From: s.cfg.Self, Candidate: &cand})
	})
	neg.OnRemoteTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.handleRemoteTrack(track)
	})
	neg.OnClosed(func() {
		s.handleTransportClosed(room)
	})
	return neg, nil
}

/* ===================== channel handlers ===================== */

func (s *Session) handleInvite(msg signal.Message) {
	s.mu.Lock()
	if s.cur != nil {
		dup := s.cur.CallID == msg.CallID
		s.mu.Unlock()
		if !dup {
			// Defensive: the server enforces the busy guard, but an invite can
			// race our own initiate.
			_ = s.ch.Send(signal.Message{Type: signal.TypeBusy, CallID: msg.CallID, From: s.cfg.Self, To: msg.From})
		}
		return
	}
	s.cur = &domain.CallSession{
		CallID:      msg.CallID,
		RoomID:      msg.RoomID,
		CallerID:    msg.From,
		RecipientID: s.cfg.Self,
		Type:        msg.CallType,
		Status:      domain.StatusRingingIn,
		StartedAt:   s.now(),
	}
	snap := *s.cur
	incoming := s.onIncoming
	s.mu.Unlock()

	s.armRingTimer(msg.CallID, false)
	s.notifyState(domain.StatusRingingIn)
	if incoming != nil {
		incoming(snap)
	}
	log.Info().Str("module", "call").Str("call_id", string(msg.CallID)).
		Str("caller", string(msg.From)).Msg("incoming call")
}

func (s *Session) handleAccept(msg signal.Message) {
	s.mu.Lock()
	if s.cur == nil || s.cur.CallID != msg.CallID || s.cur.Status != domain.StatusRingingOut {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.cur.Status = domain.StatusAccepted
	s.mu.Unlock()
	s.notifyState(domain.StatusAccepted)
}

func (s *Session) handleReject(msg signal.Message) {
	if !s.matchesCurrent(msg.CallID) {
		return
	}
	s.teardown(domain.StatusRejected)
}

func (s *Session) handleBusy(msg signal.Message) {
	if !s.matchesCurrent(msg.CallID) {
		return
	}
	s.teardown(domain.StatusBusy)
}

func (s *Session) handleMissed(msg signal.Message) {
	if !s.matchesCurrent(msg.CallID) {
		return
	}
	s.teardown(domain.StatusMissed)
}

// handlePeerJoined makes this side the offerer. Only the party already in the
// room receives it, which keeps offer/answer roles disjoint.
func (s *Session) handlePeerJoined(msg signal.Message) {
	s.mu.Lock()
	if s.cur == nil || s.cur.RoomID != msg.RoomID || s.neg == nil {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	snap := *s.cur
	s.mu.Unlock()

	offer, err := neg.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("call_id", string(snap.CallID)).Msg("create offer")
		return
	}
	_ = s.ch.Send(signal.Message{Type: signal.TypeOffer, RoomID: snap.RoomID, From: s.cfg.Self, SDP: offer.SDP})
	s.advanceToConnecting(snap.CallID)
}

func (s *Session) handleOffer(msg signal.Message) {
	s.mu.Lock()
	if s.cur == nil || s.cur.RoomID != msg.RoomID || s.neg == nil {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	snap := *s.cur
	s.mu.Unlock()

	answer, err := neg.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
	if err != nil {
		if !errors.Is(err, rtc.ErrUnexpectedState) {
			log.Error().Err(err).Str("module", "call").Str("call_id", string(snap.CallID)).Msg("handle offer")
		}
		return
	}
	_ = s.ch.Send(signal.Message{Type: signal.TypeAnswer, RoomID: snap.RoomID, From: s.cfg.Self, SDP: answer.SDP})
	s.advanceToConnecting(snap.CallID)
}

// advanceToConnecting moves the call to CONNECTING once an offer or answer is
// actually on the wire. The call may have torn down or connected meanwhile.
func (s *Session) advanceToConnecting(callID domain.CallID) {
	s.mu.Lock()
	advanced := s.cur != nil && s.cur.CallID == callID &&
		s.cur.Status != domain.StatusConnected && !s.cur.Status.Terminal()
	if advanced {
		s.cur.Status = domain.StatusConnecting
	}
	s.mu.Unlock()
	if advanced {
		s.notifyState(domain.StatusConnecting)
	}
}

func (s *Session) handleAnswer(msg signal.Message) {
	s.mu.Lock()
	if s.cur == nil || s.cur.RoomID != msg.RoomID || s.neg == nil {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	if err := neg.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil && !errors.Is(err, rtc.ErrUnexpectedState) {
		log.Error().Err(err).Str("module", "call").Msg("handle answer")
	}
}

func (s *Session) handleCandidate(msg signal.Message) {
	s.mu.Lock()
	if s.cur == nil || s.cur.RoomID != msg.RoomID || s.neg == nil || msg.Candidate == nil {
		s.mu.Unlock()
		return
	}
	neg := s.neg
	s.mu.Unlock()

	if err := neg.AddRemoteCandidate(msg.Candidate.ToInit()); err != nil && !errors.Is(err, rtc.ErrClosed) {
		log.Warn().Err(err).Str("module", "call").Msg("remote candidate")
	}
}

func (s *Session) handleEnded(msg signal.Message) {
	s.mu.Lock()
	if s.cur == nil || s.cur.CallID != msg.CallID {
		s.mu.Unlock()
		return
	}
	// A canceled ring is a missed call on this side, not an ended one.
	status := domain.StatusEnded
	if s.cur.Status == domain.StatusRingingIn {
		status = domain.StatusMissed
	}
	s.mu.Unlock()
	s.teardown(status)
}

func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		return
	}
	first := s.cur.ConnectedAt.IsZero()
	if first {
		s.cur.ConnectedAt = s.now()
		s.cur.Status = domain.StatusConnected
		s.stopTimersLocked()
	}
	onTrack := s.onRemoteTrack
	s.mu.Unlock()

	if onTrack != nil {
		onTrack(track)
	}
	if first {
		s.notifyState(domain.StatusConnected)
		log.Info().Str("module", "call").Msg("call connected")
	}
}

// handleTransportClosed reacts to peer connection failure underneath an
// otherwise live call.
func (s *Session) handleTransportClosed(room domain.RoomID) {
	s.mu.Lock()
	active := s.cur != nil && s.cur.RoomID == room && !s.cur.Status.Terminal()
	connected := active && s.cur.Status == domain.StatusConnected
	s.mu.Unlock()
	if !connected {
		return
	}
	log.Warn().Str("module", "call").Msg("peer transport lost")
	s.teardown(domain.StatusEnded)
}

// handleDisconnect starts the reconnect grace window when signaling drops
// mid-call.
func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	if s.cur == nil || s.cur.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	callID := s.cur.CallID
	if s.graceTimer != nil {
		s.mu.Unlock()
		return
	}
	s.graceTimer = time.AfterFunc(s.cfg.ReconnectGrace, func() {
		s.mu.Lock()
		stale := s.cur == nil || s.cur.CallID != callID
		s.mu.Unlock()
		if stale {
			return
		}
		log.Warn().Str("module", "call").Str("call_id", string(callID)).Msg("signaling lost beyond grace, ending call")
		s.teardown(domain.StatusEnded)
	})
	s.mu.Unlock()
	log.Warn().Err(err).Str("module", "call").Str("call_id", string(callID)).Msg("signaling lost mid-call")
}

// handleReconnect cancels the grace window and rejoins the call room; the
// channel itself never rejoins rooms.
func (s *Session) handleReconnect() {
	s.mu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	var room domain.RoomID
	if s.cur != nil && !s.cur.Status.Terminal() {
		room = s.cur.RoomID
	}
	s.mu.Unlock()
	if room != "" {
		_ = s.ch.JoinRoom(room)
	}
}

/* ===================== timers / teardown ===================== */

// armRingTimer converts an unanswered ring into a missed call. The caller
// also tells the other side; the recipient times out silently.
func (s *Session) armRingTimer(callID domain.CallID, outgoing bool) {
	s.mu.Lock()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() {
		s.mu.Lock()
		live := s.cur != nil && s.cur.CallID == callID &&
			(s.cur.Status == domain.StatusRingingOut || s.cur.Status == domain.StatusRingingIn)
		var snap domain.CallSession
		if live {
			snap = *s.cur
		}
		s.mu.Unlock()
		if !live {
			return
		}
		if outgoing {
			_ = s.ch.Send(signal.Message{Type: signal.TypeMissed, CallID: callID, From: s.cfg.Self, To: snap.RecipientID})
		}
		log.Info().Str("module", "call").Str("call_id", string(callID)).Msg("ring timed out")
		s.teardown(domain.StatusMissed)
	})
	s.mu.Unlock()
}

func (s *Session) stopTimersLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// clearSlot releases the reservation taken at the start of Initiate.
func (s *Session) clearSlot() {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
}

// finalizeAborted closes the record of a call that died before ringing.
func (s *Session) finalizeAborted(ctx context.Context, callID domain.CallID) {
	err := s.recs.Finalize(ctx, records.Finalization{
		CallID:  callID,
		Status:  domain.StatusEnded,
		EndedAt: s.now(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("call_id", string(callID)).Msg("finalize aborted call")
	}
}

// teardown is the single exit path for every terminal status. It is
// idempotent: the first terminal transition wins and later calls are no-ops.
func (s *Session) teardown(status domain.CallStatus) {
	s.mu.Lock()
	if s.cur == nil {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	sess := s.cur
	sess.Status = status
	if sess.EndedAt.IsZero() {
		sess.EndedAt = s.now()
	}
	snap := *sess
	neg := s.neg
	med := s.media
	s.cur = nil
	s.neg = nil
	s.media = nil
	s.mu.Unlock()

	if neg != nil {
		neg.Close()
	}
	if med != nil {
		med.StopAll()
	}
	if snap.RoomID != "" {
		_ = s.ch.LeaveRoom(snap.RoomID)
	}

	fin := records.Finalization{
		CallID:      snap.CallID,
		Status:      status,
		ConnectedAt: snap.ConnectedAt,
		EndedAt:     snap.EndedAt,
		Duration:    snap.Duration(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recs.Finalize(ctx, fin); err != nil {
		// Record durability never blocks teardown; the backend reconciles on
		// the other party's finalize or on retry.
		log.Error().Err(err).Str("module", "call").Str("call_id", string(snap.CallID)).Msg("finalize call record")
	}

	s.notifyState(status)
	log.Info().Str("module", "call").Str("call_id", string(snap.CallID)).
		Str("status", string(status)).Int("duration", snap.Duration()).Msg("call torn down")
}

func (s *Session) matchesCurrent(callID domain.CallID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.CallID == callID
}

func (s *Session) notifyState(status domain.CallStatus) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
