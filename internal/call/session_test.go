package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/studypair/callkit/internal/channel"
	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/media"
	"github.com/studypair/callkit/internal/records"
	"github.com/studypair/callkit/internal/signal"
)

/* ===================== fakes ===================== */

type fakeChannel struct {
	mu       sync.Mutex
	sent     []signal.Message
	joined   []domain.RoomID
	left     []domain.RoomID
	handlers map[string][]channel.Handler
	onDrop   func(error)
	onRedial func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]channel.Handler)}
}

func (c *fakeChannel) Connect(context.Context) error { return nil }
func (c *fakeChannel) Close()                        {}

func (c *fakeChannel) JoinRoom(room domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, room)
	return nil
}

func (c *fakeChannel) LeaveRoom(room domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, room)
	return nil
}

func (c *fakeChannel) Send(msg signal.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) On(msgType string, h channel.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

func (c *fakeChannel) OnDisconnect(fn func(error)) { c.onDrop = fn }
func (c *fakeChannel) OnReconnect(fn func())       { c.onRedial = fn }

func (c *fakeChannel) deliver(msg signal.Message) {
	c.mu.Lock()
	hs := append([]channel.Handler(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}

func (c *fakeChannel) sentOf(msgType string) []signal.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signal.Message
	for _, m := range c.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeSender struct{ current webrtc.TrackLocal }

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.current = t
	return nil
}

type fakeTrack struct {
	kind    webrtc.RTPCodecType
	onEnded func(error)
	closed  bool
}

func (t *fakeTrack) ID() string                { return "t" }
func (t *fakeTrack) RID() string               { return "" }
func (t *fakeTrack) StreamID() string          { return "s" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) OnEnded(fn func(error))                { t.onEnded = fn }
func (t *fakeTrack) Close() error                          { t.closed = true; return nil }

type fakeMedia struct {
	mu         sync.Mutex
	acquireErr error
	acquired   bool
	stopped    int
	sharing    bool
	audio      *fakeTrack
	video      *fakeTrack
}

func (m *fakeMedia) Acquire() error {
	if m.acquireErr != nil {
		return m.acquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired = true
	m.audio = &fakeTrack{kind: webrtc.RTPCodecTypeAudio}
	m.video = &fakeTrack{kind: webrtc.RTPCodecTypeVideo}
	return nil
}

func (m *fakeMedia) Tracks() (media.Track, media.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acquired {
		return nil, nil, media.ErrNotAcquired
	}
	return m.audio, m.video, nil
}

func (m *fakeMedia) BindSenders(media.Sender, media.Sender) {}
func (m *fakeMedia) ToggleAudio() (bool, error)             { return false, nil }
func (m *fakeMedia) ToggleVideo() (bool, error)             { return false, nil }
func (m *fakeMedia) StartScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing = true
	return nil
}
func (m *fakeMedia) StopScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing = false
	return nil
}
func (m *fakeMedia) OnScreenShareEnded(func()) {}
func (m *fakeMedia) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}
func (m *fakeMedia) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

type fakeNegotiator struct {
	mu            sync.Mutex
	tracks        []webrtc.TrackLocal
	offers        int
	remoteOffers  []string
	remoteAnswers []string
	candidates    []webrtc.ICECandidateInit
	closed        int
	offerErr      error

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onClosed func()
}

func (n *fakeNegotiator) AddLocalTrack(t webrtc.TrackLocal) (media.Sender, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tracks = append(n.tracks, t)
	return &fakeSender{}, nil
}

func (n *fakeNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (n *fakeNegotiator) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offerErr != nil {
		return webrtc.SessionDescription{}, n.offerErr
	}
	n.remoteOffers = append(n.remoteOffers, offer.SDP)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (n *fakeNegotiator) HandleAnswer(answer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remoteAnswers = append(n.remoteAnswers, answer.SDP)
	return nil
}

func (n *fakeNegotiator) AddRemoteCandidate(init webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.candidates = append(n.candidates, init)
	return nil
}

func (n *fakeNegotiator) OnICECandidate(fn func(webrtc.ICECandidateInit)) { n.onICE = fn }
func (n *fakeNegotiator) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	n.onTrack = fn
}
func (n *fakeNegotiator) OnClosed(fn func()) { n.onClosed = fn }
func (n *fakeNegotiator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed++
}

type fakeRecords struct {
	mu        sync.Mutex
	initErr   error
	initiated int
	result    records.InitiateResult
	finalized []records.Finalization
}

func (r *fakeRecords) Initiate(_ context.Context, caller, recipient domain.UserID, callType domain.CallType) (records.InitiateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initErr != nil {
		return records.InitiateResult{}, r.initErr
	}
	r.initiated++
	return r.result, nil
}

func (r *fakeRecords) Finalize(_ context.Context, fin records.Finalization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = append(r.finalized, fin)
	return nil
}

func (r *fakeRecords) finals() []records.Finalization {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]records.Finalization(nil), r.finalized...)
}

/* ===================== harness ===================== */

type harness struct {
	s    *Session
	ch   *fakeChannel
	neg  *fakeNegotiator
	med  *fakeMedia
	recs *fakeRecords
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.Self == "" {
		cfg.Self = "alice"
	}
	if cfg.RingTimeout == 0 {
		cfg.RingTimeout = time.Hour
	}
	if cfg.ReconnectGrace == 0 {
		cfg.ReconnectGrace = time.Hour
	}
	h := &harness{
		ch:   newFakeChannel(),
		neg:  &fakeNegotiator{},
		med:  &fakeMedia{},
		recs: &fakeRecords{result: records.InitiateResult{CallID: "c-1", RoomID: "room-c-1"}},
	}
	h.s = NewSession(cfg, h.ch, h.recs)
	h.s.newNegotiator = func(domain.RoomID) (Negotiator, error) { return h.neg, nil }
	h.s.newMedia = func() Media { return h.med }
	return h
}

func (h *harness) initiate(t *testing.T) domain.CallSession {
	t.Helper()
	sess, err := h.s.Initiate(context.Background(), "bob", domain.CallTypeVideo)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return sess
}

func (h *harness) connectAsCaller(t *testing.T) {
	t.Helper()
	h.initiate(t)
	h.ch.deliver(signal.Message{Type: signal.TypeAccept, CallID: "c-1", From: "bob"})
	h.ch.deliver(signal.Message{Type: signal.TypePeerJoined, RoomID: "room-c-1", From: "bob"})
	h.ch.deliver(signal.Message{Type: signal.TypeAnswer, RoomID: "room-c-1", From: "bob", SDP: "remote-answer"})
	h.neg.onTrack(&webrtc.TrackRemote{}, nil)
}

/* ===================== caller side ===================== */

func TestInitiateRingsOut(t *testing.T) {
	h := newHarness(t, Config{})
	sess := h.initiate(t)

	if sess.Status != domain.StatusRingingOut || sess.CallID != "c-1" {
		t.Fatalf("session = %+v", sess)
	}
	invites := h.ch.sentOf(signal.TypeInvite)
	if len(invites) != 1 || invites[0].To != "bob" || invites[0].CallType != domain.CallTypeVideo {
		t.Fatalf("invite = %+v", invites)
	}
	if len(h.ch.joined) != 1 || h.ch.joined[0] != "room-c-1" {
		t.Fatalf("caller did not park in the call room: %v", h.ch.joined)
	}
	if len(h.neg.tracks) != 2 {
		t.Fatalf("local tracks attached = %d, want audio+video", len(h.neg.tracks))
	}
}

func TestInitiateWhileActiveIsBusy(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)
	if _, err := h.s.Initiate(context.Background(), "carol", domain.CallTypeAudio); !errors.Is(err, ErrBusy) {
		t.Fatalf("second initiate err = %v, want ErrBusy", err)
	}
}

func TestCaptureFailureAbortsBeforeRinging(t *testing.T) {
	h := newHarness(t, Config{})
	h.med.acquireErr = errors.New("camera busy")

	if _, err := h.s.Initiate(context.Background(), "bob", domain.CallTypeVideo); err == nil {
		t.Fatal("initiate succeeded without media")
	}
	if len(h.ch.sentOf(signal.TypeInvite)) != 0 {
		t.Fatal("invite sent despite capture failure")
	}
	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusEnded || fins[0].Duration != 0 {
		t.Fatalf("aborted call finalized as %+v", fins)
	}
	if h.s.Status() != domain.StatusIdle {
		t.Fatalf("status = %s after abort", h.s.Status())
	}
	// The slot is free again.
	h.med.acquireErr = nil
	h.initiate(t)
}

func TestCallerOffersOnPeerJoined(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	h.ch.deliver(signal.Message{Type: signal.TypeAccept, CallID: "c-1", From: "bob"})
	if h.s.Status() != domain.StatusAccepted {
		t.Fatalf("status = %s after accept", h.s.Status())
	}
	if h.neg.offers != 0 {
		t.Fatal("offered before the peer joined the room")
	}

	h.ch.deliver(signal.Message{Type: signal.TypePeerJoined, RoomID: "room-c-1", From: "bob"})
	if h.neg.offers != 1 {
		t.Fatalf("offers = %d after peer-joined", h.neg.offers)
	}
	offers := h.ch.sentOf(signal.TypeOffer)
	if len(offers) != 1 || offers[0].SDP != "offer-sdp" || offers[0].RoomID != "room-c-1" {
		t.Fatalf("offer on wire = %+v", offers)
	}
	if h.s.Status() != domain.StatusConnecting {
		t.Fatalf("status = %s after offer", h.s.Status())
	}
}

func TestCallerConnectsOnFirstRemoteTrack(t *testing.T) {
	h := newHarness(t, Config{})
	h.connectAsCaller(t)

	if h.s.Status() != domain.StatusConnected {
		t.Fatalf("status = %s", h.s.Status())
	}
	sess, ok := h.s.Current()
	if !ok || sess.ConnectedAt.IsZero() {
		t.Fatalf("connected timestamp missing: %+v", sess)
	}
	if len(h.neg.remoteAnswers) != 1 || h.neg.remoteAnswers[0] != "remote-answer" {
		t.Fatalf("answers applied = %v", h.neg.remoteAnswers)
	}
}

func TestRejectedOutgoingCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	h.ch.deliver(signal.Message{Type: signal.TypeReject, CallID: "c-1", From: "bob"})

	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusRejected {
		t.Fatalf("finalized = %+v", fins)
	}
	if h.s.Status() != domain.StatusIdle {
		t.Fatalf("status = %s", h.s.Status())
	}
	if h.neg.closed != 1 || h.med.stopped != 1 {
		t.Fatalf("teardown incomplete: closed=%d stopped=%d", h.neg.closed, h.med.stopped)
	}
}

func TestBusyRecipientTerminatesOutgoing(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	h.ch.deliver(signal.Message{Type: signal.TypeBusy, CallID: "c-1", From: "bob"})

	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusBusy {
		t.Fatalf("finalized = %+v", fins)
	}
}

func TestHangupReportsConnectedDuration(t *testing.T) {
	h := newHarness(t, Config{})
	base := time.Now()
	h.s.now = func() time.Time { return base }
	h.connectAsCaller(t)

	h.s.now = func() time.Time { return base.Add(90 * time.Second) }
	if err := h.s.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	ended := h.ch.sentOf(signal.TypeEnded)
	if len(ended) != 1 || ended[0].Duration != 90 || ended[0].To != "bob" {
		t.Fatalf("ended on wire = %+v", ended)
	}
	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusEnded || fins[0].Duration != 90 {
		t.Fatalf("finalized = %+v", fins)
	}
	if len(h.ch.left) != 1 || h.ch.left[0] != "room-c-1" {
		t.Fatalf("room not left: %v", h.ch.left)
	}
}

func TestHangupDuringRingIsMissedCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	if err := h.s.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	missed := h.ch.sentOf(signal.TypeMissed)
	if len(missed) != 1 || missed[0].To != "bob" || missed[0].CallID != "c-1" {
		t.Fatalf("missed notice = %+v", missed)
	}
	if len(h.ch.sentOf(signal.TypeEnded)) != 0 {
		t.Fatal("cancelled ring announced as ended")
	}
	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusMissed || fins[0].Duration != 0 {
		t.Fatalf("ring-time hangup finalized = %+v", fins)
	}
}

func TestOutgoingRingTimesOutToMissed(t *testing.T) {
	h := newHarness(t, Config{RingTimeout: 30 * time.Millisecond})
	h.initiate(t)

	deadline := time.Now().Add(2 * time.Second)
	for h.s.Status() != domain.StatusIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	missed := h.ch.sentOf(signal.TypeMissed)
	if len(missed) != 1 || missed[0].To != "bob" {
		t.Fatalf("missed notice = %+v", missed)
	}
	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusMissed || fins[0].Duration != 0 {
		t.Fatalf("finalized = %+v", fins)
	}
}

/* ===================== recipient side ===================== */

func (h *harness) ringIn() {
	h.ch.deliver(signal.Message{
		Type: signal.TypeInvite, CallID: "c-9", RoomID: "room-c-9",
		From: "bob", To: "alice", CallType: domain.CallTypeVideo,
	})
}

func TestIncomingInviteRingsIn(t *testing.T) {
	h := newHarness(t, Config{})
	var incoming []domain.CallSession
	h.s.OnIncoming(func(sess domain.CallSession) { incoming = append(incoming, sess) })

	h.ringIn()

	if h.s.Status() != domain.StatusRingingIn {
		t.Fatalf("status = %s", h.s.Status())
	}
	if len(incoming) != 1 || incoming[0].CallerID != "bob" || incoming[0].CallID != "c-9" {
		t.Fatalf("incoming callback saw %+v", incoming)
	}
}

func TestDuplicateInviteIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	var incoming int
	h.s.OnIncoming(func(domain.CallSession) { incoming++ })

	h.ringIn()
	h.ringIn()

	if incoming != 1 {
		t.Fatalf("incoming fired %d times for redelivered invite", incoming)
	}
	if len(h.ch.sentOf(signal.TypeBusy)) != 0 {
		t.Fatal("redelivered invite answered busy")
	}
}

func TestInviteDuringActiveCallAnsweredBusy(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	h.ch.deliver(signal.Message{Type: signal.TypeInvite, CallID: "c-2", From: "carol", To: "alice"})

	busy := h.ch.sentOf(signal.TypeBusy)
	if len(busy) != 1 || busy[0].To != "carol" || busy[0].CallID != "c-2" {
		t.Fatalf("busy reply = %+v", busy)
	}
	if sess, _ := h.s.Current(); sess.CallID != "c-1" {
		t.Fatalf("active call disturbed: %+v", sess)
	}
}

func TestAcceptAnswersOfferAndConnects(t *testing.T) {
	h := newHarness(t, Config{})
	h.ringIn()

	if err := h.s.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	accepts := h.ch.sentOf(signal.TypeAccept)
	if len(accepts) != 1 || accepts[0].To != "bob" || accepts[0].CallID != "c-9" {
		t.Fatalf("accept on wire = %+v", accepts)
	}
	if len(h.ch.joined) != 1 || h.ch.joined[0] != "room-c-9" {
		t.Fatalf("recipient did not join room: %v", h.ch.joined)
	}

	h.ch.deliver(signal.Message{Type: signal.TypeOffer, RoomID: "room-c-9", From: "bob", SDP: "remote-offer"})
	answers := h.ch.sentOf(signal.TypeAnswer)
	if len(answers) != 1 || answers[0].SDP != "answer-sdp" {
		t.Fatalf("answer on wire = %+v", answers)
	}
	if len(h.neg.remoteOffers) != 1 || h.neg.remoteOffers[0] != "remote-offer" {
		t.Fatalf("offers applied = %v", h.neg.remoteOffers)
	}

	h.neg.onTrack(&webrtc.TrackRemote{}, nil)
	if h.s.Status() != domain.StatusConnected {
		t.Fatalf("status = %s", h.s.Status())
	}
}

func TestFailedOfferDoesNotAdvanceState(t *testing.T) {
	h := newHarness(t, Config{})
	h.ringIn()
	if err := h.s.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	h.neg.offerErr = errors.New("malformed sdp")

	h.ch.deliver(signal.Message{Type: signal.TypeOffer, RoomID: "room-c-9", From: "bob", SDP: "bad"})

	if h.s.Status() != domain.StatusAccepted {
		t.Fatalf("status = %s after failed offer, want ACCEPTED", h.s.Status())
	}
	if len(h.ch.sentOf(signal.TypeAnswer)) != 0 {
		t.Fatal("answer sent for an offer that failed")
	}
}

func TestAcceptWithoutRingingCall(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.s.Accept(context.Background()); !errors.Is(err, ErrNoCall) {
		t.Fatalf("accept err = %v, want ErrNoCall", err)
	}
}

func TestAcceptCaptureFailureRejectsCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.ringIn()
	h.med.acquireErr = errors.New("no camera")

	if err := h.s.Accept(context.Background()); err == nil {
		t.Fatal("accept succeeded without media")
	}
	rejects := h.ch.sentOf(signal.TypeReject)
	if len(rejects) != 1 || rejects[0].To != "bob" {
		t.Fatalf("reject on wire = %+v", rejects)
	}
	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusRejected {
		t.Fatalf("finalized = %+v", fins)
	}
}

func TestRejectIncomingCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.ringIn()

	if err := h.s.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusRejected {
		t.Fatalf("finalized = %+v", fins)
	}
	if h.s.Status() != domain.StatusIdle {
		t.Fatalf("status = %s", h.s.Status())
	}
}

func TestCanceledRingBecomesMissed(t *testing.T) {
	h := newHarness(t, Config{})
	h.ringIn()

	h.ch.deliver(signal.Message{Type: signal.TypeEnded, CallID: "c-9", From: "bob"})

	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusMissed {
		t.Fatalf("finalized = %+v", fins)
	}
}

func TestIncomingRingTimesOutSilently(t *testing.T) {
	h := newHarness(t, Config{RingTimeout: 30 * time.Millisecond})
	h.ringIn()

	deadline := time.Now().Add(2 * time.Second)
	for h.s.Status() != domain.StatusIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusMissed {
		t.Fatalf("finalized = %+v", fins)
	}
	if len(h.ch.sentOf(signal.TypeMissed)) != 0 {
		t.Fatal("recipient announced its own missed call")
	}
}

/* ===================== shared behavior ===================== */

func TestTeardownIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	h.connectAsCaller(t)

	h.ch.deliver(signal.Message{Type: signal.TypeEnded, CallID: "c-1", From: "bob"})
	h.ch.deliver(signal.Message{Type: signal.TypeEnded, CallID: "c-1", From: "bob"})
	if err := h.s.Hangup(); !errors.Is(err, ErrNoCall) {
		t.Fatalf("hangup after teardown err = %v", err)
	}

	if fins := h.recs.finals(); len(fins) != 1 {
		t.Fatalf("finalized %d times", len(fins))
	}
	if h.neg.closed != 1 || h.med.stopped != 1 {
		t.Fatalf("teardown repeated: closed=%d stopped=%d", h.neg.closed, h.med.stopped)
	}
}

func TestCandidatesRoutedToNegotiator(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	cand := signal.Candidate{Candidate: "candidate:1 1 udp 2 10.0.0.1 5000 typ host"}
	h.ch.deliver(signal.Message{Type: signal.TypeCandidate, RoomID: "room-c-1", From: "bob", Candidate: &cand})
	h.ch.deliver(signal.Message{Type: signal.TypeCandidate, RoomID: "other-room", From: "bob", Candidate: &cand})

	if len(h.neg.candidates) != 1 {
		t.Fatalf("candidates routed = %d, want 1 (room-scoped)", len(h.neg.candidates))
	}
}

func TestLocalCandidatesSentToRoom(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	h.neg.onICE(webrtc.ICECandidateInit{Candidate: "candidate:1"})

	sent := h.ch.sentOf(signal.TypeCandidate)
	if len(sent) != 1 || sent[0].RoomID != "room-c-1" || sent[0].Candidate == nil {
		t.Fatalf("candidate on wire = %+v", sent)
	}
}

func TestSignalingLossBeyondGraceEndsCall(t *testing.T) {
	h := newHarness(t, Config{ReconnectGrace: 30 * time.Millisecond})
	h.connectAsCaller(t)

	h.ch.onDrop(errors.New("broken pipe"))

	deadline := time.Now().Add(2 * time.Second)
	for h.s.Status() != domain.StatusIdle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusEnded {
		t.Fatalf("finalized = %+v", fins)
	}
}

func TestReconnectWithinGraceKeepsCall(t *testing.T) {
	h := newHarness(t, Config{ReconnectGrace: time.Hour})
	h.connectAsCaller(t)

	h.ch.onDrop(errors.New("broken pipe"))
	h.ch.onRedial()

	if h.s.Status() != domain.StatusConnected {
		t.Fatalf("status = %s after reconnect", h.s.Status())
	}
	// The session rejoins its room; the channel never does that on its own.
	if len(h.ch.joined) != 2 || h.ch.joined[1] != "room-c-1" {
		t.Fatalf("rejoin rooms = %v", h.ch.joined)
	}
	if len(h.recs.finals()) != 0 {
		t.Fatal("live call finalized during grace")
	}
}

func TestPeerTransportFailureEndsConnectedCall(t *testing.T) {
	h := newHarness(t, Config{})
	h.connectAsCaller(t)

	h.neg.onClosed()

	fins := h.recs.finals()
	if len(fins) != 1 || fins[0].Status != domain.StatusEnded {
		t.Fatalf("finalized = %+v", fins)
	}
}

func TestPeerTransportFailureWhileRingingIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.initiate(t)

	h.neg.onClosed()

	if h.s.Status() != domain.StatusRingingOut {
		t.Fatalf("status = %s, ring should survive transport churn", h.s.Status())
	}
}

func TestScreenSharePassthrough(t *testing.T) {
	h := newHarness(t, Config{})
	h.connectAsCaller(t)

	if err := h.s.StartScreenShare(); err != nil {
		t.Fatalf("start share: %v", err)
	}
	if !h.s.Sharing() {
		t.Fatal("session does not report active share")
	}
	if err := h.s.StopScreenShare(); err != nil {
		t.Fatalf("stop share: %v", err)
	}
	if h.s.Sharing() {
		t.Fatal("share still reported after stop")
	}
}

func TestMediaOpsWithoutCall(t *testing.T) {
	h := newHarness(t, Config{})
	if _, err := h.s.ToggleAudio(); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("toggle audio err = %v", err)
	}
	if err := h.s.StartScreenShare(); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("start share err = %v", err)
	}
}
