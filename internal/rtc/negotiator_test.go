package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

type fakePeer struct {
	applied      []string
	localSet     []webrtc.SDPType
	remoteSet    []webrtc.SDPType
	closed       int
	candidateErr error

	onICE func(*webrtc.ICECandidate)
}

func (f *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	f.localSet = append(f.localSet, d.Type)
	return nil
}

func (f *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.remoteSet = append(f.remoteSet, d.Type)
	return nil
}

func (f *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	if f.candidateErr != nil {
		return f.candidateErr
	}
	f.applied = append(f.applied, c.Candidate)
	return nil
}

func (f *fakePeer) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (f *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidate)) { f.onICE = fn }

func (f *fakePeer) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakePeer) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (f *fakePeer) Close() error {
	f.closed++
	return nil
}

func cand(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

func TestCandidatesBufferedUntilRemoteOffer(t *testing.T) {
	pc := &fakePeer{}
	n := newWithPeer(pc, "room-1")

	for _, c := range []string{"a", "b", "c"} {
		if err := n.AddRemoteCandidate(cand(c)); err != nil {
			t.Fatalf("buffering candidate: %v", err)
		}
	}
	if len(pc.applied) != 0 {
		t.Fatalf("candidates applied before remote description: %v", pc.applied)
	}

	if _, err := n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); err != nil {
		t.Fatalf("handle offer: %v", err)
	}

	if got := pc.applied; len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("candidates not drained in arrival order: %v", got)
	}
	if n.State() != StateStable {
		t.Fatalf("expected STABLE after offer handled, got %s", n.State())
	}
}

func TestCandidatesBufferedUntilAnswer(t *testing.T) {
	pc := &fakePeer{}
	n := newWithPeer(pc, "room-1")

	if _, err := n.CreateOffer(); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if n.State() != StateHaveLocalOffer {
		t.Fatalf("expected HAVE_LOCAL_OFFER, got %s", n.State())
	}

	if err := n.AddRemoteCandidate(cand("early")); err != nil {
		t.Fatalf("buffering candidate: %v", err)
	}
	if err := n.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}); err != nil {
		t.Fatalf("handle answer: %v", err)
	}
	if len(pc.applied) != 1 || pc.applied[0] != "early" {
		t.Fatalf("buffered candidate not applied after answer: %v", pc.applied)
	}

	// Once the remote description is set, candidates apply immediately.
	if err := n.AddRemoteCandidate(cand("late")); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if len(pc.applied) != 2 || pc.applied[1] != "late" {
		t.Fatalf("late candidate not applied directly: %v", pc.applied)
	}
}

func TestDuplicateOfferRejected(t *testing.T) {
	pc := &fakePeer{}
	n := newWithPeer(pc, "room-1")

	if _, err := n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if _, err := n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); !errors.Is(err, ErrUnexpectedState) {
		t.Fatalf("retransmitted offer should be rejected, got %v", err)
	}
	if got := len(pc.remoteSet); got != 1 {
		t.Fatalf("remote description set %d times for duplicate offer", got)
	}
}

func TestAnswerWithoutOfferRejected(t *testing.T) {
	n := newWithPeer(&fakePeer{}, "room-1")
	if err := n.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}); !errors.Is(err, ErrUnexpectedState) {
		t.Fatalf("answer without local offer should be rejected, got %v", err)
	}
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	pc := &fakePeer{}
	n := newWithPeer(pc, "room-1")

	n.Close()
	n.Close()
	if pc.closed != 1 {
		t.Fatalf("peer connection closed %d times", pc.closed)
	}
	if !n.Closed() {
		t.Fatal("negotiator not reporting closed")
	}
	if err := n.AddRemoteCandidate(cand("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("candidate after close: %v", err)
	}
	if _, err := n.CreateOffer(); !errors.Is(err, ErrUnexpectedState) {
		t.Fatalf("offer after close: %v", err)
	}
}

func TestLocalCandidatesForwardedAsGathered(t *testing.T) {
	pc := &fakePeer{}
	n := newWithPeer(pc, "room-1")

	var got []webrtc.ICECandidateInit
	n.OnICECandidate(func(c webrtc.ICECandidateInit) { got = append(got, c) })

	// Gathering fires before any SDP exchange; the callback must still run.
	if pc.onICE == nil {
		t.Fatal("negotiator did not register OnICECandidate")
	}
	pc.onICE(nil) // end-of-gathering marker is skipped
	if len(got) != 0 {
		t.Fatalf("nil candidate forwarded: %v", got)
	}
}
