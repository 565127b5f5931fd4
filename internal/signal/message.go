// Package signal defines the wire messages exchanged over the signaling
// channel. Messages are routed, never persisted.
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/studypair/callkit/internal/domain"
)

// Message type constants.
const (
	TypeInvite     = "invite"
	TypeAccept     = "accept"
	TypeReject     = "reject"
	TypeBusy       = "busy"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "ice-candidate"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeEnded      = "ended"
	TypeMissed     = "missed"

	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
	TypeRoomState = "room-state"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// Candidate is the wire shape of an ICE candidate. SDPMid/SDPMLineIndex are
// optional on the wire; ToInit restores the pointer form pion expects.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

func (c Candidate) ToInit() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return init
}

func CandidateFromInit(init webrtc.ICECandidateInit) Candidate {
	c := Candidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = *init.SDPMLineIndex
	}
	return c
}

// Message is the tagged union for everything that crosses the channel.
// Every peer-to-call message carries the RoomID it is scoped to.
type Message struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId,omitempty"`

	CallID   domain.CallID   `json:"callId,omitempty"`
	From     domain.UserID   `json:"from,omitempty"`
	To       domain.UserID   `json:"to,omitempty"`
	CallType domain.CallType `json:"callType,omitempty"`

	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`

	Duration int    `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode signal message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decode signal message: missing type")
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode signal message: %w", err)
	}
	return b, nil
}
