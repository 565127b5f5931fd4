package domain

import "time"

type (
	CallID string
	RoomID string
)

type CallType string

const (
	CallTypeAudio CallType = "AUDIO"
	CallTypeVideo CallType = "VIDEO"
)

// CallStatus is the lifecycle state of a call session. Terminal statuses are
// never left once entered.
type CallStatus string

const (
	StatusIdle       CallStatus = "IDLE"
	StatusRingingOut CallStatus = "RINGING_OUT"
	StatusRingingIn  CallStatus = "RINGING_IN"
	StatusAccepted   CallStatus = "ACCEPTED"
	StatusConnecting CallStatus = "CONNECTING"
	StatusConnected  CallStatus = "CONNECTED"
	StatusEnded      CallStatus = "ENDED"
	StatusRejected   CallStatus = "REJECTED"
	StatusMissed     CallStatus = "MISSED"
	StatusBusy       CallStatus = "BUSY"
)

func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusMissed, StatusBusy:
		return true
	}
	return false
}

// CallSession is the root call entity. It is owned exclusively by one call
// session for its lifetime and discarded on teardown, never reused.
type CallSession struct {
	CallID      CallID
	RoomID      RoomID
	CallerID    UserID
	RecipientID UserID
	Type        CallType
	Status      CallStatus

	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// Duration is the connected time in seconds. Ring time is not call time:
// sessions that never reached CONNECTED report zero.
func (s *CallSession) Duration() int {
	if s.ConnectedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	d := s.EndedAt.Sub(s.ConnectedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Outgoing reports whether uid initiated this call.
func (s *CallSession) Outgoing(uid UserID) bool { return s.CallerID == uid }
