// Package callrecord is the durable side of a call: one record per call,
// created before signaling starts and finalized exactly once with a terminal
// status.
package callrecord

import (
	"errors"
	"time"

	"github.com/studypair/callkit/internal/domain"
)

var (
	ErrNotFound      = errors.New("call record not found")
	ErrInvalidStatus = errors.New("status is not terminal")
)

// Record is the persisted shape of a call. ConnectedAt and EndedAt stay nil
// for calls that never reached the corresponding transition.
type Record struct {
	CallID      domain.CallID     `json:"callId"`
	RoomID      domain.RoomID     `json:"roomId"`
	CallerID    domain.UserID     `json:"callerId"`
	RecipientID domain.UserID     `json:"recipientId"`
	CallType    domain.CallType   `json:"callType"`
	Status      domain.CallStatus `json:"status"`

	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt *time.Time `json:"acceptedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	// Duration is connected seconds; zero for calls that never connected.
	Duration int `json:"duration"`
}

// Finalized reports whether the record already carries a terminal status.
func (r *Record) Finalized() bool { return r.Status.Terminal() }

// Finalization is the terminal update applied to a record.
type Finalization struct {
	Status      domain.CallStatus `json:"status"`
	ConnectedAt *time.Time        `json:"acceptedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Duration    int               `json:"duration"`
}
