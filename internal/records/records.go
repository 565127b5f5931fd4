// Package records keeps the durable call record in step with the live call.
// Persistence failures are logged and swallowed upstream: analytics
// durability never blocks or rolls back a call teardown.
package records

import (
	"context"
	"time"

	"github.com/studypair/callkit/internal/domain"
)

type InitiateResult struct {
	CallID domain.CallID
	RoomID domain.RoomID
}

// Finalization carries one terminal transition. Zero ConnectedAt means the
// call never connected and Duration must be zero.
type Finalization struct {
	CallID      domain.CallID
	Status      domain.CallStatus
	ConnectedAt time.Time
	EndedAt     time.Time
	Duration    int
}

// Synchronizer is the session's view of the call-record backend.
type Synchronizer interface {
	// Initiate creates the durable record in ringing state before any
	// signaling happens, so a call always has a recoverable record.
	Initiate(ctx context.Context, caller, recipient domain.UserID, callType domain.CallType) (InitiateResult, error)
	// Finalize is idempotent: repeating a terminal status must not error or
	// double-count.
	Finalize(ctx context.Context, fin Finalization) error
}
