// Package channel is the client side of the signaling transport: one
// authenticated, persistent duplex connection per logged-in user, alive for
// the whole app session rather than per call.
package channel

import (
	"context"
	"errors"

	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/signal"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("channel not connected")
)

// Handler receives one decoded signaling message. Handlers run on the
// channel's read loop; consumers serialize their own state.
type Handler func(signal.Message)

// Channel is the injected signaling collaborator. Delivery is at-least-once
// and ordered per room; consumers must tolerate duplicates.
type Channel interface {
	// Connect dials and keeps the connection alive (with reconnects) until
	// Close or ctx cancellation.
	Connect(ctx context.Context) error
	Close()

	// JoinRoom and LeaveRoom scope subsequent messages. No implicit rejoin
	// happens after a reconnect; the caller decides.
	JoinRoom(room domain.RoomID) error
	LeaveRoom(room domain.RoomID) error

	// Send is fire-and-forget.
	Send(msg signal.Message) error

	// On registers a per-type handler.
	On(msgType string, h Handler)

	// OnDisconnect fires when the transport drops; OnReconnect fires once a
	// redial succeeds.
	OnDisconnect(func(error))
	OnReconnect(func())
}
