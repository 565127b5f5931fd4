// Package server is the signaling side: it authenticates users, relays call
// control and SDP/ICE between the two parties of a call, and enforces the
// busy guard authoritatively.
package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/signal"
)

// peerLink is one user's live signaling connection.
type peerLink interface {
	TrySend(msg signal.Message) error
	Close()
}

// Hub routes signaling messages. Users are addressed directly for call
// control (invite, accept, reject) and through rooms for SDP/ICE relay.
type Hub struct {
	presence Presence

	mu    sync.Mutex
	users map[domain.UserID]peerLink
	rooms map[domain.RoomID]map[domain.UserID]peerLink
}

func NewHub(presence Presence) *Hub {
	return &Hub{
		presence: presence,
		users:    make(map[domain.UserID]peerLink),
		rooms:    make(map[domain.RoomID]map[domain.UserID]peerLink),
	}
}

// Register binds the user's connection, replacing (and closing) a previous
// one. One live signaling connection per user.
func (h *Hub) Register(uid domain.UserID, link peerLink) {
	h.mu.Lock()
	old := h.users[uid]
	h.users[uid] = link
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
	log.Info().Str("module", "server").Str("user", string(uid)).Msg("signaling connected")
}

// Unregister drops the binding if it still points at link, and removes the
// user from any rooms, notifying the remaining occupants.
func (h *Hub) Unregister(uid domain.UserID, link peerLink) {
	h.mu.Lock()
	if h.users[uid] != link {
		h.mu.Unlock()
		return
	}
	delete(h.users, uid)
	var notify []peerLink
	for roomID, members := range h.rooms {
		if _, ok := members[uid]; !ok {
			continue
		}
		delete(members, uid)
		if len(members) == 0 {
			delete(h.rooms, roomID)
			continue
		}
		for _, other := range members {
			notify = append(notify, other)
		}
	}
	h.mu.Unlock()
	for _, other := range notify {
		_ = other.TrySend(signal.Message{Type: signal.TypePeerLeft, From: uid})
	}
	log.Info().Str("module", "server").Str("user", string(uid)).Msg("signaling disconnected")
}

// HandleMessage routes one inbound message. The sender identity is stamped
// server-side; whatever From the client wrote is discarded.
func (h *Hub) HandleMessage(ctx context.Context, from domain.UserID, msg signal.Message) {
	msg.From = from
	switch msg.Type {
	case signal.TypePing:
		h.sendTo(from, signal.Message{Type: signal.TypePong})
	case signal.TypeJoinRoom:
		h.joinRoom(from, msg.RoomID)
	case signal.TypeLeaveRoom:
		h.leaveRoom(from, msg.RoomID)
	case signal.TypeOffer, signal.TypeAnswer, signal.TypeCandidate:
		h.relayRoom(from, msg)
	case signal.TypeInvite:
		h.invite(ctx, from, msg)
	case signal.TypeAccept:
		h.sendTo(msg.To, msg)
	case signal.TypeReject, signal.TypeMissed, signal.TypeBusy:
		h.sendTo(msg.To, msg)
		h.clearBusy(ctx, from, msg.To)
	case signal.TypeEnded:
		h.ended(ctx, from, msg)
	default:
		log.Warn().Str("module", "server").Str("type", msg.Type).Msg("unknown signal")
	}
}

// invite delivers the call to the recipient after the busy guard. The caller
// hears "busy" when the recipient is in another call and "missed" when the
// recipient has no live connection at all.
func (h *Hub) invite(ctx context.Context, from domain.UserID, msg signal.Message) {
	if msg.To == "" {
		h.sendTo(from, signal.Message{Type: signal.TypeError, CallID: msg.CallID, Error: "invite needs a recipient"})
		return
	}
	if _, busy, err := h.presence.Busy(ctx, from); err == nil && busy {
		h.sendTo(from, signal.Message{Type: signal.TypeError, CallID: msg.CallID, Error: "already in a call"})
		return
	}
	if _, busy, err := h.presence.Busy(ctx, msg.To); err == nil && busy {
		h.sendTo(from, signal.Message{Type: signal.TypeBusy, CallID: msg.CallID, RoomID: msg.RoomID, From: msg.To})
		return
	}

	h.mu.Lock()
	_, online := h.users[msg.To]
	h.mu.Unlock()
	if !online {
		h.sendTo(from, signal.Message{Type: signal.TypeMissed, CallID: msg.CallID, RoomID: msg.RoomID, From: msg.To})
		return
	}

	if err := h.presence.SetBusy(ctx, from, msg.CallID); err != nil {
		log.Error().Err(err).Str("module", "server").Msg("set busy caller")
	}
	if err := h.presence.SetBusy(ctx, msg.To, msg.CallID); err != nil {
		log.Error().Err(err).Str("module", "server").Msg("set busy recipient")
	}
	h.sendTo(msg.To, msg)
}

func (h *Hub) ended(ctx context.Context, from domain.UserID, msg signal.Message) {
	if msg.To != "" {
		h.sendTo(msg.To, msg)
	}
	if msg.RoomID != "" {
		h.relayRoom(from, msg)
	}
	h.clearBusy(ctx, from, msg.To)
}

func (h *Hub) clearBusy(ctx context.Context, uids ...domain.UserID) {
	for _, uid := range uids {
		if uid == "" {
			continue
		}
		if err := h.presence.ClearBusy(ctx, uid); err != nil {
			log.Error().Err(err).Str("module", "server").Str("user", string(uid)).Msg("clear busy")
		}
	}
}

func (h *Hub) joinRoom(uid domain.UserID, roomID domain.RoomID) {
	if roomID == "" {
		return
	}
	h.mu.Lock()
	link, ok := h.users[uid]
	if !ok {
		h.mu.Unlock()
		return
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[domain.UserID]peerLink)
		h.rooms[roomID] = members
	}
	var existing []peerLink
	for other, otherLink := range members {
		if other != uid {
			existing = append(existing, otherLink)
		}
	}
	members[uid] = link
	h.mu.Unlock()

	_ = link.TrySend(signal.Message{Type: signal.TypeRoomState, RoomID: roomID})
	// Existing occupants learn about the joiner and take the offerer role;
	// the joiner waits. That asymmetry is what prevents offer glare.
	for _, other := range existing {
		_ = other.TrySend(signal.Message{Type: signal.TypePeerJoined, RoomID: roomID, From: uid})
	}
	log.Debug().Str("module", "server").Str("user", string(uid)).Str("room", string(roomID)).Msg("joined room")
}

func (h *Hub) leaveRoom(uid domain.UserID, roomID domain.RoomID) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, in := members[uid]; !in {
		h.mu.Unlock()
		return
	}
	delete(members, uid)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	var remaining []peerLink
	for _, other := range members {
		remaining = append(remaining, other)
	}
	h.mu.Unlock()
	for _, other := range remaining {
		_ = other.TrySend(signal.Message{Type: signal.TypePeerLeft, RoomID: roomID, From: uid})
	}
}

func (h *Hub) relayRoom(from domain.UserID, msg signal.Message) {
	h.mu.Lock()
	var targets []peerLink
	for other, link := range h.rooms[msg.RoomID] {
		if other != from {
			targets = append(targets, link)
		}
	}
	h.mu.Unlock()
	for _, link := range targets {
		if err := link.TrySend(msg); err != nil {
			log.Warn().Err(err).Str("module", "server").Str("type", msg.Type).Msg("relay dropped")
		}
	}
}

func (h *Hub) sendTo(uid domain.UserID, msg signal.Message) {
	h.mu.Lock()
	link, ok := h.users[uid]
	h.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "server").Str("user", string(uid)).Str("type", msg.Type).Msg("recipient offline")
		return
	}
	if err := link.TrySend(msg); err != nil {
		log.Warn().Err(err).Str("module", "server").Str("user", string(uid)).Str("type", msg.Type).Msg("send dropped")
	}
}
