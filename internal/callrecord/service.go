package callrecord

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/domain"
)

var (
	ErrSelfCall     = errors.New("caller and recipient are the same user")
	ErrUnknownType  = errors.New("unknown call type")
	ErrMissingParty = errors.New("caller and recipient are required")
)

// Service owns the call-record lifecycle: create on initiate, finalize once.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Initiate creates the record before any signaling happens, so every call
// that rings has a durable row even if the process dies mid-ring.
func (s *Service) Initiate(ctx context.Context, caller, recipient domain.UserID, callType domain.CallType) (*Record, error) {
	if caller == "" || recipient == "" {
		return nil, ErrMissingParty
	}
	if caller == recipient {
		return nil, ErrSelfCall
	}
	if callType != domain.CallTypeAudio && callType != domain.CallTypeVideo {
		return nil, ErrUnknownType
	}

	id := uuid.NewString()
	rec := &Record{
		CallID:      domain.CallID(id),
		RoomID:      domain.RoomID("call-" + id),
		CallerID:    caller,
		RecipientID: recipient,
		CallType:    callType,
		Status:      domain.StatusRingingOut,
		StartedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().Str("module", "callrecord").Str("call_id", id).
		Str("caller", string(caller)).Str("recipient", string(recipient)).
		Str("type", string(callType)).Msg("call record created")
	return rec, nil
}

// Finalize applies a terminal status. The first terminal status wins; any
// later finalization returns the stored record unchanged, so retries and
// races between the two parties cannot double-count.
func (s *Service) Finalize(ctx context.Context, id domain.CallID, fin Finalization) (*Record, error) {
	if !fin.Status.Terminal() {
		return nil, ErrInvalidStatus
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Finalized() {
		return rec, nil
	}

	rec.Status = fin.Status
	rec.ConnectedAt = fin.ConnectedAt
	rec.EndedAt = fin.EndedAt
	if rec.EndedAt == nil {
		t := s.now()
		rec.EndedAt = &t
	}
	// Ring time is not call time.
	if rec.ConnectedAt == nil {
		rec.Duration = 0
	} else {
		rec.Duration = fin.Duration
		if rec.Duration == 0 {
			if d := int(rec.EndedAt.Sub(*rec.ConnectedAt) / time.Second); d > 0 {
				rec.Duration = d
			}
		}
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	log.Info().Str("module", "callrecord").Str("call_id", string(id)).
		Str("status", string(rec.Status)).Int("duration", rec.Duration).
		Msg("call record finalized")
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id domain.CallID) (*Record, error) {
	return s.repo.Get(ctx, id)
}

// History returns the user's calls, newest first.
func (s *Service) History(ctx context.Context, uid domain.UserID, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, uid, limit)
}
