package callrecord

import (
	"context"

	"github.com/studypair/callkit/internal/domain"
)

// Repository stores call records. Implementations must return ErrNotFound
// for unknown call ids.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id domain.CallID) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	// ListByUser returns the newest records first, for calls where the user
	// was caller or recipient.
	ListByUser(ctx context.Context, uid domain.UserID, limit int) ([]*Record, error)
}
