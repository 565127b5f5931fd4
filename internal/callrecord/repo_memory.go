package callrecord

import (
	"context"
	"sort"
	"sync"

	"github.com/studypair/callkit/internal/domain"
)

// MemoryRepository keeps records in process memory. It backs dev setups and
// tests; production points DATABASE_URL at postgres instead.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[domain.CallID]*Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[domain.CallID]*Record)}
}

func (r *MemoryRepository) Create(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.CallID] = &cp
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id domain.CallID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRepository) Update(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.CallID]; !ok {
		return ErrNotFound
	}
	cp := *rec
	r.records[rec.CallID] = &cp
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, uid domain.UserID, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.CallerID == uid || rec.RecipientID == uid {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
