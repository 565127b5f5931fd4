package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studypair/callkit/internal/domain"
)

// busyTTL caps how long a crashed process can leave a user marked busy.
const busyTTL = 2 * time.Hour

// Presence tracks which users are in a non-terminal call. It is the
// authoritative busy guard: the client-side check is only defensive.
type Presence interface {
	SetBusy(ctx context.Context, uid domain.UserID, call domain.CallID) error
	ClearBusy(ctx context.Context, uid domain.UserID) error
	Busy(ctx context.Context, uid domain.UserID) (domain.CallID, bool, error)
}

type MemoryPresence struct {
	mu   sync.RWMutex
	busy map[domain.UserID]domain.CallID
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{busy: make(map[domain.UserID]domain.CallID)}
}

func (p *MemoryPresence) SetBusy(_ context.Context, uid domain.UserID, call domain.CallID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy[uid] = call
	return nil
}

func (p *MemoryPresence) ClearBusy(_ context.Context, uid domain.UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, uid)
	return nil
}

func (p *MemoryPresence) Busy(_ context.Context, uid domain.UserID) (domain.CallID, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	call, ok := p.busy[uid]
	return call, ok, nil
}

// RedisPresence shares the busy map across server instances.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(addr string) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisPresence{rdb: rdb}, nil
}

func (p *RedisPresence) Close() error { return p.rdb.Close() }

func busyKey(uid domain.UserID) string { return "call:busy:" + string(uid) }

func (p *RedisPresence) SetBusy(ctx context.Context, uid domain.UserID, call domain.CallID) error {
	return p.rdb.Set(ctx, busyKey(uid), string(call), busyTTL).Err()
}

func (p *RedisPresence) ClearBusy(ctx context.Context, uid domain.UserID) error {
	return p.rdb.Del(ctx, busyKey(uid)).Err()
}

func (p *RedisPresence) Busy(ctx context.Context, uid domain.UserID) (domain.CallID, bool, error) {
	val, err := p.rdb.Get(ctx, busyKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.CallID(val), true, nil
}
