// Package guard serializes phase-transition work so each (cycle, phase) key
// runs to completion at most once.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Guard interface {
	// Do runs fn unless key already completed or is held elsewhere. ran
	// reports whether fn executed in this call.
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, err error)
}

func Key(cycleID int64, phase string) string {
	return fmt.Sprintf("%d:%s", cycleID, phase)
}

// Local is an in-process guard. Concurrent callers for one key share a single
// execution; a key that succeeded is never run again. Failed keys may be
// retried by a later caller.
type Local struct {
	sf   singleflight.Group
	mu   sync.Mutex
	done map[string]struct{}
}

func NewLocal() *Local {
	return &Local{done: map[string]struct{}{}}
}

func (g *Local) Done(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.done[key]
	return ok
}

func (g *Local) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	if g.Done(key) {
		return false, nil
	}
	v, err, _ := g.sf.Do(key, func() (any, error) {
		if g.Done(key) {
			return false, nil
		}
		if err := fn(ctx); err != nil {
			return true, err
		}
		g.mu.Lock()
		g.done[key] = struct{}{}
		g.mu.Unlock()
		return true, nil
	})
	ran, _ := v.(bool)
	return ran, err
}

// ErrHeld means another process holds or completed the key.
var ErrHeld = errors.New("guard key held elsewhere")

// Locker is a cross-process mutual exclusion primitive.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLocker(opt *redis.Options) *RedisLocker {
	return &RedisLocker{Client: redis.NewClient(opt), Prefix: "agrocycle:guard:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, l.Prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.Client.Del(ctx, l.Prefix+key).Err()
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.Client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.Client.Close()
}

// Distributed layers a Locker over Local so replicas cannot both run a key.
// A successful run keeps the lock until its TTL expires; a failed run
// releases it.
type Distributed struct {
	Local  *Local
	Locker Locker
	TTL    time.Duration
	Logger *zap.Logger
}

func NewDistributed(locker Locker, ttl time.Duration, logger *zap.Logger) *Distributed {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Distributed{Local: NewLocal(), Locker: locker, TTL: ttl, Logger: logger}
}

func (g *Distributed) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	ran, err := g.Local.Do(ctx, key, func(ctx context.Context) error {
		ok, err := g.Locker.Acquire(ctx, key, g.TTL)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if !ok {
			if g.Logger != nil {
				g.Logger.Debug("transition held by another replica", zap.String("key", key))
			}
			return ErrHeld
		}
		if err := fn(ctx); err != nil {
			if rerr := g.Locker.Release(context.WithoutCancel(ctx), key); rerr != nil && g.Logger != nil {
				g.Logger.Warn("guard release failed", zap.String("key", key), zap.Error(rerr))
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrHeld) {
		return false, nil
	}
	return ran, err
}
