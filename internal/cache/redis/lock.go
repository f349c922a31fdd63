package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from accidentally
// releasing another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry of a lock forward while the caller still
// holds it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SETNX tokens under
// "lock:<key>". A held key is re-extended every third of its TTL; the
// conditional scripts above make sure only the token holder can extend or
// delete it.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.Key("lock:" + key)
}

// lease is a held key. done closes when the keep-alive loop exits.
type lease struct {
	lm    *LockManager
	lk    string
	token string
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (l *lease) Done() <-chan struct{} { return l.done }

// Release stops renewal and deletes the key if it is still ours. It is
// safe to call more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		close(l.stop)
		// The caller's context may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.c.Underlying(), []string{l.lk}, l.token).Err()
	})
}

// Lease takes key until Release, renewing it in the background. It returns
// domain.ErrLockHeld if another party holds the key.
func (lm *LockManager) Lease(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	if ttl < 3*time.Millisecond {
		return nil, fmt.Errorf("redis: lease %s: ttl %s too short", key, ttl)
	}
	l := &lease{
		lm:    lm,
		lk:    lm.lockKey(key),
		token: uuid.New().String(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	ok, err := lm.c.Underlying().SetNX(ctx, l.lk, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	go lm.keepAlive(l, ttl)
	return l, nil
}

// Acquire takes key for one job and returns the function that releases it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l, err := lm.Lease(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

// keepAlive extends the key until Release. A key found taken ends the
// lease at once. Failed round trips end it once two thirds of the TTL have
// passed since the last extension, before the key can expire under us.
func (lm *LockManager) keepAlive(l *lease, ttl time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	extended := time.Now()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			held, err := lm.extendSc.Run(ctx, lm.c.Underlying(), []string{l.lk}, l.token, ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err == nil && held == 1:
				extended = time.Now()
			case err == nil:
				return
			case time.Since(extended) >= 2*ttl/3:
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
