// internal/lock/lock.go
package lock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the go-redis API the lock needs. *redis.Client
// satisfies it; tests substitute an in-memory fake.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Ownership is verified with a compare-and-delete / compare-and-expire so a
// process can never release or extend a lock it does not hold.
const (
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

// Manager hands out named distributed locks backed by Redis.
type Manager struct {
	client RedisClient
}

func NewManager(client RedisClient) *Manager {
	return &Manager{client: client}
}

// Lock is a held lock. Release stops the heartbeat and gives the lock up;
// if the process dies instead, the TTL bounds how long the key lingers.
type Lock struct {
	manager *Manager
	key     string
	token   string
	ttl     time.Duration

	cancelHeartbeat context.CancelFunc
	heartbeatDone   chan struct{}
}

// Acquire attempts an atomic set-if-absent with expiry, retrying up to
// maxRetries times with retryDelay between attempts. A false result after
// the retry budget means another process holds the lock; callers must treat
// that as "skip", not as an error.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (*Lock, bool, error) {
	token := uuid.New().String()

	for attempt := 0; ; attempt++ {
		ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("lock acquire failed for %s: %w", key, err)
		}
		if ok {
			l := &Lock{manager: m, key: key, token: token, ttl: ttl}
			l.startHeartbeat()
			return l, true, nil
		}

		if attempt >= maxRetries {
			return nil, false, nil
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// IsHeld reports whether the key is currently locked and its remaining TTL.
func (m *Manager) IsHeld(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := m.client.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("lock inspect failed for %s: %w", key, err)
	}
	// PTTL reports -2 for a missing key and -1 for a key without expiry.
	if ttl < 0 {
		return ttl == -1, 0, nil
	}
	return true, ttl, nil
}

// ForceRelease drops a lock regardless of ownership. Operator escape hatch
// only.
func (m *Manager) ForceRelease(ctx context.Context, key string) error {
	log.Printf("[lock] WARNING: force-releasing lock key=%s", key)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("force release failed for %s: %w", key, err)
	}
	return nil
}

// Token returns the ownership token, useful for log correlation.
func (l *Lock) Token() string {
	return l.token
}

// Release gives the lock up if we still own it. Returns false when the lock
// already expired or was taken over.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	l.stopHeartbeat()

	res, err := l.manager.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	if err != nil {
		return false, fmt.Errorf("lock release failed for %s: %w", l.key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Extend resets the TTL to additionalTTL from now if we still own the lock.
func (l *Lock) Extend(ctx context.Context, additionalTTL time.Duration) (bool, error) {
	res, err := l.manager.client.Eval(ctx, extendScript, []string{l.key}, l.token, additionalTTL.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("lock extend failed for %s: %w", l.key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// startHeartbeat extends the TTL at ttl/3 intervals so a healthy holder keeps
// the lock alive. If an extension fails the heartbeat stops and the lock is
// left to expire naturally, bounding staleness to one TTL window.
func (l *Lock) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelHeartbeat = cancel
	l.heartbeatDone = make(chan struct{})

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(l.heartbeatDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := l.Extend(ctx, l.ttl)
				if err != nil {
					log.Printf("[lock] heartbeat extend failed key=%s: %v (letting lock expire)", l.key, err)
					return
				}
				if !ok {
					log.Printf("[lock] heartbeat lost ownership key=%s", l.key)
					return
				}
			}
		}
	}()
}

func (l *Lock) stopHeartbeat() {
	if l.cancelHeartbeat != nil {
		l.cancelHeartbeat()
		<-l.heartbeatDone
		l.cancelHeartbeat = nil
	}
}
