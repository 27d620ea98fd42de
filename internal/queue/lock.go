package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("session lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serializes work on one chat session.
type Locker interface {
	Lock(ctx context.Context, sessionID int64) (unlock func(), err error)
}

type SessionLock struct {
	redis *redis.Client
	ttl   time.Duration
	retry time.Duration
}

func NewSessionLock(rdb *redis.Client, ttl time.Duration) *SessionLock {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &SessionLock{redis: rdb, ttl: ttl, retry: 50 * time.Millisecond}
}

var _ Locker = (*SessionLock)(nil)

// Lock retries until the key is free or ctx ends. The TTL bounds how long a
// crashed holder can block the session.
func (l *SessionLock) Lock(ctx context.Context, sessionID int64) (func(), error) {
	key := fmt.Sprintf("desiai:lock:session:%d", sessionID)
	token := uuid.NewString()

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("session lock setnx: %w", err)
		}
		if ok {
			return func() {
				// Released with a fresh context so a cancelled request still frees the key.
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.redis, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

// LocalLocker is the in-process fallback used when redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int64]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[int64]*localEntry{}}
}

var _ Locker = (*LocalLocker)(nil)

func (l *LocalLocker) Lock(ctx context.Context, sessionID int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, e, false)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(sessionID, e, true) })
	}, nil
}

func (l *LocalLocker) release(sessionID int64, e *localEntry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}
